package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func configurationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return &ConfigurationError{Reason: err.Error()}
	}

	fe := validationErrs[0]
	parent := reflect.TypeOf(Config{})
	if strings.Contains(fe.StructNamespace(), ".Vault.") {
		parent = reflect.TypeOf(VaultConfig{})
	}
	key := envName(parent, fe.StructField())

	switch fe.ActualTag() {
	case "notblank", "required":
		return &ConfigurationError{Key: key, Reason: "is required"}
	case "url":
		return &ConfigurationError{Key: key, Reason: "must be a valid url"}
	case "len":
		return &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be exactly %s characters", fe.Param())}
	case "alpha":
		return &ConfigurationError{Key: key, Reason: "must contain only letters"}
	case "oneof":
		return &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be one of [%s]", fe.Param())}
	case "gt", "min":
		return &ConfigurationError{Key: key, Reason: "must be positive"}
	default:
		return &ConfigurationError{Key: key, Reason: "is invalid"}
	}
}
