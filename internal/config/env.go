package config

import (
	"reflect"
	"strings"
)

// envKeys maps each known environment variable to its koanf path, derived
// from the env struct tags. Unknown variables are ignored.
var envKeys = buildEnvKeys(reflect.TypeOf(Config{}), "")

func buildEnvKeys(t reflect.Type, prefix string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("koanf")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Tag.Get("env") == "" {
			for name, path := range buildEnvKeys(f.Type, key) {
				out[name] = path
			}
			continue
		}
		if name := f.Tag.Get("env"); name != "" {
			out[name] = key
		}
	}
	return out
}

// envValue drops unknown and empty variables so defaults survive a blank export.
func envValue(name, value string) (string, any) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envKeys[strings.TrimSpace(name)], value
}

// envName returns the environment variable bound to a struct field name.
func envName(t reflect.Type, field string) string {
	if f, ok := t.FieldByName(field); ok {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
	}
	return field
}
