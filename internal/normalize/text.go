package normalize

import "strings"

func Trim(value string) string {
	return strings.TrimSpace(value)
}

func Lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func Upper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// PrincipalKey folds a user principal name for case-insensitive comparison.
func PrincipalKey(upn string) string {
	return Lower(upn)
}
