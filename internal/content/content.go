package content

import (
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	codeRegex     = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{8}$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// Message content and display names pass through here before persistence.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// NormalizeAccessCode upper-cases and trims a community access code and
// reports whether it has the expected 8-character shape.
func NormalizeAccessCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, codeRegex.MatchString(code)
}
