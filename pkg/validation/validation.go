package validation

import (
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// emailPattern requires a dotted domain with an alphabetic TLD, which is
// stricter than validator's built-in "email" tag.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator with the custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("continuity_email", validateEmail)
	})
	return validate
}

func validateEmail(fl validator.FieldLevel) bool {
	return emailPattern.MatchString(fl.Field().String())
}

// IsValidEmail reports whether s has an acceptable email format.
func IsValidEmail(s string) bool {
	return Validator().Var(s, "required,continuity_email") == nil
}

// NormalizeEmail lower-cases and trims an address before it is stored or looked up.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
