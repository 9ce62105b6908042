// Package validation wraps go-playground/validator so every package reports input
// problems through the same error type.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// Error lists the fields that failed validation. It never leaves the service boundary
// as anything other than a 400.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, tag := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, tag))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// IsValidation reports whether err is (or wraps) a validation Error.
func IsValidation(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

// Struct validates s using its `validate` tags.
func Struct(s any) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return &Error{Fields: fields}
		}
		return err
	}
	return nil
}

// Field returns a single-field validation error.
func Field(name, reason string) error {
	return &Error{Fields: map[string]string{name: reason}}
}

// PositiveAmount rejects zero, negative and sub-cent amounts.
func PositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Field("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return Field("amount", "at most two decimal places")
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		s := strings.TrimPrefix(fl.Field().String(), "+")
		if len(s) < 8 || len(s) > 15 {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	return v
}
