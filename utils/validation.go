package utils

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct validates a struct using go-playground/validator.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError wraps validation failures with a client-renderable
// message.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from the first field
// failure.
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	if len(errs) == 0 {
		return &ValidationError{Message: "validation failed"}
	}
	err := errs[0]
	field := err.Field()

	var msg string
	switch err.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", field)
	case "min":
		msg = fmt.Sprintf("%s must have at least %s entries", field, err.Param())
	case "gt":
		msg = fmt.Sprintf("%s must be greater than %s", field, err.Param())
	case "gte":
		msg = fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "lte":
		msg = fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", field, err.Param())
	default:
		msg = fmt.Sprintf("%s failed validation on '%s'", field, err.Tag())
	}
	return &ValidationError{Message: msg}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
