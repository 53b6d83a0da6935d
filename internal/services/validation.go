package services

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates s and converts tag failures into a *ValidationError.
func (vh *ValidationHelper) ValidateStruct(s any) error {
	err := vh.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	return &ValidationError{Fields: FieldMessages(fieldErrs)}
}

// FieldMessages renders one human readable message per failing field.
func FieldMessages(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, err := range errs {
		switch err.Tag() {
		case "required":
			details[err.Field()] = "is required"
		case "max":
			details[err.Field()] = fmt.Sprintf("must be at most %s characters", err.Param())
		default:
			details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}
	return details
}
