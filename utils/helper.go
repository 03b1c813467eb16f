package utils

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func NewString(s string) *string {
	return &s
}

func NewInt(i int) *int {
	return &i
}

func NewTime(t time.Time) *time.Time {
	return &t
}

// ProcessValidationErrors flattens binding validation failures into a
// field -> failed-tag map for the error response. Non-validation errors get
// a generic body slot.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["body"] = err.Error()
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
