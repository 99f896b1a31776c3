package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/the127/upyard/internal/utils/apiError"
)

var validate = validator.New()

func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid request: %s, %w", err.Error(), apiError.ErrApiBadRequest)
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s failed '%s'", fieldError.Field(), fieldError.Tag()))
	}

	return fmt.Errorf("invalid request: %s: %w", strings.Join(fields, ", "), apiError.ErrApiBadRequest)
}
