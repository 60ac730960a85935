// Package validation validates request payloads with go-playground/validator
// and reports failures per field in the shape of the response envelope.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single rejected field.
type FieldError struct {
	Param   string `json:"param"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Error holds every rejected field of a request. It matches domain.ErrValidation.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return domain.ErrValidation.Error()
	}

	messages := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		messages = append(messages, fmt.Sprintf("%s: %s", field.Param, field.Message))
	}
	return fmt.Sprintf("%s: %s", domain.ErrValidation, strings.Join(messages, "; "))
}

func (e *Error) Unwrap() error {
	return domain.ErrValidation
}

// NewFieldError builds an Error for a check done outside struct tags.
func NewFieldError(param string, message string, value any) *Error {
	return &Error{Fields: []FieldError{{Param: param, Message: message, Value: value}}}
}

// Get returns the shared validator. Field names are reported by their json tag.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns *Error on failure.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	fields := make([]FieldError, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, FieldError{
			Param:   paramName(fieldErr),
			Message: message(fieldErr),
			Value:   fieldErr.Value(),
		})
	}
	return &Error{Fields: fields}
}

// paramName drops the root struct name, so Request.media.id becomes media.id.
func paramName(fieldErr validator.FieldError) string {
	namespace := fieldErr.Namespace()
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return fieldErr.Field()
}

func message(fieldErr validator.FieldError) string {
	field := fieldErr.Field()
	switch fieldErr.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", field, lowerFirst(fieldErr.Param()))
	case "min":
		if fieldErr.Kind() == reflect.Slice || fieldErr.Kind() == reflect.String {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fieldErr.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fieldErr.Param())
	case "max":
		if fieldErr.Kind() == reflect.Slice || fieldErr.Kind() == reflect.String {
			return fmt.Sprintf("%s must contain at most %s item(s)", field, fieldErr.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fieldErr.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fieldErr.Param())
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s failed on %s validation", field, fieldErr.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
