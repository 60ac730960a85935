package domain

import "errors"

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnavailable    = errors.New("service unavailable")
	ErrDeliveryFailed = errors.New("delivery failed")
)
