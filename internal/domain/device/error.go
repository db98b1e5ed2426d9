package device

import "errors"

var (
	ErrNotFound          = errors.New("device not found")
	ErrAlreadyExists     = errors.New("device already registered")
	ErrInvalidAuth       = errors.New("invalid credentials")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidEnrollment = errors.New("invalid enrollment key")
)
