package validation

import "errors"

// Классы ошибок подсистемы валидации.
var (
	ErrNotFound     = errors.New("unknown ticket")
	ErrAlreadyUsed  = errors.New("ticket already used")
	ErrTransport    = errors.New("authority unreachable")
	ErrConflictLost = errors.New("validation lost conflict")
	ErrStorage      = errors.New("local storage failure")
)

// Ошибки авторитета.
var (
	ErrRecordNotFound    = errors.New("validation record not found")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrDeviceMismatch    = errors.New("record belongs to another device")
	ErrBatchTooLarge     = errors.New("batch too large")
)
