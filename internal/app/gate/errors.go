package gate

import "errors"

var (
	ErrFlushInProgress = errors.New("flush already in progress")
	ErrNotConflict     = errors.New("record is not in conflict")
	ErrUnauthorized    = errors.New("device is not authorized")
	ErrInvalidMethod   = errors.New("unknown validation method")
	ErrResultMismatch  = errors.New("authority results do not match the batch")
)
