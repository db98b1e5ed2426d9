package ticket

import "errors"

var (
	ErrInvalidDate = errors.New("invalid operating date")
)
