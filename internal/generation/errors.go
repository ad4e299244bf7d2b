package generation

import "errors"

var (
	// ErrInvalidConfig is returned when a backend is constructed without the
	// settings it needs.
	ErrInvalidConfig = errors.New("invalid generation config")
	// ErrInvalidResponse is returned when a backend answers with a payload
	// that cannot be read.
	ErrInvalidResponse = errors.New("invalid generation response")
)
