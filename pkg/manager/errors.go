package manager

import "errors"

var (
	// ErrNotFound is returned when a lookup by name or group finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrConfigIO is returned on config file read/write/parse failures.
	ErrConfigIO = errors.New("config io error")
)
