package interfaces

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrKeyNotFound is returned when a requested key/value pair does not exist
	ErrKeyNotFound = errors.New("key not found")
)
