package storage

import "errors"

// Common storage errors
var (
	// ErrWorkOrderNotFound indicates that the work order was not found
	ErrWorkOrderNotFound = errors.New("work order not found")
)
