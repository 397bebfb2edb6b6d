package domain

import "errors"

// Sentinel errors wrapped by the service and repository layers. Handlers map
// these to HTTP status codes with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
)
