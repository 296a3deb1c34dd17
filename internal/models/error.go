package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource already exists")
	ErrInternalServer = errors.New("internal server error")

	// Engine errors
	ErrModelUnavailable = errors.New("anomaly model unavailable")
	ErrStorage          = errors.New("login history storage failure")
	ErrLockUnavailable  = errors.New("identity lock unavailable")
)
