package domain

import "errors"

// Sentinel errors for the relay core.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyInProgress = errors.New("call already in progress")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrPersistence       = errors.New("persistence failure")
)

// Code maps an error to the stable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	}
	return "internal"
}
