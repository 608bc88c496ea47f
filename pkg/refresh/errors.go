package refresh

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies task, schedule and command validation failures.
	ErrValidation = errors.New("refresh validation error")
	// ErrConflict classifies state conflicts (duplicate task, lost lock, already running).
	ErrConflict = errors.New("refresh conflict")
	// ErrRetryable classifies transient failures safe to retry.
	ErrRetryable = errors.New("refresh retryable error")
	// ErrInvalidArgument classifies invalid caller/provider arguments.
	ErrInvalidArgument = errors.New("refresh invalid argument")
	// ErrNotInitialized classifies missing runtime/provider initialization.
	ErrNotInitialized = errors.New("refresh not initialized")
	// ErrNotFound classifies unknown task names.
	ErrNotFound = errors.New("refresh task not found")
)

func refreshError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
