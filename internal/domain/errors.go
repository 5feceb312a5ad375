package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost is returned when an outcome report no longer matches the
	// job's current lease (reclaimed, cancelled or re-queued meanwhile).
	ErrLeaseLost    = errors.New("job lease lost")
	ErrDuplicateJob = errors.New("job already exists for user and date")
)

// GenerationError lets a Generator attach a stable error code to a failure.
type GenerationError struct {
	Code    string
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
