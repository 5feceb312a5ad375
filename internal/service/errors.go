package service

import (
	"errors"
	"strings"
)

// Error codes reported to intake callers and recorded on failed jobs.
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL_ERROR"
	CodeGenerationFailed  = "GENERATION_FAILED"
	CodeGenerationTimeout = "GENERATION_TIMEOUT"
	CodeWorkerStopped     = "WORKER_STOPPED"
)

var ErrRateLimited = errors.New("too many intake requests")

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// ErrorCode maps an intake error to the code placed in the response envelope.
func ErrorCode(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return CodeValidationFailed
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
