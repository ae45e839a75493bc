package worker

import (
	"context"
	"errors"
	"fmt"
)

// JobHandler executes one job type. Handlers are registered on the Worker
// by Type, which must match jobs.job_type.
//
// Handle receives the raw JSON payload. Returning an error reschedules the
// job with backoff until max_attempts; wrap the error with NewPermanentError
// when a retry cannot succeed (bad payload, deleted team).
type JobHandler interface {
	Type() string
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a job failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the worker fails the job immediately.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Permanentf is NewPermanentError(fmt.Errorf(format, args...)).
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
