package worker

import (
	"context"
	"errors"
)

// JobHandler executes one job type.
type JobHandler interface {
	// Type must match the job_type column of the jobs it handles.
	Type() string

	// Handle runs the job. The payload is the raw JSON stored at enqueue
	// time. Wrap the error with NewPermanentError to stop retries.
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err so the job is failed without retry.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
