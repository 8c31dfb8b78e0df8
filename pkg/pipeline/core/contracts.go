package core

import "context"

// ProcessFunc is the unit of work the worker pool runs for one input item.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
