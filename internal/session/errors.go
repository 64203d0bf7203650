package session

import (
	"errors"
	"fmt"
)

var (
	// ErrGrantUnavailable is returned when the capture grant is missing,
	// revoked before use, or revoked while the session was starting.
	ErrGrantUnavailable = errors.New("capture grant unavailable")
	// ErrOutputSlotCreateFailed is returned when the media store rejects the new entry.
	ErrOutputSlotCreateFailed = errors.New("output slot create failed")
	// ErrEncoderPrepareFailed is returned when the encoder cannot be configured
	// or its surface cannot be obtained.
	ErrEncoderPrepareFailed = errors.New("encoder prepare failed")
	// ErrEncoderStartFailed is returned when the configured encoder fails to start.
	ErrEncoderStartFailed = errors.New("encoder start failed")
	// ErrSinkBindFailed is returned when the compositing sink cannot be bound
	// while the grant is still active.
	ErrSinkBindFailed = errors.New("compositing sink bind failed")
	// ErrFinalizeFailed is recorded when a finished recording cannot be made visible.
	ErrFinalizeFailed = errors.New("output finalize failed")
)

// StepError is a failure of one teardown step. Teardown never stops at a
// failed step; the errors are combined and logged.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("teardown step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
