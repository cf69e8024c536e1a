package worker

import (
	"errors"
	"fmt"
)

// ExitStatus is the process exit code for a terminated worker.
type ExitStatus int

const (
	ExitOK            ExitStatus = 0
	ExitTransport     ExitStatus = 253
	ExitInternalError ExitStatus = 254
)

var (
	ErrMalformedEnvelope = errors.New("worker: invalid cmd format")
	ErrCommandOutOfRange = errors.New("worker: cmd_id out of range")
	ErrBadArguments      = errors.New("worker: bad command arguments")
	ErrSocketCreate      = errors.New("worker: socket create failed")
	ErrReplyEncode       = errors.New("worker: reply encode failed")
)

// FatalError ends the worker. Status is the exit code the process must
// terminate with.
type FatalError struct {
	Status ExitStatus
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (status %d): %v", e.Status, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func internalError(err error) *FatalError {
	return &FatalError{Status: ExitInternalError, Err: err}
}

func transportError(err error) *FatalError {
	return &FatalError{Status: ExitTransport, Err: err}
}

// StatusOf maps a Serve result onto an exit status.
func StatusOf(err error) ExitStatus {
	if err == nil {
		return ExitOK
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Status
	}
	return ExitInternalError
}
