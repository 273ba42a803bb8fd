// ABOUTME: Error taxonomy for stream sessions
// ABOUTME: Setup failures, fatal loop errors and lifecycle misuse
package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks a rejected session configuration
	ErrInvalidConfig = errors.New("invalid stream config")

	// ErrUnavailable marks an audio service that cannot be reached
	ErrUnavailable = errors.New("audio service unavailable")

	// ErrNegotiation marks a format the service refused
	ErrNegotiation = errors.New("format negotiation rejected")

	// ErrFormatMismatch marks a service that negotiated a different format than requested
	ErrFormatMismatch = errors.New("negotiated format differs from request")

	// ErrRunning is returned when an operation needs the loop to be stopped
	ErrRunning = errors.New("stream loop is running")

	// ErrClosed is returned for operations on a closed session
	ErrClosed = errors.New("stream session closed")
)

// InitError reports a failed Setup. No session exists after it.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("stream setup failed (%s): %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// FatalLoopError reports an unrecoverable service condition that ended Run
type FatalLoopError struct {
	Err error
}

func (e *FatalLoopError) Error() string {
	return fmt.Sprintf("stream loop failed: %v", e.Err)
}

func (e *FatalLoopError) Unwrap() error {
	return e.Err
}
