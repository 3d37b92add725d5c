package dfu

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-securedfu/protocol"
)

var (
	// ErrTimeout indicates that no response or advertisement arrived in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrBusy indicates that a request was issued while another was outstanding.
	ErrBusy = errors.New("another request is outstanding")

	// ErrNoPayload indicates that the init packet or firmware image is missing.
	ErrNoPayload = errors.New("init packet and firmware image must both be supplied")

	// ErrScanStopped indicates that the transport ended the scan early.
	ErrScanStopped = errors.New("scan stopped before the device was found")
)

// ChecksumMismatchError indicates that the device CRC of an object does not
// match the CRC of the bytes sent. It drives retries and is only returned
// wrapped in a RetriesExhaustedError.
type ChecksumMismatchError struct {
	Kind     protocol.ObjectKind
	Offset   uint32
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s object at offset %d: expected 0x%08X, device has 0x%08X",
		e.Kind, e.Offset, e.Expected, e.Actual)
}

// RetriesExhaustedError indicates that an operation failed on every attempt.
type RetriesExhaustedError struct {
	// Operation is what was retried
	Operation string

	// Offset is the object offset the failures happened at
	Offset int64

	// Attempts is the number of failed attempts
	Attempts int

	// Err is the last failure
	Err error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s failed %d times at offset %d: %v", e.Operation, e.Attempts, e.Offset, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failure reported by the Transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
