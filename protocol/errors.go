package protocol

import (
	"errors"
	"fmt"
)

// ProtocolError represents a non-success status returned by the bootloader.
type ProtocolError struct {
	// Operation is the command that failed
	Operation OpCode

	// Status is the result code from the bootloader
	Status ResultCode

	// Extended is the secondary code when Status is ResultExtendedError
	Extended ExtendedErrorCode
}

func (e *ProtocolError) Error() string {
	if e.Status == ResultExtendedError {
		return fmt.Sprintf("%s failed: %s: %s (0x%02X)", e.Operation, e.Status, e.Extended, byte(e.Extended))
	}
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, e.Status, byte(e.Status))
}

// IsExtended reports whether the error carries an extended error code.
func (e *ProtocolError) IsExtended() bool {
	return e.Status == ResultExtendedError
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ButtonlessError represents a non-success status returned by the buttonless
// DFU service while switching into bootloader mode.
type ButtonlessError struct {
	// Operation is the buttonless command that failed
	Operation ButtonlessOpCode

	// Status is the response code from the application
	Status ButtonlessStatus
}

func (e *ButtonlessError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, e.Status, byte(e.Status))
}
