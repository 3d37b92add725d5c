package protocol

import (
	"fmt"
	"unicode/utf8"
)

// ButtonlessOpCode is an operation of the buttonless DFU characteristic
// (ble_dfu_buttonless_op_code_t).
type ButtonlessOpCode byte

const (
	ButtonlessOpReserved        ButtonlessOpCode = 0x00
	ButtonlessOpEnterBootloader ButtonlessOpCode = 0x01
	ButtonlessOpSetAdvName      ButtonlessOpCode = 0x02
	ButtonlessOpResponse        ButtonlessOpCode = 0x20
)

func (op ButtonlessOpCode) String() string {
	switch op {
	case ButtonlessOpEnterBootloader:
		return "enter bootloader"
	case ButtonlessOpSetAdvName:
		return "set advertising name"
	case ButtonlessOpResponse:
		return "response"
	default:
		return fmt.Sprintf("buttonless opcode 0x%02X", byte(op))
	}
}

// ButtonlessStatus is the status byte of a buttonless response
// (ble_dfu_buttonless_rsp_code_t).
type ButtonlessStatus byte

const (
	ButtonlessInvalid           ButtonlessStatus = 0x00
	ButtonlessSuccess           ButtonlessStatus = 0x01
	ButtonlessOpCodeUnsupported ButtonlessStatus = 0x02
	ButtonlessOperationFailed   ButtonlessStatus = 0x04
	ButtonlessAdvNameInvalid    ButtonlessStatus = 0x05
	ButtonlessBusy              ButtonlessStatus = 0x06
	ButtonlessNotBonded         ButtonlessStatus = 0x07
)

func (s ButtonlessStatus) String() string {
	switch s {
	case ButtonlessInvalid:
		return "invalid opcode"
	case ButtonlessSuccess:
		return "success"
	case ButtonlessOpCodeUnsupported:
		return "opcode not supported"
	case ButtonlessOperationFailed:
		return "operation failed"
	case ButtonlessAdvNameInvalid:
		return "advertising name invalid"
	case ButtonlessBusy:
		return "busy"
	case ButtonlessNotBonded:
		return "not bonded"
	default:
		return fmt.Sprintf("unknown buttonless status 0x%02X", byte(s))
	}
}

// TruncateAdvertisingName cuts name to MaxAdvertisingNameLength bytes,
// backing off to the previous rune boundary so the result stays valid UTF-8.
func TruncateAdvertisingName(name string) string {
	if len(name) <= MaxAdvertisingNameLength {
		return name
	}
	cut := MaxAdvertisingNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// BuildSetAdvNameCmd constructs the Set Advertising Name command.
//
// Frame structure:
//
//	[0x02][LEN][NAME...]
func BuildSetAdvNameCmd(name string) ([]byte, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("advertising name cannot be empty")
	}
	if len(name) > MaxAdvertisingNameLength {
		return nil, fmt.Errorf("advertising name length %d exceeds maximum %d bytes", len(name), MaxAdvertisingNameLength)
	}

	frame := make([]byte, 0, 2+len(name))
	frame = append(frame, byte(ButtonlessOpSetAdvName), byte(len(name)))
	frame = append(frame, name...)
	return frame, nil
}

// BuildEnterBootloaderCmd constructs the Enter Bootloader command.
func BuildEnterBootloaderCmd() []byte {
	return []byte{byte(ButtonlessOpEnterBootloader)}
}

// ButtonlessResponse is a decoded buttonless characteristic indication.
//
// Response structure:
//
//	[0x20][REQUEST_OP][STATUS]
type ButtonlessResponse struct {
	Request ButtonlessOpCode
	Status  ButtonlessStatus
}

// ParseButtonlessResponse validates the marker and reads the status byte.
func ParseButtonlessResponse(frame []byte) (*ButtonlessResponse, error) {
	if len(frame) < MinResponseSize {
		return nil, fmt.Errorf("response too short: got %d bytes, minimum is %d", len(frame), MinResponseSize)
	}
	if ButtonlessOpCode(frame[0]) != ButtonlessOpResponse {
		return nil, fmt.Errorf("invalid response marker: got 0x%02X, expected 0x%02X", frame[0], byte(ButtonlessOpResponse))
	}

	return &ButtonlessResponse{
		Request: ButtonlessOpCode(frame[1]),
		Status:  ButtonlessStatus(frame[2]),
	}, nil
}

// Err returns a *ButtonlessError when the status is not success.
func (r *ButtonlessResponse) Err() error {
	if r.Status == ButtonlessSuccess {
		return nil
	}
	return &ButtonlessError{Operation: r.Request, Status: r.Status}
}
