package protocol

import "fmt"

// GATT service and characteristic UUIDs used by the Secure DFU bootloader
// and by the buttonless DFU service exposed by the application.
const (
	// ServiceUUID is the Nordic Secure DFU service (0xFE59)
	ServiceUUID = "0000FE59-0000-1000-8000-00805F9B34FB"

	// ControlPointUUID carries commands (write) and responses (notify)
	ControlPointUUID = "8EC90001-F315-4F60-9FB8-838830DAEA50"

	// PacketUUID carries object data (write without response)
	PacketUUID = "8EC90002-F315-4F60-9FB8-838830DAEA50"

	// ButtonlessUUID is the buttonless DFU characteristic for devices without bonds
	ButtonlessUUID = "8EC90003-F315-4F60-9FB8-838830DAEA50"
)

// Transport sizing.
const (
	// ReservedHeaderBytes is the ATT overhead of a single write (opcode + handle)
	ReservedHeaderBytes = 3

	// DefaultMTU is the ATT MTU every link starts with
	DefaultMTU = 23

	// RequestedMTU is the MTU asked for during negotiation
	RequestedMTU = 256

	// MaximumMTU is the largest MTU the bootloader can handle, regardless of what was granted
	MaximumMTU = 247

	// MaxAdvertisingNameLength is the longest advertising name the buttonless service accepts
	MaxAdvertisingNameLength = 20

	// MaxRetries bounds CRC-Get retries and checksum mismatch retries
	MaxRetries = 3
)

// Response sizes.
const (
	// MinResponseSize is marker + request opcode + status
	MinResponseSize = 3

	// ChecksumResponseSize is a CRC-Get response: header + offset + crc32
	ChecksumResponseSize = MinResponseSize + 8

	// SelectResponseSize is a Select response: header + max size + offset + crc32
	SelectResponseSize = MinResponseSize + 12
)

// OpCode is a Secure DFU control point operation.
type OpCode byte

// Control point operations (nrf_dfu_op_t).
const (
	OpProtocolVersion OpCode = 0x00
	OpCreate          OpCode = 0x01
	OpSetPRN          OpCode = 0x02
	OpCRCGet          OpCode = 0x03
	OpExecute         OpCode = 0x04
	OpSelect          OpCode = 0x06
	OpMTUGet          OpCode = 0x07
	OpWrite           OpCode = 0x08
	OpPing            OpCode = 0x09
	OpHardwareVersion OpCode = 0x0A
	OpFirmwareVersion OpCode = 0x0B
	OpAbort           OpCode = 0x0C
	OpResponse        OpCode = 0x60
	OpInvalid         OpCode = 0xFF
)

func (op OpCode) String() string {
	switch op {
	case OpProtocolVersion:
		return "protocol version"
	case OpCreate:
		return "create"
	case OpSetPRN:
		return "set prn"
	case OpCRCGet:
		return "crc get"
	case OpExecute:
		return "execute"
	case OpSelect:
		return "select"
	case OpMTUGet:
		return "mtu get"
	case OpWrite:
		return "write"
	case OpPing:
		return "ping"
	case OpHardwareVersion:
		return "hardware version"
	case OpFirmwareVersion:
		return "firmware version"
	case OpAbort:
		return "abort"
	case OpResponse:
		return "response"
	default:
		return fmt.Sprintf("opcode 0x%02X", byte(op))
	}
}

// ObjectKind selects which DFU object a command applies to.
type ObjectKind byte

const (
	// ObjectInvalid is never sent
	ObjectInvalid ObjectKind = 0x00

	// ObjectCommand is the init packet (signed metadata)
	ObjectCommand ObjectKind = 0x01

	// ObjectData is the firmware image
	ObjectData ObjectKind = 0x02
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectCommand:
		return "command"
	case ObjectData:
		return "data"
	default:
		return fmt.Sprintf("object kind 0x%02X", byte(k))
	}
}

// ResultCode is the status byte of a control point response (nrf_dfu_result_t).
type ResultCode byte

const (
	ResultInvalid               ResultCode = 0x00
	ResultSuccess               ResultCode = 0x01
	ResultOpCodeNotSupported    ResultCode = 0x02
	ResultInvalidParameter      ResultCode = 0x03
	ResultInsufficientResources ResultCode = 0x04
	ResultInvalidObject         ResultCode = 0x05
	ResultUnsupportedType       ResultCode = 0x07
	ResultOperationNotPermitted ResultCode = 0x08
	ResultOperationFailed       ResultCode = 0x0A
	ResultExtendedError         ResultCode = 0x0B
)

func (c ResultCode) String() string {
	switch c {
	case ResultInvalid:
		return "invalid opcode"
	case ResultSuccess:
		return "success"
	case ResultOpCodeNotSupported:
		return "opcode not supported"
	case ResultInvalidParameter:
		return "invalid parameter"
	case ResultInsufficientResources:
		return "insufficient resources"
	case ResultInvalidObject:
		return "invalid object"
	case ResultUnsupportedType:
		return "unsupported object type"
	case ResultOperationNotPermitted:
		return "operation not permitted"
	case ResultOperationFailed:
		return "operation failed"
	case ResultExtendedError:
		return "extended error"
	default:
		return fmt.Sprintf("unknown result code 0x%02X", byte(c))
	}
}

// ExtendedErrorCode follows a ResultExtendedError status (nrf_dfu_ext_error_code_t).
type ExtendedErrorCode byte

const (
	ExtNoError            ExtendedErrorCode = 0x00
	ExtInvalidErrorCode   ExtendedErrorCode = 0x01
	ExtWrongCommandFormat ExtendedErrorCode = 0x02
	ExtUnknownCommand     ExtendedErrorCode = 0x03
	ExtInitCommandInvalid ExtendedErrorCode = 0x04
	ExtFirmwareVersion    ExtendedErrorCode = 0x05
	ExtHardwareVersion    ExtendedErrorCode = 0x06
	ExtSoftDeviceVersion  ExtendedErrorCode = 0x07
	ExtSignatureMissing   ExtendedErrorCode = 0x08
	ExtWrongHashType      ExtendedErrorCode = 0x09
	ExtHashFailed         ExtendedErrorCode = 0x0A
	ExtWrongSignatureType ExtendedErrorCode = 0x0B
	ExtVerificationFailed ExtendedErrorCode = 0x0C
	ExtInsufficientSpace  ExtendedErrorCode = 0x0D
)

func (c ExtendedErrorCode) String() string {
	switch c {
	case ExtNoError:
		return "no extended error"
	case ExtInvalidErrorCode:
		return "invalid error code"
	case ExtWrongCommandFormat:
		return "wrong command format"
	case ExtUnknownCommand:
		return "unknown command"
	case ExtInitCommandInvalid:
		return "init command invalid"
	case ExtFirmwareVersion:
		return "firmware version too low"
	case ExtHardwareVersion:
		return "hardware version mismatch"
	case ExtSoftDeviceVersion:
		return "softdevice version mismatch"
	case ExtSignatureMissing:
		return "signature missing"
	case ExtWrongHashType:
		return "unsupported hash type"
	case ExtHashFailed:
		return "hash calculation failed"
	case ExtWrongSignatureType:
		return "unsupported signature type"
	case ExtVerificationFailed:
		return "image verification failed"
	case ExtInsufficientSpace:
		return "insufficient space"
	default:
		return fmt.Sprintf("unknown extended error 0x%02X", byte(c))
	}
}
