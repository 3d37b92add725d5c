package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request is a control point command. The set of variants is closed:
// CreateRequest, SetPRNRequest, CRCGetRequest, ExecuteRequest,
// SelectRequest and AbortRequest.
type Request interface {
	// OpCode returns the operation the request encodes to
	OpCode() OpCode

	request()
}

// CreateRequest allocates and selects a new object of Kind, discarding any
// unexecuted content of that kind.
type CreateRequest struct {
	Kind ObjectKind
	Size uint32
}

// SetPRNRequest sets the packet receipt notification interval (0 disables it).
type SetPRNRequest struct {
	Value uint16
}

// CRCGetRequest asks for the offset and CRC of the selected object.
type CRCGetRequest struct{}

// ExecuteRequest commits the selected object.
type ExecuteRequest struct{}

// SelectRequest selects the last object of Kind and reports its state.
type SelectRequest struct {
	Kind ObjectKind
}

// AbortRequest aborts the DFU procedure. The bootloader resets without answering.
type AbortRequest struct{}

func (CreateRequest) OpCode() OpCode { return OpCreate }
func (SetPRNRequest) OpCode() OpCode { return OpSetPRN }
func (CRCGetRequest) OpCode() OpCode { return OpCRCGet }
func (ExecuteRequest) OpCode() OpCode { return OpExecute }
func (SelectRequest) OpCode() OpCode { return OpSelect }
func (AbortRequest) OpCode() OpCode { return OpAbort }

func (CreateRequest) request() {}
func (SetPRNRequest) request() {}
func (CRCGetRequest) request() {}
func (ExecuteRequest) request() {}
func (SelectRequest) request() {}
func (AbortRequest) request() {}

// Encode serializes a request into the bytes written to the control point.
//
// Frame structures (multi-byte fields little-endian):
//
//	Create:  [0x01][KIND][SIZE(4)]
//	SetPRN:  [0x02][VALUE(2)]
//	CRCGet:  [0x03]
//	Execute: [0x04]
//	Select:  [0x06][KIND]
//	Abort:   [0x0C]
func Encode(req Request) ([]byte, error) {
	switch r := req.(type) {
	case CreateRequest:
		if err := validateKind(r.Kind); err != nil {
			return nil, err
		}
		frame := make([]byte, 6)
		frame[0] = byte(OpCreate)
		frame[1] = byte(r.Kind)
		binary.LittleEndian.PutUint32(frame[2:], r.Size)
		return frame, nil

	case SetPRNRequest:
		frame := make([]byte, 3)
		frame[0] = byte(OpSetPRN)
		binary.LittleEndian.PutUint16(frame[1:], r.Value)
		return frame, nil

	case CRCGetRequest:
		return []byte{byte(OpCRCGet)}, nil

	case ExecuteRequest:
		return []byte{byte(OpExecute)}, nil

	case SelectRequest:
		if err := validateKind(r.Kind); err != nil {
			return nil, err
		}
		return []byte{byte(OpSelect), byte(r.Kind)}, nil

	case AbortRequest:
		return []byte{byte(OpAbort)}, nil

	case nil:
		return nil, fmt.Errorf("request cannot be nil")

	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

func validateKind(kind ObjectKind) error {
	if kind != ObjectCommand && kind != ObjectData {
		return fmt.Errorf("invalid object kind 0x%02X", byte(kind))
	}
	return nil
}
