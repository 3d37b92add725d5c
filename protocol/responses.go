package protocol

import (
	"encoding/binary"
	"fmt"
)

// Response is a decoded control point notification.
//
// Response structure:
//
//	[0x60][REQUEST_OP][STATUS][EXT_ERROR?][DATA...]
//
// EXT_ERROR is only present when STATUS is ResultExtendedError.
type Response struct {
	// Request is the opcode this response answers
	Request OpCode

	// Status is the result of the request
	Status ResultCode

	// Extended is set when Status is ResultExtendedError
	Extended ExtendedErrorCode

	// Data holds the bytes following the status byte
	Data []byte
}

// ParseResponse validates the response marker and splits a control point
// notification into its fields. It does not check the status.
func ParseResponse(frame []byte) (*Response, error) {
	if len(frame) < MinResponseSize {
		return nil, fmt.Errorf("response too short: got %d bytes, minimum is %d", len(frame), MinResponseSize)
	}
	if OpCode(frame[0]) != OpResponse {
		return nil, fmt.Errorf("invalid response marker: got 0x%02X, expected 0x%02X", frame[0], byte(OpResponse))
	}

	resp := &Response{
		Request: OpCode(frame[1]),
		Status:  ResultCode(frame[2]),
		Data:    frame[MinResponseSize:],
	}

	if resp.Status == ResultExtendedError {
		if len(frame) < MinResponseSize+1 {
			return nil, fmt.Errorf("extended error response is missing the error code")
		}
		resp.Extended = ExtendedErrorCode(frame[3])
		resp.Data = frame[MinResponseSize+1:]
	}

	return resp, nil
}

// Err returns a *ProtocolError when the status is not success.
func (r *Response) Err() error {
	if r.Status == ResultSuccess {
		return nil
	}
	return &ProtocolError{
		Operation: r.Request,
		Status:    r.Status,
		Extended:  r.Extended,
	}
}

// AssertSuccess parses frame, checks that it answers op, and that the
// device reported success. Non-success statuses are returned as *ProtocolError.
func AssertSuccess(frame []byte, op OpCode) (*Response, error) {
	resp, err := ParseResponse(frame)
	if err != nil {
		return nil, err
	}
	if resp.Request != op {
		return nil, fmt.Errorf("unexpected response: answers %s, expected %s", resp.Request, op)
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

// ObjectInfo decodes a Select payload.
//
// Data format (12 bytes):
//
//	[MAX_SIZE(4)][OFFSET(4)][CRC32(4)]
func (r *Response) ObjectInfo() (*ObjectInfo, error) {
	if len(r.Data) < 12 {
		return nil, fmt.Errorf("invalid data length for select response: got %d bytes, expected 12", len(r.Data))
	}

	// Offset is not checked against MaxSize: for data objects the device
	// reports the offset into the whole image, not into the current object.
	return &ObjectInfo{
		MaxSize: binary.LittleEndian.Uint32(r.Data[0:4]),
		Offset:  binary.LittleEndian.Uint32(r.Data[4:8]),
		CRC32:   binary.LittleEndian.Uint32(r.Data[8:12]),
	}, nil
}

// Checksum decodes a CRC-Get payload (also used by packet receipt notifications).
//
// Data format (8 bytes):
//
//	[OFFSET(4)][CRC32(4)]
func (r *Response) Checksum() (*ObjectChecksum, error) {
	if len(r.Data) < 8 {
		return nil, fmt.Errorf("invalid data length for checksum response: got %d bytes, expected 8", len(r.Data))
	}

	return &ObjectChecksum{
		Offset: binary.LittleEndian.Uint32(r.Data[0:4]),
		CRC32:  binary.LittleEndian.Uint32(r.Data[4:8]),
	}, nil
}

// ParseSelectResponse asserts a successful Select response and decodes it.
func ParseSelectResponse(frame []byte) (*ObjectInfo, error) {
	resp, err := AssertSuccess(frame, OpSelect)
	if err != nil {
		return nil, err
	}
	return resp.ObjectInfo()
}

// ParseChecksumResponse asserts a successful CRC-Get response and decodes it.
func ParseChecksumResponse(frame []byte) (*ObjectChecksum, error) {
	resp, err := AssertSuccess(frame, OpCRCGet)
	if err != nil {
		return nil, err
	}
	return resp.Checksum()
}
