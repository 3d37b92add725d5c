package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSelectResponse(t *testing.T) {
	frame := []byte{0x60, 0x06, 0x01, 10, 0, 0, 0, 5, 0, 0, 0, 0xAA, 0xBB, 0xCC, 0xDD}

	info, err := ParseSelectResponse(frame)
	if err != nil {
		t.Fatalf("ParseSelectResponse() unexpected error: %v", err)
	}

	want := ObjectInfo{MaxSize: 10, Offset: 5, CRC32: 0xDDCCBBAA}
	if *info != want {
		t.Errorf("ParseSelectResponse() = %+v, want %+v", *info, want)
	}
	if info.Checksum() != (ObjectChecksum{Offset: 5, CRC32: 0xDDCCBBAA}) {
		t.Errorf("Checksum() = %+v", info.Checksum())
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name         string
		frame        []byte
		wantRequest  OpCode
		wantStatus   ResultCode
		wantExtended ExtendedErrorCode
		wantDataLen  int
		wantErr      bool
		errMsg       string
	}{
		{
			name:        "success without data",
			frame:       []byte{0x60, 0x04, 0x01},
			wantRequest: OpExecute,
			wantStatus:  ResultSuccess,
		},
		{
			name:        "checksum response",
			frame:       []byte{0x60, 0x03, 0x01, 0x10, 0, 0, 0, 1, 2, 3, 4},
			wantRequest: OpCRCGet,
			wantStatus:  ResultSuccess,
			wantDataLen: 8,
		},
		{
			name:        "plain error status",
			frame:       []byte{0x60, 0x01, 0x04},
			wantRequest: OpCreate,
			wantStatus:  ResultInsufficientResources,
		},
		{
			name:         "extended error",
			frame:        []byte{0x60, 0x04, 0x0B, 0x05},
			wantRequest:  OpExecute,
			wantStatus:   ResultExtendedError,
			wantExtended: ExtFirmwareVersion,
		},
		{
			name:    "extended error without code",
			frame:   []byte{0x60, 0x04, 0x0B},
			wantErr: true,
			errMsg:  "missing the error code",
		},
		{
			name:    "too short",
			frame:   []byte{0x60, 0x04},
			wantErr: true,
			errMsg:  "response too short",
		},
		{
			name:    "wrong marker",
			frame:   []byte{0x20, 0x01, 0x01},
			wantErr: true,
			errMsg:  "invalid response marker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.frame)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseResponse() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse() unexpected error: %v", err)
			}
			if resp.Request != tt.wantRequest {
				t.Errorf("Request = %s, want %s", resp.Request, tt.wantRequest)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if resp.Extended != tt.wantExtended {
				t.Errorf("Extended = %s, want %s", resp.Extended, tt.wantExtended)
			}
			if len(resp.Data) != tt.wantDataLen {
				t.Errorf("len(Data) = %d, want %d", len(resp.Data), tt.wantDataLen)
			}
		})
	}
}

func TestAssertSuccess(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		if _, err := AssertSuccess([]byte{0x60, 0x02, 0x01}, OpSetPRN); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("answers another request", func(t *testing.T) {
		_, err := AssertSuccess([]byte{0x60, 0x03, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, OpExecute)
		if err == nil || !strings.Contains(err.Error(), "unexpected response") {
			t.Fatalf("error = %v, want unexpected response", err)
		}
	})

	t.Run("status error", func(t *testing.T) {
		_, err := AssertSuccess([]byte{0x60, 0x01, 0x08}, OpCreate)
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want *ProtocolError", err)
		}
		if pe.Status != ResultOperationNotPermitted || pe.Operation != OpCreate {
			t.Errorf("ProtocolError = %+v", pe)
		}
		if pe.IsExtended() {
			t.Error("IsExtended() = true, want false")
		}
		if !strings.Contains(err.Error(), "create failed: operation not permitted (0x08)") {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("extended error", func(t *testing.T) {
		_, err := AssertSuccess([]byte{0x60, 0x04, 0x0B, 0x0D}, OpExecute)
		if !IsProtocolError(err) {
			t.Fatalf("error = %v, want ProtocolError", err)
		}
		var pe *ProtocolError
		errors.As(err, &pe)
		if !pe.IsExtended() || pe.Extended != ExtInsufficientSpace {
			t.Errorf("ProtocolError = %+v", pe)
		}
		if !strings.Contains(err.Error(), "insufficient space (0x0D)") {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestParseChecksumResponse(t *testing.T) {
	frame := []byte{0x60, 0x03, 0x01, 0x25, 0x00, 0x00, 0x00, 0x26, 0x39, 0xF4, 0xCB}

	sum, err := ParseChecksumResponse(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Offset != 37 || sum.CRC32 != 0xCBF43926 {
		t.Errorf("ParseChecksumResponse() = %+v", *sum)
	}

	if _, err := ParseChecksumResponse(frame[:7]); err == nil {
		t.Error("expected error for truncated checksum response")
	}
}

func TestParseButtonlessResponse(t *testing.T) {
	resp, err := ParseButtonlessResponse([]byte{0x20, 0x01, 0x01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Request != ButtonlessOpEnterBootloader || resp.Err() != nil {
		t.Errorf("response = %+v", resp)
	}

	resp, err = ParseButtonlessResponse([]byte{0x20, 0x02, 0x05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var be *ButtonlessError
	if !errors.As(resp.Err(), &be) || be.Status != ButtonlessAdvNameInvalid {
		t.Errorf("Err() = %v, want adv name invalid", resp.Err())
	}

	if _, err := ParseButtonlessResponse([]byte{0x60, 0x01, 0x01}); err == nil {
		t.Error("expected error for secure DFU marker on buttonless characteristic")
	}
}

func TestErrorStrings(t *testing.T) {
	if got := ResultCode(0x42).String(); !strings.Contains(got, "0x42") {
		t.Errorf("unknown result code string = %q", got)
	}
	if got := ExtendedErrorCode(0x42).String(); !strings.Contains(got, "0x42") {
		t.Errorf("unknown extended code string = %q", got)
	}
	if got := OpCode(0x42).String(); !strings.Contains(got, "0x42") {
		t.Errorf("unknown opcode string = %q", got)
	}
}
