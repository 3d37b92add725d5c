// Package protocol implements the wire format of the Nordic Secure DFU
// bootloader and of the buttonless DFU service.
//
// This package encodes control point commands and decodes the notifications
// the bootloader sends back. It performs no I/O.
//
// # Protocol Overview
//
// Commands are written to the control point characteristic, object bytes to
// the packet characteristic, and every command is answered by a
// notification on the control point:
//
//	Command:  [OPCODE][PARAMS...]
//	Response: [0x60][REQUEST_OPCODE][STATUS][EXT_ERROR?][DATA...]
//
// All multi-byte integers are little-endian. EXT_ERROR is only present when
// STATUS is ResultExtendedError.
//
// # Requests
//
// Requests are a closed set of variants encoded with Encode:
//
//	frame, err := protocol.Encode(protocol.SelectRequest{Kind: protocol.ObjectData})
//	frame, err := protocol.Encode(protocol.CreateRequest{Kind: protocol.ObjectData, Size: 4096})
//
// # Responses
//
// AssertSuccess validates a notification against the request it answers:
//
//	resp, err := protocol.AssertSuccess(frame, protocol.OpSelect)
//	info, err := resp.ObjectInfo()
//
// Non-success statuses are returned as *ProtocolError, which carries the
// extended error code when the device supplied one:
//
//	// err.Error() returns: "create failed: extended error: insufficient space (0x0D)"
//
// # Checksums
//
// The device reports a CRC32 (IEEE 802.3) over every byte of the selected
// object. CRC32 keeps the client side of that running value.
//
// # Buttonless Service
//
// A device running its application exposes a buttonless characteristic that
// renames the device and jumps into the bootloader:
//
//	Command:  [0x02][LEN][NAME...]  set advertising name
//	Command:  [0x01]                enter bootloader
//	Response: [0x20][REQUEST_OPCODE][STATUS]
package protocol
