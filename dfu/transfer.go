package dfu

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-securedfu/protocol"
)

// transferInit sends the init packet as a single command object.
//
// Sequence:
//  1. Select the command object
//  2. Resume if the device holds a prefix of the init packet with a matching CRC
//  3. Create, send and verify, restarting from offset 0 on a checksum mismatch
//  4. Execute
func (s *session) transferInit(ctx context.Context, src Source) error {
	size := src.Size()
	if size <= 0 {
		return fmt.Errorf("init packet is empty: %w", ErrNoPayload)
	}

	s.logMessage("Transfer of an init packet")
	s.reportProgress(PhaseInitPacket, 0, size)

	info, err := s.selectObject(ctx, protocol.ObjectCommand)
	if err != nil {
		return fmt.Errorf("select command object: %w", err)
	}
	if int64(info.MaxSize) < size {
		return fmt.Errorf("init packet of %d bytes exceeds the command object maximum of %d bytes", size, info.MaxSize)
	}

	var offset int64
	resume := false
	if info.Offset > 0 && int64(info.Offset) <= size {
		if err := rehash(&s.crc, src, int64(info.Offset)); err != nil {
			return err
		}
		if s.crc.Value() == info.CRC32 {
			if int64(info.Offset) == size {
				s.logMessage("Init packet already transferred")
				if err := s.executeObject(ctx); err != nil {
					return fmt.Errorf("execute command object: %w", err)
				}
				return nil
			}
			s.logInfo("resuming init packet", "offset", info.Offset)
			offset = int64(info.Offset)
			resume = true
		} else {
			s.logInfo("discarding init packet prefix", "offset", info.Offset,
				"device_crc32", fmt.Sprintf("0x%08X", info.CRC32),
				"local_crc32", fmt.Sprintf("0x%08X", s.crc.Value()),
			)
		}
	}

	if err := s.setPRN(ctx, 0); err != nil {
		return fmt.Errorf("set receipt notifications: %w", err)
	}

	for attempt := 1; ; attempt++ {
		if !resume {
			if err := s.createObject(ctx, protocol.ObjectCommand, uint32(size)); err != nil {
				return fmt.Errorf("create command object: %w", err)
			}
			offset = 0
			s.crc.Reset()
		}
		resume = false

		n, err := s.chunker.send(ctx, src, offset, size, &s.crc, nil)
		if err != nil {
			return fmt.Errorf("send init packet: %w", err)
		}
		offset += n

		check, err := s.readChecksum(ctx, offset)
		if err != nil {
			return err
		}
		if check.CRC32 == s.crc.Value() && int64(check.Offset) == size {
			break
		}

		mismatch := &ChecksumMismatchError{
			Kind:     protocol.ObjectCommand,
			Offset:   check.Offset,
			Expected: s.crc.Value(),
			Actual:   check.CRC32,
		}
		s.logError("init packet verification failed", "attempt", attempt, "error", mismatch)

		if attempt >= s.cfg.Retries {
			return &RetriesExhaustedError{
				Operation: "init packet transfer",
				Offset:    0,
				Attempts:  attempt,
				Err:       mismatch,
			}
		}
	}

	if err := s.executeObject(ctx); err != nil {
		return fmt.Errorf("execute command object: %w", err)
	}
	return nil
}

// transferFirmware sends the firmware image as consecutive data objects of
// the size advertised by the device. Each object is verified and executed
// before the next is created.
func (s *session) transferFirmware(ctx context.Context, src Source) error {
	size := src.Size()
	if size <= 0 {
		return fmt.Errorf("firmware image is empty: %w", ErrNoPayload)
	}

	s.logMessage("Transfer of firmware")
	s.reportProgress(PhaseFirmware, 0, size)

	if err := s.setPRN(ctx, 0); err != nil {
		return fmt.Errorf("set receipt notifications: %w", err)
	}

	info, err := s.selectObject(ctx, protocol.ObjectData)
	if err != nil {
		return fmt.Errorf("select data object: %w", err)
	}
	if info.MaxSize == 0 {
		return fmt.Errorf("device reported a data object size of 0")
	}
	objectSize := int64(info.MaxSize)

	offset, create, err := s.resumeFirmware(ctx, src, info, objectSize)
	if err != nil {
		return err
	}
	if offset > 0 {
		s.reportProgress(PhaseFirmware, offset, size)
	}

	for offset < size {
		start := objectSize * (offset / objectSize)
		end := objectEnd(offset, objectSize, size)

		if create {
			if err := s.createObject(ctx, protocol.ObjectData, uint32(end-start)); err != nil {
				return fmt.Errorf("create data object at %d: %w", start, err)
			}
			if s.firstCreate {
				s.firstCreate = false
				if err := sleep(ctx, s.cfg.CreateDelay); err != nil {
					return err
				}
			}
		}

		s.discardReceipts()
		n, err := s.chunker.send(ctx, src, offset, end, &s.crc, func(o int64) {
			s.reportProgress(PhaseFirmware, o, size)
		})
		if err != nil {
			return fmt.Errorf("send data object at %d: %w", start, err)
		}
		local := offset + n

		check, err := s.objectChecksum(ctx, local)
		if err != nil {
			return err
		}

		if check.CRC32 == s.crc.Value() && int64(check.Offset) == local {
			offset = local
			if local < end {
				// Partial object acknowledged: continue it without a new create.
				create = false
				continue
			}
			if err := s.executeObject(ctx); err != nil {
				return fmt.Errorf("execute data object at %d: %w", start, err)
			}
			s.logDebug("data object executed", "start", start, "end", end)
			create = true
			continue
		}

		mismatch := &ChecksumMismatchError{
			Kind:     protocol.ObjectData,
			Offset:   check.Offset,
			Expected: s.crc.Value(),
			Actual:   check.CRC32,
		}
		s.logError("data object verification failed", "start", start, "error", mismatch)

		if start != s.retryOffset {
			s.retryOffset = start
			s.retryCount = 0
		}
		s.retryCount++
		if s.retryCount >= s.cfg.Retries {
			return &RetriesExhaustedError{
				Operation: "data object transfer",
				Offset:    start,
				Attempts:  s.retryCount,
				Err:       mismatch,
			}
		}

		if err := sleep(ctx, s.cfg.MismatchDelay); err != nil {
			return err
		}
		if err := rehash(&s.crc, src, start); err != nil {
			return err
		}
		offset = start
		create = true
		s.reportProgress(PhaseFirmware, offset, size)
	}

	return nil
}

// resumeFirmware decides where the firmware transfer starts from the
// selected data object. It returns the start offset and whether an object
// must be created before sending. s.crc holds the CRC up to the offset.
func (s *session) resumeFirmware(ctx context.Context, src Source, info *protocol.ObjectInfo, objectSize int64) (int64, bool, error) {
	s.crc.Reset()

	size := src.Size()
	offset := int64(info.Offset)
	if offset == 0 || offset > size {
		return 0, true, nil
	}

	if err := rehash(&s.crc, src, offset); err != nil {
		return 0, false, err
	}
	if s.crc.Value() != info.CRC32 {
		s.logInfo("discarding firmware prefix", "offset", offset,
			"device_crc32", fmt.Sprintf("0x%08X", info.CRC32),
			"local_crc32", fmt.Sprintf("0x%08X", s.crc.Value()),
		)
		s.crc.Reset()
		return 0, true, nil
	}

	s.logMessage(fmt.Sprintf("Resuming firmware at offset %d", offset))

	if offset%objectSize != 0 && offset != size {
		return offset, false, nil
	}

	// The object ending at offset is complete but may not be executed yet.
	if err := s.executeObject(ctx); err != nil {
		var perr *protocol.ProtocolError
		if !errors.As(err, &perr) || perr.Status != protocol.ResultOperationNotPermitted {
			return 0, false, fmt.Errorf("execute data object before %d: %w", offset, err)
		}
		s.logDebug("data object already executed", "offset", offset)
	}
	return offset, true, nil
}

// discardReceipts drops buffered notifications. Receipts sent before a page
// is written do not describe it, even when a recreated page ends at the same
// offset.
func (s *session) discardReceipts() {
	if stale := s.control.takeUnsolicited(); len(stale) > 0 {
		s.logDebug("discarding stale notifications", "count", len(stale))
	}
}

// objectChecksum returns the device checksum after sending up to offset.
// A buffered receipt notification for exactly offset is used when present;
// otherwise the checksum is requested.
func (s *session) objectChecksum(ctx context.Context, offset int64) (*protocol.ObjectChecksum, error) {
	var found *protocol.ObjectChecksum
	for _, frame := range s.control.takeUnsolicited() {
		check, err := protocol.ParseChecksumResponse(frame)
		if err != nil {
			continue
		}
		if int64(check.Offset) == offset {
			found = check
		}
	}
	if found != nil {
		s.logDebug("using receipt notification", "offset", offset)
		return found, nil
	}
	return s.readChecksum(ctx, offset)
}
