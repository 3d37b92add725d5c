package dfu

import (
	"context"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/moffa90/go-securedfu/protocol"
)

// Source is a seekable payload. *bytes.Reader and *io.SectionReader satisfy it.
type Source interface {
	io.ReadSeeker

	// Size returns the payload length in bytes
	Size() int64
}

// chunks yields the bytes of src in [from, to) as consecutive slices of at
// most size bytes. Iteration seeks first, so the sequence can be restarted.
// Each yielded slice is freshly allocated.
func chunks(src io.ReadSeeker, from, to int64, size int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if size <= 0 {
			yield(nil, fmt.Errorf("invalid chunk size %d", size))
			return
		}
		if _, err := src.Seek(from, io.SeekStart); err != nil {
			yield(nil, fmt.Errorf("seek to %d: %w", from, err))
			return
		}

		for off := from; off < to; {
			n := min(int64(size), to-off)
			chunk := make([]byte, n)
			if _, err := io.ReadFull(src, chunk); err != nil {
				yield(nil, fmt.Errorf("read %d bytes at %d: %w", n, off, err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
			off += n
		}
	}
}

// chunker writes payload ranges to the packet characteristic.
type chunker struct {
	packet Characteristic
	mtu    int
	delay  time.Duration
	logger Logger

	// timeout bounds each write; zero leaves writes unbounded
	timeout time.Duration
}

func (c *chunker) chunkSize() int {
	return c.mtu - protocol.ReservedHeaderBytes
}

// send writes src[from:to) as writes without response, each preceded by the
// pacing delay and followed by folding the chunk into crc. It returns the
// bytes consumed.
//
// A failed write is still folded into crc and counted: the device CRC check
// that follows reports the loss. The chunker stops at the first failed write
// and only returns errors for the source or ctx.
func (c *chunker) send(ctx context.Context, src io.ReadSeeker, from, to int64, crc *protocol.CRC32, onChunk func(offset int64)) (int64, error) {
	var consumed int64
	for chunk, err := range chunks(src, from, to, c.chunkSize()) {
		if err != nil {
			return consumed, err
		}
		if err := sleep(ctx, c.delay); err != nil {
			return consumed, err
		}

		writeErr := c.write(ctx, chunk)
		crc.Update(chunk)
		consumed += int64(len(chunk))

		if writeErr != nil {
			if c.logger != nil {
				c.logger.Error("packet write failed", "offset", from+consumed-int64(len(chunk)), "error", writeErr)
			}
			return consumed, nil
		}
		if onChunk != nil {
			onChunk(from + consumed)
		}
	}
	return consumed, nil
}

func (c *chunker) write(ctx context.Context, chunk []byte) error {
	writeCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	return timeoutError(ctx, writeCtx, c.packet.WriteWithoutResponse(writeCtx, chunk))
}

// objectEnd returns the end (exclusive) of the data object containing offset.
func objectEnd(offset, objectSize, total int64) int64 {
	return min(objectSize*(offset/objectSize)+objectSize, total)
}

// rehash resets crc to the CRC of the first n bytes of src.
func rehash(crc *protocol.CRC32, src io.ReadSeeker, n int64) error {
	crc.Reset()
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	if _, err := io.CopyN(crc, src, n); err != nil {
		return fmt.Errorf("hash first %d bytes: %w", n, err)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
