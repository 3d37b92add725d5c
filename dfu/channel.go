package dfu

import (
	"context"
	"errors"
	"sync"
	"time"
)

// unsolicitedBuffer bounds the notifications kept while no request is outstanding.
const unsolicitedBuffer = 8

var errChannelClosed = errors.New("channel closed")

// waiter is a single-shot slot for the response to one request. Exactly one
// of resolve or cancel wins.
type waiter struct {
	opcode byte

	once sync.Once
	done chan struct{}
	resp []byte
}

func newWaiter(opcode byte) *waiter {
	return &waiter{
		opcode: opcode,
		done:   make(chan struct{}),
	}
}

// resolve completes the waiter with resp and reports whether it won.
func (w *waiter) resolve(resp []byte) bool {
	won := false
	w.once.Do(func() {
		w.resp = resp
		won = true
		close(w.done)
	})
	return won
}

// cancel completes the waiter without a response and reports whether it won.
func (w *waiter) cancel() bool {
	return w.resolve(nil)
}

// commandChannel turns a write+notify characteristic into a strict
// request/response channel with at most one outstanding request.
//
// Responses are recognised by their first two bytes: the response marker
// followed by the opcode being answered. Notifications that do not answer
// the outstanding request are kept in a small buffer and can be inspected
// with takeUnsolicited.
type commandChannel struct {
	char    Characteristic
	marker  byte
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	pending *waiter

	unsolicited chan []byte

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newCommandChannel(char Characteristic, marker byte, timeout time.Duration, logger Logger) *commandChannel {
	return &commandChannel{
		char:        char,
		marker:      marker,
		timeout:     timeout,
		logger:      logger,
		unsolicited: make(chan []byte, unsolicitedBuffer),
		stopCh:      make(chan struct{}),
	}
}

// start begins dispatching notifications.
func (c *commandChannel) start() {
	notifications := c.char.Notifications()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stopCh:
				return
			case frame, ok := <-notifications:
				if !ok {
					return
				}
				c.dispatch(frame)
			}
		}
	}()
}

// stop ends dispatching and fails any outstanding request. Safe to call twice.
func (c *commandChannel) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *commandChannel) dispatch(frame []byte) {
	c.mu.Lock()
	w := c.pending
	c.mu.Unlock()

	if w != nil && len(frame) >= 2 && frame[0] == c.marker && frame[1] == w.opcode {
		if w.resolve(frame) {
			return
		}
	}

	select {
	case c.unsolicited <- frame:
	default:
		if c.logger != nil {
			c.logger.Debug("dropping unsolicited notification", "len", len(frame))
		}
	}
}

// request writes payload with response and waits for the matching
// notification. The channel timeout bounds the write and the wait together.
// It fails with ErrTimeout when no response arrives in time and with
// ErrBusy when another request is outstanding.
func (c *commandChannel) request(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("request payload cannot be empty")
	}

	w := newWaiter(payload[0])

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.pending = w
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == w {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	reqCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.char.Write(reqCtx, payload); err != nil {
		w.cancel()
		return nil, &TransportError{Op: "write control point", Err: timeoutError(ctx, reqCtx, err)}
	}

	select {
	case <-w.done:
	case <-reqCtx.Done():
		if w.cancel() {
			return nil, timeoutError(ctx, reqCtx, reqCtx.Err())
		}
	case <-c.stopCh:
		if w.cancel() {
			return nil, &TransportError{Op: "wait for response", Err: errChannelClosed}
		}
	}

	// A response that raced the deadline still wins.
	if w.resp == nil {
		return nil, ErrTimeout
	}
	return w.resp, nil
}

// send writes payload with response within the channel timeout and does
// not wait for a notification.
func (c *commandChannel) send(ctx context.Context, payload []byte) error {
	sendCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.char.Write(sendCtx, payload); err != nil {
		return &TransportError{Op: "write control point", Err: timeoutError(ctx, sendCtx, err)}
	}
	return nil
}

// withTimeout bounds ctx by d. A non-positive d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutError maps err to ErrTimeout when the operation deadline derived
// from parent expired while parent itself is still live.
func timeoutError(parent, op context.Context, err error) error {
	if parent.Err() == nil && errors.Is(op.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// takeUnsolicited returns the buffered notifications, oldest first.
func (c *commandChannel) takeUnsolicited() [][]byte {
	var frames [][]byte
	for {
		select {
		case frame := <-c.unsolicited:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}
