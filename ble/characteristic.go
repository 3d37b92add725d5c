package ble

import (
	"context"

	"tinygo.org/x/bluetooth"
)

// Characteristic adapts a discovered GATT characteristic.
type Characteristic struct {
	char          bluetooth.DeviceCharacteristic
	notifications chan []byte
}

func (c *Characteristic) Write(ctx context.Context, p []byte) error {
	return withContext(ctx, func() error {
		_, err := c.char.Write(p)
		return err
	})
}

func (c *Characteristic) WriteWithoutResponse(ctx context.Context, p []byte) error {
	return withContext(ctx, func() error {
		_, err := c.char.WriteWithoutResponse(p)
		return err
	})
}

// withContext runs a blocking stack call and returns early when ctx is done.
// The stack offers no way to cancel a write, so the call is left to finish
// in the background.
func withContext(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- call() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnableNotifications subscribes to the characteristic. Payloads are copied
// because the stack may reuse its buffer after the callback returns.
func (c *Characteristic) EnableNotifications(enable bool) error {
	if !enable {
		return c.char.EnableNotifications(nil)
	}
	return c.char.EnableNotifications(func(buf []byte) {
		frame := append([]byte(nil), buf...)
		select {
		case c.notifications <- frame:
		default:
			// Full: the reader is gone or far behind. A dropped response
			// surfaces as a request timeout.
		}
	})
}

func (c *Characteristic) Notifications() <-chan []byte {
	return c.notifications
}
