package simulator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/moffa90/go-securedfu/protocol"
)

// characteristic is a simulated GATT characteristic. Writes are handled
// synchronously; notifications are queued while enabled.
type characteristic struct {
	device *Peripheral
	uuid   string

	mu            sync.Mutex
	enabled       bool
	writeErrs     int
	notifications chan []byte
}

func newCharacteristic(device *Peripheral, uuid string) *characteristic {
	return &characteristic{
		device:        device,
		uuid:          uuid,
		notifications: make(chan []byte, notificationBuffer),
	}
}

func (c *characteristic) Write(ctx context.Context, p []byte) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	frame := append([]byte(nil), p...)

	switch {
	case strings.EqualFold(c.uuid, protocol.ButtonlessUUID):
		c.device.handleButtonless(frame)
	case strings.EqualFold(c.uuid, protocol.ControlPointUUID):
		c.device.handleControl(frame)
	default:
		return errors.New("simulator: characteristic does not support write with response")
	}
	return nil
}

func (c *characteristic) WriteWithoutResponse(ctx context.Context, p []byte) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if !strings.EqualFold(c.uuid, protocol.PacketUUID) {
		return errors.New("simulator: characteristic does not support write without response")
	}
	c.device.handlePacket(append([]byte(nil), p...))
	return nil
}

func (c *characteristic) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.writeErrs > 0 {
		c.writeErrs--
		c.mu.Unlock()
		return errors.New("simulator: write failed")
	}
	c.mu.Unlock()

	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	if !c.device.connected {
		return ErrNotConnected
	}
	return nil
}

// EnableNotifications drops notifications queued by an earlier connection.
func (c *characteristic) EnableNotifications(enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enable && !c.enabled {
		for len(c.notifications) > 0 {
			<-c.notifications
		}
	}
	c.enabled = enable
	return nil
}

func (c *characteristic) Notifications() <-chan []byte {
	return c.notifications
}

func (c *characteristic) notify(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	select {
	case c.notifications <- frame:
	default:
	}
}

// FailPacketWrites makes the next n writes to the packet characteristic fail.
func (p *Peripheral) FailPacketWrites(n int) {
	p.packet.mu.Lock()
	defer p.packet.mu.Unlock()
	p.packet.writeErrs = n
}
