package dfu

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-securedfu/protocol"
)

// enterDFUMode switches a device running its application into the
// bootloader and finds it again under a new advertising name.
//
// Sequence:
//  1. Connect and enable indications on the buttonless characteristic
//  2. Set the bootloader advertising name
//  3. Enter the bootloader
//  4. Disable indications, wait the settle delay and disconnect
//  5. Scan for the new name
func (s *session) enterDFUMode(ctx context.Context, dev Device) (Device, error) {
	name := protocol.TruncateAdvertisingName(s.cfg.AdvertisingName)

	s.logMessage("Enter DFU mode")
	s.reportProgress(PhaseEntering, 0, 0)

	conn, err := s.connect(ctx, dev)
	if err != nil {
		return nil, err
	}

	switchErr := s.switchToBootloader(ctx, conn, name)

	// The device resets into the bootloader, so failures here are expected.
	if err := s.transport.Disconnect(conn); err != nil {
		s.logDebug("disconnect after mode switch", "error", err)
	}

	if switchErr != nil {
		return nil, switchErr
	}

	s.reportProgress(PhaseDiscovering, 0, 0)

	discoverCtx, cancel := context.WithTimeout(ctx, s.cfg.DiscoveryTimeout)
	defer cancel()

	found, err := Discover(discoverCtx, s.transport, name)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", name, err)
	}

	s.logMessage(fmt.Sprintf("Device found: %s", name))
	return found, nil
}

// switchToBootloader runs the buttonless exchange on an open connection.
// Indications are disabled and the settle delay is waited whatever the outcome.
func (s *session) switchToBootloader(ctx context.Context, conn Device, name string) error {
	char, err := s.characteristic(ctx, conn, protocol.ButtonlessUUID)
	if err != nil {
		return &TransportError{Op: "find buttonless characteristic", Err: err}
	}
	if err := char.EnableNotifications(true); err != nil {
		return &TransportError{Op: "enable buttonless indications", Err: err}
	}

	ch := newCommandChannel(char, byte(protocol.ButtonlessOpResponse), s.cfg.OperationTimeout, s.logger)
	ch.start()

	status, err := s.buttonlessExchange(ctx, ch, name)

	if derr := char.EnableNotifications(false); derr != nil {
		s.logDebug("disable buttonless indications", "error", derr)
	}
	ch.stop()

	if serr := sleep(ctx, s.cfg.SettleDelay); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return err
	}

	s.logDebug("enter bootloader", "status", status.String())
	return nil
}

// buttonlessExchange sets the advertising name and enters the bootloader,
// returning the status of the enter command.
func (s *session) buttonlessExchange(ctx context.Context, ch *commandChannel, name string) (protocol.ButtonlessStatus, error) {
	cmd, err := protocol.BuildSetAdvNameCmd(name)
	if err != nil {
		return protocol.ButtonlessInvalid, err
	}

	s.logDebug("setting advertising name", "name", name)
	if _, err := s.buttonlessRequest(ctx, ch, cmd); err != nil {
		return protocol.ButtonlessInvalid, fmt.Errorf("set advertising name: %w", err)
	}

	resp, err := s.buttonlessRequest(ctx, ch, protocol.BuildEnterBootloaderCmd())
	if err != nil {
		if resp != nil {
			return resp.Status, fmt.Errorf("enter bootloader: %w", err)
		}
		return protocol.ButtonlessInvalid, fmt.Errorf("enter bootloader: %w", err)
	}
	return resp.Status, nil
}

func (s *session) buttonlessRequest(ctx context.Context, ch *commandChannel, cmd []byte) (*protocol.ButtonlessResponse, error) {
	frame, err := ch.request(ctx, cmd)
	if err != nil {
		return nil, err
	}
	resp, err := protocol.ParseButtonlessResponse(frame)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

// connect connects to dev within the connect timeout.
func (s *session) connect(ctx context.Context, dev Device) (Device, error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.logDebug("connecting", "address", dev.Address(), "name", dev.Name())

	conn, err := s.transport.Connect(connectCtx, dev)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return nil, &TransportError{Op: "connect to " + dev.Address(), Err: err}
	}
	return conn, nil
}

// Discover scans until a device advertises exactly name and returns it.
// The first match wins and stops the scan. Scanning is bounded by ctx;
// an expired deadline yields ErrTimeout.
//
// Matching is by name only: addresses are not stable across the reboot
// into the bootloader.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	dev, err := dfu.Discover(ctx, transport, "DFU_120000")
func Discover(ctx context.Context, transport Transport, name string) (Device, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ads, err := transport.Scan(scanCtx)
	if err != nil {
		return nil, &TransportError{Op: "scan", Err: err}
	}

	for {
		select {
		case ad, ok := <-ads:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, scanContextError(err)
				}
				return nil, ErrScanStopped
			}
			if ad.LocalName == name {
				return ad.Device, nil
			}
		case <-ctx.Done():
			return nil, scanContextError(ctx.Err())
		}
	}
}

func scanContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
