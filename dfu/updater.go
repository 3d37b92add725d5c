package dfu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-securedfu/protocol"
)

// Updater performs Secure DFU updates over a Transport.
//
// An Updater runs one update at a time; concurrent calls on the same
// Updater are not supported. Use one Updater per device.
type Updater struct {
	transport Transport
	config    Config
	observer  Observer
}

// New creates a new Updater with the given transport and options.
//
// Example:
//
//	transport, _ := ble.Open()
//	u := dfu.New(transport,
//	    dfu.WithProgressCallback(progressFunc),
//	    dfu.WithTimeout(5*time.Second),
//	)
func New(transport Transport, opts ...Option) *Updater {
	if transport == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var observer Observer = NopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}

	return &Updater{
		transport: transport,
		config:    cfg,
		observer:  observer,
	}
}

// Config returns the effective configuration.
func (u *Updater) Config() Config {
	return u.config
}

// Update performs the complete update of a device running its application:
//  1. Switch the device into DFU mode and find the bootloader by name
//  2. Connect and negotiate the MTU
//  3. Transfer and execute the init packet
//  4. Transfer and execute the firmware image
//
// The observer receives exactly one of OnSuccess or OnError. Connections are
// torn down before Update returns.
//
// Example:
//
//	pkg, _ := firmware.Parse("app_dfu_package.zip")
//	img := pkg.Images[0]
//	err := u.Update(ctx, dev, img.InitSource(), img.FirmwareSource())
func (u *Updater) Update(ctx context.Context, dev Device, init, image Source) error {
	s := u.newSession()
	if dev == nil {
		return u.finish(s, fmt.Errorf("device cannot be nil"))
	}
	if init == nil || image == nil {
		return u.finish(s, ErrNoPayload)
	}

	s.logInfo("starting update", "address", dev.Address(), "init_size", init.Size(), "firmware_size", image.Size())

	dfuDev, err := s.enterDFUMode(ctx, dev)
	if err != nil {
		return u.finish(s, fmt.Errorf("enter DFU mode: %w", err))
	}

	return u.finish(s, s.transfer(ctx, dfuDev, init, image))
}

// Transfer updates a device that already runs the bootloader. It skips the
// mode switch and otherwise behaves like Update.
func (u *Updater) Transfer(ctx context.Context, dev Device, init, image Source) error {
	s := u.newSession()
	if dev == nil {
		return u.finish(s, fmt.Errorf("device cannot be nil"))
	}
	if init == nil || image == nil {
		return u.finish(s, ErrNoPayload)
	}

	s.logInfo("starting transfer", "address", dev.Address(), "init_size", init.Size(), "firmware_size", image.Size())

	return u.finish(s, s.transfer(ctx, dev, init, image))
}

// EnterDFUMode switches a device running its application into the
// bootloader and returns the bootloader found under the configured
// advertising name. The returned handle is unrelated to dev.
//
// Only log messages are delivered to the observer.
func (u *Updater) EnterDFUMode(ctx context.Context, dev Device) (Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("device cannot be nil")
	}
	s := u.newSession()
	return s.enterDFUMode(ctx, dev)
}

// finish delivers the terminal event of a run.
func (u *Updater) finish(s *session, err error) error {
	if err != nil {
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			if perr.IsExtended() {
				u.observer.OnExtendedError(perr.Extended)
			} else {
				u.observer.OnResponseError(perr.Status)
			}
		}
		s.logError("update failed", "error", err, "elapsed", time.Since(s.started))
		u.observer.OnError(err)
		return err
	}

	elapsed := time.Since(s.started)
	s.logInfo("update complete", "elapsed", elapsed)
	u.observer.OnSuccess(elapsed)
	return nil
}

// transfer connects to a device in bootloader mode and sends both objects.
func (s *session) transfer(ctx context.Context, dev Device, init, image Source) (err error) {
	s.reportProgress(PhaseConnecting, 0, image.Size())

	conn, err := s.connect(ctx, dev)
	if err != nil {
		return err
	}
	defer func() {
		if derr := s.transport.Disconnect(conn); derr != nil {
			s.logDebug("disconnect", "error", derr)
		}
	}()

	mtu := s.negotiateMTU(ctx, conn)

	control, err := s.characteristic(ctx, conn, protocol.ControlPointUUID)
	if err != nil {
		return &TransportError{Op: "find control point", Err: err}
	}
	packet, err := s.characteristic(ctx, conn, protocol.PacketUUID)
	if err != nil {
		return &TransportError{Op: "find packet characteristic", Err: err}
	}
	if err := control.EnableNotifications(true); err != nil {
		return &TransportError{Op: "enable control point notifications", Err: err}
	}

	s.control = newCommandChannel(control, byte(protocol.OpResponse), s.cfg.OperationTimeout, s.logger)
	s.control.start()
	defer func() {
		if err != nil {
			abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
			s.abort(abortCtx)
			cancel()
		}
		if derr := control.EnableNotifications(false); derr != nil {
			s.logDebug("disable control point notifications", "error", derr)
		}
		s.control.stop()
	}()

	s.chunker = &chunker{
		packet:  packet,
		mtu:     mtu,
		delay:   s.cfg.PacketDelay,
		logger:  s.logger,
		timeout: s.cfg.OperationTimeout,
	}

	if err := s.transferInit(ctx, init); err != nil {
		return fmt.Errorf("init packet: %w", err)
	}
	if err := s.transferFirmware(ctx, image); err != nil {
		return fmt.Errorf("firmware: %w", err)
	}

	s.reportProgress(PhaseComplete, image.Size(), image.Size())
	s.logMessage("Firmware transferred")
	return nil
}

// negotiateMTU requests the configured MTU and clamps the grant to
// protocol.MaximumMTU. Falls back to protocol.DefaultMTU on failure.
func (s *session) negotiateMTU(ctx context.Context, conn Device) int {
	mtuCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	granted, err := s.transport.RequestMTU(mtuCtx, conn, s.cfg.MTU)
	if err != nil || granted <= protocol.ReservedHeaderBytes {
		s.logError("MTU negotiation failed, using default", "requested", s.cfg.MTU, "granted", granted, "error", err)
		return protocol.DefaultMTU
	}

	mtu := min(granted, protocol.MaximumMTU)
	s.logDebug("MTU negotiated", "requested", s.cfg.MTU, "granted", granted, "using", mtu)
	return mtu
}
