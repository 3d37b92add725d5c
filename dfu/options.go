package dfu

import (
	"fmt"
	"time"

	"github.com/moffa90/go-securedfu/protocol"
)

// Config holds the updater configuration.
type Config struct {
	// Observer receives success, error, progress and log events (optional)
	Observer Observer

	// ProgressCallback is called during the update to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// OperationTimeout bounds every request/response round trip
	OperationTimeout time.Duration

	// ConnectTimeout bounds connecting to a device
	ConnectTimeout time.Duration

	// DiscoveryTimeout bounds the scan for the device after it rebooted into DFU mode
	DiscoveryTimeout time.Duration

	// SettleDelay is waited after the enter-bootloader command before disconnecting
	SettleDelay time.Duration

	// PacketDelay is waited before each data chunk write
	PacketDelay time.Duration

	// RetryDelay is the backoff between CRC-Get attempts
	RetryDelay time.Duration

	// MismatchDelay is waited before recreating a data object after a checksum mismatch
	MismatchDelay time.Duration

	// CreateDelay is waited after creating the first data object
	CreateDelay time.Duration

	// Retries bounds CRC-Get attempts and checksum mismatches per object
	Retries int

	// MTU is the MTU requested from the transport. The granted value is
	// always clamped to protocol.MaximumMTU.
	MTU int

	// AdvertisingName is the name the device advertises in DFU mode.
	// It is truncated to protocol.MaxAdvertisingNameLength bytes.
	AdvertisingName string
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		OperationTimeout: 5 * time.Second,
		ConnectTimeout:   10 * time.Second,
		DiscoveryTimeout: 10 * time.Second,
		SettleDelay:      time.Second,
		PacketDelay:      10 * time.Millisecond,
		RetryDelay:       100 * time.Millisecond,
		MismatchDelay:    time.Second,
		CreateDelay:      400 * time.Millisecond,
		Retries:          protocol.MaxRetries,
		MTU:              protocol.RequestedMTU,
		AdvertisingName:  fmt.Sprintf("DFU_%s", time.Now().Format("150405")),
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithObserver attaches an observer for the lifetime of the updater.
//
// Example:
//
//	u := dfu.New(transport, dfu.WithObserver(myObserver))
func WithObserver(observer Observer) Option {
	return func(c *Config) {
		c.Observer = observer
	}
}

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	u := dfu.New(transport,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Fraction*100)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the updater operations.
//
// Example:
//
//	u := dfu.New(transport, dfu.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the request/response timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.OperationTimeout = timeout
		}
	}
}

// WithConnectTimeout sets the connection timeout.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ConnectTimeout = timeout
		}
	}
}

// WithDiscoveryTimeout sets how long to scan for the device once it
// rebooted into DFU mode.
func WithDiscoveryTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.DiscoveryTimeout = timeout
		}
	}
}

// WithSettleDelay sets the pause between entering DFU mode and disconnecting.
func WithSettleDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.SettleDelay = delay
		}
	}
}

// WithPacketDelay sets the pause before each data chunk write.
// Some stacks stall when writes without response are issued back to back.
func WithPacketDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.PacketDelay = delay
		}
	}
}

// WithRetryDelay sets the backoff between CRC-Get attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.RetryDelay = delay
		}
	}
}

// WithMismatchDelay sets the pause before recreating a data object after a
// checksum mismatch.
func WithMismatchDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.MismatchDelay = delay
		}
	}
}

// WithCreateDelay sets the pause after creating the first data object.
func WithCreateDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.CreateDelay = delay
		}
	}
}

// WithRetries sets the number of attempts for CRC-Get and for checksum
// mismatches on one object.
//
// Example:
//
//	u := dfu.New(transport, dfu.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.Retries = retries
		}
	}
}

// WithMTU sets the MTU requested during negotiation.
// The granted MTU is still clamped to protocol.MaximumMTU.
func WithMTU(mtu int) Option {
	return func(c *Config) {
		if mtu > protocol.ReservedHeaderBytes {
			c.MTU = mtu
		}
	}
}

// WithAdvertisingName sets the name the device advertises in DFU mode.
// Names must be unique among nearby devices: discovery matches on the name only.
//
// Example:
//
//	u := dfu.New(transport, dfu.WithAdvertisingName("DFU_120000ab"))
func WithAdvertisingName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.AdvertisingName = name
		}
	}
}
