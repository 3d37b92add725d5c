package dfu

import "context"

// Device is an opaque handle to a remote peripheral.
//
// Handles are not stable across a device reboot: the handle returned by
// EnterDFUMode is a new handle unrelated to the one passed in.
type Device interface {
	// Name is the advertised name, if known
	Name() string

	// Address is a transport-specific identifier used for logging only
	Address() string
}

// Advertisement is a single scan result.
type Advertisement struct {
	// LocalName is the name in the advertising payload (not a cached name)
	LocalName string

	// Device can be passed to Transport.Connect
	Device Device
}

// Characteristic is a GATT characteristic of a connected device.
type Characteristic interface {
	// Write writes p and waits for the write response.
	Write(ctx context.Context, p []byte) error

	// WriteWithoutResponse queues p for sending without acknowledgement.
	WriteWithoutResponse(ctx context.Context, p []byte) error

	// EnableNotifications turns notifications (or indications) on or off.
	EnableNotifications(enable bool) error

	// Notifications returns the stream of notification payloads.
	// The same channel is returned on every call.
	Notifications() <-chan []byte
}

// Transport is the radio stack the updater runs on.
//
// Implementations are provided by callers: the ble package wraps
// tinygo.org/x/bluetooth, and tests use an in-memory simulator.
type Transport interface {
	// Connect connects to dev and returns the connected handle. The
	// context carries the connection timeout.
	Connect(ctx context.Context, dev Device) (Device, error)

	// Disconnect tears down the connection to dev.
	Disconnect(dev Device) error

	// Characteristic looks up a characteristic by service and characteristic UUID.
	Characteristic(ctx context.Context, dev Device, service, characteristic string) (Characteristic, error)

	// RequestMTU negotiates the ATT MTU and returns the granted value.
	RequestMTU(ctx context.Context, dev Device, mtu int) (int, error)

	// Scan streams advertisements until ctx is done, then closes the channel.
	Scan(ctx context.Context) (<-chan Advertisement, error)
}
