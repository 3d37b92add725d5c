package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/moffa90/go-securedfu/dfu"
)

// notificationBuffer is the number of notification payloads held per
// characteristic before new ones are dropped.
const notificationBuffer = 64

var _ dfu.Transport = (*Transport)(nil)

// ErrNotConnected is returned when a characteristic is requested for a
// device that was not returned by Connect.
var ErrNotConnected = errors.New("device not connected")

// Transport runs the updater over a tinygo bluetooth adapter.
type Transport struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	chars map[string]*Characteristic
}

// NewTransport wraps an adapter that has already been enabled.
func NewTransport(adapter *bluetooth.Adapter) *Transport {
	return &Transport{
		adapter: adapter,
		chars:   make(map[string]*Characteristic),
	}
}

// Open enables the default adapter and returns a transport for it.
func Open() (*Transport, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth: %w", err)
	}
	return NewTransport(adapter), nil
}

// Peripheral is a remote device seen in a scan. It is connected once
// returned by Transport.Connect.
type Peripheral struct {
	name    string
	address bluetooth.Address
	device  *bluetooth.Device
}

// NewPeripheral returns a handle for a known address, for callers that
// skip scanning.
func NewPeripheral(name string, address bluetooth.Address) *Peripheral {
	return &Peripheral{name: name, address: address}
}

func (p *Peripheral) Name() string    { return p.name }
func (p *Peripheral) Address() string { return p.address.String() }

// Scan streams advertisements until ctx is done.
func (t *Transport) Scan(ctx context.Context) (<-chan dfu.Advertisement, error) {
	out := make(chan dfu.Advertisement)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			ad := dfu.Advertisement{
				LocalName: result.LocalName(),
				Device:    &Peripheral{name: result.LocalName(), address: result.Address},
			}
			select {
			case out <- ad:
			case <-ctx.Done():
			}
		})
		errCh <- err
	}()

	go func() {
		<-ctx.Done()
		_ = t.adapter.StopScan()
	}()

	// Scan fails immediately when the adapter is busy or powered off.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	case <-time.After(10 * time.Millisecond):
	}
	return out, nil
}

// Connect connects to a peripheral returned by Scan or NewPeripheral.
func (t *Transport) Connect(ctx context.Context, dev dfu.Device) (dfu.Device, error) {
	p, ok := dev.(*Peripheral)
	if !ok {
		return nil, fmt.Errorf("unsupported device type %T", dev)
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		d, err := t.adapter.Connect(p.address, params)
		done <- result{d, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &Peripheral{name: p.name, address: p.address, device: &r.device}, nil
	case <-ctx.Done():
		// The stack has no way to cancel a pending connection.
		go func() {
			if r := <-done; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// Disconnect drops the connection and forgets its characteristics.
func (t *Transport) Disconnect(dev dfu.Device) error {
	p, ok := dev.(*Peripheral)
	if !ok || p.device == nil {
		return ErrNotConnected
	}

	t.mu.Lock()
	prefix := p.Address() + "/"
	for key := range t.chars {
		if strings.HasPrefix(key, prefix) {
			delete(t.chars, key)
		}
	}
	t.mu.Unlock()

	return p.device.Disconnect()
}

// Characteristic discovers a characteristic of a connected peripheral.
func (t *Transport) Characteristic(ctx context.Context, dev dfu.Device, service, characteristic string) (dfu.Characteristic, error) {
	p, ok := dev.(*Peripheral)
	if !ok || p.device == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := p.Address() + "/" + strings.ToUpper(service) + "/" + strings.ToUpper(characteristic)
	t.mu.Lock()
	c, ok := t.chars[key]
	t.mu.Unlock()
	if ok {
		return c, nil
	}

	var char bluetooth.DeviceCharacteristic
	err := withContext(ctx, func() error {
		var derr error
		char, derr = discover(p.device, service, characteristic)
		return derr
	})
	if err != nil {
		return nil, err
	}

	c = &Characteristic{
		char:          char,
		notifications: make(chan []byte, notificationBuffer),
	}
	t.mu.Lock()
	t.chars[key] = c
	t.mu.Unlock()
	return c, nil
}

// RequestMTU reports the MTU negotiated by the host stack. BlueZ and
// CoreBluetooth exchange the MTU on connection, so mtu only caps the result.
func (t *Transport) RequestMTU(ctx context.Context, dev dfu.Device, mtu int) (int, error) {
	p, ok := dev.(*Peripheral)
	if !ok || p.device == nil {
		return 0, ErrNotConnected
	}

	services, err := p.device.DiscoverServices(nil)
	if err != nil {
		return 0, fmt.Errorf("discover services: %w", err)
	}
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil || len(chars) == 0 {
			continue
		}
		granted, err := chars[0].GetMTU()
		if err != nil {
			return 0, fmt.Errorf("get mtu: %w", err)
		}
		return min(int(granted), mtu), nil
	}
	return 0, errors.New("no characteristic to read the MTU from")
}

func discover(device *bluetooth.Device, service, characteristic string) (bluetooth.DeviceCharacteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service uuid %q: %w", service, err)
	}
	charUUID, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic uuid %q: %w", characteristic, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover service %s: %w", service, err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %s not found", service)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristic %s: %w", characteristic, err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", characteristic)
	}
	return chars[0], nil
}
