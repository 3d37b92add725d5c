// Package simulator provides an in-memory nRF5 peripheral that speaks the
// buttonless DFU service and the Secure DFU bootloader protocol. It
// implements dfu.Transport and is used by tests and examples.
package simulator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/moffa90/go-securedfu/dfu"
	"github.com/moffa90/go-securedfu/protocol"
)

// notificationBuffer bounds queued notifications per characteristic.
const notificationBuffer = 64

// ErrNotConnected is returned when a characteristic is used after disconnect.
var ErrNotConnected = errors.New("simulator: not connected")

// Create records a Create request.
type Create struct {
	Kind protocol.ObjectKind

	// Offset is where the object starts in the payload of its kind
	Offset int64

	Size uint32
}

// Peripheral is a simulated device. It starts in application mode unless
// WithBootloaderMode is given.
//
// Peripheral is safe for concurrent use.
type Peripheral struct {
	mu sync.Mutex

	address        string
	appName        string
	bootloaderName string
	neighbors      []string
	inBootloader   bool
	connected      bool
	generation     int

	mtu          int
	commandMax   uint32
	dataMax      uint32
	enterStatus  protocol.ButtonlessStatus
	nameStatus   protocol.ButtonlessStatus
	receipts     bool
	scanInterval time.Duration

	// command object
	command         []byte
	commandSize     uint32
	commandExecuted bool

	// data objects
	image         []byte
	objectStart   int64
	objectSize    uint32
	objectPending bool
	executed      int64

	selected protocol.ObjectKind
	prn      uint16

	// faults
	corrupt map[int64]int
	drop    map[protocol.OpCode]int
	reject  map[protocol.OpCode][]byte

	// recording
	ops         []protocol.OpCode
	creates     []Create
	packets     []int
	advNames    []string
	disconnects int

	buttonless *characteristic
	control    *characteristic
	packet     *characteristic
}

// Option configures a Peripheral.
type Option func(*Peripheral)

// WithName sets the name advertised in application mode.
func WithName(name string) Option {
	return func(p *Peripheral) {
		p.appName = name
	}
}

// WithAddress sets the device address.
func WithAddress(address string) Option {
	return func(p *Peripheral) {
		p.address = address
	}
}

// WithBootloaderMode starts the device in the bootloader, advertising name.
func WithBootloaderMode(name string) Option {
	return func(p *Peripheral) {
		p.inBootloader = true
		p.bootloaderName = name
	}
}

// WithNeighbors adds other devices to every scan.
func WithNeighbors(names ...string) Option {
	return func(p *Peripheral) {
		p.neighbors = append(p.neighbors, names...)
	}
}

// WithMTU sets the largest MTU the device grants.
func WithMTU(mtu int) Option {
	return func(p *Peripheral) {
		p.mtu = mtu
	}
}

// WithObjectSizes sets the maximum command and data object sizes.
func WithObjectSizes(command, data uint32) Option {
	return func(p *Peripheral) {
		p.commandMax = command
		p.dataMax = data
	}
}

// WithEnterStatus sets the status answered to the enter bootloader command.
// Any status other than success keeps the device in application mode.
func WithEnterStatus(status protocol.ButtonlessStatus) Option {
	return func(p *Peripheral) {
		p.enterStatus = status
	}
}

// WithNameStatus sets the status answered to the set advertising name command.
func WithNameStatus(status protocol.ButtonlessStatus) Option {
	return func(p *Peripheral) {
		p.nameStatus = status
	}
}

// WithReceiptNotifications makes the device notify the checksum of every
// completed data object without being asked.
func WithReceiptNotifications() Option {
	return func(p *Peripheral) {
		p.receipts = true
	}
}

// New creates a simulated peripheral.
func New(opts ...Option) *Peripheral {
	p := &Peripheral{
		address:        "C0:FF:EE:00:00:01",
		appName:        "Nordic_Buttonless",
		bootloaderName: "DfuTarg",
		mtu:            517,
		commandMax:     512,
		dataMax:        4096,
		enterStatus:    protocol.ButtonlessSuccess,
		nameStatus:     protocol.ButtonlessSuccess,
		scanInterval:   5 * time.Millisecond,
		corrupt:        make(map[int64]int),
		drop:           make(map[protocol.OpCode]int),
		reject:         make(map[protocol.OpCode][]byte),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buttonless = newCharacteristic(p, protocol.ButtonlessUUID)
	p.control = newCharacteristic(p, protocol.ControlPointUUID)
	p.packet = newCharacteristic(p, protocol.PacketUUID)
	return p
}

var _ dfu.Transport = (*Peripheral)(nil)

// Handle is a device handle returned by scans and Connect.
type Handle struct {
	name       string
	address    string
	generation int
}

func (h *Handle) Name() string { return h.name }
func (h *Handle) Address() string { return h.address }

// Device returns a handle to the device as it currently advertises.
func (p *Peripheral) Device() dfu.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleLocked()
}

func (p *Peripheral) handleLocked() *Handle {
	return &Handle{name: p.advertisedNameLocked(), address: p.address, generation: p.generation}
}

func (p *Peripheral) advertisedNameLocked() string {
	if p.inBootloader {
		return p.bootloaderName
	}
	return p.appName
}

// Connect implements dfu.Transport.
func (p *Peripheral) Connect(ctx context.Context, dev dfu.Device) (dfu.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := dev.(*Handle)
	if !ok {
		return nil, fmt.Errorf("simulator: unknown device %T", dev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h.address != p.address {
		return nil, fmt.Errorf("simulator: no device at %s", h.address)
	}
	p.connected = true
	return p.handleLocked(), nil
}

// Disconnect implements dfu.Transport.
func (p *Peripheral) Disconnect(dev dfu.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.disconnects++
	return nil
}

// Characteristic implements dfu.Transport.
func (p *Peripheral) Characteristic(ctx context.Context, dev dfu.Device, service, uuid string) (dfu.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, ErrNotConnected
	}
	if !strings.EqualFold(service, protocol.ServiceUUID) {
		return nil, fmt.Errorf("simulator: service %s not found", service)
	}

	switch {
	case !p.inBootloader && strings.EqualFold(uuid, protocol.ButtonlessUUID):
		return p.buttonless, nil
	case p.inBootloader && strings.EqualFold(uuid, protocol.ControlPointUUID):
		return p.control, nil
	case p.inBootloader && strings.EqualFold(uuid, protocol.PacketUUID):
		return p.packet, nil
	}
	return nil, fmt.Errorf("simulator: characteristic %s not found", uuid)
}

// RequestMTU implements dfu.Transport.
func (p *Peripheral) RequestMTU(ctx context.Context, dev dfu.Device, mtu int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return 0, ErrNotConnected
	}
	return min(mtu, p.mtu), nil
}

// Scan implements dfu.Transport. Advertisements repeat until ctx is done.
func (p *Peripheral) Scan(ctx context.Context) (<-chan dfu.Advertisement, error) {
	out := make(chan dfu.Advertisement)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.scanInterval)
		defer ticker.Stop()
		for {
			for _, ad := range p.advertisements() {
				select {
				case out <- ad:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Peripheral) advertisements() []dfu.Advertisement {
	p.mu.Lock()
	defer p.mu.Unlock()

	ads := make([]dfu.Advertisement, 0, len(p.neighbors)+1)
	for i, name := range p.neighbors {
		ads = append(ads, dfu.Advertisement{
			LocalName: name,
			Device:    &Handle{name: name, address: fmt.Sprintf("C0:FF:EE:00:01:%02X", i)},
		})
	}
	h := p.handleLocked()
	return append(ads, dfu.Advertisement{LocalName: h.name, Device: h})
}

// CorruptData flips a bit of the firmware byte at offset the next times it is received.
func (p *Peripheral) CorruptData(offset int64, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.corrupt[offset] = times
}

// DropResponses swallows the next n responses to op.
func (p *Peripheral) DropResponses(op protocol.OpCode, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop[op] = n
}

// RejectNext answers the next op with result instead of executing it.
func (p *Peripheral) RejectNext(op protocol.OpCode, result protocol.ResultCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject[op] = status(op, result)
}

// RejectNextExtended answers the next op with an extended error.
func (p *Peripheral) RejectNextExtended(op protocol.OpCode, code protocol.ExtendedErrorCode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject[op] = append(status(op, protocol.ResultExtendedError), byte(code))
}

// PreloadInit stores the first received bytes of init as if a previous
// session sent them.
func (p *Peripheral) PreloadInit(init []byte, received int, executed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.command = append([]byte(nil), init[:received]...)
	p.commandSize = uint32(len(init))
	p.commandExecuted = executed
}

// PreloadFirmware stores firmware bytes as if a previous session sent them.
// Bytes before executed belong to executed objects; the rest belong to a
// pending object of objectSize bytes.
func (p *Peripheral) PreloadFirmware(data []byte, executed int64, objectSize uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.image = append([]byte(nil), data...)
	p.executed = executed
	p.objectStart = executed
	p.objectSize = objectSize
	p.objectPending = int64(len(data)) > executed
}

// InBootloader reports whether the device runs the bootloader.
func (p *Peripheral) InBootloader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inBootloader
}

// AdvertisingName returns the name the device advertises.
func (p *Peripheral) AdvertisingName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertisedNameLocked()
}

// RequestedNames returns the names received by set advertising name.
func (p *Peripheral) RequestedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.advNames...)
}

// InitPacket returns the executed init packet, or nil.
func (p *Peripheral) InitPacket() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.commandExecuted {
		return nil
	}
	return append([]byte(nil), p.command...)
}

// Firmware returns the executed firmware bytes.
func (p *Peripheral) Firmware() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.image[:p.executed]...)
}

// Ops returns the control point opcodes received, in order.
func (p *Peripheral) Ops() []protocol.OpCode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.OpCode(nil), p.ops...)
}

// Creates returns the Create requests received, in order.
func (p *Peripheral) Creates() []Create {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Create(nil), p.creates...)
}

// PacketSizes returns the length of every packet write, in order.
func (p *Peripheral) PacketSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.packets...)
}

// Disconnects returns the number of Disconnect calls.
func (p *Peripheral) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

// handleButtonless processes a write to the buttonless characteristic.
func (p *Peripheral) handleButtonless(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame) == 0 {
		return
	}
	op := protocol.ButtonlessOpCode(frame[0])
	status := protocol.ButtonlessSuccess

	switch op {
	case protocol.ButtonlessOpSetAdvName:
		if len(frame) < 2 || int(frame[1]) != len(frame)-2 || len(frame)-2 > protocol.MaxAdvertisingNameLength {
			status = protocol.ButtonlessAdvNameInvalid
			break
		}
		status = p.nameStatus
		if status == protocol.ButtonlessSuccess {
			name := string(frame[2:])
			p.advNames = append(p.advNames, name)
			p.bootloaderName = name
		}

	case protocol.ButtonlessOpEnterBootloader:
		status = p.enterStatus
		if status == protocol.ButtonlessSuccess {
			p.inBootloader = true
			p.generation++
		}

	default:
		status = protocol.ButtonlessOpCodeUnsupported
	}

	p.buttonless.notify([]byte{byte(protocol.ButtonlessOpResponse), byte(op), byte(status)})
}

// handleControl processes a write to the control point.
func (p *Peripheral) handleControl(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(frame) == 0 {
		return
	}
	op := protocol.OpCode(frame[0])
	p.ops = append(p.ops, op)

	if resp, ok := p.reject[op]; ok {
		delete(p.reject, op)
		p.control.notify(resp)
		return
	}

	resp, ok := p.executeLocked(op, frame[1:])
	if !ok {
		return
	}
	if n := p.drop[op]; n > 0 {
		p.drop[op] = n - 1
		return
	}
	p.control.notify(resp)
}

func (p *Peripheral) executeLocked(op protocol.OpCode, params []byte) ([]byte, bool) {
	switch op {
	case protocol.OpSetPRN:
		if len(params) < 2 {
			return status(op, protocol.ResultInvalidParameter), true
		}
		p.prn = binary.LittleEndian.Uint16(params)
		return status(op, protocol.ResultSuccess), true

	case protocol.OpSelect:
		if len(params) < 1 {
			return status(op, protocol.ResultInvalidParameter), true
		}
		kind := protocol.ObjectKind(params[0])
		var maxSize uint32
		var received []byte
		switch kind {
		case protocol.ObjectCommand:
			maxSize, received = p.commandMax, p.command
		case protocol.ObjectData:
			maxSize, received = p.dataMax, p.image
		default:
			return status(op, protocol.ResultUnsupportedType), true
		}
		p.selected = kind
		resp := status(op, protocol.ResultSuccess)
		resp = binary.LittleEndian.AppendUint32(resp, maxSize)
		resp = binary.LittleEndian.AppendUint32(resp, uint32(len(received)))
		resp = binary.LittleEndian.AppendUint32(resp, protocol.Checksum(received))
		return resp, true

	case protocol.OpCreate:
		if len(params) < 5 {
			return status(op, protocol.ResultInvalidParameter), true
		}
		kind := protocol.ObjectKind(params[0])
		size := binary.LittleEndian.Uint32(params[1:])
		switch kind {
		case protocol.ObjectCommand:
			if size > p.commandMax {
				return status(op, protocol.ResultInsufficientResources), true
			}
			p.command = p.command[:0]
			p.commandSize = size
			p.commandExecuted = false
			// A new init packet invalidates the received firmware.
			p.image = p.image[:0]
			p.executed = 0
			p.objectPending = false
			p.creates = append(p.creates, Create{Kind: kind, Offset: 0, Size: size})
		case protocol.ObjectData:
			if !p.commandExecuted {
				return status(op, protocol.ResultOperationNotPermitted), true
			}
			if size > p.dataMax {
				return status(op, protocol.ResultInsufficientResources), true
			}
			p.image = p.image[:p.executed]
			p.objectStart = p.executed
			p.objectSize = size
			p.objectPending = true
			p.creates = append(p.creates, Create{Kind: kind, Offset: p.objectStart, Size: size})
		default:
			return status(op, protocol.ResultUnsupportedType), true
		}
		p.selected = kind
		return status(op, protocol.ResultSuccess), true

	case protocol.OpCRCGet:
		received := p.command
		if p.selected == protocol.ObjectData {
			received = p.image
		}
		resp := status(op, protocol.ResultSuccess)
		resp = binary.LittleEndian.AppendUint32(resp, uint32(len(received)))
		resp = binary.LittleEndian.AppendUint32(resp, protocol.Checksum(received))
		return resp, true

	case protocol.OpExecute:
		switch p.selected {
		case protocol.ObjectCommand:
			if len(p.command) == 0 || uint32(len(p.command)) != p.commandSize {
				return status(op, protocol.ResultOperationNotPermitted), true
			}
			p.commandExecuted = true
		case protocol.ObjectData:
			if !p.objectPending || int64(len(p.image))-p.objectStart != int64(p.objectSize) {
				return status(op, protocol.ResultOperationNotPermitted), true
			}
			p.executed = int64(len(p.image))
			p.objectPending = false
		default:
			return status(op, protocol.ResultInvalidObject), true
		}
		return status(op, protocol.ResultSuccess), true

	case protocol.OpAbort:
		// The bootloader resets without answering.
		return nil, false
	}

	return status(op, protocol.ResultOpCodeNotSupported), true
}

// handlePacket processes a write to the packet characteristic.
func (p *Peripheral) handlePacket(chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.packets = append(p.packets, len(chunk))

	switch p.selected {
	case protocol.ObjectCommand:
		room := int(p.commandSize) - len(p.command)
		p.command = append(p.command, chunk[:min(room, len(chunk))]...)

	case protocol.ObjectData:
		if !p.objectPending {
			return
		}
		room := int(p.objectStart + int64(p.objectSize) - int64(len(p.image)))
		for _, b := range chunk[:min(room, len(chunk))] {
			off := int64(len(p.image))
			if n := p.corrupt[off]; n > 0 {
				p.corrupt[off] = n - 1
				b ^= 0x01
			}
			p.image = append(p.image, b)
		}
		if p.receipts && int64(len(p.image))-p.objectStart == int64(p.objectSize) {
			resp := status(protocol.OpCRCGet, protocol.ResultSuccess)
			resp = binary.LittleEndian.AppendUint32(resp, uint32(len(p.image)))
			resp = binary.LittleEndian.AppendUint32(resp, protocol.Checksum(p.image))
			p.control.notify(resp)
		}
	}
}

func status(op protocol.OpCode, result protocol.ResultCode) []byte {
	return []byte{byte(protocol.OpResponse), byte(op), byte(result)}
}
