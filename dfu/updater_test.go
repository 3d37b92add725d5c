package dfu_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-securedfu/dfu"
	"github.com/moffa90/go-securedfu/internal/simulator"
	"github.com/moffa90/go-securedfu/protocol"
)

const dfuName = "DFU_120000"

// recordingObserver records every event it receives.
type recordingObserver struct {
	mu        sync.Mutex
	successes []time.Duration
	errs      []error
	progress  []dfu.Progress
	extended  []protocol.ExtendedErrorCode
	responses []protocol.ResultCode
	messages  []string
}

func (o *recordingObserver) OnSuccess(elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes = append(o.successes, elapsed)
}

func (o *recordingObserver) OnProgress(p dfu.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, p)
}

func (o *recordingObserver) OnError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) OnExtendedError(code protocol.ExtendedErrorCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extended = append(o.extended, code)
}

func (o *recordingObserver) OnResponseError(code protocol.ResultCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, code)
}

func (o *recordingObserver) OnLogMessage(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func testOptions(observer dfu.Observer, extra ...dfu.Option) []dfu.Option {
	opts := []dfu.Option{
		dfu.WithObserver(observer),
		dfu.WithTimeout(100 * time.Millisecond),
		dfu.WithDiscoveryTimeout(500 * time.Millisecond),
		dfu.WithSettleDelay(0),
		dfu.WithPacketDelay(0),
		dfu.WithRetryDelay(time.Millisecond),
		dfu.WithMismatchDelay(0),
		dfu.WithCreateDelay(0),
		dfu.WithAdvertisingName(dfuName),
	}
	return append(opts, extra...)
}

func testPayload(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*13) ^ seed
	}
	return p
}

func dataCreates(sim *simulator.Peripheral) []int64 {
	var offsets []int64
	for _, c := range sim.Creates() {
		if c.Kind == protocol.ObjectData {
			offsets = append(offsets, c.Offset)
		}
	}
	return offsets
}

func countOps(sim *simulator.Peripheral, op protocol.OpCode) int {
	n := 0
	for _, o := range sim.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

func TestUpdate(t *testing.T) {
	sim := simulator.New(simulator.WithObjectSizes(512, 64))
	init := testPayload(40, 0x11)
	image := testPayload(300, 0x22)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Update(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image))
	require.NoError(t, err)

	assert.True(t, sim.InBootloader())
	assert.Equal(t, []string{dfuName}, sim.RequestedNames())
	assert.Equal(t, init, sim.InitPacket())
	assert.Equal(t, image, sim.Firmware())

	assert.Equal(t, []int64{0, 64, 128, 192, 256}, dataCreates(sim))
	creates := sim.Creates()
	require.NotEmpty(t, creates)
	assert.Equal(t, simulator.Create{Kind: protocol.ObjectCommand, Offset: 0, Size: 40}, creates[0])
	assert.Equal(t, uint32(44), creates[len(creates)-1].Size)

	assert.Len(t, observer.successes, 1)
	assert.Empty(t, observer.errs)
	require.NotEmpty(t, observer.progress)
	last := observer.progress[len(observer.progress)-1]
	assert.Equal(t, dfu.PhaseComplete, last.Phase)
	assert.Equal(t, 1.0, last.Fraction)
	assert.Contains(t, observer.messages, "Enter DFU mode")
	assert.Contains(t, observer.messages, "Transfer of an init packet")
	assert.Contains(t, observer.messages, "Device found: "+dfuName)
}

func TestUpdateTruncatesAdvertisingName(t *testing.T) {
	const requested = "DFU_120000ab_extra_long_suffix"
	const truncated = "DFU_120000ab_extra_l"

	// A neighbor advertising the untruncated name must not be picked.
	sim := simulator.New(simulator.WithNeighbors(requested, "Other"))
	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer, dfu.WithAdvertisingName(requested))...)

	err := u.Update(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(32, 1)), bytes.NewReader(testPayload(100, 2)))
	require.NoError(t, err)

	assert.Equal(t, []string{truncated}, sim.RequestedNames())
	assert.Equal(t, truncated, sim.AdvertisingName())
}

func TestUpdateEnterBootloaderRejected(t *testing.T) {
	sim := simulator.New(simulator.WithEnterStatus(protocol.ButtonlessBusy))
	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Update(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(32, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)

	var berr *protocol.ButtonlessError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, protocol.ButtonlessBusy, berr.Status)
	assert.Equal(t, protocol.ButtonlessOpEnterBootloader, berr.Operation)

	assert.False(t, sim.InBootloader())
	assert.Equal(t, 1, sim.Disconnects())
	assert.Len(t, observer.errs, 1)
	assert.Empty(t, observer.successes)
}

func TestUpdateSetNameRejected(t *testing.T) {
	sim := simulator.New(simulator.WithNameStatus(protocol.ButtonlessOperationFailed))
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

	err := u.Update(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(32, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set advertising name")
	assert.False(t, sim.InBootloader())
	assert.Equal(t, 1, sim.Disconnects())
}

func TestUpdateNoPayload(t *testing.T) {
	sim := simulator.New()
	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Update(context.Background(), sim.Device(), nil, bytes.NewReader(testPayload(10, 0)))
	assert.ErrorIs(t, err, dfu.ErrNoPayload)
	assert.Len(t, observer.errs, 1)
	assert.False(t, sim.InBootloader())
}

// silentScan hides every advertisement.
type silentScan struct {
	*simulator.Peripheral
}

func (s silentScan) Scan(ctx context.Context) (<-chan dfu.Advertisement, error) {
	out := make(chan dfu.Advertisement)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func TestUpdateDiscoveryTimeout(t *testing.T) {
	sim := simulator.New()
	observer := &recordingObserver{}
	u := dfu.New(silentScan{sim}, testOptions(observer, dfu.WithDiscoveryTimeout(30*time.Millisecond))...)

	err := u.Update(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(32, 1)), bytes.NewReader(testPayload(100, 2)))
	assert.ErrorIs(t, err, dfu.ErrTimeout)
	assert.True(t, sim.InBootloader())
	assert.Len(t, observer.errs, 1)
}

func TestDiscover(t *testing.T) {
	sim := simulator.New(
		simulator.WithBootloaderMode(dfuName),
		simulator.WithNeighbors("DFU_1200", "DFU_1200000"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	dev, err := dfu.Discover(ctx, sim, dfuName)
	require.NoError(t, err)
	assert.Equal(t, dfuName, dev.Name())
	assert.Equal(t, sim.Device().Address(), dev.Address())
}

func TestDiscoverTimeout(t *testing.T) {
	sim := simulator.New(simulator.WithNeighbors("Other"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := dfu.Discover(ctx, sim, dfuName)
	assert.ErrorIs(t, err, dfu.ErrTimeout)
}

func TestTransferMTU(t *testing.T) {
	tests := []struct {
		name     string
		granted  int
		options  []dfu.Option
		maxChunk int
	}{
		{"clamped to protocol maximum", 517, nil, protocol.MaximumMTU - protocol.ReservedHeaderBytes},
		{"device grants less", 100, nil, 97},
		{"requested less", 517, []dfu.Option{dfu.WithMTU(50)}, 47},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simulator.New(
				simulator.WithBootloaderMode(dfuName),
				simulator.WithMTU(tt.granted),
				simulator.WithObjectSizes(512, 4096),
			)
			u := dfu.New(sim, testOptions(dfu.NopObserver{}, tt.options...)...)

			image := testPayload(2000, 3)
			err := u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(image))
			require.NoError(t, err)

			sizes := sim.PacketSizes()
			require.NotEmpty(t, sizes)
			assert.Equal(t, tt.maxChunk, sizes[len(sizes)-2])
			for _, n := range sizes {
				assert.LessOrEqual(t, n, tt.maxChunk)
			}
			assert.Equal(t, image, sim.Firmware())
		})
	}
}

func TestTransferResumeInit(t *testing.T) {
	init := testPayload(40, 1)
	image := testPayload(100, 2)

	t.Run("fully transferred skips transfer", func(t *testing.T) {
		sim := simulator.New(simulator.WithBootloaderMode(dfuName))
		sim.PreloadInit(init, len(init), false)
		u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

		require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image)))

		ops := sim.Ops()
		require.GreaterOrEqual(t, len(ops), 2)
		assert.Equal(t, []protocol.OpCode{protocol.OpSelect, protocol.OpExecute}, ops[:2])
		for _, c := range sim.Creates() {
			assert.NotEqual(t, protocol.ObjectCommand, c.Kind)
		}
		assert.Equal(t, init, sim.InitPacket())
		assert.Equal(t, image, sim.Firmware())
	})

	t.Run("matching prefix resumes", func(t *testing.T) {
		sim := simulator.New(simulator.WithBootloaderMode(dfuName))
		sim.PreloadInit(init, 25, false)
		u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

		require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image)))

		for _, c := range sim.Creates() {
			assert.NotEqual(t, protocol.ObjectCommand, c.Kind)
		}
		sizes := sim.PacketSizes()
		require.NotEmpty(t, sizes)
		assert.Equal(t, 15, sizes[0])
		assert.Equal(t, init, sim.InitPacket())
	})

	t.Run("mismatching prefix starts over", func(t *testing.T) {
		sim := simulator.New(simulator.WithBootloaderMode(dfuName))
		stale := append([]byte(nil), init...)
		stale[3] ^= 0xFF
		sim.PreloadInit(stale, len(stale), false)
		u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

		require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image)))

		creates := sim.Creates()
		require.NotEmpty(t, creates)
		assert.Equal(t, simulator.Create{Kind: protocol.ObjectCommand, Size: 40}, creates[0])
		assert.Equal(t, init, sim.InitPacket())
	})
}

func TestTransferInitTooLarge(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(16, 64))
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

	err := u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds the command object maximum")
	assert.Empty(t, sim.Creates())
}

func TestTransferResumeFirmware(t *testing.T) {
	init := testPayload(40, 1)
	image := testPayload(300, 2)

	tests := []struct {
		name        string
		received    int
		executed    int64
		objectSize  uint32
		wantCreates []int64
	}{
		{"inside an object", 100, 64, 64, []int64{128, 192, 256}},
		{"complete object not executed", 128, 64, 64, []int64{128, 192, 256}},
		{"complete object executed", 128, 128, 0, []int64{128, 192, 256}},
		{"whole image not executed", 300, 256, 44, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))
			sim.PreloadInit(init, len(init), true)
			sim.PreloadFirmware(image[:tt.received], tt.executed, tt.objectSize)

			observer := &recordingObserver{}
			u := dfu.New(sim, testOptions(observer)...)

			err := u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image))
			require.NoError(t, err)

			assert.Equal(t, tt.wantCreates, dataCreates(sim))
			assert.Equal(t, image, sim.Firmware())
			assert.Len(t, observer.successes, 1)
		})
	}
}

func TestTransferResumeFirmwareMismatch(t *testing.T) {
	init := testPayload(40, 1)
	image := testPayload(300, 2)

	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))
	sim.PreloadInit(init, len(init), true)
	sim.PreloadFirmware(testPayload(40, 9), 0, 64)

	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)
	require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(image)))

	assert.Equal(t, []int64{0, 64, 128, 192, 256}, dataCreates(sim))
	assert.Equal(t, image, sim.Firmware())
}

func TestTransferChecksumMismatchRecreatesObject(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))
	sim.CorruptData(130, 2)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	image := testPayload(300, 2)
	err := u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(image))
	require.NoError(t, err)

	// Recreated at the object start, never at the failing offset.
	assert.Equal(t, []int64{0, 64, 128, 128, 128, 192, 256}, dataCreates(sim))
	assert.Equal(t, image, sim.Firmware())
	assert.Len(t, observer.successes, 1)
}

func TestTransferRetriesExhausted(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))
	sim.CorruptData(130, 100)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Transfer(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(300, 2)))
	require.Error(t, err)

	var rerr *dfu.RetriesExhaustedError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, int64(128), rerr.Offset)
	assert.Equal(t, protocol.MaxRetries, rerr.Attempts)

	var mismatch *dfu.ChecksumMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, protocol.ObjectData, mismatch.Kind)

	assert.Equal(t, []int64{0, 64, 128, 128, 128}, dataCreates(sim))
	ops := sim.Ops()
	assert.Equal(t, protocol.OpAbort, ops[len(ops)-1])

	assert.Len(t, observer.errs, 1)
	assert.Empty(t, observer.successes)
	assert.GreaterOrEqual(t, sim.Disconnects(), 1)
}

func TestTransferInitRetriesExhausted(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName))
	// Every attempt loses the single init packet write.
	sim.FailPacketWrites(protocol.MaxRetries)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Transfer(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)

	var rerr *dfu.RetriesExhaustedError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, protocol.MaxRetries, rerr.Attempts)

	var mismatch *dfu.ChecksumMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, protocol.ObjectCommand, mismatch.Kind)

	var commandCreates int
	for _, c := range sim.Creates() {
		if c.Kind == protocol.ObjectCommand {
			commandCreates++
		}
	}
	assert.Equal(t, protocol.MaxRetries, commandCreates)
	assert.Empty(t, dataCreates(sim))
	assert.Zero(t, countOps(sim, protocol.OpExecute))

	ops := sim.Ops()
	assert.Equal(t, protocol.OpAbort, ops[len(ops)-1])
	assert.Len(t, observer.errs, 1)
	assert.Empty(t, observer.successes)
}

func TestTransferAbortsAfterCancel(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer, dfu.WithProgressCallback(func(p dfu.Progress) {
		if p.Phase == dfu.PhaseFirmware && p.Offset > 0 {
			cancel()
		}
	}))...)

	err := u.Transfer(ctx, sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(300, 2)))
	assert.ErrorIs(t, err, context.Canceled)

	// The abort goes out even though the caller's context is done.
	ops := sim.Ops()
	assert.Equal(t, protocol.OpAbort, ops[len(ops)-1])
	assert.Len(t, observer.errs, 1)
}

func TestTransferChecksumRequestRetried(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64))
	sim.DropResponses(protocol.OpCRCGet, protocol.MaxRetries-1)

	image := testPayload(100, 2)
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)
	require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(image)))
	assert.Equal(t, image, sim.Firmware())
}

func TestTransferChecksumRequestTimeout(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName))
	sim.DropResponses(protocol.OpCRCGet, protocol.MaxRetries)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Transfer(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, dfu.ErrTimeout)

	var rerr *dfu.RetriesExhaustedError
	assert.True(t, errors.As(err, &rerr))
	assert.Equal(t, protocol.MaxRetries, countOps(sim, protocol.OpCRCGet))
	assert.Len(t, observer.errs, 1)
}

func TestTransferPacketWriteFailure(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName))
	sim.FailPacketWrites(1)

	init := testPayload(40, 1)
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)
	require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(testPayload(100, 2))))

	var commandCreates int
	for _, c := range sim.Creates() {
		if c.Kind == protocol.ObjectCommand {
			commandCreates++
		}
	}
	assert.Equal(t, 2, commandCreates)
	assert.Equal(t, init, sim.InitPacket())
}

func TestTransferExtendedError(t *testing.T) {
	init := testPayload(40, 1)
	sim := simulator.New(simulator.WithBootloaderMode(dfuName))
	sim.PreloadInit(init, len(init), true)
	sim.RejectNextExtended(protocol.OpCreate, protocol.ExtInsufficientSpace)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Transfer(context.Background(), sim.Device(), bytes.NewReader(init), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)

	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, protocol.OpCreate, perr.Operation)
	assert.Equal(t, []protocol.ExtendedErrorCode{protocol.ExtInsufficientSpace}, observer.extended)
	assert.Empty(t, observer.responses)
	assert.Len(t, observer.errs, 1)
}

func TestTransferResponseError(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName))
	sim.RejectNext(protocol.OpSelect, protocol.ResultInvalidObject)

	observer := &recordingObserver{}
	u := dfu.New(sim, testOptions(observer)...)

	err := u.Transfer(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(100, 2)))
	require.Error(t, err)
	assert.True(t, protocol.IsProtocolError(err))
	assert.Equal(t, []protocol.ResultCode{protocol.ResultInvalidObject}, observer.responses)
	assert.Empty(t, observer.extended)
}

func TestTransferReceiptNotifications(t *testing.T) {
	sim := simulator.New(
		simulator.WithBootloaderMode(dfuName),
		simulator.WithObjectSizes(512, 64),
		simulator.WithReceiptNotifications(),
	)

	image := testPayload(300, 2)
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)
	require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(image)))

	// Receipts race the checksum request, so only the bound is fixed.
	assert.LessOrEqual(t, countOps(sim, protocol.OpCRCGet), 1+len(dataCreates(sim)))
	assert.Equal(t, image, sim.Firmware())
}

func TestTransferReceiptNotificationsRecreate(t *testing.T) {
	sim := simulator.New(
		simulator.WithBootloaderMode(dfuName),
		simulator.WithObjectSizes(512, 64),
		simulator.WithReceiptNotifications(),
	)
	sim.CorruptData(70, 1)

	image := testPayload(300, 2)
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)
	require.NoError(t, u.Transfer(context.Background(), sim.Device(), bytes.NewReader(testPayload(40, 1)), bytes.NewReader(image)))

	assert.Equal(t, []int64{0, 64, 64, 128, 192, 256}, dataCreates(sim))
	assert.Equal(t, image, sim.Firmware())
}

func TestTransferProgress(t *testing.T) {
	sim := simulator.New(simulator.WithBootloaderMode(dfuName), simulator.WithObjectSizes(512, 64), simulator.WithMTU(23))

	var mu sync.Mutex
	var firmware []dfu.Progress
	u := dfu.New(sim, testOptions(dfu.NopObserver{}, dfu.WithProgressCallback(func(p dfu.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Phase == dfu.PhaseFirmware {
			firmware = append(firmware, p)
		}
	}))...)

	require.NoError(t, u.Transfer(context.Background(), sim.Device(),
		bytes.NewReader(testPayload(40, 1)), bytes.NewReader(testPayload(100, 2))))

	require.NotEmpty(t, firmware)
	assert.Zero(t, firmware[0].Offset)
	for i := 1; i < len(firmware); i++ {
		assert.Greater(t, firmware[i].Offset, firmware[i-1].Offset)
		assert.Equal(t, int64(100), firmware[i].Total)
	}
	assert.Equal(t, 1.0, firmware[len(firmware)-1].Fraction)
}

func TestEnterDFUMode(t *testing.T) {
	sim := simulator.New()
	u := dfu.New(sim, testOptions(dfu.NopObserver{})...)

	before := sim.Device()
	dev, err := u.EnterDFUMode(context.Background(), before)
	require.NoError(t, err)

	assert.Equal(t, dfuName, dev.Name())
	assert.NotSame(t, before, dev)
	assert.True(t, sim.InBootloader())
}

func TestNewPanicsWithoutTransport(t *testing.T) {
	assert.Panics(t, func() {
		dfu.New(nil)
	})
}
