package dfu

import (
	"time"

	"github.com/moffa90/go-securedfu/protocol"
)

// Phase names reported in Progress.
const (
	PhaseEntering    = "entering"
	PhaseDiscovering = "discovering"
	PhaseConnecting  = "connecting"
	PhaseInitPacket  = "init"
	PhaseFirmware    = "firmware"
	PhaseComplete    = "complete"
)

// Progress contains information about the update progress.
// Passed to ProgressCallback and Observer.OnProgress.
type Progress struct {
	// Phase describes the current operation phase:
	//   "entering"    - Switching the application into DFU mode
	//   "discovering" - Scanning for the renamed bootloader
	//   "connecting"  - Connecting to the bootloader and negotiating the MTU
	//   "init"        - Transferring the init packet
	//   "firmware"    - Transferring the firmware image
	//   "complete"    - Update finished successfully
	Phase string

	// Offset is the number of firmware bytes sent so far
	Offset int64

	// Total is the firmware image size
	Total int64

	// Fraction is Offset/Total (0.0 to 1.0)
	Fraction float64

	// ElapsedTime is the time elapsed since the update started
	ElapsedTime time.Duration
}

// ProgressCallback is called during the update to report progress.
// Implementations should return quickly to avoid stalling the transfer.
//
// Example:
//
//	u := dfu.New(transport,
//	    dfu.WithProgressCallback(func(p dfu.Progress) {
//	        fmt.Printf("[%s] %.1f%%\n", p.Phase, p.Fraction*100)
//	    }),
//	)
type ProgressCallback func(Progress)

// Observer receives the events of an update. It is attached when the
// Updater is created; each Update or Transfer ends with exactly one of
// OnSuccess or OnError.
type Observer interface {
	// OnSuccess is called once the firmware has been transferred and executed
	OnSuccess(elapsed time.Duration)

	// OnProgress is called after every firmware chunk
	OnProgress(p Progress)

	// OnError is called with the error that aborted the update
	OnError(err error)

	// OnExtendedError is called when the bootloader reports an extended error
	OnExtendedError(code protocol.ExtendedErrorCode)

	// OnResponseError is called when the bootloader reports a non-success status
	OnResponseError(code protocol.ResultCode)

	// OnLogMessage receives human-readable milestones
	OnLogMessage(msg string)
}

// NopObserver implements Observer with no-op methods. Embed it to
// implement only the events you need.
type NopObserver struct{}

func (NopObserver) OnSuccess(time.Duration) {}
func (NopObserver) OnProgress(Progress) {}
func (NopObserver) OnError(error) {}
func (NopObserver) OnExtendedError(protocol.ExtendedErrorCode) {}
func (NopObserver) OnResponseError(protocol.ResultCode) {}
func (NopObserver) OnLogMessage(string) {}

// Logger is an optional logging interface that can be provided to the updater.
// *slog.Logger satisfies it.
//
// Example with log/slog:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
//	u := dfu.New(transport, dfu.WithLogger(logger))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
