package dfu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moffa90/go-securedfu/protocol"
)

// session is the state of one Update or Transfer run. It is used by a
// single goroutine.
type session struct {
	id        string
	transport Transport
	cfg       Config
	observer  Observer
	logger    Logger
	started   time.Time

	control *commandChannel
	chunker *chunker
	crc     protocol.CRC32

	// mismatches at the same data object start
	retryOffset int64
	retryCount  int

	firstCreate bool
}

func (u *Updater) newSession() *session {
	s := &session{
		id:          uuid.NewString(),
		transport:   u.transport,
		cfg:         u.config,
		observer:    u.observer,
		started:     time.Now(),
		retryOffset: -1,
		firstCreate: true,
	}
	if u.config.Logger != nil {
		s.logger = sessionLogger{Logger: u.config.Logger, id: s.id}
	}
	return s
}

// sessionLogger tags every record with the session id.
type sessionLogger struct {
	Logger
	id string
}

func (l sessionLogger) tag(keysAndValues []interface{}) []interface{} {
	return append([]interface{}{"session", l.id}, keysAndValues...)
}

func (l sessionLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, l.tag(keysAndValues)...)
}

func (l sessionLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info(msg, l.tag(keysAndValues)...)
}

func (l sessionLogger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, l.tag(keysAndValues)...)
}

// request encodes req, sends it on the control point and asserts a
// successful response.
func (s *session) request(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	payload, err := protocol.Encode(req)
	if err != nil {
		return nil, err
	}

	s.logDebug("sending request", "op", req.OpCode().String(), "frame", fmt.Sprintf("% X", payload))

	frame, err := s.control.request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.OpCode(), err)
	}

	s.logDebug("received response", "op", req.OpCode().String(), "frame", fmt.Sprintf("% X", frame))

	return protocol.AssertSuccess(frame, req.OpCode())
}

// selectObject selects the last object of kind and reports its state.
func (s *session) selectObject(ctx context.Context, kind protocol.ObjectKind) (*protocol.ObjectInfo, error) {
	resp, err := s.request(ctx, protocol.SelectRequest{Kind: kind})
	if err != nil {
		return nil, err
	}
	info, err := resp.ObjectInfo()
	if err != nil {
		return nil, err
	}

	s.logDebug("object selected",
		"kind", kind.String(),
		"max_size", info.MaxSize,
		"offset", info.Offset,
		"crc32", fmt.Sprintf("0x%08X", info.CRC32),
	)
	return info, nil
}

func (s *session) createObject(ctx context.Context, kind protocol.ObjectKind, size uint32) error {
	s.logDebug("creating object", "kind", kind.String(), "size", size)
	_, err := s.request(ctx, protocol.CreateRequest{Kind: kind, Size: size})
	return err
}

func (s *session) setPRN(ctx context.Context, value uint16) error {
	_, err := s.request(ctx, protocol.SetPRNRequest{Value: value})
	return err
}

func (s *session) executeObject(ctx context.Context) error {
	_, err := s.request(ctx, protocol.ExecuteRequest{})
	return err
}

// readChecksum requests the CRC of the selected object. Transport failures
// and timeouts are retried; a non-success status is returned at once.
// offset is the local offset, used for reporting.
func (s *session) readChecksum(ctx context.Context, offset int64) (*protocol.ObjectChecksum, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		resp, err := s.request(ctx, protocol.CRCGetRequest{})
		if err == nil {
			return resp.Checksum()
		}

		var perr *protocol.ProtocolError
		if errors.As(err, &perr) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		s.logError("checksum request failed", "attempt", attempt, "error", err)

		if attempt < s.cfg.Retries {
			if err := sleep(ctx, s.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &RetriesExhaustedError{
		Operation: "checksum request",
		Offset:    offset,
		Attempts:  s.cfg.Retries,
		Err:       lastErr,
	}
}

// characteristic looks up a characteristic of the DFU service within the
// operation timeout.
func (s *session) characteristic(ctx context.Context, conn Device, uuid string) (Characteristic, error) {
	lookupCtx, cancel := withTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	char, err := s.transport.Characteristic(lookupCtx, conn, protocol.ServiceUUID, uuid)
	if err != nil {
		return nil, timeoutError(ctx, lookupCtx, err)
	}
	return char, nil
}

// abort asks the bootloader to drop the procedure. Failures are ignored.
func (s *session) abort(ctx context.Context) {
	if s.control == nil {
		return
	}
	payload, _ := protocol.Encode(protocol.AbortRequest{})
	if err := s.control.send(ctx, payload); err != nil {
		s.logDebug("abort failed", "error", err)
	}
}

// reportProgress calls the progress callback and the observer.
func (s *session) reportProgress(phase string, offset, total int64) {
	p := Progress{
		Phase:       phase,
		Offset:      offset,
		Total:       total,
		ElapsedTime: time.Since(s.started),
	}
	if total > 0 {
		p.Fraction = float64(offset) / float64(total)
	}

	if s.cfg.ProgressCallback != nil {
		s.cfg.ProgressCallback(p)
	}
	s.observer.OnProgress(p)
}

// logMessage delivers a milestone to the observer and the logger.
func (s *session) logMessage(msg string) {
	s.observer.OnLogMessage(msg)
	s.logInfo(msg)
}

func (s *session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

func (s *session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *session) logError(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
