// ============================================================================
// Package ingest - Socket Server and Frame Protocol
// ============================================================================
//
// Package: internal/ingest
// Purpose: The Listener/Supervisor and Session halves of the pipeline,
// spec.md §4.4/§4.5: accept connections up to a concurrency cap, parse the
// length-prefixed frame protocol, validate and enqueue records, and
// coordinate graceful shutdown with the Writer.
//
// The accept loop and signal-driven graceful shutdown are grounded on the
// gravix-dashboards ingestion service's main(): a shutdown channel fed by
// signal.Notify, a goroutine that triggers a bounded drain, and the
// listener unblocking once the drain completes. Per-connection handling
// follows the teacher's cli.go convention of a context-cancellable run
// loop with zerolog structured logging at each lifecycle event.
// ============================================================================

package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
	"github.com/ChuLiYu/logd/internal/validator"
)

// Sentinel errors for the frame protocol, spec.md §7's client-attributable
// taxonomy item BadFraming.
var (
	ErrBadFraming     = errors.New("bad framing")
	ErrOverlargeFrame = errors.New("frame exceeds max_frame_bytes")
)

const maxFrameLengthBytes = 4

// Session is one logical conversation with one accepted connection. It owns
// the connection for its entire lifetime and is a fault boundary: a panic or
// error in one Session never affects another, per spec.md §7.
type Session struct {
	id            string
	conn          net.Conn
	reader        *bufio.Reader
	maxFrameBytes int
	validator     *validator.Validator
	queue         *queue.Bounded[record.Record]
	metrics       *metrics.Collector
	log           zerolog.Logger
}

// NewSession constructs a Session bound to an accepted connection.
func NewSession(conn net.Conn, maxFrameBytes int, v *validator.Validator, q *queue.Bounded[record.Record], m *metrics.Collector, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:            id,
		conn:          conn,
		reader:        bufio.NewReader(conn),
		maxFrameBytes: maxFrameBytes,
		validator:     v,
		queue:         q,
		metrics:       m,
		log:           log.With().Str("component", "session").Str("session_id", id).Logger(),
	}
}

// Run reads frames until ctx is cancelled, the client disconnects, or a
// framing error forces the connection closed. It always closes the
// connection before returning. A watcher goroutine closes the underlying
// connection when ctx is done, which unblocks whatever suspension point
// (length read, payload read, or ack write) the session is currently
// parked on, per spec.md §5's cancellable-at-any-suspension-point
// contract.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("session panicked")
		}
	}()
	defer s.conn.Close()
	s.log.Debug().Str("remote", s.conn.RemoteAddr().String()).Msg("session started")

	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-watcherDone:
		}
	}()

	for {
		if err := s.handleOneFrame(); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("session closed")
			}
			return
		}
	}
}

// handleOneFrame reads exactly one frame, validates it, and writes the
// per-frame acknowledgement, per spec.md §4.4's wire protocol.
func (s *Session) handleOneFrame() error {
	length, err := s.readLength()
	if err != nil {
		return err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.reader, payload); err != nil {
		return fmt.Errorf("%w: short read: %v", ErrBadFraming, err)
	}

	rec, err := s.validator.Validate(payload)
	if err != nil {
		s.metrics.RecordValidationRejected()
		return s.reject(err)
	}

	s.metrics.RecordIngest()
	if !s.queue.TryPush(rec) {
		s.metrics.RecordDropped(metrics.DropReasonQueueFull)
	}
	return s.ack()
}

// readLength reads and validates the 4-byte big-endian frame length prefix.
func (s *Session) readLength() (int, error) {
	var lenBuf [maxFrameLengthBytes]byte
	if _, err := io.ReadFull(s.reader, lenBuf[:]); err != nil {
		return 0, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, fmt.Errorf("%w: zero-length frame", ErrBadFraming)
	}
	if int(length) > s.maxFrameBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrOverlargeFrame, length)
	}
	return int(length), nil
}

func (s *Session) ack() error {
	_, err := s.conn.Write([]byte("OK\n"))
	return err
}

func (s *Session) reject(cause error) error {
	_, err := fmt.Fprintf(s.conn, "ERROR: %s\n", cause.Error())
	return err
}
