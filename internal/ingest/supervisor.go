package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
	"github.com/ChuLiYu/logd/internal/validator"
)

// State is one of the Supervisor's four lifecycle states, spec.md §4.5.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Supervisor binds the stream endpoint, runs the accept loop up to a
// connection cap, and drives the Starting -> Running -> Draining -> Stopped
// state machine of spec.md §4.5.
type Supervisor struct {
	socketPath    string
	maxConns      int
	maxFrameBytes int
	shutdownGrace time.Duration

	validator *validator.Validator
	queue     *queue.Bounded[record.Record]
	metrics   *metrics.Collector
	log       zerolog.Logger

	mu     sync.Mutex
	state  State
	active int

	wg sync.WaitGroup
}

// NewSupervisor constructs a Supervisor ready to have Run called on it.
func NewSupervisor(socketPath string, maxConns, maxFrameBytes int, shutdownGrace time.Duration, v *validator.Validator, q *queue.Bounded[record.Record], m *metrics.Collector, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		socketPath:    socketPath,
		maxConns:      maxConns,
		maxFrameBytes: maxFrameBytes,
		shutdownGrace: shutdownGrace,
		validator:     v,
		queue:         q,
		metrics:       m,
		log:           log.With().Str("component", "supervisor").Logger(),
		state:         StateStarting,
	}
}

// State reports the Supervisor's current lifecycle state.
func (sv *Supervisor) State() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

func (sv *Supervisor) setState(s State) {
	sv.mu.Lock()
	sv.state = s
	sv.mu.Unlock()
	sv.log.Info().Str("state", s.String()).Msg("state transition")
}

// Run binds the endpoint, removing any stale file first, and accepts
// connections until ctx is cancelled. It blocks until shutdown has fully
// drained, at which point the endpoint file has been removed and the
// Supervisor is Stopped.
func (sv *Supervisor) Run(ctx context.Context) error {
	if err := removeStaleEndpoint(sv.socketPath); err != nil {
		return fmt.Errorf("remove stale endpoint: %w", err)
	}

	ln, err := net.Listen("unix", sv.socketPath)
	if err != nil {
		return fmt.Errorf("bind endpoint %s: %w", sv.socketPath, err)
	}

	sv.setState(StateRunning)
	sv.log.Info().Str("socket", sv.socketPath).Msg("accepting connections")

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		sv.acceptLoop(ctx, ln)
	}()

	<-ctx.Done()
	sv.setState(StateDraining)
	_ = ln.Close()
	<-acceptDone

	sv.drain()
	_ = os.Remove(sv.socketPath)
	sv.setState(StateStopped)
	return nil
}

// acceptLoop accepts connections until ln is closed (by Run, on shutdown)
// or ctx is cancelled, enforcing the max_connections cap of spec.md §4.5.
func (sv *Supervisor) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sv.log.Debug().Err(err).Msg("accept error")
			return
		}

		sv.mu.Lock()
		if sv.active >= sv.maxConns {
			sv.mu.Unlock()
			sv.metrics.RecordConnectionRejected()
			_ = conn.Close()
			continue
		}
		sv.active++
		sv.mu.Unlock()
		sv.metrics.IncConnections()

		sess := NewSession(conn, sv.maxFrameBytes, sv.validator, sv.queue, sv.metrics, sv.log)
		sv.wg.Add(1)
		go func() {
			defer sv.wg.Done()
			defer sv.releaseConnection()
			sess.Run(ctx)
		}()
	}
}

func (sv *Supervisor) releaseConnection() {
	sv.mu.Lock()
	sv.active--
	sv.mu.Unlock()
	sv.metrics.DecConnections()
}

// drain waits up to shutdownGrace for in-flight Sessions to return, then
// returns regardless. ctx cancellation has already closed every session's
// connection (see Session.Run), so a frame still in progress is cut off
// rather than finished; this is a bound on how long Run waits for the
// resulting close to unwind, not a second cancellation mechanism.
func (sv *Supervisor) drain() {
	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sv.shutdownGrace):
		sv.log.Warn().Dur("grace", sv.shutdownGrace).Msg("shutdown grace period elapsed with sessions still active")
	}
}

// removeStaleEndpoint removes a leftover socket file from a previous,
// uncleanly terminated process, per spec.md §4.5's startup contract.
func removeStaleEndpoint(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
