package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
	"github.com/ChuLiYu/logd/internal/validator"
)

func freshCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

func testValidator(t *testing.T) *validator.Validator {
	t.Helper()
	schema, err := validator.LoadDefault()
	require.NoError(t, err)
	return validator.New(schema)
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, err := conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestSessionAcceptsValidFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	q := queue.NewBounded[record.Record](10)
	m := freshCollector(t)
	sess := NewSession(server, 1<<20, testValidator(t), q, m, zerolog.Nop())

	go sess.Run(context.Background())

	writeFrame(t, client, []byte(`{"timestamp":"2026-01-15T19:00:00Z","level":"info","message":"hello"}`))

	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\n", reply)

	rec, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "hello", rec.Message)
}

func TestSessionRejectsInvalidFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	q := queue.NewBounded[record.Record](10)
	m := freshCollector(t)
	sess := NewSession(server, 1<<20, testValidator(t), q, m, zerolog.Nop())

	go sess.Run(context.Background())

	writeFrame(t, client, []byte(`{"level":"info"}`))

	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, reply, "ERROR:")
}

func TestSessionDropsOnFullQueueButStillAcks(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	q := queue.NewBounded[record.Record](1)
	q.TryPush(record.Record{Message: "occupying slot"})

	m := freshCollector(t)
	sess := NewSession(server, 1<<20, testValidator(t), q, m, zerolog.Nop())
	go sess.Run(context.Background())

	writeFrame(t, client, []byte(`{"timestamp":"2026-01-15T19:00:00Z","level":"info","message":"overflow"}`))

	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK\n", reply)
	assert.Equal(t, float64(1), m.Snapshot().DroppedQueueFull)
}

func TestSessionClosesOnZeroLengthFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	q := queue.NewBounded[record.Record](10)
	m := freshCollector(t)
	sess := NewSession(server, 1<<20, testValidator(t), q, m, zerolog.Nop())

	doneCh := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(doneCh)
	}()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 0)
	_, err := client.Write(lenBuf[:])
	require.NoError(t, err)

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close on zero-length frame")
	}
}

func TestSessionClosesOnOverlargeFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	q := queue.NewBounded[record.Record](10)
	m := freshCollector(t)
	sess := NewSession(server, 16, testValidator(t), q, m, zerolog.Nop())

	doneCh := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(doneCh)
	}()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<20)
	_, err := client.Write(lenBuf[:])
	require.NoError(t, err)

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close on overlarge frame")
	}
}
