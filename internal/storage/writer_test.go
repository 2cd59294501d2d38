package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/logd/internal/config"
	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
)

func freshMetrics(t *testing.T) *metrics.Collector {
	t.Helper()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	return metrics.NewCollector()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	cfg.BatchSize = 3
	cfg.FlushInterval = 50 * time.Millisecond
	cfg.RotationBytes = 1 << 30
	return cfg
}

func sampleRecord(msg string) record.Record {
	return record.Record{
		Timestamp: time.Now().UTC(),
		Level:     record.LevelInfo,
		Message:   msg,
	}
}

func TestWriterOpensFileOnConstruction(t *testing.T) {
	cfg := testConfig(t)
	q := queue.NewBounded[record.Record](10)
	m := freshMetrics(t)

	w, err := NewWriter(cfg, q, m, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, w.file)

	entries, err := os.ReadDir(cfg.StorageDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "logs_")
}

func TestWriterFlushesOnBatchFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.FlushInterval = time.Hour // disable interval trigger for this test
	q := queue.NewBounded[record.Record](10)
	m := freshMetrics(t)

	w, err := NewWriter(cfg, q, m, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	for i := 0; i < cfg.BatchSize; i++ {
		q.TryPush(sampleRecord("batch-full"))
	}

	require.Eventually(t, func() bool {
		return m.Snapshot().BytesProcessed > 0
	}, 2*time.Second, 10*time.Millisecond, "batch-full flush should have written bytes")

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("writer did not shut down")
	}
}

func TestWriterFlushesOnInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1000
	cfg.FlushInterval = 30 * time.Millisecond
	q := queue.NewBounded[record.Record](10)
	m := freshMetrics(t)

	w, err := NewWriter(cfg, q, m, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	q.TryPush(sampleRecord("interval"))

	require.Eventually(t, func() bool {
		return m.Snapshot().BytesProcessed > 0
	}, 2*time.Second, 10*time.Millisecond, "interval flush should eventually fire")

	cancel()
	<-runDone
}

func TestWriterShutdownDrainsAndPersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1000
	cfg.FlushInterval = time.Hour
	q := queue.NewBounded[record.Record](10)
	m := freshMetrics(t)

	w, err := NewWriter(cfg, q, m, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	for i := 0; i < 7; i++ {
		q.TryPush(sampleRecord("draining"))
	}

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("writer did not shut down")
	}

	assert.Greater(t, m.Snapshot().BytesProcessed, float64(0))
}

func TestWriterRotatesOnSizeThreshold(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	cfg.RotationBytes = 1
	q := queue.NewBounded[record.Record](10)
	m := freshMetrics(t)

	w, err := NewWriter(cfg, q, m, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		q.TryPush(sampleRecord("rotate"))
	}

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.StorageDir)
		return err == nil && len(entries) >= 3
	}, 2*time.Second, 10*time.Millisecond, "expected rotation to produce multiple files")

	cancel()
	<-runDone

	entries, err := os.ReadDir(cfg.StorageDir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 3, "rotation should have produced at least 3 files")
}

func TestIsDiskFullDetectsENOSPCMessage(t *testing.T) {
	err := &os.PathError{Op: "write", Path: "/tmp/x", Err: assertErr("no space left on device")}
	assert.True(t, isDiskFull(err))
	assert.False(t, isDiskFull(assertErr("permission denied")))
	assert.False(t, isDiskFull(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
