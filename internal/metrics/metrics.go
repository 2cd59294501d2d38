// ============================================================================
// logd Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// Purpose: Collect and expose the ingest pipeline's metrics surface defined
// in spec.md §4.6: ingest_count, bytes_processed, dropped_messages (labeled
// by reason), write_latency_ms, active_connections.
//
// Shape adapted from the teacher's internal/metrics/metrics.go
// (NewCounter/NewHistogram/NewGauge + prometheus.MustRegister + StartServer);
// this version additionally exposes a read-only Snapshot, used for the
// diagnostic-signal log dump (the CLI status command reads the /metrics
// endpoint instead).
//
// Performance:
//   - Counter/Gauge operations are atomic, thread-safe.
//   - Histogram observation has bucket-comparison overhead, same as any
//     Prometheus histogram.
// ============================================================================

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DropReason labels why a record was dropped rather than persisted.
type DropReason string

const (
	DropReasonQueueFull     DropReason = "queue_full"
	DropReasonSerialization DropReason = "serialization"
	DropReasonWriteFailure  DropReason = "write_failure"
)

// Collector collects and exposes the pipeline's Prometheus metrics.
type Collector struct {
	ingestCount         prometheus.Counter
	bytesProcessed      prometheus.Counter
	droppedMessages     *prometheus.CounterVec
	validationRejected  prometheus.Counter
	writeLatency        prometheus.Histogram
	activeConnections   prometheus.Gauge
	connectionsRejected prometheus.Counter
}

// NewCollector creates and registers a new metrics collector. A process
// should construct exactly one Collector; constructing a second against the
// same registry panics on duplicate registration, matching the teacher's
// MustRegister-based design.
func NewCollector() *Collector {
	c := &Collector{
		ingestCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logd_ingest_count",
			Help: "Total number of validated, accepted frames.",
		}),
		bytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logd_bytes_processed_total",
			Help: "Total compressed bytes written to disk.",
		}),
		droppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logd_dropped_messages_total",
			Help: "Total records dropped, labeled by reason.",
		}, []string{"reason"}),
		validationRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logd_validation_rejected_total",
			Help: "Total frames rejected by the validator.",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logd_write_latency_ms",
			Help:    "Flush latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logd_active_connections",
			Help: "Current number of accepted, live sessions.",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logd_connections_rejected_total",
			Help: "Total connections rejected because max_connections was reached.",
		}),
	}

	prometheus.MustRegister(c.ingestCount)
	prometheus.MustRegister(c.bytesProcessed)
	prometheus.MustRegister(c.droppedMessages)
	prometheus.MustRegister(c.validationRejected)
	prometheus.MustRegister(c.writeLatency)
	prometheus.MustRegister(c.activeConnections)
	prometheus.MustRegister(c.connectionsRejected)

	return c
}

// RecordIngest records one validated, accepted frame (spec.md §9 Open
// Question decision: ingest_count excludes validation failures).
func (c *Collector) RecordIngest() {
	c.ingestCount.Inc()
}

// RecordValidationRejected records one frame that failed validation.
func (c *Collector) RecordValidationRejected() {
	c.validationRejected.Inc()
}

// RecordDropped records one record dropped for the given reason.
func (c *Collector) RecordDropped(reason DropReason) {
	c.droppedMessages.WithLabelValues(string(reason)).Inc()
}

// RecordDroppedN records n records dropped for the given reason, e.g. an
// entire batch lost to a disk write failure.
func (c *Collector) RecordDroppedN(reason DropReason, n int) {
	if n <= 0 {
		return
	}
	c.droppedMessages.WithLabelValues(string(reason)).Add(float64(n))
}

// RecordFlush records a flush's latency and the compressed bytes it wrote.
func (c *Collector) RecordFlush(latency time.Duration, bytesWritten int64) {
	c.writeLatency.Observe(float64(latency.Microseconds()) / 1000.0)
	if bytesWritten > 0 {
		c.bytesProcessed.Add(float64(bytesWritten))
	}
}

// IncConnections increments the active-connection gauge.
func (c *Collector) IncConnections() {
	c.activeConnections.Inc()
}

// DecConnections decrements the active-connection gauge.
func (c *Collector) DecConnections() {
	c.activeConnections.Dec()
}

// RecordConnectionRejected records one connection closed because
// max_connections was reached.
func (c *Collector) RecordConnectionRejected() {
	c.connectionsRejected.Inc()
}

// Snapshot is a read-only view of current metric values, per spec.md §4.6.
type Snapshot struct {
	IngestCount          float64
	BytesProcessed       float64
	ValidationRejected   float64
	DroppedQueueFull     float64
	DroppedSerialization float64
	DroppedWriteFailure  float64
	ActiveConnections    float64
	ConnectionsRejected  float64
}

// Snapshot gathers the current values of every metric. It is not
// transactional across metrics, per spec.md §4.6.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		IngestCount:          readCounter(c.ingestCount),
		BytesProcessed:       readCounter(c.bytesProcessed),
		ValidationRejected:   readCounter(c.validationRejected),
		DroppedQueueFull:     readCounter(c.droppedMessages.WithLabelValues(string(DropReasonQueueFull))),
		DroppedSerialization: readCounter(c.droppedMessages.WithLabelValues(string(DropReasonSerialization))),
		DroppedWriteFailure:  readCounter(c.droppedMessages.WithLabelValues(string(DropReasonWriteFailure))),
		ActiveConnections:    readGauge(c.activeConnections),
		ConnectionsRejected:  readCounter(c.connectionsRejected),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// StartServer starts the Prometheus /metrics HTTP endpoint on addr. It
// blocks until ctx is cancelled, then shuts down gracefully, mirroring the
// teacher's StartServer but with a context-driven lifecycle.
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
