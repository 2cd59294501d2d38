package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshRegistry() {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}

func TestNewCollector(t *testing.T) {
	freshRegistry()

	collector := NewCollector()

	require.NotNil(t, collector)
	assert.NotNil(t, collector.ingestCount)
	assert.NotNil(t, collector.bytesProcessed)
	assert.NotNil(t, collector.droppedMessages)
	assert.NotNil(t, collector.validationRejected)
	assert.NotNil(t, collector.writeLatency)
	assert.NotNil(t, collector.activeConnections)
	assert.NotNil(t, collector.connectionsRejected)
}

func TestRecordIngest(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	for i := 0; i < 5; i++ {
		c.RecordIngest()
	}
	assert.Equal(t, float64(5), c.Snapshot().IngestCount)
}

func TestRecordDropped(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	c.RecordDropped(DropReasonQueueFull)
	c.RecordDropped(DropReasonQueueFull)
	c.RecordDropped(DropReasonSerialization)

	snap := c.Snapshot()
	assert.Equal(t, float64(2), snap.DroppedQueueFull)
	assert.Equal(t, float64(1), snap.DroppedSerialization)
}

func TestRecordFlush(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotPanics(t, func() {
		c.RecordFlush(2*time.Millisecond, 4096)
	})
	assert.Equal(t, float64(4096), c.Snapshot().BytesProcessed)
}

func TestConnectionsGauge(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	c.IncConnections()
	c.IncConnections()
	c.DecConnections()
	assert.Equal(t, float64(1), c.Snapshot().ActiveConnections)

	c.RecordConnectionRejected()
	assert.Equal(t, float64(1), c.Snapshot().ConnectionsRejected)
}

func TestValidationRejected(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	c.RecordValidationRejected()
	c.RecordValidationRejected()
	assert.Equal(t, float64(2), c.Snapshot().ValidationRejected)
}

func TestCollectorIsolation(t *testing.T) {
	freshRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	assert.Panics(t, func() {
		NewCollector()
	}, "a second collector against the same registry should panic on duplicate registration")
}

func TestIngestAccountingInvariant(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	// spec.md §8: ingest_count == persisted + dropped_messages (this
	// implementation's choice is equality, see DESIGN.md).
	for i := 0; i < 10; i++ {
		c.RecordIngest()
	}
	c.RecordDropped(DropReasonQueueFull)
	c.RecordDropped(DropReasonQueueFull)

	snap := c.Snapshot()
	persisted := snap.IngestCount - snap.DroppedQueueFull - snap.DroppedSerialization
	assert.Equal(t, float64(8), persisted)
}
