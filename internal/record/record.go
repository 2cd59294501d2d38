// ============================================================================
// Package record - Core Domain Model
// ============================================================================
//
// Package: internal/record
// Purpose: The canonical validated log record and the in-memory batch the
// Writer accumulates before a flush.
//
// A Record is produced exactly once, by the Validator, and consumed exactly
// once, by the Writer. It carries no identity beyond its position in the
// output file.
// ============================================================================

package record

import "time"

// Level is the enumerated log severity, one of trace/debug/info/warn/error/fatal.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ValidLevel reports whether lvl is one of the enumerated severities.
func ValidLevel(lvl string) bool {
	switch Level(lvl) {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	default:
		return false
	}
}

// Record is a single validated, typed log entry.
//
// Timestamp is always normalized to UTC. Service, TraceID and Metadata are
// optional and nil when absent from the input document. Metadata is stored
// pre-serialized as a JSON string, never decoded further by the Writer.
type Record struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   *string
	TraceID   *string
	Metadata  *string
}

// Batch is an ordered, bounded sequence of Records owned exclusively by the
// Writer. It is never read or mutated by any other goroutine.
type Batch struct {
	records []Record
}

// NewBatch allocates a Batch with room for capacity records before it grows.
func NewBatch(capacity int) *Batch {
	return &Batch{records: make([]Record, 0, capacity)}
}

// Append adds r to the batch.
func (b *Batch) Append(r Record) {
	b.records = append(b.records, r)
}

// Len returns the number of records currently buffered.
func (b *Batch) Len() int {
	return len(b.records)
}

// Records returns the buffered records in wire order. The returned slice is
// only valid until the next Reset.
func (b *Batch) Records() []Record {
	return b.records
}

// Reset truncates the batch to length zero without discarding its backing
// array, so repeated flush cycles don't churn the allocator.
func (b *Batch) Reset() {
	b.records = b.records[:0]
}
