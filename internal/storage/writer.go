package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/ChuLiYu/logd/internal/config"
	"github.com/ChuLiYu/logd/internal/metrics"
	"github.com/ChuLiYu/logd/internal/queue"
	"github.com/ChuLiYu/logd/internal/record"
)

// fileTimestampLayout matches the logs_<YYYYMMDD>_<HHMMSS>_<NNN>.parquet
// naming scheme of spec.md §3/§6.
const fileTimestampLayout = "20060102_150405"

// countingWriter tracks the cumulative number of bytes written to the
// underlying file, so the Writer can compute the compressed byte delta of
// each flush (spec.md §4.3) without re-stat'ing the file.
type countingWriter struct {
	w     *os.File
	total int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.total += int64(n)
	return n, err
}

// Writer is the sole owner of the filesystem output: the currently open
// file, the in-memory batch buffer, and the rotation/flush timers. It
// consumes Records from the bounded queue, converts batches to columnar
// row groups, applies the configured compression, and flushes on
// batch-full, interval, or shutdown — the completed form of the teacher's
// TODO-stubbed BatchWriter, generalized from WAL events to parquet row
// groups.
type Writer struct {
	cfg     config.Config
	queue   *queue.Bounded[record.Record]
	metrics *metrics.Collector
	log     zerolog.Logger

	seq     int
	file    *os.File
	counter *countingWriter
	pw      *parquet.GenericWriter[parquetRow]
	batch   *record.Batch

	lastFlushBytes int64
}

// NewWriter constructs a Writer over storageDir, ready to have Run called
// on it. The directory is created if missing; failure to create or write
// to it is fatal (ErrStorageUnwritable), per spec.md §6/§7.
func NewWriter(cfg config.Config, q *queue.Bounded[record.Record], m *metrics.Collector, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnwritable, err)
	}
	w := &Writer{
		cfg:     cfg,
		queue:   q,
		metrics: m,
		log:     log.With().Str("component", "writer").Logger(),
		batch:   record.NewBatch(cfg.BatchSize),
	}
	if err := w.openFile(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnwritable, err)
	}
	return w, nil
}

func (w *Writer) openFile() error {
	name := fmt.Sprintf("logs_%s_%03d.parquet", time.Now().UTC().Format(fileTimestampLayout), w.seq)
	path := filepath.Join(w.cfg.StorageDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRotationFailure, err)
	}

	w.file = f
	w.counter = &countingWriter{w: f}
	w.pw = parquet.NewGenericWriter[parquetRow](w.counter, compressionOption(w.cfg.Compression))
	w.lastFlushBytes = 0
	w.seq++
	w.log.Info().Str("file", path).Msg("opened output file")
	return nil
}

// Run drives the Writer's main loop until ctx is cancelled, implementing
// the three flush triggers of spec.md §4.3: batch-full, interval, and
// shutdown.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.shutdown()
		case <-ticker.C:
			if err := w.flush("interval"); err != nil {
				if err := w.escalate(err); err != nil {
					return err
				}
			}
		default:
		}

		popCtx, cancel := context.WithTimeout(ctx, w.cfg.FlushInterval)
		rec, ok := w.queue.Pop(popCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				return w.shutdown()
			}
			continue
		}

		w.batch.Append(rec)
		if w.batch.Len() >= w.cfg.BatchSize {
			if err := w.flush("batch_full"); err != nil {
				if err := w.escalate(err); err != nil {
					return err
				}
			}
		}
	}
}

// shutdown drains any remaining queued records with a short deadline,
// performs a final flush, and closes the file, per spec.md §4.3.
func (w *Writer) shutdown() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		rec, ok := w.queue.Pop(drainCtx)
		if !ok {
			break
		}
		w.batch.Append(rec)
	}

	if err := w.flush("shutdown"); err != nil {
		w.log.Error().Err(err).Msg("final flush failed during shutdown")
	}
	return w.closeFile()
}

// escalate maps a flush error to process-level fatal shutdown when the
// underlying cause is disk-full, per spec.md §7. Any other write/rotation
// failure has already been handled locally (file closed, rotation forced,
// record(s) dropped and counted); it is logged here and does not propagate
// further.
func (w *Writer) escalate(err error) error {
	if isDiskFull(err) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}
	w.log.Error().Err(err).Msg("flush failed")
	return nil
}

// flush serializes the buffered batch into a row group, appends it to the
// open file, records metrics, and rotates if the policy now requires it.
// Trigger is logged only, not part of the contract.
func (w *Writer) flush(trigger string) error {
	if w.batch.Len() == 0 {
		return nil
	}

	start := time.Now()
	rows := make([]parquetRow, 0, w.batch.Len())
	for _, rec := range w.batch.Records() {
		row, err := toRow(rec)
		if err != nil {
			w.metrics.RecordDropped(metrics.DropReasonSerialization)
			w.log.Warn().Err(err).Msg("dropping record: serialization failure")
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if _, err := w.pw.Write(rows); err != nil {
			w.failCurrentFile(len(rows))
			return fmt.Errorf("%w: %v", ErrWriteFailure, err)
		}
		if err := w.pw.Flush(); err != nil {
			w.failCurrentFile(len(rows))
			return fmt.Errorf("%w: %v", ErrWriteFailure, err)
		}
	}

	delta := w.counter.total - w.lastFlushBytes
	w.lastFlushBytes = w.counter.total
	w.metrics.RecordFlush(time.Since(start), delta)
	w.log.Debug().Str("trigger", trigger).Int("records", len(rows)).Int64("bytes", delta).Msg("flushed batch")

	w.batch.Reset()

	policy := RotationPolicy{RotationBytes: w.cfg.RotationBytes}
	if policy.ShouldRotate(w.counter.total) {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// failCurrentFile closes the current file after a write failure, counts the
// lost records, discards the failed batch, and immediately opens a fresh
// file with the next sequence number, per spec.md §4.3's Writer-local
// failure semantics.
func (w *Writer) failCurrentFile(lost int) {
	w.metrics.RecordDroppedN(metrics.DropReasonWriteFailure, lost)
	w.batch.Reset()
	_ = w.closeFile()
	if err := w.openFile(); err != nil {
		w.log.Error().Err(err).Msg("failed to reopen file after write failure")
	}
}

func (w *Writer) closeFile() error {
	if w.pw != nil {
		if err := w.pw.Close(); err != nil {
			w.log.Error().Err(err).Msg("error closing parquet writer")
		}
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// rotate closes the current file and opens the next one with a strictly
// increasing sequence number, per spec.md §3's invariant.
func (w *Writer) rotate() error {
	if err := w.closeFile(); err != nil {
		w.log.Error().Err(err).Msg("error closing file during rotation")
	}
	if err := w.openFile(); err != nil {
		return fmt.Errorf("%w: %v", ErrRotationFailure, err)
	}
	return nil
}

// isDiskFull is a best-effort classifier: Go's standard library does not
// expose a portable ENOSPC check, and flush wraps the underlying error
// with %v rather than %w, so this matches the ENOSPC message text in the
// error string instead of using errors.Is.
func isDiskFull(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no space left on device")
}
