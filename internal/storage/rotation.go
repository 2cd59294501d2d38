// Package storage implements the Writer and RotationPolicy of spec.md §4.2
// /§4.3: the sole owner of the filesystem output, batching validated
// records into parquet row groups and rotating files on a size threshold.
package storage

// RotationPolicy decides, after each flush, whether the Writer must close
// the currently open file and start a new one. It is a pure function of
// the open file's on-disk size and the configured threshold — time-based
// rotation is not a hard trigger (the periodic flush is a separate timer,
// spec.md §4.2/§4.3) — taken only between batches, never mid-batch, to
// preserve the sharp-boundary invariant in spec.md §3.
type RotationPolicy struct {
	RotationBytes int64
}

// ShouldRotate reports whether a file of openBytes has reached the
// rotation threshold.
func (p RotationPolicy) ShouldRotate(openBytes int64) bool {
	return openBytes >= p.RotationBytes
}
