package storage

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/ChuLiYu/logd/internal/config"
	"github.com/ChuLiYu/logd/internal/record"
)

// parquetRow is the on-disk columnar layout of spec.md §6: one column per
// known field, metadata as a nullable serialized-JSON string column.
type parquetRow struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(isAdjustedToUTC=true,unit=microsecond)"`
	Level     string    `parquet:"level"`
	Message   string    `parquet:"message"`
	Service   *string   `parquet:"service,optional"`
	TraceID   *string   `parquet:"trace_id,optional"`
	Metadata  *string   `parquet:"metadata,optional"`
}

// toRow converts a validated Record into its columnar representation. It
// fails only for a Record with an empty message, which the Validator never
// produces; the error is reported per record so the Writer can drop that
// record and continue the batch, per spec.md §4.3's per-record
// drop-and-continue semantics.
func toRow(r record.Record) (parquetRow, error) {
	if r.Message == "" {
		return parquetRow{}, fmt.Errorf("empty message")
	}
	return parquetRow{
		Timestamp: r.Timestamp,
		Level:     string(r.Level),
		Message:   r.Message,
		Service:   r.Service,
		TraceID:   r.TraceID,
		Metadata:  r.Metadata,
	}, nil
}

// compressionOption maps the four wire-level compression names in
// spec.md §6 onto parquet-go's compress.Codec implementations.
func compressionOption(c config.Compression) parquet.WriterOption {
	switch c {
	case config.CompressionSnappy:
		return parquet.Compression(&parquet.Snappy)
	case config.CompressionZstd:
		return parquet.Compression(&parquet.Zstd)
	case config.CompressionGzip:
		return parquet.Compression(&parquet.Gzip)
	case config.CompressionNone:
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}
