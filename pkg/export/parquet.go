package export

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none", "uncompressed":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

func (c CompressionType) codec() compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	default:
		return compress.Codecs.Uncompressed
	}
}

// recordSchema is the Parquet layout of attribution records.
func recordSchema() *arrow.Schema {
	ts := arrow.FixedWidthTypes.Timestamp_us
	return arrow.NewSchema([]arrow.Field{
		{Name: "instance_id", Type: arrow.BinaryTypes.String},
		{Name: "case_id", Type: arrow.BinaryTypes.String},
		{Name: "activity", Type: arrow.BinaryTypes.String},
		{Name: "resource", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "source_activity", Type: arrow.BinaryTypes.String},
		{Name: "source_resource", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "enabled", Type: ts},
		{Name: "start", Type: ts},
		{Name: "end", Type: ts},
		{Name: "wait_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "batching_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "prioritization_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "contention_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "unavailability_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "extraneous_seconds", Type: arrow.PrimitiveTypes.Float64},
		{Name: "defect", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "clamped", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
}

// ParquetWriter writes attribution records as Parquet row groups.
type ParquetWriter struct {
	batchSize int
	schema    *arrow.Schema
	builder   *array.RecordBuilder
	writer    *pqarrow.FileWriter

	mu               sync.Mutex
	rowCount         int
	totalRowsWritten int64
	closed           bool
}

// NewParquetWriter creates a writer. batchSize <= 0 uses 8192 rows per batch.
func NewParquetWriter(output io.Writer, compression CompressionType, batchSize int) (*ParquetWriter, error) {
	if batchSize <= 0 {
		batchSize = 8192
	}
	schema := recordSchema()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compression.codec()),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, output, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	return &ParquetWriter{
		batchSize: batchSize,
		schema:    schema,
		builder:   array.NewRecordBuilder(memory.NewGoAllocator(), schema),
		writer:    writer,
	}, nil
}

// Write appends one record, flushing a batch when it is full.
func (w *ParquetWriter) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("parquet writer closed")
	}
	w.append(r)
	w.rowCount++
	if w.rowCount >= w.batchSize {
		return w.flushBatch()
	}
	return nil
}

func (w *ParquetWriter) append(r Record) {
	b := w.builder
	b.Field(0).(*array.StringBuilder).Append(r.InstanceID)
	b.Field(1).(*array.StringBuilder).Append(r.CaseID)
	b.Field(2).(*array.StringBuilder).Append(r.Activity)
	appendOptional(b.Field(3).(*array.StringBuilder), r.Resource)
	b.Field(4).(*array.StringBuilder).Append(r.SourceActivity)
	appendOptional(b.Field(5).(*array.StringBuilder), r.SourceResource)
	b.Field(6).(*array.TimestampBuilder).Append(arrow.Timestamp(r.Enabled.UnixMicro()))
	b.Field(7).(*array.TimestampBuilder).Append(arrow.Timestamp(r.Start.UnixMicro()))
	b.Field(8).(*array.TimestampBuilder).Append(arrow.Timestamp(r.End.UnixMicro()))
	b.Field(9).(*array.Float64Builder).Append(r.WaitSeconds)
	b.Field(10).(*array.Float64Builder).Append(r.BatchingSeconds)
	b.Field(11).(*array.Float64Builder).Append(r.PrioritizationSeconds)
	b.Field(12).(*array.Float64Builder).Append(r.ContentionSeconds)
	b.Field(13).(*array.Float64Builder).Append(r.UnavailabilitySeconds)
	b.Field(14).(*array.Float64Builder).Append(r.ExtraneousSeconds)
	b.Field(15).(*array.BooleanBuilder).Append(r.Defect)
	b.Field(16).(*array.BooleanBuilder).Append(r.Clamped)
}

func appendOptional(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()
		return
	}
	b.Append(s)
}

// flushBatch writes the current batch to Parquet.
func (w *ParquetWriter) flushBatch() error {
	if w.rowCount == 0 {
		return nil
	}
	batch := w.builder.NewRecord()
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		return fmt.Errorf("write record batch: %w", err)
	}
	w.totalRowsWritten += int64(w.rowCount)
	w.rowCount = 0
	return nil
}

// Close flushes remaining rows and finalizes the file footer.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	w.builder.Release()
	w.closed = true
	return nil
}

// RowsWritten returns the total number of rows written.
func (w *ParquetWriter) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRowsWritten
}

// WriteParquet writes all records of a report.
func WriteParquet(output io.Writer, rep *RunReport, compression CompressionType) error {
	w, err := NewParquetWriter(output, compression, 0)
	if err != nil {
		return err
	}
	for _, r := range rep.Records {
		if err := w.Write(r); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
