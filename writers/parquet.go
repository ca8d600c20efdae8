//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of songlake.
//
// songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with songlake. If not, see https://www.gnu.org/licenses/.

// Package writers provides the sinks that persist star schema tables.
package writers

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
)

// Columns and their types come from a declared schema.Table, so every file of
// a table has the same layout regardless of which rows it holds.

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "create_writer", "append_value", "write_batch")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriter implements core.DataSink for one Parquet file.
// It buffers records and writes them in batches.
type ParquetWriter struct {
	out          *countingWriter
	writer       *pqarrow.FileWriter
	schema       *arrow.Schema
	columns      []schema.Column
	closed       bool
	errorState   bool
	recordBuffer []core.Record
	builders     []array.Builder
	allocator    memory.Allocator
	stats        WriterStats
	opts         *ParquetWriterOptions
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int64                // Number of records to buffer before writing
	Compression  compress.Compression // Compression algorithm
	RowGroupSize int64                // Maximum rows per row group
	Metadata     map[string]string    // Arrow schema metadata
}

// WriterStats holds statistics about the Parquet writer's performance.
type WriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	BytesWritten    int64
	FlushDuration   time.Duration
	NullValueCounts map[string]int64
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata adds key/value metadata to the file schema.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// countingWriter counts bytes on their way to w. It deliberately hides any
// Close method of w so closing the parquet writer leaves w open.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// NewParquetWriter creates a writer of table's file columns into w.
// The caller owns w and closes it after Close returns.
func NewParquetWriter(w io.Writer, table schema.Table, options ...WriterOption) (*ParquetWriter, error) {
	opts := &ParquetWriterOptions{}
	for _, option := range options {
		option(opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = 64 * 1024
	}
	if opts.Compression == compress.Codecs.Uncompressed && !hasCompression(options) {
		opts.Compression = compress.Codecs.Snappy
	}

	columns := table.FileColumns()
	if len(columns) == 0 {
		return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("table %s has no file columns", table.Name)}
	}
	arrowSchema := table.ArrowSchema(opts.Metadata)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.Compression),
		parquet.WithMaxRowGroupLength(opts.RowGroupSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	out := &countingWriter{w: w}
	fw, err := pqarrow.NewFileWriter(arrowSchema, out, props, arrowProps)
	if err != nil {
		return nil, &ParquetWriterError{Op: "create_writer", Err: fmt.Errorf("failed to create parquet file writer: %w", err)}
	}

	pw := &ParquetWriter{
		out:          out,
		writer:       fw,
		schema:       arrowSchema,
		columns:      columns,
		recordBuffer: make([]core.Record, 0, opts.BatchSize),
		allocator:    memory.NewGoAllocator(),
		stats:        WriterStats{NullValueCounts: make(map[string]int64)},
		opts:         opts,
	}
	pw.builders = make([]array.Builder, len(columns))
	for i, f := range arrowSchema.Fields() {
		pw.builders[i] = array.NewBuilder(pw.allocator, f.Type)
	}
	return pw, nil
}

// hasCompression reports whether an explicit compression option was given, so
// that an explicit Uncompressed is honoured.
func hasCompression(options []WriterOption) bool {
	probe := &ParquetWriterOptions{Compression: compress.Codecs.Brotli}
	for _, option := range options {
		option(probe)
	}
	return probe.Compression != compress.Codecs.Brotli
}

// Stats returns the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() WriterStats {
	p.stats.BytesWritten = p.out.n
	return p.stats
}

// Write implements the core.DataSink interface.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		return p.flushBatch()
	}
	return nil
}

// Flush implements the core.DataSink interface.
func (p *ParquetWriter) Flush() error {
	return p.flushBatch()
}

// Close implements the core.DataSink interface.
// It flushes remaining records and writes the file footer.
func (p *ParquetWriter) Close() error {
	if p.closed {
		return nil
	}

	var flushErr error
	if !p.errorState {
		flushErr = p.flushBatch()
	}
	p.closed = true

	for _, b := range p.builders {
		b.Release()
	}
	p.builders = nil

	if err := p.writer.Close(); err != nil && flushErr == nil {
		flushErr = &ParquetWriterError{Op: "close_writer", Err: fmt.Errorf("failed to close parquet writer: %w", err)}
	}
	return flushErr
}

// flushBatch writes the current buffer as one Arrow record batch.
func (p *ParquetWriter) flushBatch() error {
	if len(p.recordBuffer) == 0 {
		return nil
	}
	startTime := time.Now()

	record, err := p.createArrowRecord(p.recordBuffer)
	if err != nil {
		p.errorState = true
		return err
	}
	defer record.Release()

	if err := p.writer.WriteBuffered(record); err != nil {
		p.errorState = true
		return &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("failed to write record batch: %w", err)}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(startTime)
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

// createArrowRecord converts buffered records to an Arrow record.
func (p *ParquetWriter) createArrowRecord(records []core.Record) (arrow.Record, error) {
	for _, record := range records {
		for i, col := range p.columns {
			value := record[col.Name]
			if value == nil {
				if !col.Nullable {
					return nil, &ParquetWriterError{Op: "append_value", Err: fmt.Errorf("column %s is not nullable", col.Name)}
				}
				p.builders[i].AppendNull()
				p.stats.NullValueCounts[col.Name]++
				continue
			}
			if err := appendValue(p.builders[i], value); err != nil {
				return nil, &ParquetWriterError{Op: "append_value", Err: fmt.Errorf("column %s: %w", col.Name, err)}
			}
		}
	}

	arrays := make([]arrow.Array, len(p.builders))
	for i, b := range p.builders {
		arrays[i] = b.NewArray()
	}
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()
	return array.NewRecord(p.schema, arrays, int64(len(records))), nil
}

// appendValue appends a non-null value with the exact Go type of the column.
func appendValue(builder array.Builder, value interface{}) error {
	switch b := builder.(type) {
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		default:
			return fmt.Errorf("want int64, got %T", value)
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		default:
			return fmt.Errorf("want float64, got %T", value)
		}
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", value)
		}
		b.Append(v)
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("want time.Time, got %T", value)
		}
		b.Append(arrow.Timestamp(v.UnixMilli()))
	default:
		return fmt.Errorf("unsupported builder %T", builder)
	}
	return nil
}
