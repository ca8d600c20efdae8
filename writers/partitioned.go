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

package writers

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/storage"
)

// Result describes one completed table write.
type Result struct {
	Table      string
	Rows       int64
	Files      int64
	Partitions int
	Bytes      int64
	Duration   time.Duration
}

// TableWriter persists a whole table, replacing any previous contents.
type TableWriter interface {
	WriteTable(ctx context.Context, table schema.Table, records []core.Record) (Result, error)
}

// PartitionedWriter writes tables as hive-partitioned parquet datasets:
//
//	<location>/<table>/<col>=<value>/.../part-00000.parquet
//
// The table directory is removed before writing and a _SUCCESS marker is
// written after every data file, so a table without the marker is partial.
type PartitionedWriter struct {
	loc            storage.Location
	parallelism    int
	maxRowsPerFile int
	parquetOpts    []WriterOption
}

// PartitionedOption configures a PartitionedWriter.
type PartitionedOption func(*PartitionedWriter)

// WithPartitionParallelism bounds the number of partitions written at once.
func WithPartitionParallelism(n int) PartitionedOption {
	return func(w *PartitionedWriter) {
		w.parallelism = n
	}
}

// WithMaxRowsPerFile splits large partitions into several part files.
// Zero keeps each partition in one file.
func WithMaxRowsPerFile(n int) PartitionedOption {
	return func(w *PartitionedWriter) {
		w.maxRowsPerFile = n
	}
}

// WithParquetOptions passes options to every ParquetWriter.
func WithParquetOptions(opts ...WriterOption) PartitionedOption {
	return func(w *PartitionedWriter) {
		w.parquetOpts = append(w.parquetOpts, opts...)
	}
}

// NewPartitionedWriter creates a writer rooted at loc.
func NewPartitionedWriter(loc storage.Location, options ...PartitionedOption) *PartitionedWriter {
	w := &PartitionedWriter{loc: loc, parallelism: 4}
	for _, opt := range options {
		opt(w)
	}
	if w.parallelism <= 0 {
		w.parallelism = 1
	}
	return w
}

// Location returns the root the tables are written under.
func (w *PartitionedWriter) Location() storage.Location { return w.loc }

type partitionFile struct {
	key  string
	rows []core.Record
}

// WriteTable implements TableWriter. Every failure wraps core.ErrSinkWrite.
func (w *PartitionedWriter) WriteTable(ctx context.Context, table schema.Table, records []core.Record) (Result, error) {
	start := time.Now()
	res := Result{Table: table.Name}

	if err := table.Validate(); err != nil {
		return res, fmt.Errorf("%w: %w", core.ErrSinkWrite, err)
	}
	files, partitions, err := w.plan(table, records)
	if err != nil {
		return res, fmt.Errorf("%w: table %s: %w", core.ErrSinkWrite, table.Name, err)
	}

	if err := w.loc.RemoveAll(ctx, table.Name); err != nil {
		return res, fmt.Errorf("%w: clearing table %s: %w", core.ErrSinkWrite, table.Name, err)
	}

	sizes := make([]int64, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallelism)
	for i, f := range files {
		g.Go(func() error {
			n, err := w.writeFile(gctx, table, f)
			if err != nil {
				return err
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("%w: table %s: %w", core.ErrSinkWrite, table.Name, err)
	}

	if err := w.writeMarker(ctx, table); err != nil {
		return res, fmt.Errorf("%w: table %s: %w", core.ErrSinkWrite, table.Name, err)
	}

	for _, n := range sizes {
		res.Bytes += n
	}
	res.Rows = int64(len(records))
	res.Files = int64(len(files))
	res.Partitions = partitions
	res.Duration = time.Since(start)

	zerolog.Ctx(ctx).Info().
		Str("table", table.Name).
		Int64("rows", res.Rows).
		Int64("files", res.Files).
		Int("partitions", res.Partitions).
		Str("size", humanize.Bytes(uint64(res.Bytes))).
		Dur("duration", res.Duration).
		Msg("table written")
	return res, nil
}

// plan groups records by partition directory in first-seen order and splits
// each group into part files. An empty table still gets one schema-only file.
func (w *PartitionedWriter) plan(table schema.Table, records []core.Record) ([]partitionFile, int, error) {
	if len(records) == 0 {
		return []partitionFile{{key: storage.Join(table.Name, partName(0))}}, 0, nil
	}

	order := []string{}
	groups := make(map[string][]core.Record)
	for _, record := range records {
		dir, err := table.PartitionDir(record)
		if err != nil {
			return nil, 0, err
		}
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], record)
	}

	var files []partitionFile
	for _, dir := range order {
		rows := groups[dir]
		size := len(rows)
		if w.maxRowsPerFile > 0 {
			size = w.maxRowsPerFile
		}
		for part, lo := 0, 0; lo < len(rows); part, lo = part+1, lo+size {
			hi := min(lo+size, len(rows))
			files = append(files, partitionFile{
				key:  storage.Join(table.Name, dir, partName(part)),
				rows: rows[lo:hi],
			})
		}
	}
	return files, len(order), nil
}

func partName(n int) string {
	return fmt.Sprintf("part-%05d.parquet", n)
}

func (w *PartitionedWriter) writeFile(ctx context.Context, table schema.Table, f partitionFile) (n int64, err error) {
	out, err := w.loc.Create(ctx, f.key)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	opts := append([]WriterOption{WithMetadata(map[string]string{"songlake.table": table.Name})}, w.parquetOpts...)
	pw, err := NewParquetWriter(out, table, opts...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.key, err)
	}
	for _, record := range f.rows {
		if err := pw.Write(ctx, record); err != nil {
			pw.Close()
			return 0, fmt.Errorf("%s: %w", f.key, err)
		}
	}
	if err := pw.Close(); err != nil {
		return 0, fmt.Errorf("%s: %w", f.key, err)
	}
	return pw.Stats().BytesWritten, nil
}

func (w *PartitionedWriter) writeMarker(ctx context.Context, table schema.Table) error {
	out, err := w.loc.Create(ctx, storage.Join(table.Name, schema.SuccessMarker))
	if err != nil {
		return err
	}
	return out.Close()
}
