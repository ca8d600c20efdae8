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

package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/storage"
)

// TableReader implements core.DataSource over a partitioned output table.
// Partition columns are decoded from each file's directory and re-attached to
// every row read from it.
type TableReader struct {
	loc       storage.Location
	table     schema.Table
	files     []string
	index     int
	current   *ParquetReader
	partition core.Record
	columns   map[string]bool // selected columns, nil for all
	project   []string        // selected columns stored in the files
}

// NewTableReader lists the data files of table under loc. When columns are
// given only those are read, and only the ones stored in the files are
// decoded. A table with no data files fails with core.ErrSourceRead.
func NewTableReader(ctx context.Context, loc storage.Location, table schema.Table, columns ...string) (*TableReader, error) {
	r := &TableReader{loc: loc, table: table}
	if len(columns) > 0 {
		r.columns = make(map[string]bool, len(columns))
		for _, name := range columns {
			if _, ok := table.Column(name); !ok {
				return nil, fmt.Errorf("table %s has no column %q", table.Name, name)
			}
			r.columns[name] = true
			if !table.IsPartitionColumn(name) {
				r.project = append(r.project, name)
			}
		}
	}

	objects, err := loc.List(ctx, table.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".parquet") {
			r.files = append(r.files, obj.Key)
		}
	}
	if len(r.files) == 0 {
		return nil, fmt.Errorf("%w: table %s has no data files under %s", core.ErrSourceRead, table.Name, loc.URI())
	}
	return r, nil
}

// Files returns the data file keys in read order.
func (r *TableReader) Files() []string {
	return append([]string(nil), r.files...)
}

// Read implements the core.DataSource interface
func (r *TableReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if r.current == nil {
			if r.index >= len(r.files) {
				return nil, io.EOF
			}
			if err := r.openNext(ctx); err != nil {
				return nil, err
			}
		}

		record, err := r.current.Read(ctx)
		if errors.Is(err, io.EOF) {
			r.current.Close()
			r.current = nil
			r.index++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrSourceRead, r.files[r.index], err)
		}
		if r.columns != nil {
			for k := range record {
				if !r.columns[k] {
					delete(record, k)
				}
			}
		}
		for k, v := range r.partition {
			if r.columns == nil || r.columns[k] {
				record[k] = v
			}
		}
		return record, nil
	}
}

func (r *TableReader) openNext(ctx context.Context) error {
	key := r.files[r.index]

	rel := strings.TrimPrefix(path.Dir(key), r.table.Name)
	partition, err := r.table.ParsePartitionDir(strings.TrimPrefix(rel, "/"))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrSourceRead, key, err)
	}

	body, err := r.loc.Open(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrSourceRead, key, err)
	}

	var opts []ReaderOption
	if len(r.project) > 0 {
		opts = append(opts, WithColumnProjection(r.project...))
	}
	pr, err := NewParquetReader(bytes.NewReader(data), opts...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrSourceRead, key, err)
	}
	r.current = pr
	r.partition = partition
	return nil
}

// Close implements the core.DataSource interface
func (r *TableReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// TableStatus summarizes an output table.
type TableStatus struct {
	Table    string
	Files    int
	Rows     int64
	Complete bool // the success marker is present
}

// Inspect counts the rows of table from the file footers and checks the
// success marker. A table with no files is reported, not treated as an error.
func Inspect(ctx context.Context, loc storage.Location, table schema.Table) (TableStatus, error) {
	status := TableStatus{Table: table.Name}

	complete, err := loc.Exists(ctx, storage.Join(table.Name, schema.SuccessMarker))
	if err != nil {
		return status, err
	}
	status.Complete = complete

	objects, err := loc.List(ctx, table.Name)
	if err != nil {
		return status, err
	}
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".parquet") {
			continue
		}
		body, err := loc.Open(ctx, obj.Key)
		if err != nil {
			return status, err
		}
		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return status, &storage.Error{Op: "read", Key: obj.Key, Err: err}
		}
		pr, err := NewParquetReader(bytes.NewReader(data))
		if err != nil {
			return status, err
		}
		status.Rows += pr.NumRows()
		status.Files++
		pr.Close()
	}
	return status, nil
}
