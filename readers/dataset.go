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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/storage"
)

// Default input patterns, relative to the input location.
const (
	SongDataPattern = "song_data/**/*.json"
	LogDataPattern  = "log_data/**/*.json"
)

// DatasetStats holds statistics about a dataset scan
type DatasetStats struct {
	FilesMatched int64
	FilesRead    int64
	RecordsRead  int64
	BytesMatched int64
}

// DatasetReader implements core.DataSource over every object of a Location
// that matches a glob pattern. Objects are read as NDJSON in key order.
type DatasetReader struct {
	loc     storage.Location
	pattern string
	objects []storage.Object
	index   int
	current *JSONReader
	stats   DatasetStats
	mu      sync.Mutex
}

// NewDatasetReader lists loc and keeps the keys matching pattern.
// It fails with core.ErrSourceRead when the location cannot be listed or
// nothing matches.
func NewDatasetReader(ctx context.Context, loc storage.Location, pattern string) (*DatasetReader, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: invalid pattern %q", core.ErrSourceRead, pattern)
	}

	base, _ := doublestar.SplitPattern(pattern)
	if base == "." {
		base = ""
	}

	listed, err := loc.List(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrSourceRead, loc.URI(), err)
	}

	r := &DatasetReader{loc: loc, pattern: pattern}
	for _, obj := range listed {
		ok, err := doublestar.Match(pattern, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrSourceRead, err)
		}
		if ok {
			r.objects = append(r.objects, obj)
			r.stats.BytesMatched += obj.Size
		}
	}
	r.stats.FilesMatched = int64(len(r.objects))

	if len(r.objects) == 0 {
		return nil, fmt.Errorf("%w: no objects match %s under %s", core.ErrSourceRead, pattern, loc.URI())
	}
	return r, nil
}

// Objects returns the matched objects in read order.
func (r *DatasetReader) Objects() []storage.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Object, len(r.objects))
	copy(out, r.objects)
	return out
}

// Read implements the core.DataSource interface
func (r *DatasetReader) Read(ctx context.Context) (core.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.current == nil {
			if r.index >= len(r.objects) {
				return nil, io.EOF
			}
			if err := r.openNext(ctx); err != nil {
				return nil, err
			}
		}

		record, err := r.current.Read(ctx)
		if errors.Is(err, io.EOF) {
			if cerr := r.closeCurrent(); cerr != nil {
				return nil, cerr
			}
			continue
		}
		if err != nil {
			if errors.Is(err, core.ErrMalformedRecord) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", core.ErrSourceRead, r.objects[r.index].Key, err)
		}
		r.stats.RecordsRead++
		return record, nil
	}
}

func (r *DatasetReader) openNext(ctx context.Context) error {
	obj := r.objects[r.index]
	body, err := r.loc.Open(ctx, obj.Key)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}
	r.current = NewJSONReader(body).WithSourceName(obj.Key)
	r.stats.FilesRead++
	return nil
}

func (r *DatasetReader) closeCurrent() error {
	err := r.current.Close()
	r.current = nil
	r.index++
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}
	return nil
}

// Close implements the core.DataSource interface
func (r *DatasetReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.closeCurrent()
}

// Stats returns dataset scan statistics
func (r *DatasetReader) Stats() DatasetStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
