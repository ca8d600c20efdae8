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
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/aaronlmathis/songlake/core"
)

// JSONWriter implements core.DataSink for newline-delimited JSON output.
// Keys are written in sorted order and timestamps as RFC 3339.
type JSONWriter struct {
	writer *bufio.Writer
	closer io.Closer
	count  int64
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output
func NewJSONWriter(w io.WriteCloser) *JSONWriter {
	return &JSONWriter{
		writer: bufio.NewWriter(w),
		closer: w,
	}
}

// Count returns the number of records written.
func (j *JSONWriter) Count() int64 { return j.count }

// Write implements the core.DataSink interface
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record to JSON: %w", err)
	}
	if _, err := j.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON data: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	j.count++
	return nil
}

// Flush implements the core.DataSink interface
func (j *JSONWriter) Flush() error {
	return j.writer.Flush()
}

// Close implements the core.DataSink interface
func (j *JSONWriter) Close() error {
	ferr := j.writer.Flush()
	var cerr error
	if j.closer != nil {
		cerr = j.closer.Close()
	}
	if ferr != nil {
		return fmt.Errorf("failed to flush JSON data: %w", ferr)
	}
	return cerr
}
