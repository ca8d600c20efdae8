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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/aaronlmathis/songlake/core"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 16 * 1024 * 1024

// JSONReaderError provides structured error information for JSON reader operations
type JSONReaderError struct {
	Op  string // Operation that failed (e.g., "scan", "read")
	Err error  // Underlying error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s: %v", e.Op, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements DataSource for line-delimited JSON.
// Numbers are decoded as json.Number so that integer fields keep their exact value.
// A line that is not a JSON object yields a malformed-record error and reading
// continues with the next line.
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int64
	source  string
}

// NewJSONReader creates a new JSON reader for line-delimited JSON
func NewJSONReader(r io.ReadCloser) *JSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// WithSourceName sets the name used in malformed-record errors.
func (j *JSONReader) WithSourceName(name string) *JSONReader {
	j.source = name
	return j
}

// Read implements the DataSource interface
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &JSONReaderError{Op: "read", Err: err}
		}
		if !j.scanner.Scan() {
			if err := j.scanner.Err(); err != nil {
				return nil, &JSONReaderError{Op: "scan", Err: err}
			}
			return nil, io.EOF
		}
		j.line++

		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		record := make(core.Record)
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&record); err != nil {
			return nil, core.Malformed("", "%s line %d: %v", j.sourceName(), j.line, err)
		}
		if off := dec.InputOffset(); off < int64(len(line)) {
			return nil, core.Malformed("", "%s line %d: trailing data after offset %d", j.sourceName(), j.line, off)
		}
		return record, nil
	}
}

func (j *JSONReader) sourceName() string {
	if j.source == "" {
		return "input"
	}
	return j.source
}

// Close implements the DataSource interface
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
