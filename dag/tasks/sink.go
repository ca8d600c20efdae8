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

// sink.go - SinkTask implementation
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/writers"
)

// SinkTask writes its input as one table through a writers.TableWriter.
type SinkTask struct {
	base
	writer writers.TableWriter
	table  schema.Table
	result writers.Result
}

// NewSinkTask creates a new SinkTask
func NewSinkTask(id string, writer writers.TableWriter, table schema.Table, dependencies []string, options ...TaskOption) *SinkTask {
	return &SinkTask{
		base:   newBase(id, TaskTypeSink, dependencies, options),
		writer: writer,
		table:  table,
	}
}

// Table returns the table the task writes.
func (st *SinkTask) Table() schema.Table { return st.table }

// Result returns the outcome of the last successful write.
func (st *SinkTask) Result() writers.Result { return st.result }

func (st *SinkTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	res, err := st.writer.WriteTable(ctx, st.table, input.Records)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("sink %s failed: %w", st.table.Name, err)
	}
	st.result = res

	meta := result(start, len(input.Records), int(res.Rows))
	return TaskOutput{Records: []core.Record{}, Metadata: meta}, nil
}
