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

// transform.go - TransformTask, FilterTask and whole-table operator tasks
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
)

// TransformTask wraps a Transformer in the DAG framework
type TransformTask struct {
	base
	transformer core.Transformer
}

// NewTransformTask creates a new TransformTask
func NewTransformTask(id string, transformer core.Transformer, dependencies []string, options ...TaskOption) *TransformTask {
	return &TransformTask{
		base:        newBase(id, TaskTypeTransform, dependencies, options),
		transformer: transformer,
	}
}

func (tt *TransformTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	res, err := tt.processor().run(ctx, input.Records, func(ctx context.Context, record core.Record) (core.Record, bool, error) {
		out, err := tt.transformer.Transform(ctx, record)
		return out, err == nil && out != nil, err
	})
	if err != nil {
		return TaskOutput{}, fmt.Errorf("transform failed: %w", err)
	}
	return output(ctx, start, len(input.Records), res), nil
}

// FilterTask wraps a Filter in the DAG framework
type FilterTask struct {
	base
	filter core.Filter
}

// NewFilterTask creates a new FilterTask
func NewFilterTask(id string, filter core.Filter, dependencies []string, options ...TaskOption) *FilterTask {
	return &FilterTask{
		base:   newBase(id, TaskTypeFilter, dependencies, options),
		filter: filter,
	}
}

func (ft *FilterTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	res, err := ft.processor().run(ctx, input.Records, func(ctx context.Context, record core.Record) (core.Record, bool, error) {
		ok, err := ft.filter.ShouldInclude(ctx, record)
		return record, ok, err
	})
	if err != nil {
		return TaskOutput{}, fmt.Errorf("filter failed: %w", err)
	}
	return output(ctx, start, len(input.Records), res), nil
}

func output(ctx context.Context, start time.Time, in int, res processed) TaskOutput {
	if res.dropped > 0 {
		zerolog.Ctx(ctx).Warn().Int64("dropped", res.dropped).Msg("skipped records that failed processing")
	}
	meta := result(start, in, len(res.records))
	meta.Dropped = res.dropped
	meta.Errors = res.collected
	return TaskOutput{Records: res.records, Metadata: meta}
}

// TableTask applies a whole-table operator to the concatenated dependency output.
type TableTask struct {
	base
	op core.TableOperator
}

// NewTableTask creates a task of the given type around op.
func NewTableTask(id string, taskType TaskType, op core.TableOperator, dependencies []string, options ...TaskOption) *TableTask {
	return &TableTask{
		base: newBase(id, taskType, dependencies, options),
		op:   op,
	}
}

// NewDistinctTask creates a task that drops repeated rows over columns.
func NewDistinctTask(id string, columns []string, dependencies []string, options ...TaskOption) *TableTask {
	return NewTableTask(id, TaskTypeDistinct, aggregate.Distinct(columns...), dependencies, options...)
}

// NewOrdinalTask creates a task that numbers rows 1..N in orderField order.
// It is a barrier: it sees the whole table at once.
func NewOrdinalTask(id, orderField, keyField string, dependencies []string, options ...TaskOption) *TableTask {
	return NewTableTask(id, TaskTypeOrdinal, aggregate.AssignOrdinal(orderField, keyField), dependencies, options...)
}

func (t *TableTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	records, err := t.op.Apply(ctx, input.Records)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("%s failed: %w", t.cfg.metadata.TaskType, err)
	}
	return TaskOutput{Records: records, Metadata: result(start, len(input.Records), len(records))}, nil
}
