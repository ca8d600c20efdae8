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

package dag

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag/tasks"
)

// funcTask is a Task backed by a function.
type funcTask struct {
	id   string
	deps []string
	meta tasks.TaskMetadata
	fn   func(ctx context.Context, input tasks.TaskInput) (tasks.TaskOutput, error)
}

func (f *funcTask) ID() string                   { return f.id }
func (f *funcTask) Dependencies() []string       { return f.deps }
func (f *funcTask) Metadata() tasks.TaskMetadata { return f.meta }
func (f *funcTask) Execute(ctx context.Context, input tasks.TaskInput) (tasks.TaskOutput, error) {
	return f.fn(ctx, input)
}

func emit(id string, deps []string, records ...core.Record) *funcTask {
	return &funcTask{
		id: id, deps: deps, meta: tasks.TaskMetadata{Name: id, TaskType: tasks.TaskTypeTransform},
		fn: func(ctx context.Context, input tasks.TaskInput) (tasks.TaskOutput, error) {
			out := append(append([]core.Record(nil), input.Records...), records...)
			return tasks.TaskOutput{Records: out, Metadata: tasks.TaskResultMetadata{RecordsIn: int64(len(input.Records)), RecordsOut: int64(len(out))}}, nil
		},
	}
}

func TestBuilder_CollectsErrors(t *testing.T) {
	_, err := NewDAG("bad", "bad").
		AddTask(emit("a", nil)).
		AddTask(emit("a", nil)).
		AddTask(emit("b", []string{"missing"})).
		AddJoinTask("j", tasks.JoinConfig{JoinType: tasks.InnerJoin}, []string{"a"}).
		Build()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "duplicate task id a")
	assert.Contains(t, msg, "non-existent task missing")
	assert.Contains(t, msg, "join task j requires 2 dependencies")
	assert.Contains(t, msg, "matching key lists")
}

func TestBuilder_DetectsCycles(t *testing.T) {
	_, err := NewDAG("cyclic", "cyclic").
		AddTask(emit("a", []string{"c"})).
		AddTask(emit("b", []string{"a"})).
		AddTask(emit("c", []string{"b"})).
		Build()
	assert.ErrorIs(t, err, ErrCycle)

	_, err = NewDAG("empty", "empty").Build()
	assert.ErrorContains(t, err, "no tasks")
}

func TestDAG_ExecutionLevels(t *testing.T) {
	d, err := NewDAG("levels", "levels").
		AddTask(emit("src_b", nil)).
		AddTask(emit("src_a", nil)).
		AddTask(emit("mid", []string{"src_a"})).
		AddTask(emit("join", []string{"mid", "src_b"})).
		AddTask(emit("other", []string{"src_b"})).
		Build()
	require.NoError(t, err)

	levels, err := d.ExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"src_a", "src_b"}, {"mid", "other"}, {"join"}}, levels)

	order, err := d.GetExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"src_a", "mid", "src_b", "join", "other"}, order)

	assert.Equal(t, []string{"join", "other"}, d.GetDownstreamTasks("src_b"))

	var buf bytes.Buffer
	require.NoError(t, d.Describe(&buf))
	assert.Contains(t, buf.String(), "join [transform] <- mid, src_b")
	assert.Contains(t, buf.String(), "levels: 3")
}

func TestExecutor_PassesOutputsDownstream(t *testing.T) {
	d, err := NewDAG("flow", "flow").
		AddTask(emit("a", nil, core.Record{"from": "a"})).
		AddTask(emit("b", nil, core.Record{"from": "b"})).
		AddTask(emit("both", []string{"b", "a"})).
		Build()
	require.NoError(t, err)

	var observed sync.Map
	exec := NewDAGExecutor(WithMaxWorkers(2), WithTaskObserver(func(id string, _ tasks.TaskMetadata, res tasks.TaskResultMetadata) {
		observed.Store(id, res.Success)
	}))
	result, err := exec.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Dependency order decides record order.
	assert.Equal(t, []core.Record{{"from": "b"}, {"from": "a"}}, result.Outputs["both"])
	assert.NotContains(t, result.Outputs, "a", "only leaf outputs are kept")
	assert.Len(t, result.TaskResults, 3)
	for _, id := range []string{"a", "b", "both"} {
		ok, found := observed.Load(id)
		assert.True(t, found)
		assert.Equal(t, true, ok)
		assert.True(t, result.TaskResults[id].Success)
	}
}

func TestExecutor_FailureStopsLaterLevels(t *testing.T) {
	var ranSibling, ranLater atomic.Bool
	boom := errors.New("boom")

	fail := &funcTask{id: "fail", meta: tasks.TaskMetadata{TaskType: tasks.TaskTypeSink}, fn: func(context.Context, tasks.TaskInput) (tasks.TaskOutput, error) {
		return tasks.TaskOutput{}, boom
	}}
	sibling := &funcTask{id: "sibling", meta: tasks.TaskMetadata{TaskType: tasks.TaskTypeSink}, fn: func(context.Context, tasks.TaskInput) (tasks.TaskOutput, error) {
		time.Sleep(10 * time.Millisecond)
		ranSibling.Store(true)
		return tasks.TaskOutput{}, nil
	}}
	later := &funcTask{id: "later", deps: []string{"sibling"}, fn: func(context.Context, tasks.TaskInput) (tasks.TaskOutput, error) {
		ranLater.Store(true)
		return tasks.TaskOutput{}, nil
	}}

	d, err := NewDAG("partial", "partial").AddTask(fail).AddTask(sibling).AddTask(later).Build()
	require.NoError(t, err)

	result, err := NewDAGExecutor(WithMaxWorkers(1)).Execute(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task fail failed")
	assert.True(t, ranSibling.Load(), "tasks of the failing level still run")
	assert.False(t, ranLater.Load(), "later levels are not scheduled")

	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.False(t, result.TaskResults["fail"].Success)
	assert.Equal(t, boom, result.TaskResults["fail"].Error)
	assert.True(t, result.TaskResults["sibling"].Success)
	assert.NotContains(t, result.TaskResults, "later")
}

func TestExecutor_DefaultTimeout(t *testing.T) {
	slow := &funcTask{id: "slow", fn: func(ctx context.Context, _ tasks.TaskInput) (tasks.TaskOutput, error) {
		<-ctx.Done()
		return tasks.TaskOutput{}, ctx.Err()
	}}
	d, err := NewDAG("timeout", "timeout").AddTask(slow).WithDefaultTimeout(20 * time.Millisecond).Build()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, d.GetDefaultTimeout())

	_, err = NewDAGExecutor().Execute(context.Background(), d)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_TaskLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	task := &funcTask{id: "logs", meta: tasks.TaskMetadata{TaskType: tasks.TaskTypeSource}, fn: func(ctx context.Context, _ tasks.TaskInput) (tasks.TaskOutput, error) {
		zerolog.Ctx(ctx).Info().Msg("hello from task")
		return tasks.TaskOutput{}, nil
	}}
	d, err := NewDAG("logging", "logging").AddTask(task).Build()
	require.NoError(t, err)

	_, err = NewDAGExecutor(WithLogger(logger)).Execute(context.Background(), d)
	require.NoError(t, err)

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "hello from task") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Contains(t, line, `"task":"logs"`)
	assert.Contains(t, line, `"task_type":"source"`)
	assert.Contains(t, line, `"dag":"logging"`)
}

func TestExecutor_CancelledContext(t *testing.T) {
	d, err := NewDAG("cancel", "cancel").AddTask(emit("a", nil)).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := NewDAGExecutor().Execute(ctx, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
}
