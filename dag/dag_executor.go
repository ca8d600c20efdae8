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

// dag_executor.go - DAG execution engine with topological sort
package dag

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag/tasks"
)

// TaskObserver is called once for every finished task, successful or not.
// It may be called concurrently.
type TaskObserver func(taskID string, metadata tasks.TaskMetadata, result tasks.TaskResultMetadata)

// DAGExecutor executes DAGs level by level. Tasks of one level run
// concurrently on a bounded worker pool. When a task fails the rest of its
// level still finishes but no later level is started.
type DAGExecutor struct {
	maxWorkers int
	logger     *zerolog.Logger
	observers  []TaskObserver
}

// DAGExecutorOption configures a DAGExecutor
type DAGExecutorOption func(*DAGExecutor)

// WithMaxWorkers sets the maximum number of concurrent workers
func WithMaxWorkers(workers int) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if workers > 0 {
			de.maxWorkers = workers
		}
	}
}

// WithLogger sets the logger tasks inherit through their context.
// Without it the logger of the Execute context is used.
func WithLogger(logger zerolog.Logger) DAGExecutorOption {
	return func(de *DAGExecutor) {
		de.logger = &logger
	}
}

// WithTaskObserver registers a callback for finished tasks.
func WithTaskObserver(observer TaskObserver) DAGExecutorOption {
	return func(de *DAGExecutor) {
		de.observers = append(de.observers, observer)
	}
}

// NewDAGExecutor creates a new DAG executor with options
func NewDAGExecutor(opts ...DAGExecutorOption) *DAGExecutor {
	de := &DAGExecutor{
		maxWorkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(de)
	}
	return de
}

// DAGResult contains the results of DAG execution
type DAGResult struct {
	Success     bool
	StartTime   time.Time
	EndTime     time.Time
	TaskResults map[string]tasks.TaskResultMetadata
	Outputs     map[string][]core.Record // outputs of tasks nothing depends on
	Error       error
}

// Duration returns the wall time of the run.
func (r *DAGResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// executionContext holds state during DAG execution
type executionContext struct {
	dag         *DAG
	logger      zerolog.Logger
	taskOutputs map[string]tasks.TaskOutput
	taskResults map[string]tasks.TaskResultMetadata
	consumers   map[string]int // downstream tasks that have not run yet
	mu          sync.RWMutex
}

// Execute runs the DAG, returning the result together with the first level's
// joined task errors when the run fails.
func (de *DAGExecutor) Execute(ctx context.Context, dag *DAG) (*DAGResult, error) {
	levels, err := dag.ExecutionLevels()
	if err != nil {
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	if de.logger != nil {
		logger = de.logger
	}
	execCtx := &executionContext{
		dag:         dag,
		logger:      logger.With().Str("dag", dag.id).Logger(),
		taskOutputs: make(map[string]tasks.TaskOutput),
		taskResults: make(map[string]tasks.TaskResultMetadata),
		consumers:   make(map[string]int),
	}
	for _, deps := range dag.dependencies {
		for _, dep := range deps {
			execCtx.consumers[dep]++
		}
	}

	result := &DAGResult{StartTime: time.Now(), TaskResults: execCtx.taskResults}
	execCtx.logger.Info().Int("tasks", len(dag.tasks)).Int("levels", len(levels)).Msg("DAG execution started")

	for levelIdx, level := range levels {
		if err := ctx.Err(); err != nil {
			return de.fail(execCtx, result, err)
		}
		if err := de.executeLevel(ctx, execCtx, level); err != nil {
			return de.fail(execCtx, result, fmt.Errorf("DAG execution failed at level %d: %w", levelIdx, err))
		}
		execCtx.logger.Debug().Int("level", levelIdx).Strs("tasks", level).Msg("level completed")
	}

	result.Success = true
	result.EndTime = time.Now()
	result.Outputs = execCtx.leafOutputs()
	execCtx.logger.Info().Dur("duration", result.Duration()).Msg("DAG execution finished")
	return result, nil
}

func (de *DAGExecutor) fail(execCtx *executionContext, result *DAGResult, err error) (*DAGResult, error) {
	result.EndTime = time.Now()
	result.Error = err
	result.Outputs = execCtx.leafOutputs()
	execCtx.logger.Error().Err(err).Dur("duration", result.Duration()).Msg("DAG execution failed")
	return result, err
}

// executeLevel executes all tasks in a level concurrently. Every task of the
// level runs; the returned error joins the failures in task id order.
func (de *DAGExecutor) executeLevel(ctx context.Context, execCtx *executionContext, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}

	maxWorkers := de.maxWorkers
	if p := execCtx.dag.metadata.MaxParallelism; p > 0 && p < maxWorkers {
		maxWorkers = p
	}
	maxWorkers = min(maxWorkers, len(taskIDs))

	taskChan := make(chan int, len(taskIDs))
	errs := make([]error, len(taskIDs))
	var wg sync.WaitGroup

	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				if err := de.executeTask(ctx, execCtx, taskIDs[idx]); err != nil {
					errs[idx] = fmt.Errorf("task %s failed: %w", taskIDs[idx], err)
				}
			}
		}()
	}

	for idx := range taskIDs {
		taskChan <- idx
	}
	close(taskChan)
	wg.Wait()

	return errors.Join(errs...)
}

// executeTask executes a single task with its timeout and a task-scoped logger.
func (de *DAGExecutor) executeTask(ctx context.Context, execCtx *executionContext, taskID string) error {
	task := execCtx.dag.tasks[taskID]
	metadata := task.Metadata()

	logger := execCtx.logger.With().Str("task", taskID).Str("task_type", string(metadata.TaskType)).Logger()
	taskCtx := logger.WithContext(ctx)

	timeout := metadata.Timeout
	if timeout == 0 {
		timeout = execCtx.dag.metadata.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, timeout)
		defer cancel()
	}

	input := execCtx.prepareTaskInput(task)
	logger.Debug().Int("records_in", len(input.Records)).Msg("task started")

	start := time.Now()
	output, err := task.Execute(taskCtx, input)
	if err != nil {
		res := tasks.TaskResultMetadata{
			StartTime: start,
			EndTime:   time.Now(),
			RecordsIn: int64(len(input.Records)),
			Error:     err,
		}
		execCtx.store(taskID, task, nil, res)
		de.notify(taskID, metadata, res)
		logger.Error().Err(err).Dur("duration", res.Duration()).Msg("task failed")
		return err
	}

	res := output.Metadata
	res.Success = true
	if res.StartTime.IsZero() {
		res.StartTime = start
	}
	if res.EndTime.IsZero() {
		res.EndTime = time.Now()
	}
	execCtx.store(taskID, task, output.Records, res)
	de.notify(taskID, metadata, res)

	event := logger.Info()
	if res.Dropped > 0 {
		event = logger.Warn().Int64("dropped", res.Dropped)
	}
	event.Int64("records_in", res.RecordsIn).
		Int64("records_out", res.RecordsOut).
		Dur("duration", res.Duration()).
		Msg("task completed")
	return nil
}

func (de *DAGExecutor) notify(taskID string, metadata tasks.TaskMetadata, res tasks.TaskResultMetadata) {
	for _, observer := range de.observers {
		observer(taskID, metadata, res)
	}
}

// prepareTaskInput gathers dependency outputs in dependency order.
func (execCtx *executionContext) prepareTaskInput(task tasks.Task) tasks.TaskInput {
	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	var allRecords []core.Record
	sourceMap := make(map[string][]core.Record)
	metadataMap := make(map[string]tasks.TaskResultMetadata)

	for _, depID := range task.Dependencies() {
		if output, exists := execCtx.taskOutputs[depID]; exists {
			allRecords = append(allRecords, output.Records...)
			sourceMap[depID] = output.Records
			metadataMap[depID] = output.Metadata
		}
	}

	return tasks.TaskInput{
		Records:   allRecords,
		SourceMap: sourceMap,
		Metadata:  metadataMap,
	}
}

// store records a finished task and releases dependency outputs that no
// pending task still needs.
func (execCtx *executionContext) store(taskID string, task tasks.Task, records []core.Record, res tasks.TaskResultMetadata) {
	execCtx.mu.Lock()
	defer execCtx.mu.Unlock()

	execCtx.taskResults[taskID] = res
	if res.Success {
		execCtx.taskOutputs[taskID] = tasks.TaskOutput{Records: records, Metadata: res}
	}
	for _, dep := range task.Dependencies() {
		execCtx.consumers[dep]--
		if execCtx.consumers[dep] == 0 {
			if out, ok := execCtx.taskOutputs[dep]; ok {
				execCtx.taskOutputs[dep] = tasks.TaskOutput{Metadata: out.Metadata}
			}
		}
	}
}

func (execCtx *executionContext) leafOutputs() map[string][]core.Record {
	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	out := make(map[string][]core.Record)
	for id, output := range execCtx.taskOutputs {
		if len(execCtx.dag.GetDownstreamTasks(id)) == 0 {
			out[id] = output.Records
		}
	}
	return out
}
