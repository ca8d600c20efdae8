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

// base.go - Task interface and base types
package tasks

import (
	"context"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeSource    TaskType = "source"
	TaskTypeTransform TaskType = "transform"
	TaskTypeFilter    TaskType = "filter"
	TaskTypeDistinct  TaskType = "distinct"
	TaskTypeJoin      TaskType = "join"
	TaskTypeOrdinal   TaskType = "ordinal"
	TaskTypeSink      TaskType = "sink"
)

// TaskMetadata holds metadata about a task
type TaskMetadata struct {
	Name        string
	Description string
	TaskType    TaskType
	Timeout     time.Duration
	Tags        []string
}

// TaskInput represents input data for task execution
type TaskInput struct {
	Records   []core.Record            // all dependency outputs, in dependency order
	SourceMap map[string][]core.Record // outputs keyed by dependency id
	Metadata  map[string]TaskResultMetadata
}

// TaskOutput represents output data from task execution
type TaskOutput struct {
	Records  []core.Record
	Metadata TaskResultMetadata
}

// TaskResultMetadata holds execution result metadata
type TaskResultMetadata struct {
	StartTime  time.Time
	EndTime    time.Time
	RecordsIn  int64
	RecordsOut int64
	Dropped    int64   // records skipped by the error strategy
	Errors     []error // errors kept by CollectErrors
	Success    bool
	Error      error
}

// Duration returns the wall time of the task.
func (m TaskResultMetadata) Duration() time.Duration {
	return m.EndTime.Sub(m.StartTime)
}

// Task defines the interface that all tasks must implement
type Task interface {
	ID() string
	Dependencies() []string
	Execute(ctx context.Context, input TaskInput) (TaskOutput, error)
	Metadata() TaskMetadata
}

// taskConfig is the option target shared by every task.
type taskConfig struct {
	metadata    TaskMetadata
	strategy    core.ErrorStrategy
	handler     core.ErrorHandler
	parallelism int
}

// TaskOption is a functional option for configuring tasks
type TaskOption func(*taskConfig)

// WithTimeout sets the timeout for a task
func WithTimeout(timeout time.Duration) TaskOption {
	return func(c *taskConfig) {
		c.metadata.Timeout = timeout
	}
}

// WithDescription sets the description for a task
func WithDescription(description string) TaskOption {
	return func(c *taskConfig) {
		c.metadata.Description = description
	}
}

// WithTags adds tags to a task
func WithTags(tags ...string) TaskOption {
	return func(c *taskConfig) {
		c.metadata.Tags = append(c.metadata.Tags, tags...)
	}
}

// WithErrorStrategy sets how record-level errors are handled by source,
// transform and filter tasks. The default is core.FailFast.
func WithErrorStrategy(strategy core.ErrorStrategy) TaskOption {
	return func(c *taskConfig) {
		c.strategy = strategy
	}
}

// WithErrorHandler sets a handler consulted for each record-level error under
// core.SkipErrors. A handler returning an error stops the task.
func WithErrorHandler(handler core.ErrorHandler) TaskOption {
	return func(c *taskConfig) {
		c.handler = handler
	}
}

// WithParallelism sets how many workers a record-level task fans out to.
func WithParallelism(workers int) TaskOption {
	return func(c *taskConfig) {
		if workers > 0 {
			c.parallelism = workers
		}
	}
}

// base carries identity, dependencies and configuration for a task.
type base struct {
	id           string
	dependencies []string
	cfg          taskConfig
}

func newBase(id string, taskType TaskType, dependencies []string, options []TaskOption) base {
	b := base{
		id:           id,
		dependencies: append([]string(nil), dependencies...),
		cfg: taskConfig{
			metadata:    TaskMetadata{Name: id, TaskType: taskType},
			parallelism: 1,
		},
	}
	for _, opt := range options {
		opt(&b.cfg)
	}
	return b
}

func (b *base) ID() string             { return b.id }
func (b *base) Dependencies() []string { return b.dependencies }
func (b *base) Metadata() TaskMetadata { return b.cfg.metadata }

func (b *base) processor() recordProcessor {
	return recordProcessor{strategy: b.cfg.strategy, handler: b.cfg.handler, parallelism: b.cfg.parallelism}
}

func result(start time.Time, in, out int) TaskResultMetadata {
	return TaskResultMetadata{
		StartTime:  start,
		EndTime:    time.Now(),
		RecordsIn:  int64(in),
		RecordsOut: int64(out),
		Success:    true,
	}
}
