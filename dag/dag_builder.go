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

// dag_builder.go - Fluent API for DAG construction
package dag

import (
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/writers"
)

// DAGBuilder provides a fluent API for constructing DAGs.
// Problems found while adding tasks are reported together by Build.
type DAGBuilder struct {
	dag  *DAG
	errs []error
}

// NewDAG creates a new DAG builder
func NewDAG(id, name string) *DAGBuilder {
	return &DAGBuilder{
		dag: &DAG{
			id:           id,
			name:         name,
			tasks:        make(map[string]tasks.Task),
			dependencies: make(map[string][]string),
			metadata: DAGMetadata{
				MaxParallelism: 4,
			},
		},
	}
}

// AddTask adds any task implementation to the DAG.
func (db *DAGBuilder) AddTask(task tasks.Task) *DAGBuilder {
	id := task.ID()
	if id == "" {
		db.errs = append(db.errs, fmt.Errorf("task of type %s has an empty id", task.Metadata().TaskType))
		return db
	}
	if _, exists := db.dag.tasks[id]; exists {
		db.errs = append(db.errs, fmt.Errorf("duplicate task id %s", id))
		return db
	}
	db.dag.tasks[id] = task
	if deps := task.Dependencies(); len(deps) > 0 {
		db.dag.dependencies[id] = deps
	}
	return db
}

// AddSourceTask adds a data source task to the DAG
func (db *DAGBuilder) AddSourceTask(id string, source core.DataSource, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewSourceTask(id, source, opts...))
}

// AddTransformTask adds a transformation task to the DAG
func (db *DAGBuilder) AddTransformTask(id string, transformer core.Transformer, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewTransformTask(id, transformer, dependencies, opts...))
}

// AddFilterTask adds a filter task to the DAG
func (db *DAGBuilder) AddFilterTask(id string, filter core.Filter, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewFilterTask(id, filter, dependencies, opts...))
}

// AddDistinctTask adds a deduplication task over columns.
func (db *DAGBuilder) AddDistinctTask(id string, columns []string, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewDistinctTask(id, columns, dependencies, opts...))
}

// AddJoinTask adds a join operation task to the DAG
func (db *DAGBuilder) AddJoinTask(id string, config tasks.JoinConfig, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewJoinTask(id, config, dependencies, opts...))
}

// AddOrdinalTask adds a global sort-then-number task.
func (db *DAGBuilder) AddOrdinalTask(id, orderField, keyField string, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewOrdinalTask(id, orderField, keyField, dependencies, opts...))
}

// AddSinkTask adds a table sink task to the DAG
func (db *DAGBuilder) AddSinkTask(id string, writer writers.TableWriter, table schema.Table, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewSinkTask(id, writer, table, dependencies, opts...))
}

// WithDescription sets the DAG description
func (db *DAGBuilder) WithDescription(description string) *DAGBuilder {
	db.dag.metadata.Description = description
	return db
}

// WithMaxParallelism sets the maximum number of concurrent tasks
func (db *DAGBuilder) WithMaxParallelism(max int) *DAGBuilder {
	db.dag.metadata.MaxParallelism = max
	return db
}

// WithDefaultTimeout sets the default timeout for all tasks
func (db *DAGBuilder) WithDefaultTimeout(timeout time.Duration) *DAGBuilder {
	db.dag.metadata.DefaultTimeout = timeout
	return db
}

// Build validates and returns the constructed DAG
func (db *DAGBuilder) Build() (*DAG, error) {
	errs := append([]error(nil), db.errs...)
	if len(db.dag.tasks) == 0 {
		errs = append(errs, fmt.Errorf("DAG %s has no tasks", db.dag.id))
	}
	errs = append(errs, db.dag.ValidateDAGStructure()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid DAG %s: %w", db.dag.id, errors.Join(errs...))
	}
	return db.dag, nil
}
