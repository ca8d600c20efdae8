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
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aaronlmathis/songlake/dag/tasks"
)

// ErrCycle is returned when the dependency graph is not acyclic.
var ErrCycle = errors.New("DAG contains cycles")

// GetTasks returns all tasks in the DAG
func (d *DAG) GetTasks() map[string]tasks.Task {
	return d.tasks
}

// GetTask returns the task with the given id.
func (d *DAG) GetTask(taskID string) (tasks.Task, bool) {
	t, ok := d.tasks[taskID]
	return t, ok
}

// GetDependencies returns the dependencies for a specific task
func (d *DAG) GetDependencies(taskID string) []string {
	if deps, exists := d.dependencies[taskID]; exists {
		return deps
	}
	return []string{}
}

// GetTasksByType returns tasks filtered by type
func (d *DAG) GetTasksByType(taskType tasks.TaskType) map[string]tasks.Task {
	result := make(map[string]tasks.Task)
	for id, task := range d.tasks {
		if task.Metadata().TaskType == taskType {
			result[id] = task
		}
	}
	return result
}

// GetTaskCount returns the total number of tasks
func (d *DAG) GetTaskCount() int {
	return len(d.tasks)
}

// HasTask checks if a task exists in the DAG
func (d *DAG) HasTask(taskID string) bool {
	_, exists := d.tasks[taskID]
	return exists
}

// GetDownstreamTasks returns all tasks that depend on this task, sorted.
func (d *DAG) GetDownstreamTasks(taskID string) []string {
	var downstream []string
	for id, deps := range d.dependencies {
		for _, dep := range deps {
			if dep == taskID {
				downstream = append(downstream, id)
				break
			}
		}
	}
	sort.Strings(downstream)
	return downstream
}

// GetMetadata returns the DAG's metadata
func (d *DAG) GetMetadata() DAGMetadata {
	return d.metadata
}

// GetID returns the DAG's unique identifier
func (d *DAG) GetID() string {
	return d.id
}

// GetName returns the DAG's name
func (d *DAG) GetName() string {
	return d.name
}

// GetMaxParallelism returns the configured maximum parallelism
func (d *DAG) GetMaxParallelism() int {
	return d.metadata.MaxParallelism
}

// GetDefaultTimeout returns the default timeout for tasks
func (d *DAG) GetDefaultTimeout() time.Duration {
	return d.metadata.DefaultTimeout
}

// Describe writes a human-readable view of the DAG, one level at a time.
func (d *DAG) Describe(w io.Writer) error {
	levels, err := d.ExecutionLevels()
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DAG: %s (%s)", d.name, d.id)
	if d.metadata.Description != "" {
		fmt.Fprintf(&b, " - %s", d.metadata.Description)
	}
	fmt.Fprintf(&b, "\n  tasks: %d, levels: %d\n", len(d.tasks), len(levels))
	for i, level := range levels {
		fmt.Fprintf(&b, "level %d\n", i)
		for _, id := range level {
			metadata := d.tasks[id].Metadata()
			fmt.Fprintf(&b, "  %s [%s]", id, metadata.TaskType)
			if deps := d.GetDependencies(id); len(deps) > 0 {
				fmt.Fprintf(&b, " <- %s", strings.Join(deps, ", "))
			}
			if metadata.Description != "" {
				fmt.Fprintf(&b, "  # %s", metadata.Description)
			}
			b.WriteByte('\n')
		}
	}
	_, err = io.WriteString(w, b.String())
	return err
}

// ValidateDAGStructure reports every structural problem: missing
// dependencies, cycles and invalid task settings.
func (d *DAG) ValidateDAGStructure() []error {
	var errs []error

	ids := d.sortedIDs()
	for _, taskID := range ids {
		for _, dep := range d.dependencies[taskID] {
			if !d.HasTask(dep) {
				errs = append(errs, fmt.Errorf("task %s depends on non-existent task %s", taskID, dep))
			}
		}
	}

	if d.hasCycle() {
		errs = append(errs, ErrCycle)
	}

	for _, taskID := range ids {
		task := d.tasks[taskID]
		if task.Metadata().Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %s has invalid negative timeout", taskID))
		}
		if jt, ok := task.(*tasks.JoinTask); ok {
			if len(jt.Dependencies()) != 2 {
				errs = append(errs, fmt.Errorf("join task %s requires 2 dependencies, got %d", taskID, len(jt.Dependencies())))
			}
			if err := jt.Config().Validate(); err != nil {
				errs = append(errs, fmt.Errorf("join task %s: %w", taskID, err))
			}
		}
	}

	return errs
}

// GetExecutionOrder returns tasks in topological execution order
func (d *DAG) GetExecutionOrder() ([]string, error) {
	return d.topologicalSort()
}

// ExecutionLevels groups tasks by dependency depth. Tasks of one level only
// depend on earlier levels and may run concurrently. IDs within a level are sorted.
func (d *DAG) ExecutionLevels() ([][]string, error) {
	order, err := d.topologicalSort()
	if err != nil {
		return nil, err
	}

	taskLevel := make(map[string]int, len(order))
	maxLevel := -1
	for _, taskID := range order {
		level := 0
		for _, dep := range d.dependencies[taskID] {
			if l, ok := taskLevel[dep]; ok && l+1 > level {
				level = l + 1
			}
		}
		taskLevel[taskID] = level
		maxLevel = max(maxLevel, level)
	}

	levels := make([][]string, maxLevel+1)
	for _, taskID := range order {
		levels[taskLevel[taskID]] = append(levels[taskLevel[taskID]], taskID)
	}
	for _, level := range levels {
		sort.Strings(level)
	}
	return levels, nil
}

func (d *DAG) sortedIDs() []string {
	ids := make([]string, 0, len(d.tasks))
	for id := range d.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *DAG) hasCycle() bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, taskID := range d.sortedIDs() {
		if !visited[taskID] {
			if d.dfsHasCycle(taskID, visited, recStack) {
				return true
			}
		}
	}
	return false
}

func (d *DAG) dfsHasCycle(taskID string, visited, recStack map[string]bool) bool {
	visited[taskID] = true
	recStack[taskID] = true

	for _, dep := range d.dependencies[taskID] {
		if !visited[dep] {
			if d.dfsHasCycle(dep, visited, recStack) {
				return true
			}
		} else if recStack[dep] {
			return true
		}
	}

	recStack[taskID] = false
	return false
}

// topologicalSort performs Kahn's algorithm. Ready tasks are taken in ID
// order so the result is deterministic.
func (d *DAG) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.tasks))
	downstream := make(map[string][]string, len(d.tasks))
	for _, taskID := range d.sortedIDs() {
		for _, dep := range d.dependencies[taskID] {
			if !d.HasTask(dep) {
				return nil, fmt.Errorf("task %s depends on non-existent task %s", taskID, dep)
			}
			inDegree[taskID]++
			downstream[dep] = append(downstream[dep], taskID)
		}
	}

	var ready []string
	for _, taskID := range d.sortedIDs() {
		if inDegree[taskID] == 0 {
			ready = append(ready, taskID)
		}
	}

	result := make([]string, 0, len(d.tasks))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		for _, taskID := range downstream[current] {
			inDegree[taskID]--
			if inDegree[taskID] == 0 {
				ready = append(ready, taskID)
				sort.Strings(ready)
			}
		}
	}

	if len(result) != len(d.tasks) {
		return nil, ErrCycle
	}
	return result, nil
}
