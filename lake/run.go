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

package lake

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/songlake/dag"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/writers"
)

// Report summarizes a run.
type Report struct {
	Result  *dag.DAGResult
	Tables  map[string]writers.Result // tables written, keyed by name
	Dropped map[string]int64          // malformed records dropped, keyed by task id
}

// Written returns the names of the tables written, sorted.
func (r *Report) Written() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run builds and executes the DAG. The report is returned even when the run
// fails so callers can see which tables were written.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	report := &Report{Tables: map[string]writers.Result{}, Dropped: map[string]int64{}}

	d, err := j.Build(ctx)
	if err != nil {
		return report, err
	}
	defer Release(d)

	opts := []dag.DAGExecutorOption{dag.WithMaxWorkers(j.maxWorkers)}
	for _, o := range j.observers {
		opts = append(opts, dag.WithTaskObserver(o))
	}
	result, runErr := dag.NewDAGExecutor(opts...).Execute(ctx, d)
	report.Result = result

	if result != nil {
		for id, res := range result.TaskResults {
			if res.Dropped > 0 {
				report.Dropped[id] = res.Dropped
			}
		}
	}
	for id, task := range d.GetTasksByType(tasks.TaskTypeSink) {
		sink := task.(*tasks.SinkTask)
		if result == nil || !result.TaskResults[id].Success {
			continue
		}
		report.Tables[sink.Table().Name] = sink.Result()
	}

	logger := zerolog.Ctx(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Strs("tables_written", report.Written()).Msg("run failed, output may be partial")
		return report, runErr
	}
	logger.Info().Strs("tables_written", report.Written()).Msg("run completed")
	return report, nil
}

// Release closes the sources of a DAG built by Job.Build. Sources that already
// ran are closed once only.
func Release(d *dag.DAG) error {
	var errs []error
	for _, task := range d.GetTasksByType(tasks.TaskTypeSource) {
		if c, ok := task.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
