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

// Package metrics records run metrics in a prometheus registry owned by the
// run. A batch job has no scrape endpoint, so the registry is pushed to a
// Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/writers"
)

const namespace = "songlake"

// Run holds the collectors of one run.
type Run struct {
	registry     *prometheus.Registry
	recordsRead  *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	rowsWritten  *prometheus.CounterVec
	filesWritten *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskFailures *prometheus.CounterVec
}

// NewRun creates a Run with a fresh registry.
func NewRun() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		recordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Raw records read per source task.",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Malformed records dropped per stage.",
		}, []string{"stage"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written per output table.",
		}, []string{"table"}),
		filesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Parquet files written per output table.",
		}, []string{"table"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written per output table.",
		}, []string{"table"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of each DAG task.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"task"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed DAG tasks.",
		}, []string{"task"}),
	}
	r.registry.MustRegister(
		r.recordsRead,
		r.dropped,
		r.rowsWritten,
		r.filesWritten,
		r.bytesWritten,
		r.taskDuration,
		r.taskFailures,
	)
	return r
}

// Registry exposes the run registry.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveTask records the result of one task. Its signature matches
// dag.TaskObserver.
func (r *Run) ObserveTask(taskID string, metadata tasks.TaskMetadata, result tasks.TaskResultMetadata) {
	r.taskDuration.WithLabelValues(taskID).Observe(result.Duration().Seconds())
	if !result.Success {
		r.taskFailures.WithLabelValues(taskID).Inc()
	}
	if metadata.TaskType == tasks.TaskTypeSource {
		r.recordsRead.WithLabelValues(taskID).Add(float64(result.RecordsOut + result.Dropped))
	}
	if result.Dropped > 0 {
		r.dropped.WithLabelValues(taskID).Add(float64(result.Dropped))
	}
}

// ObserveTable records a written table.
func (r *Run) ObserveTable(result writers.Result) {
	r.rowsWritten.WithLabelValues(result.Table).Add(float64(result.Rows))
	r.filesWritten.WithLabelValues(result.Table).Add(float64(result.Files))
	r.bytesWritten.WithLabelValues(result.Table).Add(float64(result.Bytes))
}

// Push replaces the metrics of job on the Pushgateway at url.
func (r *Run) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return fmt.Errorf("push gateway url is required")
	}
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
