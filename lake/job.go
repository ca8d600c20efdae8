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

// Package lake assembles the star schema job: two raw NDJSON datasets in, five
// partitioned tables out.
//
// The DAG it builds, per run:
//
//	song_source -> song_conform -> songs_distinct   -> songs_sink
//	                            -> artists_distinct -> artists_sink
//	log_source -> play_filter -> log_conform -> log_distinct
//	    log_distinct -> users_project -> users_distinct -> users_sink
//	    log_distinct -> time_enrich -> time_distinct -> time_sink
//	(time_enrich, song_conform) -> songplays_join -> songplays_ordinal -> songplays_sink
//
// Non-play events are filtered before conforming, so their missing user ids
// are not counted as malformed.
package lake

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/dag"
	"github.com/aaronlmathis/songlake/dag/tasks"
	"github.com/aaronlmathis/songlake/filter"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/storage"
	"github.com/aaronlmathis/songlake/transform"
	"github.com/aaronlmathis/songlake/writers"
)

// Task ids of the star schema DAG.
const (
	TaskSongSource       = "song_source"
	TaskSongConform      = "song_conform"
	TaskSongsDistinct    = "songs_distinct"
	TaskArtistsDistinct  = "artists_distinct"
	TaskLogSource        = "log_source"
	TaskPlayFilter       = "play_filter"
	TaskLogConform       = "log_conform"
	TaskLogDistinct      = "log_distinct"
	TaskUsersProject     = "users_project"
	TaskUsersDistinct    = "users_distinct"
	TaskTimeEnrich       = "time_enrich"
	TaskTimeDistinct     = "time_distinct"
	TaskSongplaysJoin    = "songplays_join"
	TaskSongplaysOrdinal = "songplays_ordinal"
)

// SinkTaskID returns the id of the task writing table.
func SinkTaskID(table string) string { return table + "_sink" }

// SongplaysJoin matches play events to catalog songs on artist name and title.
var SongplaysJoin = tasks.JoinConfig{
	JoinType:  tasks.InnerJoin,
	LeftKeys:  []string{"artist", "song"},
	RightKeys: []string{"artist_name", "title"},
	Projection: []tasks.JoinField{
		{Side: tasks.Left, Field: "start_time"},
		{Side: tasks.Left, Field: "userId", As: "user_id"},
		{Side: tasks.Left, Field: "level"},
		{Side: tasks.Right, Field: "song_id"},
		{Side: tasks.Right, Field: "artist_id"},
		{Side: tasks.Left, Field: "sessionId", As: "session_id"},
		{Side: tasks.Left, Field: "location"},
		{Side: tasks.Left, Field: "userAgent", As: "user_agent"},
		{Side: tasks.Left, Field: "year"},
		{Side: tasks.Left, Field: "month"},
	},
}

var userProjection = []transform.Column{
	{From: "userId", As: "user_id"},
	{From: "firstName", As: "first_name"},
	{From: "lastName", As: "last_name"},
	{From: "gender"},
	{From: "level"},
}

// Job holds the collaborators of one run.
type Job struct {
	input       storage.Location
	sink        writers.TableWriter
	songPattern string
	logPattern  string
	parallelism int
	maxWorkers  int
	timeout     time.Duration
	onDrop      func(stage string, err error)
	observers   []dag.TaskObserver
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithPatterns overrides the dataset discovery patterns.
func WithPatterns(songPattern, logPattern string) JobOption {
	return func(j *Job) {
		if songPattern != "" {
			j.songPattern = songPattern
		}
		if logPattern != "" {
			j.logPattern = logPattern
		}
	}
}

// WithParallelism sets the record-level fan-out of transform tasks.
func WithParallelism(n int) JobOption {
	return func(j *Job) { j.parallelism = n }
}

// WithMaxWorkers bounds the tasks running at once.
func WithMaxWorkers(n int) JobOption {
	return func(j *Job) { j.maxWorkers = n }
}

// WithTaskTimeout bounds every task. Zero means no limit.
func WithTaskTimeout(d time.Duration) JobOption {
	return func(j *Job) { j.timeout = d }
}

// WithDropHandler is called for every malformed record that is dropped.
func WithDropHandler(fn func(stage string, err error)) JobOption {
	return func(j *Job) { j.onDrop = fn }
}

// WithObserver registers a task observer, e.g. a metrics recorder.
func WithObserver(observer dag.TaskObserver) JobOption {
	return func(j *Job) { j.observers = append(j.observers, observer) }
}

// NewJob creates a job reading raw data from input and writing tables to sink.
func NewJob(input storage.Location, sink writers.TableWriter, opts ...JobOption) *Job {
	j := &Job{
		input:       input,
		sink:        sink,
		songPattern: readers.SongDataPattern,
		logPattern:  readers.LogDataPattern,
		parallelism: 1,
		maxWorkers:  4,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Build discovers both datasets and assembles the DAG. Missing or unreadable
// input fails here, before any table is overwritten.
func (j *Job) Build(ctx context.Context) (*dag.DAG, error) {
	songs, err := readers.NewDatasetReader(ctx, j.input, j.songPattern)
	if err != nil {
		return nil, fmt.Errorf("song data: %w", err)
	}
	events, err := readers.NewDatasetReader(ctx, j.input, j.logPattern)
	if err != nil {
		songs.Close()
		return nil, fmt.Errorf("log data: %w", err)
	}

	b := dag.NewDAG("songlake", "star schema").
		WithDescription("songs, artists, users, time and songplays from raw song and log data").
		WithMaxParallelism(j.maxWorkers).
		WithDefaultTimeout(j.timeout)

	// Catalog branch.
	b.AddSourceTask(TaskSongSource, songs, j.lenient(TaskSongSource)...).
		AddTransformTask(TaskSongConform, transform.Conform(schema.CatalogFields), []string{TaskSongSource},
			j.lenient(TaskSongConform, tasks.WithDescription("coerce catalog entries"))...).
		AddDistinctTask(TaskSongsDistinct, schema.Songs.ColumnNames(), []string{TaskSongConform}).
		AddDistinctTask(TaskArtistsDistinct, schema.Artists.ColumnNames(), []string{TaskSongConform})

	// Activity branch.
	b.AddSourceTask(TaskLogSource, events, j.lenient(TaskLogSource)...).
		AddFilterTask(TaskPlayFilter, filter.PlayEvents(), []string{TaskLogSource}, tasks.WithParallelism(j.parallelism)).
		AddTransformTask(TaskLogConform, transform.Conform(schema.EventFields), []string{TaskPlayFilter},
			j.lenient(TaskLogConform, tasks.WithDescription("coerce play events"))...).
		AddDistinctTask(TaskLogDistinct, fieldNames(schema.EventFields), []string{TaskLogConform}).
		AddTransformTask(TaskUsersProject, transform.Project(userProjection...), []string{TaskLogDistinct},
			tasks.WithParallelism(j.parallelism)).
		AddDistinctTask(TaskUsersDistinct, schema.Users.ColumnNames(), []string{TaskUsersProject}).
		AddTransformTask(TaskTimeEnrich, transform.EnrichTimestamp("ts"), []string{TaskLogDistinct},
			j.lenient(TaskTimeEnrich)...).
		AddDistinctTask(TaskTimeDistinct, schema.Time.ColumnNames(), []string{TaskTimeEnrich})

	// Fact branch. The join's left side keeps every enriched play event and
	// the ordinal task is the single global barrier.
	b.AddJoinTask(TaskSongplaysJoin, SongplaysJoin, []string{TaskTimeEnrich, TaskSongConform},
		tasks.WithDescription("match plays to catalog songs")).
		AddOrdinalTask(TaskSongplaysOrdinal, "start_time", "songplay_id", []string{TaskSongplaysJoin})

	sources := map[string]string{
		schema.Songs.Name:     TaskSongsDistinct,
		schema.Artists.Name:   TaskArtistsDistinct,
		schema.Users.Name:     TaskUsersDistinct,
		schema.Time.Name:      TaskTimeDistinct,
		schema.Songplays.Name: TaskSongplaysOrdinal,
	}
	for _, table := range schema.StarSchema() {
		b.AddSinkTask(SinkTaskID(table.Name), j.sink, table, []string{sources[table.Name]},
			tasks.WithDescription("write "+table.Name))
	}

	d, err := b.Build()
	if err != nil {
		songs.Close()
		events.Close()
		return nil, err
	}
	return d, nil
}

// lenient returns the options of a stage that drops malformed records.
func (j *Job) lenient(stage string, extra ...tasks.TaskOption) []tasks.TaskOption {
	opts := []tasks.TaskOption{
		tasks.WithErrorStrategy(core.SkipErrors),
		tasks.WithErrorHandler(core.DropMalformed(func(err error) {
			if j.onDrop != nil {
				j.onDrop(stage, err)
			}
		})),
		tasks.WithParallelism(j.parallelism),
	}
	return append(opts, extra...)
}

func fieldNames(fields []schema.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
