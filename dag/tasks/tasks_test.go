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

package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/writers"
)

// sliceSource replays records, returning errs[i] instead of records[i] when set.
type sliceSource struct {
	records []core.Record
	errs    map[int]error
	pos     int
	closed  int
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	i := s.pos
	s.pos++
	if err, ok := s.errs[i]; ok {
		return nil, err
	}
	return s.records[i], nil
}

func (s *sliceSource) Close() error {
	s.closed++
	return nil
}

func TestSourceTask_MalformedAreCounted(t *testing.T) {
	src := &sliceSource{
		records: []core.Record{{"n": 1}, nil, {"n": 3}},
		errs:    map[int]error{1: core.Malformed("", "bad line")},
	}
	task := NewSourceTask("src", src, WithErrorStrategy(core.SkipErrors))

	out, err := task.Execute(context.Background(), TaskInput{})
	require.NoError(t, err)
	assert.Len(t, out.Records, 2)
	assert.Equal(t, int64(1), out.Metadata.Dropped)
	assert.Equal(t, 1, src.closed)

	require.NoError(t, task.Close())
	assert.Equal(t, 1, src.closed, "close is idempotent")
}

func TestSourceTask_ReadFailureIsFatal(t *testing.T) {
	src := &sliceSource{
		records: []core.Record{{"n": 1}, nil},
		errs:    map[int]error{1: fmt.Errorf("%w: disk gone", core.ErrSourceRead)},
	}
	task := NewSourceTask("src", src, WithErrorStrategy(core.SkipErrors))

	_, err := task.Execute(context.Background(), TaskInput{})
	assert.ErrorIs(t, err, core.ErrSourceRead)
	assert.Equal(t, 1, src.closed)
}

func TestSourceTask_FailFastOnMalformed(t *testing.T) {
	src := &sliceSource{
		records: []core.Record{nil},
		errs:    map[int]error{0: core.Malformed("ts", "negative")},
	}
	_, err := NewSourceTask("src", src).Execute(context.Background(), TaskInput{})
	assert.ErrorIs(t, err, core.ErrMalformedRecord)
}

func numbered(n int) []core.Record {
	out := make([]core.Record, n)
	for i := range out {
		out[i] = core.Record{"n": i}
	}
	return out
}

var rejectOdd = core.TransformFunc(func(ctx context.Context, r core.Record) (core.Record, error) {
	if r["n"].(int)%2 == 1 {
		return nil, core.Malformed("n", "odd")
	}
	out := r.Clone()
	out["double"] = r["n"].(int) * 2
	return out, nil
})

func TestTransformTask_ErrorStrategies(t *testing.T) {
	input := TaskInput{Records: numbered(10)}

	t.Run("fail fast", func(t *testing.T) {
		_, err := NewTransformTask("t", rejectOdd, []string{"src"}).Execute(context.Background(), input)
		assert.ErrorIs(t, err, core.ErrMalformedRecord)
	})

	t.Run("skip with handler", func(t *testing.T) {
		var seen atomic.Int64
		task := NewTransformTask("t", rejectOdd, []string{"src"},
			WithErrorStrategy(core.SkipErrors),
			WithErrorHandler(core.DropMalformed(func(error) { seen.Add(1) })),
			WithParallelism(3),
		)
		out, err := task.Execute(context.Background(), input)
		require.NoError(t, err)
		require.Len(t, out.Records, 5)
		for i, r := range out.Records {
			assert.Equal(t, i*2, r["n"], "input order is preserved")
			assert.Equal(t, i*4, r["double"])
		}
		assert.Equal(t, int64(5), out.Metadata.Dropped)
		assert.Equal(t, int64(5), seen.Load())
		assert.Equal(t, int64(10), out.Metadata.RecordsIn)
	})

	t.Run("handler rejects other errors", func(t *testing.T) {
		boom := core.TransformFunc(func(ctx context.Context, r core.Record) (core.Record, error) {
			return nil, errors.New("boom")
		})
		task := NewTransformTask("t", boom, nil,
			WithErrorStrategy(core.SkipErrors),
			WithErrorHandler(core.DropMalformed(nil)),
		)
		_, err := task.Execute(context.Background(), input)
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("collect", func(t *testing.T) {
		task := NewTransformTask("t", rejectOdd, nil, WithErrorStrategy(core.CollectErrors), WithParallelism(4))
		out, err := task.Execute(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, out.Metadata.Errors, 5)
	})
}

func TestFilterTask(t *testing.T) {
	even := core.FilterFunc(func(ctx context.Context, r core.Record) (bool, error) {
		return r["n"].(int)%2 == 0, nil
	})
	out, err := NewFilterTask("f", even, nil, WithParallelism(2)).Execute(context.Background(), TaskInput{Records: numbered(7)})
	require.NoError(t, err)
	require.Len(t, out.Records, 4)
	assert.Equal(t, 6, out.Records[3]["n"])
	assert.Equal(t, int64(0), out.Metadata.Dropped)
}

func TestDistinctAndOrdinalTasks(t *testing.T) {
	t0 := time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)
	rows := []core.Record{
		{"start_time": t0.Add(2 * time.Second), "id": "c"},
		{"start_time": t0, "id": "a"},
		{"start_time": t0, "id": "a"},
		{"start_time": t0.Add(time.Second), "id": "b"},
	}

	distinct := NewDistinctTask("d", []string{"start_time", "id"}, nil)
	assert.Equal(t, TaskTypeDistinct, distinct.Metadata().TaskType)
	out, err := distinct.Execute(context.Background(), TaskInput{Records: rows})
	require.NoError(t, err)
	require.Len(t, out.Records, 3)

	ordinal := NewOrdinalTask("o", "start_time", "songplay_id", []string{"d"})
	out, err = ordinal.Execute(context.Background(), TaskInput{Records: out.Records})
	require.NoError(t, err)
	require.Len(t, out.Records, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, out.Records[i]["id"])
		assert.Equal(t, int64(i+1), out.Records[i]["songplay_id"])
	}
}

var playJoin = JoinConfig{
	JoinType:  InnerJoin,
	LeftKeys:  []string{"artist", "song"},
	RightKeys: []string{"artist_name", "title"},
	Projection: []JoinField{
		{Side: Left, Field: "ts"},
		{Side: Left, Field: "userId", As: "user_id"},
		{Side: Right, Field: "song_id"},
	},
}

func TestJoin_InnerFanOutAndNullKeys(t *testing.T) {
	left := []core.Record{
		{"artist": "Band", "song": "Test", "ts": int64(1), "userId": int64(5)},
		{"artist": "Nobody", "song": "Test", "ts": int64(2), "userId": int64(6)},
		{"artist": nil, "song": "Test", "ts": int64(3), "userId": int64(7)},
		{"artist": "Band", "song": "Test", "ts": int64(4), "userId": int64(8)},
	}
	right := []core.Record{
		{"artist_name": "Band", "title": "Test", "song_id": "S1"},
		{"artist_name": nil, "title": "Test", "song_id": "SX"},
		{"artist_name": "Band", "title": "Test", "song_id": "S2"},
	}

	out, err := Join(context.Background(), playJoin, left, right)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, core.Record{"ts": int64(1), "user_id": int64(5), "song_id": "S1"}, out[0])
	assert.Equal(t, core.Record{"ts": int64(1), "user_id": int64(5), "song_id": "S2"}, out[1])
	assert.Equal(t, int64(4), out[2]["ts"])
	assert.Equal(t, "S2", out[3]["song_id"])
}

func TestJoin_LeftKeepsUnmatched(t *testing.T) {
	config := playJoin
	config.JoinType = LeftJoin
	left := []core.Record{{"artist": "Nobody", "song": "Test", "ts": int64(2), "userId": int64(6)}}

	out, err := Join(context.Background(), config, left, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, core.Record{"ts": int64(2), "user_id": int64(6), "song_id": nil}, out[0])
}

func TestJoin_TypedKeys(t *testing.T) {
	config := JoinConfig{JoinType: InnerJoin, LeftKeys: []string{"k"}, RightKeys: []string{"k"}}
	out, err := Join(context.Background(), config,
		[]core.Record{{"k": int64(1), "v": "l"}},
		[]core.Record{{"k": "1", "v": "r"}, {"k": int64(1), "v": "r2"}},
	)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, core.Record{"k": int64(1), "v": "l", "right_k": int64(1), "right_v": "r2"}, out[0])
}

func TestJoinTask_Execute(t *testing.T) {
	task := NewJoinTask("j", playJoin, []string{"events", "songs"})
	input := TaskInput{SourceMap: map[string][]core.Record{
		"events": {{"artist": "Band", "song": "Test", "ts": int64(1), "userId": int64(5)}},
		"songs":  {{"artist_name": "Band", "title": "Test", "song_id": "S1"}},
	}}
	out, err := task.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, out.Records, 1)
	assert.Equal(t, int64(2), out.Metadata.RecordsIn)

	_, err = NewJoinTask("j", playJoin, []string{"events"}).Execute(context.Background(), input)
	assert.ErrorContains(t, err, "requires 2 dependencies")
}

func TestJoinConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config JoinConfig
		errMsg string
	}{
		{"valid", playJoin, ""},
		{"bad type", JoinConfig{JoinType: "outer", LeftKeys: []string{"a"}, RightKeys: []string{"a"}}, "unsupported join type"},
		{"key mismatch", JoinConfig{JoinType: InnerJoin, LeftKeys: []string{"a", "b"}, RightKeys: []string{"a"}}, "matching key lists"},
		{"no keys", JoinConfig{JoinType: InnerJoin}, "matching key lists"},
		{"duplicate output", JoinConfig{
			JoinType: InnerJoin, LeftKeys: []string{"a"}, RightKeys: []string{"a"},
			Projection: []JoinField{{Side: Left, Field: "a"}, {Side: Right, Field: "a"}},
		}, "appears twice"},
		{"bad side", JoinConfig{
			JoinType: InnerJoin, LeftKeys: []string{"a"}, RightKeys: []string{"a"},
			Projection: []JoinField{{Side: "middle", Field: "a"}},
		}, "invalid side"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

type recordingWriter struct {
	table string
	rows  int
	err   error
}

func (w *recordingWriter) WriteTable(ctx context.Context, table schema.Table, records []core.Record) (writers.Result, error) {
	if w.err != nil {
		return writers.Result{}, w.err
	}
	w.table, w.rows = table.Name, len(records)
	return writers.Result{Table: table.Name, Rows: int64(len(records)), Files: 1}, nil
}

func TestSinkTask(t *testing.T) {
	w := &recordingWriter{}
	task := NewSinkTask("users_sink", w, schema.Users, []string{"users"}, WithDescription("write users"))
	out, err := task.Execute(context.Background(), TaskInput{Records: numbered(3)})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
	assert.Equal(t, "users", w.table)
	assert.Equal(t, 3, w.rows)
	assert.Equal(t, int64(1), task.Result().Files)
	assert.Equal(t, "write users", task.Metadata().Description)

	failing := NewSinkTask("s", &recordingWriter{err: fmt.Errorf("%w: disk full", core.ErrSinkWrite)}, schema.Users, nil)
	_, err = failing.Execute(context.Background(), TaskInput{})
	assert.ErrorIs(t, err, core.ErrSinkWrite)
}
