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

package aggregate

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
)

var userColumns = []string{"user_id", "first_name", "last_name", "gender", "level"}

func TestDistinct_FullRowIdentity(t *testing.T) {
	rows := []core.Record{
		{"user_id": int64(5), "first_name": "Ann", "last_name": "Lee", "gender": "F", "level": "free", "ts": int64(1)},
		{"user_id": int64(5), "first_name": "Ann", "last_name": "Lee", "gender": "F", "level": "free", "ts": int64(2)},
		{"user_id": int64(5), "first_name": "Ann", "last_name": "Lee", "gender": "F", "level": "paid"},
		{"user_id": int64(6), "first_name": nil, "last_name": nil, "gender": nil, "level": "free"},
		{"user_id": int64(6), "first_name": nil, "last_name": nil, "gender": nil, "level": "free"},
	}

	out, err := Distinct(userColumns...).Apply(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "free", out[0]["level"])
	assert.Equal(t, "paid", out[1]["level"])
	assert.Equal(t, int64(6), out[2]["user_id"])
	assert.NotContains(t, out[0], "ts", "only identity columns are emitted")
}

func TestDistinct_Idempotent(t *testing.T) {
	rows := []core.Record{
		{"a": "x", "b": int64(1)},
		{"a": "x", "b": "1"},
		{"a": "x", "b": int64(1)},
		{"a": nil, "b": 1.5},
		{"a": "", "b": 1.5},
	}
	op := Distinct("a", "b")

	once, err := op.Apply(context.Background(), rows)
	require.NoError(t, err)
	twice, err := op.Apply(context.Background(), once)
	require.NoError(t, err)

	assert.Len(t, once, 4)
	assert.Equal(t, once, twice)
}

func TestRowKey(t *testing.T) {
	t1 := time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)

	k1, err := RowKey(core.Record{"a": "x\x1fy", "b": nil}, []string{"a", "b"})
	require.NoError(t, err)
	k2, err := RowKey(core.Record{"a": "x", "b": "y"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "separator inside a value must not collide")

	k3, err := RowKey(core.Record{"t": t1}, []string{"t"})
	require.NoError(t, err)
	k4, err := RowKey(core.Record{"t": t1.In(time.FixedZone("X", 3600))}, []string{"t"})
	require.NoError(t, err)
	assert.Equal(t, k3, k4, "same instant in another zone is the same value")

	_, err = RowKey(core.Record{"m": map[string]int{}}, []string{"m"})
	assert.Error(t, err)
}

func TestAssignOrdinal_Permutation(t *testing.T) {
	base := time.Date(2018, 11, 1, 0, 0, 0, 0, time.UTC)
	rows := []core.Record{
		{"start_time": base.Add(3 * time.Second), "tag": "d"},
		{"start_time": base.Add(1 * time.Second), "tag": "b"},
		{"start_time": base, "tag": "a"},
		{"start_time": base.Add(1 * time.Second), "tag": "c"},
	}

	out, err := AssignOrdinal("start_time", "songplay_id").Apply(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, out, len(rows))

	var tags []string
	var ids []int64
	for i, r := range out {
		tags = append(tags, r["tag"].(string))
		ids = append(ids, r["songplay_id"].(int64))
		if i > 0 {
			prev := out[i-1]["start_time"].(time.Time)
			assert.False(t, r["start_time"].(time.Time).Before(prev))
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, tags, "ties keep input order")
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	_, hasKey := rows[0]["songplay_id"]
	assert.False(t, hasKey, "input rows are not mutated")
}

func TestAssignOrdinal_Errors(t *testing.T) {
	_, err := AssignOrdinal("start_time", "id").Apply(context.Background(), []core.Record{{"start_time": "yesterday"}})
	assert.Error(t, err)

	out, err := AssignOrdinal("start_time", "id").Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
