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

package schema

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
)

func TestStarSchema_Valid(t *testing.T) {
	for _, table := range StarSchema() {
		assert.NoError(t, table.Validate(), table.Name)
	}
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"no name", Table{Columns: []Column{{Name: "a"}}}},
		{"no columns", Table{Name: "t"}},
		{"duplicate column", Table{Name: "t", Columns: []Column{{Name: "a"}, {Name: "a"}}}},
		{"unknown partition column", Table{Name: "t", Columns: []Column{{Name: "a"}}, PartitionBy: []string{"b"}}},
		{"only partition columns", Table{Name: "t", Columns: []Column{{Name: "a"}}, PartitionBy: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.table.Validate())
		})
	}
}

func TestTable_ArrowSchemaOmitsPartitionColumns(t *testing.T) {
	sc := Songplays.ArrowSchema(map[string]string{"table": "songplays"})

	names := make([]string, 0, len(sc.Fields()))
	for _, f := range sc.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"songplay_id", "start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}, names)

	idx := sc.FieldIndices("start_time")
	require.Len(t, idx, 1)
	ts, ok := sc.Field(idx[0]).Type.(*arrow.TimestampType)
	require.True(t, ok)
	assert.Equal(t, arrow.Millisecond, ts.Unit)
	assert.Equal(t, "UTC", ts.TimeZone)

	md := sc.Metadata()
	i := md.FindKey("table")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "songplays", md.Values()[i])
}

func TestTable_PartitionDir(t *testing.T) {
	dir, err := Songs.PartitionDir(core.Record{"year": int64(2018), "artist_id": "AR/1=x"})
	require.NoError(t, err)
	assert.Equal(t, "year=2018/artist_id=AR%2F1%3Dx", dir)

	dir, err = Time.PartitionDir(core.Record{"year": nil, "month": int64(11)})
	require.NoError(t, err)
	assert.Equal(t, "year="+DefaultPartition+"/month=11", dir)

	dir, err = Users.PartitionDir(core.Record{"user_id": int64(1)})
	require.NoError(t, err)
	assert.Empty(t, dir)

	_, err = Songs.PartitionDir(core.Record{"year": []int{1}, "artist_id": "a"})
	assert.Error(t, err)
}

func TestTable_ParsePartitionDir(t *testing.T) {
	rec, err := Songs.ParsePartitionDir("year=2018/artist_id=AR%2F1%3Dx/part-00000.parquet")
	require.NoError(t, err)
	assert.Equal(t, core.Record{"year": int64(2018), "artist_id": "AR/1=x"}, rec)

	rec, err = Time.ParsePartitionDir("year=" + DefaultPartition + "/month=3")
	require.NoError(t, err)
	assert.Equal(t, core.Record{"year": nil, "month": int64(3)}, rec)

	_, err = Time.ParsePartitionDir("year=abc/month=3")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	table, ok := Lookup("time")
	require.True(t, ok)
	assert.Equal(t, []string{"year", "month"}, table.PartitionBy)

	_, ok = Lookup("missing")
	assert.False(t, ok)
}
