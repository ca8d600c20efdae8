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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/config"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
)

const (
	songLine  = `{"num_songs": 1, "artist_id": "A1", "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": "Band", "song_id": "S1", "title": "Test", "duration": 180.0, "year": 2000}`
	eventLine = `{"artist":"Band","auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":0,"lastName":"Lee","length":180.0,"level":"free","location":"Oslo","method":"PUT","page":"NextSong","registration":1540835983796.0,"sessionId":1,"song":"Test","status":200,"ts":1000000000000,"userAgent":"UA","userId":"5"}`
)

func writeInput(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, line := range map[string]string{
		"song_data/A/B/C/TRABCXX.json":      songLine,
		"log_data/2018/11/2018-11-01.json": eventLine,
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(line+"\n"), 0o644))
	}
	return dir
}

func execute(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd(config.New())
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunAndInspect(t *testing.T) {
	input := writeInput(t)
	output := filepath.Join(t.TempDir(), "lake")

	stdout, stderr, err := execute("run", "--input", input, "--output", output, "--log-level", "error")
	require.NoError(t, err, stderr)
	for _, table := range []string{"songs", "artists", "users", "time", "songplays"} {
		assert.Contains(t, stdout, table)
	}
	assert.FileExists(t, filepath.Join(output, "songplays", "_SUCCESS"))

	stdout, _, err = execute("inspect", "--output", output)
	require.NoError(t, err)
	assert.Contains(t, stdout, "COMPLETE")
	assert.NotContains(t, stdout, "false")

	stdout, _, err = execute("inspect", "--output", output,
		"--dump", "users", "--columns", "user_id,level", "--where", "level=free")
	require.NoError(t, err)
	assert.Equal(t, `{"level":"free","user_id":5}`, strings.TrimSpace(stdout))

	stdout, _, err = execute("inspect", "--output", output, "--dump", "songs", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "song_id,title,artist_id,year,duration\nS1,Test,A1,2000,180\n", stdout)

	stdout, _, err = execute("inspect", "--output", output, "--dump", "users", "--where", "level=paid")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(stdout))

	stdout, _, err = execute("inspect", "--output", output, "--dump", "users", "--columns", "user_id",
		"--where", "user_id=4|5", "--where", "user_id!=7")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":5}`, strings.TrimSpace(stdout))

	stdout, _, err = execute("inspect", "--output", output, "--dump", "users", "--columns", "user_id,level",
		"--where", "level=paid or user_id=5")
	require.NoError(t, err)
	assert.Equal(t, `{"level":"free","user_id":5}`, strings.TrimSpace(stdout))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	input := writeInput(t)
	output := filepath.Join(t.TempDir(), "lake")

	stdout, _, err := execute("run", "--input", input, "--output", output, "--dry-run", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "songplays_join [join] <- time_enrich, song_conform")
	assert.NoDirExists(t, output)
}

func TestRun_RequiresInput(t *testing.T) {
	_, _, err := execute("run", "--output", t.TempDir())
	assert.ErrorContains(t, err, "input is required")
}

func TestInspect_ReportsIncompleteTables(t *testing.T) {
	_, _, err := execute("inspect", "--output", t.TempDir())
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, err = execute("inspect", "--output", t.TempDir(), "--dump", "plays")
	assert.ErrorContains(t, err, "unknown table")

	_, _, err = execute("inspect", "--output", t.TempDir(), "--dump", "users", "--columns", "level", "--where", "gender=F")
	assert.ErrorContains(t, err, "must be among --columns")
}

func TestWhereFilter(t *testing.T) {
	users := []core.Record{
		{"user_id": int64(5), "level": "free", "gender": "F"},
		{"user_id": int64(6), "level": "paid", "gender": nil},
	}
	tests := []struct {
		clause string
		want   []int64
	}{
		{"level=free", []int64{5}},
		{"level=free|paid", []int64{5, 6}},
		{"level!=free", []int64{6}},
		{"user_id=6", []int64{6}},
		{"gender!=", []int64{5}},
		{"user_id=6 or gender=F", []int64{5, 6}},
		{"level=paid or user_id=7", []int64{6}},
		{"level=gold or gender=M", nil},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			f, err := whereFilter(schema.Users, nil, tt.clause)
			require.NoError(t, err)
			var got []int64
			for _, u := range users {
				ok, err := f.ShouldInclude(context.Background(), u)
				require.NoError(t, err)
				if ok {
					got = append(got, u["user_id"].(int64))
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"level", "plan=free", "user_id=abc", "level=free or plan=x"} {
		_, err := whereFilter(schema.Users, nil, bad)
		assert.Error(t, err, bad)
	}
}
