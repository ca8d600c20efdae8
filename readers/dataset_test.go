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

package readers

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/storage"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func readAll(t *testing.T, src core.DataSource) ([]core.Record, []error) {
	t.Helper()
	var records []core.Record
	var errs []error
	for {
		rec, err := src.Read(context.Background())
		if err == io.EOF {
			return records, errs
		}
		if err != nil {
			errs = append(errs, err)
			if len(errs) > 100 {
				t.Fatalf("too many errors, last: %v", err)
			}
			continue
		}
		records = append(records, rec)
	}
}

// TestJSONReader_NumbersAndMalformedLines tests number decoding and per-line error recovery
func TestJSONReader_NumbersAndMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"userId": "39", "ts": 1541903636796, "length": 241.3}`,
		``,
		`{not json`,
		`[1, 2]`,
		`{"userId": 7} trailing`,
		`{"userId": 6}{"userId": 5}`,
		`{"userId": 4}}`,
		`{"userId": 8}`,
	}, "\n")

	r := NewJSONReader(io.NopCloser(strings.NewReader(input))).WithSourceName("events.json")
	records, errs := readAll(t, r)
	require.NoError(t, r.Close())

	require.Len(t, records, 2)
	assert.Equal(t, json.Number("1541903636796"), records[0]["ts"])
	assert.Equal(t, "39", records[0]["userId"])
	assert.Equal(t, json.Number("8"), records[1]["userId"])

	require.Len(t, errs, 5)
	assert.Contains(t, errs[2].Error(), "line 5: trailing data")
	for _, err := range errs {
		assert.ErrorIs(t, err, core.ErrMalformedRecord)
		assert.Contains(t, err.Error(), "events.json")
	}
}

// TestJSONReader_ContextCancellation tests that a cancelled context stops reading
func TestJSONReader_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewJSONReader(io.NopCloser(strings.NewReader(`{"a":1}`)))
	_, err := r.Read(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestDatasetReader_PatternAndOrder tests glob discovery and sorted key order
func TestDatasetReader_PatternAndOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "song_data/B/A/B/TRB.json", `{"song_id":"S2"}`)
	writeFile(t, root, "song_data/A/A/A/TRA.json", `{"song_id":"S1"}`)
	writeFile(t, root, "song_data/A/A/A/notes.txt", `ignored`)
	writeFile(t, root, "log_data/2018/11/2018-11-01-events.json", "{\"ts\":1}\n{\"ts\":2}\n")

	loc := storage.NewLocalLocation(root)

	songs, err := NewDatasetReader(context.Background(), loc, SongDataPattern)
	require.NoError(t, err)
	defer songs.Close()

	records, errs := readAll(t, songs)
	require.Empty(t, errs)
	require.Len(t, records, 2)
	assert.Equal(t, "S1", records[0]["song_id"])
	assert.Equal(t, "S2", records[1]["song_id"])

	stats := songs.Stats()
	assert.Equal(t, int64(2), stats.FilesMatched)
	assert.Equal(t, int64(2), stats.FilesRead)
	assert.Equal(t, int64(2), stats.RecordsRead)

	logs, err := NewDatasetReader(context.Background(), loc, LogDataPattern)
	require.NoError(t, err)
	defer logs.Close()
	records, _ = readAll(t, logs)
	assert.Len(t, records, 2)
}

// TestDatasetReader_NoMatches tests that an empty or missing dataset is a source read failure
func TestDatasetReader_NoMatches(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "song_data/readme.md", "x")

	loc := storage.NewLocalLocation(root)

	_, err := NewDatasetReader(context.Background(), loc, SongDataPattern)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSourceRead)

	_, err = NewDatasetReader(context.Background(), loc, LogDataPattern)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSourceRead)

	_, err = NewDatasetReader(context.Background(), loc, "song_data/[")
	assert.ErrorIs(t, err, core.ErrSourceRead)
}

// TestDatasetReader_MalformedLinesPassThrough tests that malformed lines surface without aborting the scan
func TestDatasetReader_MalformedLinesPassThrough(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "log_data/a.json", "{\"ts\":1}\n{oops\n{\"ts\":3}\n")

	r, err := NewDatasetReader(context.Background(), storage.NewLocalLocation(root), LogDataPattern)
	require.NoError(t, err)
	defer r.Close()

	records, errs := readAll(t, r)
	assert.Len(t, records, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrMalformedRecord)
	assert.NotErrorIs(t, errs[0], core.ErrSourceRead)
}
