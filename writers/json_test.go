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

package writers

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
)

// Mock writer for testing
type mockWriteCloser struct {
	*strings.Builder
	closed    bool
	failWrite bool
	mu        sync.Mutex
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return 0, io.ErrUnexpectedEOF
	}
	return m.Builder.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWriteCloser) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Builder.String()
}

func newMockWriteCloser() *mockWriteCloser {
	return &mockWriteCloser{Builder: &strings.Builder{}}
}

func TestJSONWriter_Lines(t *testing.T) {
	mock := newMockWriteCloser()
	writer := NewJSONWriter(mock)
	ctx := context.Background()

	records := []core.Record{
		{"user_id": int64(5), "first_name": "Ann", "level": "free"},
		{"user_id": int64(6), "first_name": nil, "start_time": time.Date(2018, 11, 15, 0, 30, 26, 796_000_000, time.UTC)},
	}
	for _, r := range records {
		require.NoError(t, writer.Write(ctx, r))
	}
	assert.Empty(t, mock.String(), "output is buffered until flush")
	require.NoError(t, writer.Close())
	assert.True(t, mock.closed)
	assert.Equal(t, int64(2), writer.Count())

	lines := strings.Split(strings.TrimSuffix(mock.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"first_name":"Ann","level":"free","user_id":5}`, lines[0])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second["first_name"])
	assert.Equal(t, "2018-11-15T00:30:26.796Z", second["start_time"])
}

func TestJSONWriter_Errors(t *testing.T) {
	mock := newMockWriteCloser()
	mock.failWrite = true
	writer := NewJSONWriter(mock)

	require.NoError(t, writer.Write(context.Background(), core.Record{"a": 1}))
	assert.Error(t, writer.Flush())

	err := writer.Write(context.Background(), core.Record{"bad": make(chan int)})
	assert.ErrorContains(t, err, "marshal")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, writer.Write(ctx, core.Record{"a": 1}), context.Canceled)
}
