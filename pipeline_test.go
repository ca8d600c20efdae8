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

package songlake

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/core"
)

type sliceSource struct {
	records []core.Record
	errAt   map[int]error
	pos     int
	closed  bool
}

func (s *sliceSource) Read(ctx context.Context) (core.Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	i := s.pos
	s.pos++
	if err, ok := s.errAt[i]; ok {
		return nil, err
	}
	return s.records[i], nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type sliceSink struct {
	records  []core.Record
	flushed  bool
	closed   bool
	closeErr error
}

func (s *sliceSink) Write(ctx context.Context, record core.Record) error {
	s.records = append(s.records, record)
	return nil
}

func (s *sliceSink) Flush() error {
	s.flushed = true
	return nil
}

func (s *sliceSink) Close() error {
	s.closed = true
	return s.closeErr
}

func users() []core.Record {
	return []core.Record{
		{"user_id": int64(1), "level": "free"},
		{"user_id": int64(2), "level": "paid"},
		{"user_id": int64(3), "level": "paid"},
	}
}

func TestPipeline_RequiresSourceAndSink(t *testing.T) {
	_, err := NewPipeline().To(&sliceSink{}).Build()
	assert.ErrorContains(t, err, "data source")

	_, err = NewPipeline().From(&sliceSource{}).Build()
	assert.ErrorContains(t, err, "data sink")

	_, err = NewPipeline().From(&sliceSource{}).To(&sliceSink{}).Limit(-1).Build()
	assert.Error(t, err)
}

func TestPipeline_TransformsAndFilters(t *testing.T) {
	src := &sliceSource{records: users()}
	sink := &sliceSink{}
	p, err := NewPipeline().
		From(src).
		Map(func(ctx context.Context, r core.Record) (core.Record, error) {
			out := r.Clone()
			out["paying"] = r["level"] == "paid"
			return out, nil
		}).
		Where(func(ctx context.Context, r core.Record) (bool, error) {
			return r["paying"].(bool), nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Len(t, sink.records, 2)
	assert.Equal(t, int64(2), sink.records[0]["user_id"])
	assert.True(t, src.closed)
	assert.True(t, sink.flushed)
	assert.True(t, sink.closed)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Read)
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(1), stats.Filtered)
}

func TestPipeline_Limit(t *testing.T) {
	sink := &sliceSink{}
	p, err := NewPipeline().From(&sliceSource{records: users()}).To(sink).Limit(2).Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))
	assert.Len(t, sink.records, 2)
}

func TestPipeline_ErrorStrategies(t *testing.T) {
	bad := core.Malformed("user_id", "not an integer")

	t.Run("fail fast", func(t *testing.T) {
		p, err := NewPipeline().From(&sliceSource{records: users(), errAt: map[int]error{1: bad}}).To(&sliceSink{}).Build()
		require.NoError(t, err)
		assert.ErrorIs(t, p.Execute(context.Background()), core.ErrMalformedRecord)
	})

	t.Run("collect", func(t *testing.T) {
		sink := &sliceSink{}
		p, err := NewPipeline().
			From(&sliceSource{records: users(), errAt: map[int]error{1: bad}}).
			To(sink).
			WithErrorStrategy(core.CollectErrors).
			Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background()))
		assert.Len(t, sink.records, 2)
		assert.Equal(t, int64(1), p.Stats().Skipped)
		require.Len(t, p.Stats().Errors, 1)
		assert.ErrorIs(t, p.Stats().Errors[0], core.ErrMalformedRecord)
	})

	t.Run("handler stops on fatal errors", func(t *testing.T) {
		fatal := errors.New("disk gone")
		p, err := NewPipeline().
			From(&sliceSource{records: users(), errAt: map[int]error{0: bad, 2: fatal}}).
			To(&sliceSink{}).
			WithErrorStrategy(core.SkipErrors).
			WithErrorHandler(core.DropMalformed(nil)).
			Build()
		require.NoError(t, err)
		assert.ErrorIs(t, p.Execute(context.Background()), fatal)
		assert.Equal(t, int64(1), p.Stats().Skipped)
	})
}

func TestPipeline_ReportsCloseFailure(t *testing.T) {
	sink := &sliceSink{closeErr: errors.New("close failed")}
	p, err := NewPipeline().From(&sliceSource{records: users()}).To(sink).Build()
	require.NoError(t, err)
	assert.ErrorContains(t, p.Execute(context.Background()), "close failed")
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := NewPipeline().From(&sliceSource{records: users()}).To(&sliceSink{}).Build()
	require.NoError(t, err)
	assert.ErrorIs(t, p.Execute(ctx), context.Canceled)
}
