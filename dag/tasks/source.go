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

// source.go - SourceTask implementation
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/songlake/core"
)

// SourceTask drains a DataSource into the DAG. Malformed records reported by
// the source are subject to the task's error strategy; any other read error
// fails the task. The source is closed when the task finishes.
type SourceTask struct {
	base
	source    core.DataSource
	closeOnce sync.Once
	closeErr  error
}

// NewSourceTask creates a new SourceTask with the given ID and source
func NewSourceTask(id string, source core.DataSource, options ...TaskOption) *SourceTask {
	return &SourceTask{
		base:   newBase(id, TaskTypeSource, nil, options),
		source: source,
	}
}

// Close closes the source. It is safe to call more than once, so a DAG that
// never ran can still release its sources.
func (st *SourceTask) Close() error {
	st.closeOnce.Do(func() { st.closeErr = st.source.Close() })
	return st.closeErr
}

func (st *SourceTask) Execute(ctx context.Context, input TaskInput) (out TaskOutput, err error) {
	start := time.Now()
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("source close failed: %w", cerr)
		}
	}()

	p := st.processor()
	var (
		records   []core.Record
		dropped   int64
		collected []error
	)
	for {
		select {
		case <-ctx.Done():
			return TaskOutput{}, ctx.Err()
		default:
		}

		record, rerr := st.source.Read(ctx)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if !errors.Is(rerr, core.ErrMalformedRecord) {
				return TaskOutput{}, fmt.Errorf("source read failed: %w", rerr)
			}
			if herr := p.handle(ctx, nil, rerr); herr != nil {
				return TaskOutput{}, fmt.Errorf("source read failed: %w", herr)
			}
			dropped++
			if p.strategy == core.CollectErrors {
				collected = append(collected, rerr)
			}
			continue
		}
		records = append(records, record)
	}

	if dropped > 0 {
		zerolog.Ctx(ctx).Warn().Int64("dropped", dropped).Msg("skipped malformed input records")
	}

	meta := result(start, 0, len(records))
	meta.Dropped = dropped
	meta.Errors = collected
	return TaskOutput{Records: records, Metadata: meta}, nil
}
