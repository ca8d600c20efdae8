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
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/songlake/core"
)

// recordFunc maps one record. keep=false drops the record without error.
type recordFunc func(ctx context.Context, record core.Record) (out core.Record, keep bool, err error)

// recordProcessor applies a recordFunc over a table with an error strategy,
// fanning out over contiguous chunks and reassembling in input order.
type recordProcessor struct {
	strategy    core.ErrorStrategy
	handler     core.ErrorHandler
	parallelism int
}

type processed struct {
	records   []core.Record
	dropped   int64
	collected []error
}

// handle decides the fate of a failed record. A nil return skips it.
func (p recordProcessor) handle(ctx context.Context, record core.Record, err error) error {
	switch p.strategy {
	case core.SkipErrors, core.CollectErrors:
		if p.handler != nil {
			return p.handler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}

func (p recordProcessor) run(ctx context.Context, records []core.Record, fn recordFunc) (processed, error) {
	n := len(records)
	outs := make([]core.Record, n)
	keep := make([]bool, n)
	var errs []error
	if p.strategy == core.CollectErrors {
		errs = make([]error, n)
	}
	var dropped atomic.Int64

	workers := max(p.parallelism, 1)
	chunk := (n + workers - 1) / workers
	if chunk == 0 {
		chunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				out, ok, err := fn(gctx, records[i])
				if err != nil {
					if herr := p.handle(gctx, records[i], err); herr != nil {
						return fmt.Errorf("record %d: %w", i, herr)
					}
					dropped.Add(1)
					if errs != nil {
						errs[i] = err
					}
					continue
				}
				outs[i], keep[i] = out, ok
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return processed{}, err
	}

	res := processed{records: make([]core.Record, 0, n), dropped: dropped.Load()}
	for i := range outs {
		if keep[i] {
			res.records = append(res.records, outs[i])
		}
		if errs != nil && errs[i] != nil {
			res.collected = append(res.collected, errs[i])
		}
	}
	return res, nil
}
