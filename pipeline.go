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

// Package songlake turns raw song catalog and listening log data into a
// partitioned star schema of Parquet tables.
//
// The batch job lives in package lake. This package provides the streaming
// Pipeline used for record-by-record flows such as dumping an output table:
//
//	p, err := songlake.NewPipeline().
//	    From(tableReader).
//	    Where(func(ctx context.Context, r core.Record) (bool, error) { return r["level"] == "paid", nil }).
//	    To(writers.NewJSONWriter(os.Stdout)).
//	    Limit(100).
//	    Build()
//	if err != nil { ... }
//	err = p.Execute(ctx)
package songlake

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aaronlmathis/songlake/core"
)

// PipelineBuilder provides a fluent API for constructing a Pipeline.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder. Errors fail fast by default.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{strategy: core.FailFast},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source core.DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform adds a Transformer. Transformers run in the order added.
func (pb *PipelineBuilder) Transform(transformer core.Transformer) *PipelineBuilder {
	pb.pipeline.transformers = append(pb.pipeline.transformers, transformer)
	return pb
}

// Filter adds a Filter. Filters run after all transformers.
func (pb *PipelineBuilder) Filter(filter core.Filter) *PipelineBuilder {
	pb.pipeline.filters = append(pb.pipeline.filters, filter)
	return pb
}

// Map adds a transformation given as a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record core.Record) (core.Record, error)) *PipelineBuilder {
	return pb.Transform(core.TransformFunc(fn))
}

// Where adds a filtering condition given as a function.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record core.Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(core.FilterFunc(fn))
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink core.DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// Limit stops the pipeline after n records were written. Zero means no limit.
func (pb *PipelineBuilder) Limit(n int64) *PipelineBuilder {
	pb.pipeline.limit = n
	return pb
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (pb *PipelineBuilder) WithErrorStrategy(strategy core.ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a handler consulted for skipped or collected errors.
// A non-nil return from the handler stops the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler core.ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// Build validates and constructs the Pipeline.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	if pb.pipeline.limit < 0 {
		return nil, fmt.Errorf("pipeline limit must not be negative")
	}
	return pb.pipeline, nil
}

// PipelineStats counts the records seen by one Execute call.
type PipelineStats struct {
	Read     int64
	Written  int64
	Filtered int64
	Skipped  int64
	Errors   []error // errors kept by CollectErrors
}

// Pipeline streams records from a DataSource through transformers and
// filters into a DataSink.
type Pipeline struct {
	transformers []core.Transformer
	filters      []core.Filter
	source       core.DataSource
	sink         core.DataSink
	limit        int64
	strategy     core.ErrorStrategy
	errorHandler core.ErrorHandler
	stats        PipelineStats
}

// Stats returns the counters of the last Execute call.
func (p *Pipeline) Stats() PipelineStats {
	return p.stats
}

// Execute processes all records from source to sink. The source is closed
// and the sink flushed and closed when it returns; a flush or close failure
// is reported when processing itself succeeded.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	p.stats = PipelineStats{}
	defer func() {
		closeErr := p.source.Close()
		if flushErr := p.sink.Flush(); flushErr != nil && closeErr == nil {
			closeErr = flushErr
		}
		if sinkErr := p.sink.Close(); sinkErr != nil && closeErr == nil {
			closeErr = sinkErr
		}
		if err == nil && closeErr != nil {
			err = fmt.Errorf("pipeline close: %w", closeErr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.limit > 0 && p.stats.Written >= p.limit {
			return nil
		}

		record, err := p.source.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		p.stats.Read++

		if len(record) == 0 {
			continue
		}

		transformed, err := p.applyTransformations(ctx, record)
		if err != nil {
			if err := p.handleError(ctx, record, err); err != nil {
				return err
			}
			continue
		}
		if len(transformed) == 0 {
			continue
		}

		include, err := p.applyFilters(ctx, transformed)
		if err != nil {
			if err := p.handleError(ctx, transformed, err); err != nil {
				return err
			}
			continue
		}
		if !include {
			p.stats.Filtered++
			continue
		}

		if err := p.sink.Write(ctx, transformed); err != nil {
			if err := p.handleError(ctx, transformed, err); err != nil {
				return err
			}
			continue
		}
		p.stats.Written++
	}
}

func (p *Pipeline) applyFilters(ctx context.Context, record core.Record) (bool, error) {
	for _, filter := range p.filters {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pipeline) applyTransformations(ctx context.Context, record core.Record) (core.Record, error) {
	current := record
	for _, transformer := range p.transformers {
		transformed, err := transformer.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		current = transformed
	}
	return current, nil
}

// handleError returns nil when processing should continue past err.
func (p *Pipeline) handleError(ctx context.Context, record core.Record, err error) error {
	switch p.strategy {
	case core.SkipErrors, core.CollectErrors:
		if p.errorHandler != nil {
			if herr := p.errorHandler.HandleError(ctx, record, err); herr != nil {
				return herr
			}
		}
		p.stats.Skipped++
		if p.strategy == core.CollectErrors {
			p.stats.Errors = append(p.stats.Errors, err)
		}
		return nil
	default:
		return err
	}
}
