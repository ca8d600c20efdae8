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

// join.go - JoinTask implementation
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/aaronlmathis/songlake/aggregate"
	"github.com/aaronlmathis/songlake/core"
)

// JoinType selects which unmatched rows survive a join.
type JoinType string

const (
	InnerJoin JoinType = "inner" // only matched left rows
	LeftJoin  JoinType = "left"  // every left row, right fields null when unmatched
)

// Side names the input a projected field is taken from.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// JoinField is one column of the join output.
type JoinField struct {
	Side  Side
	Field string
	As    string // output name, Field when empty
}

// JoinConfig defines join operation parameters.
// Row i of LeftKeys is compared with row i of RightKeys.
type JoinConfig struct {
	JoinType   JoinType
	LeftKeys   []string
	RightKeys  []string
	Projection []JoinField // output columns; empty keeps every field of both sides
}

// Validate checks the join declaration.
func (c JoinConfig) Validate() error {
	switch c.JoinType {
	case InnerJoin, LeftJoin:
	default:
		return fmt.Errorf("unsupported join type %q", c.JoinType)
	}
	if len(c.LeftKeys) == 0 || len(c.LeftKeys) != len(c.RightKeys) {
		return fmt.Errorf("join needs matching key lists, got %d left and %d right", len(c.LeftKeys), len(c.RightKeys))
	}
	seen := make(map[string]bool, len(c.Projection))
	for _, f := range c.Projection {
		if f.Side != Left && f.Side != Right {
			return fmt.Errorf("projected field %s has invalid side %q", f.Field, f.Side)
		}
		name := f.output()
		if seen[name] {
			return fmt.Errorf("projected field %s appears twice", name)
		}
		seen[name] = true
	}
	return nil
}

func (f JoinField) output() string {
	if f.As != "" {
		return f.As
	}
	return f.Field
}

// JoinTask performs an equality hash join between its two dependencies.
// The first dependency is the left input and the second the right input.
//
// A key containing a null never matches. Output follows left input order and,
// for each left row, matching right rows in right input order, so one left
// row matching several right rows yields several output rows.
type JoinTask struct {
	base
	config JoinConfig
}

// NewJoinTask creates a new JoinTask
func NewJoinTask(id string, config JoinConfig, dependencies []string, options ...TaskOption) *JoinTask {
	return &JoinTask{
		base:   newBase(id, TaskTypeJoin, dependencies, options),
		config: config,
	}
}

// Config returns the join declaration.
func (jt *JoinTask) Config() JoinConfig { return jt.config }

func (jt *JoinTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()

	if len(jt.dependencies) != 2 {
		return TaskOutput{}, fmt.Errorf("join task requires 2 dependencies, got %d", len(jt.dependencies))
	}
	if err := jt.config.Validate(); err != nil {
		return TaskOutput{}, err
	}

	leftRecords, okLeft := input.SourceMap[jt.dependencies[0]]
	rightRecords, okRight := input.SourceMap[jt.dependencies[1]]
	if !okLeft || !okRight {
		return TaskOutput{}, fmt.Errorf("missing source data for join operation")
	}

	joined, err := Join(ctx, jt.config, leftRecords, rightRecords)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("join operation failed: %w", err)
	}

	return TaskOutput{Records: joined, Metadata: result(start, len(leftRecords)+len(rightRecords), len(joined))}, nil
}

// Join runs the hash join described by config.
func Join(ctx context.Context, config JoinConfig, leftRecords, rightRecords []core.Record) ([]core.Record, error) {
	rightIndex := make(map[string][]core.Record)
	for _, rightRecord := range rightRecords {
		key, ok := joinKey(rightRecord, config.RightKeys)
		if !ok {
			continue
		}
		rightIndex[key] = append(rightIndex[key], rightRecord)
	}

	var result []core.Record
	for i, leftRecord := range leftRecords {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var matches []core.Record
		if key, ok := joinKey(leftRecord, config.LeftKeys); ok {
			matches = rightIndex[key]
		}
		for _, rightRecord := range matches {
			result = append(result, project(config.Projection, leftRecord, rightRecord))
		}
		if len(matches) == 0 && config.JoinType == LeftJoin {
			result = append(result, project(config.Projection, leftRecord, nil))
		}
	}
	return result, nil
}

// joinKey encodes the key fields. ok is false when any key is null or not a
// scalar.
func joinKey(record core.Record, fields []string) (string, bool) {
	for _, f := range fields {
		if record[f] == nil {
			return "", false
		}
	}
	key, err := aggregate.RowKey(record, fields)
	if err != nil {
		return "", false
	}
	return key, true
}

func project(fields []JoinField, left, right core.Record) core.Record {
	if len(fields) == 0 {
		return merge(left, right)
	}
	out := make(core.Record, len(fields))
	for _, f := range fields {
		src := left
		if f.Side == Right {
			src = right
		}
		out[f.output()] = src[f.Field] // nil when src is nil
	}
	return out
}

// merge combines both sides; right fields that collide with left ones are
// prefixed with "right_".
func merge(left, right core.Record) core.Record {
	out := left.Clone()
	for k, v := range right {
		if _, exists := out[k]; exists {
			k = "right_" + k
		}
		out[k] = v
	}
	return out
}
