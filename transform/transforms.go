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

// Package transform provides the per-record transformations used to reshape
// raw catalog entries and activity events into star schema rows.
//
// All functions return core.Transformer implementations.
package transform

import (
	"context"

	"github.com/aaronlmathis/songlake/core"
)

// Select creates a transformer that keeps only the specified fields.
// A listed field missing from the input is present in the output as null.
func Select(fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, field := range fields {
			result[field] = record[field]
		}
		return result, nil
	})
}

// Column is one output column of a projection.
type Column struct {
	From string // input field
	As   string // output name, From when empty
}

// Project creates a transformer that selects and renames in one pass.
func Project(columns ...Column) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(columns))
		for _, c := range columns {
			name := c.As
			if name == "" {
				name = c.From
			}
			result[name] = record[c.From]
		}
		return result, nil
	})
}
