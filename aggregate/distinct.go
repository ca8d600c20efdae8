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

// Package aggregate holds whole-table operators: full-row deduplication and
// ordinal key assignment.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// Deduplicator accumulates records and keeps the first occurrence of every
// distinct row over its identity columns.
type Deduplicator struct {
	columns []string
	seen    map[string]struct{}
	rows    []core.Record
}

// NewDeduplicator creates a Deduplicator keyed on columns. Only those columns
// are kept in the emitted rows.
func NewDeduplicator(columns ...string) *Deduplicator {
	return &Deduplicator{columns: columns, seen: make(map[string]struct{})}
}

// Add processes a record. It reports whether the record was new.
func (d *Deduplicator) Add(record core.Record) (bool, error) {
	key, err := RowKey(record, d.columns)
	if err != nil {
		return false, err
	}
	if _, dup := d.seen[key]; dup {
		return false, nil
	}
	d.seen[key] = struct{}{}

	row := make(core.Record, len(d.columns))
	for _, c := range d.columns {
		row[c] = record[c]
	}
	d.rows = append(d.rows, row)
	return true, nil
}

// Rows returns the distinct rows in first-seen order.
func (d *Deduplicator) Rows() []core.Record {
	return d.rows
}

// Distinct returns a table operator that drops repeated rows. Two rows are the
// same when every listed column holds an equal value; the first one seen wins.
// Applying it to its own output returns the output unchanged.
func Distinct(columns ...string) core.TableOperator {
	return core.TableOperatorFunc(func(ctx context.Context, records []core.Record) ([]core.Record, error) {
		d := NewDeduplicator(columns...)
		for i, rec := range records {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if _, err := d.Add(rec); err != nil {
				return nil, err
			}
		}
		return d.Rows(), nil
	})
}

// RowKey encodes the values of columns into a string that is equal for two
// records exactly when the listed values are equal. Each value is prefixed
// with a type tag so that the string "1" and the integer 1 differ.
func RowKey(record core.Record, columns []string) (string, error) {
	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if err := writeValue(&b, record[c]); err != nil {
			return "", fmt.Errorf("column %s: %w", c, err)
		}
	}
	return b.String(), nil
}

func writeValue(b *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("n")
	case string:
		b.WriteString("s")
		b.WriteString(strconv.Quote(val))
	case int64:
		b.WriteString("i")
		b.WriteString(strconv.FormatInt(val, 10))
	case int:
		b.WriteString("i")
		b.WriteString(strconv.Itoa(val))
	case float64:
		b.WriteString("f")
		if val == 0 {
			val = 0 // fold -0
		}
		if math.IsNaN(val) {
			b.WriteString("NaN")
		} else {
			b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	case bool:
		b.WriteString("b")
		b.WriteString(strconv.FormatBool(val))
	case time.Time:
		b.WriteString("t")
		b.WriteString(strconv.FormatInt(val.UnixNano(), 10))
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}
