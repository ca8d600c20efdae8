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

package schema

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// SuccessMarker is the object written last into a completed table directory.
const SuccessMarker = "_SUCCESS"

// DefaultPartition is the directory value used for null partition values.
const DefaultPartition = "__HIVE_DEFAULT_PARTITION__"

// escapePartitionValue percent-encodes the characters hive escapes in
// partition directory names.
func escapePartitionValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte("\"#%'*/:=?\\{[]^", c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// PartitionValue renders a partition column value as a directory value.
func PartitionValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return DefaultPartition, nil
	case string:
		if val == "" {
			return DefaultPartition, nil
		}
		return escapePartitionValue(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("partition value %v is not finite", val)
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return escapePartitionValue(val.UTC().Format("2006-01-02 15:04:05.000")), nil
	default:
		return "", fmt.Errorf("unsupported partition value type %T", v)
	}
}

// PartitionDir returns the relative directory of a record inside its table,
// e.g. "year=2018/month=11". It is empty for unpartitioned tables.
func (t Table) PartitionDir(record core.Record) (string, error) {
	if len(t.PartitionBy) == 0 {
		return "", nil
	}
	parts := make([]string, len(t.PartitionBy))
	for i, col := range t.PartitionBy {
		v, err := PartitionValue(record[col])
		if err != nil {
			return "", fmt.Errorf("partition column %s: %w", col, err)
		}
		parts[i] = col + "=" + v
	}
	return strings.Join(parts, "/"), nil
}

// ParsePartitionDir decodes the col=value segments of a relative path back
// into typed values. Segments that are not partition columns are ignored.
func (t Table) ParsePartitionDir(dir string) (core.Record, error) {
	out := make(core.Record, len(t.PartitionBy))
	for _, seg := range strings.Split(dir, "/") {
		name, raw, ok := strings.Cut(seg, "=")
		if !ok || !t.IsPartitionColumn(name) {
			continue
		}
		col, _ := t.Column(name)
		if raw == DefaultPartition {
			out[name] = nil
			continue
		}
		value, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("partition column %s: %w", name, err)
		}
		switch col.Type {
		case Int64:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("partition column %s: %w", name, err)
			}
			out[name] = n
		case Float64:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("partition column %s: %w", name, err)
			}
			out[name] = f
		case Timestamp:
			ts, err := time.Parse("2006-01-02 15:04:05.000", value)
			if err != nil {
				return nil, fmt.Errorf("partition column %s: %w", name, err)
			}
			out[name] = ts.UTC()
		default:
			out[name] = value
		}
	}
	return out, nil
}
