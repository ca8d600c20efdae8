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

package transform

import (
	"context"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// EnrichTimestamp creates a transformer that expands an epoch-millisecond
// field into calendar fields, all in UTC:
//
//	start_time  time.Time at millisecond precision
//	hour        0..23
//	day         day of month
//	week        ISO 8601 week of year
//	month       1..12
//	year
//	weekday     "Monday".."Sunday"
//
// Existing fields are kept. A missing, non-integer or negative value fails
// the record with core.ErrMalformedRecord.
func EnrichTimestamp(field string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		ms, ok := ToInt64(record[field])
		if !ok {
			return nil, core.Malformed(field, "not an integer epoch timestamp: %v", record[field])
		}
		if ms < 0 {
			return nil, core.Malformed(field, "negative epoch timestamp %d", ms)
		}

		ts := time.UnixMilli(ms).UTC()
		_, week := ts.ISOWeek()

		result := record.Clone()
		result["start_time"] = ts
		result["hour"] = int64(ts.Hour())
		result["day"] = int64(ts.Day())
		result["week"] = int64(week)
		result["month"] = int64(ts.Month())
		result["year"] = int64(ts.Year())
		result["weekday"] = ts.Weekday().String()
		return result, nil
	})
}
