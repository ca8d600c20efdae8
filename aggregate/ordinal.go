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

package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aaronlmathis/songlake/core"
)

// AssignOrdinal returns a table operator that sorts rows by the time held in
// orderField and numbers them 1..N into keyField. Rows with equal times keep
// their input order, so the numbering is gap free and stable.
//
// Every row must carry a time.Time in orderField.
func AssignOrdinal(orderField, keyField string) core.TableOperator {
	return core.TableOperatorFunc(func(ctx context.Context, records []core.Record) ([]core.Record, error) {
		type keyed struct {
			at  time.Time
			rec core.Record
		}
		rows := make([]keyed, len(records))
		for i, rec := range records {
			at, ok := rec[orderField].(time.Time)
			if !ok {
				return nil, fmt.Errorf("row %d: %s is %T, want time.Time", i, orderField, rec[orderField])
			}
			rows[i] = keyed{at: at, rec: rec}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })

		out := make([]core.Record, len(rows))
		for i, r := range rows {
			rec := r.rec.Clone()
			rec[keyField] = int64(i + 1)
			out[i] = rec
		}
		return out, nil
	})
}
