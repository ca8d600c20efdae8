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
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
)

// Conform creates a transformer that coerces a raw record to the declared
// fields. The output carries exactly the declared fields: strings as string,
// ints as int64, floats as float64 and nulls as nil.
//
// A record whose Required field is missing, uncoercible or out of bounds fails
// with an error wrapping core.ErrMalformedRecord.
func Conform(fields []schema.Field) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(fields))
		for _, f := range fields {
			v, err := conformField(f, record[f.Name])
			if err != nil {
				return nil, err
			}
			result[f.Name] = v
		}
		return result, nil
	})
}

func conformField(f schema.Field, raw interface{}) (interface{}, error) {
	var (
		value interface{}
		ok    bool
	)
	switch f.Kind {
	case schema.KindInt:
		var n int64
		if n, ok = ToInt64(raw); ok {
			ok = withinBound(f, float64(n))
			value = n
		}
	case schema.KindFloat:
		var x float64
		if x, ok = ToFloat64(raw); ok {
			ok = withinBound(f, x)
			value = x
		}
	default:
		var s string
		if s, ok = ToString(raw); ok && f.Tolerance == schema.Required && strings.TrimSpace(s) == "" {
			ok = false
		}
		value = s
	}
	if ok {
		return value, nil
	}

	switch f.Tolerance {
	case schema.Required:
		if raw == nil {
			return nil, core.Malformed(f.Name, "required value is missing")
		}
		return nil, core.Malformed(f.Name, "invalid value %v", raw)
	case schema.ZeroOnInvalid:
		switch f.Kind {
		case schema.KindInt:
			return int64(0), nil
		case schema.KindFloat:
			return float64(0), nil
		default:
			return "", nil
		}
	default:
		return nil, nil
	}
}

func withinBound(f schema.Field, v float64) bool {
	if f.Min == nil {
		return true
	}
	if f.Exclusive {
		return v > *f.Min
	}
	return v >= *f.Min
}

// ToInt64 coerces JSON numbers, Go integers, integral floats and trimmed
// numeric strings to int64.
func ToInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return integral(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return integral(f)
	default:
		return 0, false
	}
}

func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ToFloat64 coerces JSON numbers, Go numbers and trimmed numeric strings to a
// finite float64.
func ToFloat64(value interface{}) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToString renders scalar values as strings. Nested values are not coercible.
func ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
