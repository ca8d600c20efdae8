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

// Kind is the target type a raw field is coerced to.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

// Tolerance says what happens when a value is missing or cannot be coerced.
type Tolerance int

const (
	// Nullable turns a missing or uncoercible value into null.
	Nullable Tolerance = iota
	// Required drops the record when the value is missing or uncoercible.
	Required
	// ZeroOnInvalid substitutes the zero value.
	ZeroOnInvalid
)

// Field is the coercion rule for one raw input field.
type Field struct {
	Name      string
	Kind      Kind
	Tolerance Tolerance
	// Min is an optional lower bound for numeric fields. Values below it are
	// treated as invalid and handled per Tolerance.
	Min *float64
	// Exclusive makes Min a strict bound.
	Exclusive bool
}

func bound(v float64) *float64 { return &v }

// CatalogFields are the fields read from song catalog entries.
var CatalogFields = []Field{
	{Name: "song_id", Kind: KindString, Tolerance: Required},
	{Name: "title", Kind: KindString, Tolerance: Required},
	{Name: "artist_id", Kind: KindString, Tolerance: Required},
	{Name: "artist_name", Kind: KindString},
	{Name: "artist_location", Kind: KindString},
	{Name: "artist_latitude", Kind: KindFloat},
	{Name: "artist_longitude", Kind: KindFloat},
	{Name: "year", Kind: KindInt, Tolerance: ZeroOnInvalid, Min: bound(0)},
	{Name: "duration", Kind: KindFloat, Tolerance: Required, Min: bound(0), Exclusive: true},
	{Name: "num_songs", Kind: KindInt},
}

// EventFields are the fields read from activity log events.
var EventFields = []Field{
	{Name: "artist", Kind: KindString},
	{Name: "auth", Kind: KindString},
	{Name: "firstName", Kind: KindString},
	{Name: "gender", Kind: KindString},
	{Name: "itemInSession", Kind: KindInt},
	{Name: "lastName", Kind: KindString},
	{Name: "length", Kind: KindFloat},
	{Name: "level", Kind: KindString},
	{Name: "location", Kind: KindString},
	{Name: "method", Kind: KindString},
	{Name: "page", Kind: KindString, Tolerance: Required},
	{Name: "registration", Kind: KindFloat},
	{Name: "sessionId", Kind: KindInt, Tolerance: Required},
	{Name: "song", Kind: KindString},
	{Name: "status", Kind: KindInt},
	{Name: "ts", Kind: KindInt, Tolerance: Required, Min: bound(0)},
	{Name: "userAgent", Kind: KindString},
	{Name: "userId", Kind: KindInt, Tolerance: Required},
}
