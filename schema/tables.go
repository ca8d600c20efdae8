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

// Package schema declares the star-schema output tables and the typed field
// specs of the two raw inputs.
package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v12/arrow"
)

// ColumnType is the declared storage type of an output column.
type ColumnType int

const (
	String ColumnType = iota
	Int64
	Float64
	Timestamp // UTC, millisecond precision
)

// String returns the type name.
func (t ColumnType) String() string {
	switch t {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("column_type(%d)", int(t))
	}
}

// ArrowType maps the column type onto its Arrow data type.
func (t ColumnType) ArrowType() arrow.DataType {
	switch t {
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case Timestamp:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// Column is a single output column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table is a named output table with its columns in write order and its
// storage partition columns.
type Table struct {
	Name        string
	Columns     []Column
	PartitionBy []string
}

// ColumnNames returns the column names in declared order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsPartitionColumn reports whether name is one of the partition columns.
func (t Table) IsPartitionColumn(name string) bool {
	for _, p := range t.PartitionBy {
		if p == name {
			return true
		}
	}
	return false
}

// FileColumns returns the columns stored inside data files. Partition columns
// are encoded in the directory path instead.
func (t Table) FileColumns() []Column {
	cols := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !t.IsPartitionColumn(c.Name) {
			cols = append(cols, c)
		}
	}
	return cols
}

// ArrowSchema builds the Arrow schema of the data files.
func (t Table) ArrowSchema(metadata map[string]string) *arrow.Schema {
	cols := t.FileColumns()
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Type.ArrowType(), Nullable: c.Nullable}
	}
	if len(metadata) == 0 {
		return arrow.NewSchema(fields, nil)
	}
	keys := make([]string, 0, len(metadata))
	values := make([]string, 0, len(metadata))
	for k, v := range metadata {
		keys = append(keys, k)
		values = append(values, v)
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &md)
}

// Validate checks that the table is well formed: unique column names and
// partition columns that are a subset of the columns.
func (t Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return fmt.Errorf("table %s declares column %s twice", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	for _, p := range t.PartitionBy {
		if !seen[p] {
			return fmt.Errorf("table %s partition column %s is not a table column", t.Name, p)
		}
	}
	if len(t.FileColumns()) == 0 {
		return fmt.Errorf("table %s has no columns left outside its partition columns", t.Name)
	}
	return nil
}

// Star schema tables.
var (
	Songs = Table{
		Name: "songs",
		Columns: []Column{
			{Name: "song_id", Type: String},
			{Name: "title", Type: String},
			{Name: "artist_id", Type: String},
			{Name: "year", Type: Int64},
			{Name: "duration", Type: Float64},
		},
		PartitionBy: []string{"year", "artist_id"},
	}

	Artists = Table{
		Name: "artists",
		Columns: []Column{
			{Name: "artist_id", Type: String},
			{Name: "artist_name", Type: String, Nullable: true},
			{Name: "artist_location", Type: String, Nullable: true},
			{Name: "artist_latitude", Type: Float64, Nullable: true},
			{Name: "artist_longitude", Type: Float64, Nullable: true},
		},
	}

	Users = Table{
		Name: "users",
		Columns: []Column{
			{Name: "user_id", Type: Int64},
			{Name: "first_name", Type: String, Nullable: true},
			{Name: "last_name", Type: String, Nullable: true},
			{Name: "gender", Type: String, Nullable: true},
			{Name: "level", Type: String, Nullable: true},
		},
	}

	Time = Table{
		Name: "time",
		Columns: []Column{
			{Name: "start_time", Type: Timestamp},
			{Name: "hour", Type: Int64},
			{Name: "day", Type: Int64},
			{Name: "week", Type: Int64},
			{Name: "month", Type: Int64},
			{Name: "year", Type: Int64},
			{Name: "weekday", Type: String},
		},
		PartitionBy: []string{"year", "month"},
	}

	Songplays = Table{
		Name: "songplays",
		Columns: []Column{
			{Name: "songplay_id", Type: Int64},
			{Name: "start_time", Type: Timestamp},
			{Name: "user_id", Type: Int64},
			{Name: "level", Type: String, Nullable: true},
			{Name: "song_id", Type: String, Nullable: true},
			{Name: "artist_id", Type: String, Nullable: true},
			{Name: "session_id", Type: Int64},
			{Name: "location", Type: String, Nullable: true},
			{Name: "user_agent", Type: String, Nullable: true},
			{Name: "year", Type: Int64},
			{Name: "month", Type: Int64},
		},
		PartitionBy: []string{"year", "month"},
	}
)

// StarSchema returns every output table in write order.
func StarSchema() []Table {
	return []Table{Songs, Artists, Users, Time, Songplays}
}

// Lookup finds a star schema table by name.
func Lookup(name string) (Table, bool) {
	for _, t := range StarSchema() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
