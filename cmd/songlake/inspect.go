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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaronlmathis/songlake"
	"github.com/aaronlmathis/songlake/config"
	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/filter"
	"github.com/aaronlmathis/songlake/readers"
	"github.com/aaronlmathis/songlake/schema"
	"github.com/aaronlmathis/songlake/storage"
	"github.com/aaronlmathis/songlake/transform"
	"github.com/aaronlmathis/songlake/writers"
)

// ErrIncomplete is returned by inspect when a table lacks its success marker.
var ErrIncomplete = errors.New("incomplete tables")

type dumpOptions struct {
	table   string
	format  string
	limit   int64
	where   []string
	columns []string
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var dump dumpOptions

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report row counts and completeness of the output tables",
		Long: `inspect reads the tables under --output. Without --dump it prints the file
and row count of each table and whether its _SUCCESS marker is present, and
fails when a table is incomplete. With --dump it streams one table as NDJSON
or CSV.`,
		Example: `  songlake inspect --output ./lake
  songlake inspect --output ./lake --dump songplays --where level=paid --limit 10
  songlake inspect --output ./lake --dump users --where "level=paid or gender=F"`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{"output": "output"})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Decode(v)
			if err != nil {
				return err
			}
			if cfg.Output == "" {
				return errors.New("output is required")
			}
			ctx, _, err := commandLogger(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			loc, err := storage.ParseLocation(ctx, cfg.Output, s3Options(cfg.AWS)...)
			if err != nil {
				return err
			}
			if dump.table != "" {
				return dumpTable(ctx, loc, dump, cmd.OutOrStdout())
			}
			return inspectTables(ctx, loc, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("output", "", "table location: a path or s3://bucket/prefix")
	f.StringVar(&dump.table, "dump", "", "stream this table as NDJSON")
	f.StringVar(&dump.format, "format", "ndjson", "dump format: ndjson or csv")
	f.Int64Var(&dump.limit, "limit", 0, "stop after this many dumped rows (0 for all)")
	f.StringArrayVar(&dump.where, "where", nil, "keep rows where column=value, column=a|b or column!=value; terms may be joined with \" or \" (repeatable)")
	f.StringSliceVar(&dump.columns, "columns", nil, "dump only these columns")
	return cmd
}

func inspectTables(ctx context.Context, loc storage.Location, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tFILES\tROWS\tCOMPLETE")
	var incomplete []string
	for _, table := range schema.StarSchema() {
		status, err := readers.Inspect(ctx, loc, table)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", table.Name, err)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", status.Table, status.Files, status.Rows, status.Complete)
		if !status.Complete {
			incomplete = append(incomplete, table.Name)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(incomplete) > 0 {
		return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(incomplete, ", "))
	}
	return nil
}

func dumpTable(ctx context.Context, loc storage.Location, opts dumpOptions, w io.Writer) error {
	table, ok := schema.Lookup(opts.table)
	if !ok {
		return fmt.Errorf("unknown table %q", opts.table)
	}

	b := songlake.NewPipeline().Limit(opts.limit)
	var filters []core.Filter
	for _, clause := range opts.where {
		f, err := whereFilter(table, opts.columns, clause)
		if err != nil {
			return err
		}
		filters = append(filters, f)
	}
	if len(filters) > 0 {
		b.Filter(filter.And(filters...))
	}
	if len(opts.columns) > 0 {
		for _, name := range opts.columns {
			if _, ok := table.Column(name); !ok {
				return fmt.Errorf("table %s has no column %q", table.Name, name)
			}
		}
		b.Transform(transform.Select(opts.columns...))
	}

	var sink core.DataSink
	switch opts.format {
	case "", "ndjson":
		sink = writers.NewJSONWriter(nopCloser{w})
	case "csv":
		headers := opts.columns
		if len(headers) == 0 {
			headers = table.ColumnNames()
		}
		sink = writers.NewCSVWriter(nopCloser{w}, writers.WithHeaders(headers))
	default:
		return fmt.Errorf("unknown dump format %q", opts.format)
	}

	r, err := readers.NewTableReader(ctx, loc, table, opts.columns...)
	if err != nil {
		return err
	}
	p, err := b.From(r).To(sink).Build()
	if err != nil {
		r.Close()
		return err
	}
	return p.Execute(ctx)
}

// whereFilter parses one --where clause: one or more terms joined by " or ".
func whereFilter(table schema.Table, selected []string, clause string) (core.Filter, error) {
	terms := strings.Split(clause, " or ")
	if len(terms) == 1 {
		return whereTerm(table, selected, clause)
	}
	filters := make([]core.Filter, 0, len(terms))
	for _, term := range terms {
		f, err := whereTerm(table, selected, strings.TrimSpace(term))
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filter.Or(filters...), nil
}

// whereTerm parses column=value, column=a|b or column!=value, typing the
// values by the column. An empty value after != keeps rows where the column
// is set. Filters run after the column selection, so the column must be
// selected.
func whereTerm(table schema.Table, selected []string, clause string) (core.Filter, error) {
	name, raw, ok := strings.Cut(clause, "=")
	if !ok {
		return nil, fmt.Errorf("where clause %q is not column=value", clause)
	}
	name, negate := strings.CutSuffix(name, "!")
	col, ok := table.Column(name)
	if !ok {
		return nil, fmt.Errorf("table %s has no column %q", table.Name, name)
	}
	if len(selected) > 0 && !slices.Contains(selected, name) {
		return nil, fmt.Errorf("where column %q must be among --columns", name)
	}
	if negate && raw == "" {
		return filter.NotNull(name), nil
	}

	var f core.Filter
	if col.Type == schema.Timestamp {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("where %s: %w", name, err)
		}
		f = core.FilterFunc(func(_ context.Context, r core.Record) (bool, error) {
			t, ok := r[name].(time.Time)
			return ok && t.Equal(ts), nil
		})
	} else {
		var values []interface{}
		for _, part := range strings.Split(raw, "|") {
			v, err := parseValue(col, part)
			if err != nil {
				return nil, fmt.Errorf("where %s: %w", name, err)
			}
			values = append(values, v)
		}
		f = filter.In(name, values...)
		if len(values) == 1 {
			f = filter.Equals(name, values[0])
		}
	}
	if negate {
		return filter.Not(f), nil
	}
	return f, nil
}

func parseValue(col schema.Column, raw string) (interface{}, error) {
	switch col.Type {
	case schema.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case schema.Float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
