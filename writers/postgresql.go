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

package writers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/aaronlmathis/songlake/core"
	"github.com/aaronlmathis/songlake/schema"
)

// This file implements a PostgreSQL table writer. Each table is loaded in one
// transaction: CREATE TABLE IF NOT EXISTS, TRUNCATE, then COPY, so a reader
// sees either the previous run or the complete new one.

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // The operation being performed (e.g., "copy", "connect")
	Err error  // The underlying error
}

// Error returns the error string for PostgresWriterError.
func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresWriterError.
func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterOptions configures the PostgreSQL writer.
type PostgresWriterOptions struct {
	DSN             string        // PostgreSQL connection string
	Schema          string        // Target schema, the search path when empty
	ConnMaxLifetime time.Duration // Max connection lifetime
	ConnMaxIdleTime time.Duration // Max idle connection time
	MaxOpenConns    int           // Max open connections
	MaxIdleConns    int           // Max idle connections
	QueryTimeout    time.Duration // Timeout for one table load
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresSchema sets the schema the tables are created in.
func WithPostgresSchema(name string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Schema = name
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresQueryTimeout sets the timeout of one table load.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresTableWriter implements TableWriter for PostgreSQL.
type PostgresTableWriter struct {
	db      *sql.DB
	options PostgresWriterOptions
}

// NewPostgresTableWriter opens and pings the database.
func NewPostgresTableWriter(ctx context.Context, opts ...PostgresWriterOption) (*PostgresTableWriter, error) {
	options := &PostgresWriterOptions{}
	for _, opt := range opts {
		opt(options)
	}
	options = options.withDefaults()
	if options.DSN == "" {
		return nil, &PostgresWriterError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}

	db, err := sql.Open("postgres", options.DSN)
	if err != nil {
		return nil, &PostgresWriterError{Op: "connect", Err: fmt.Errorf("failed to open database: %w", err)}
	}
	db.SetMaxOpenConns(options.MaxOpenConns)
	db.SetMaxIdleConns(options.MaxIdleConns)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(options.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, options.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &PostgresWriterError{Op: "connect", Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	return &PostgresTableWriter{db: db, options: *options}, nil
}

// withDefaults applies default values to PostgresWriterOptions.
func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 5 * time.Minute
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	return opts
}

// WriteTable implements TableWriter. Every failure wraps core.ErrSinkWrite.
func (w *PostgresTableWriter) WriteTable(ctx context.Context, table schema.Table, records []core.Record) (res Result, err error) {
	start := time.Now()
	res = Result{Table: table.Name}
	if err := table.Validate(); err != nil {
		return res, fmt.Errorf("%w: %w", core.ErrSinkWrite, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return res, sinkError("begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, createTableSQL(w.options.Schema, table)); err != nil {
		return res, sinkError("create_table", err)
	}
	if _, err = tx.ExecContext(ctx, "TRUNCATE TABLE "+qualifiedName(w.options.Schema, table.Name)); err != nil {
		return res, sinkError("truncate", err)
	}

	stmt, err := tx.PrepareContext(ctx, copySQL(w.options.Schema, table))
	if err != nil {
		return res, sinkError("copy", err)
	}
	for _, record := range records {
		values, verr := rowValues(table, record)
		if verr != nil {
			stmt.Close()
			err = verr
			return res, sinkError("copy", err)
		}
		if _, err = stmt.ExecContext(ctx, values...); err != nil {
			stmt.Close()
			return res, sinkError("copy", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return res, sinkError("copy", err)
	}
	if err = stmt.Close(); err != nil {
		return res, sinkError("copy", err)
	}
	if err = tx.Commit(); err != nil {
		return res, sinkError("commit", err)
	}

	res.Rows = int64(len(records))
	res.Duration = time.Since(start)
	zerolog.Ctx(ctx).Info().
		Str("table", table.Name).
		Int64("rows", res.Rows).
		Dur("duration", res.Duration).
		Msg("table loaded into postgres")
	return res, nil
}

// Close releases the connection pool.
func (w *PostgresTableWriter) Close() error {
	return w.db.Close()
}

func sinkError(op string, err error) error {
	return fmt.Errorf("%w: %w", core.ErrSinkWrite, &PostgresWriterError{Op: op, Err: err})
}

func qualifiedName(schemaName, table string) string {
	if schemaName == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(table)
}

// sqlType maps a column type to its PostgreSQL type.
func sqlType(t schema.ColumnType) string {
	switch t {
	case schema.Int64:
		return "BIGINT"
	case schema.Float64:
		return "DOUBLE PRECISION"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// createTableSQL declares every table column, partition columns included.
func createTableSQL(schemaName string, table schema.Table) string {
	defs := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		def := pq.QuoteIdentifier(col.Name) + " " + sqlType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualifiedName(schemaName, table.Name), strings.Join(defs, ", "))
}

func copySQL(schemaName string, table schema.Table) string {
	if schemaName == "" {
		return pq.CopyIn(table.Name, table.ColumnNames()...)
	}
	return pq.CopyInSchema(schemaName, table.Name, table.ColumnNames()...)
}

// rowValues orders a record by the table's columns.
func rowValues(table schema.Table, record core.Record) ([]interface{}, error) {
	values := make([]interface{}, len(table.Columns))
	for i, col := range table.Columns {
		v := record[col.Name]
		if v == nil && !col.Nullable {
			return nil, fmt.Errorf("column %s is not nullable", col.Name)
		}
		values[i] = v
	}
	return values, nil
}
