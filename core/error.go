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

package core

import (
	"context"
	"errors"
	"fmt"
)

// This file contains error handling interfaces, strategies, error kinds and function adapters.

// Error kinds shared by every stage. Component errors wrap one of these so callers
// can classify a failure with errors.Is.
var (
	// ErrMalformedRecord marks a row that failed type coercion. Such rows are dropped and counted.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrSourceRead marks an unreadable or empty input location.
	ErrSourceRead = errors.New("source read failure")
	// ErrSinkWrite marks a destination that could not be written.
	ErrSinkWrite = errors.New("sink write failure")
)

// RecordError describes why a single record was rejected.
type RecordError struct {
	Field  string // offending field, empty when the record as a whole is invalid
	Reason string
	Err    error // usually ErrMalformedRecord
}

// Error returns the error string for RecordError.
func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: field %s: %s", e.Err, e.Field, e.Reason)
}

// Unwrap returns the underlying error for RecordError.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// Malformed builds a RecordError of kind ErrMalformedRecord.
func Malformed(field, format string, args ...interface{}) error {
	return &RecordError{Field: field, Reason: fmt.Sprintf(format, args...), Err: ErrMalformedRecord}
}

// ErrorHandler defines how errors are handled during processing.
// Custom error handlers can be used to log, collect, or transform errors.
type ErrorHandler interface {
	// HandleError processes an error that occurred during transformation.
	// Returning a non-nil error will stop the pipeline; returning nil will continue.
	HandleError(ctx context.Context, record Record, err error) error
}

// ErrorStrategy defines how to handle transformation errors in the pipeline.
type ErrorStrategy int

const (
	// FailFast stops processing on the first error encountered.
	FailFast ErrorStrategy = iota
	// SkipErrors continues processing, skipping failed records.
	SkipErrors
	// CollectErrors continues processing, collecting all errors for later inspection.
	CollectErrors
)

// String returns the strategy name.
func (s ErrorStrategy) String() string {
	switch s {
	case FailFast:
		return "fail_fast"
	case SkipErrors:
		return "skip_errors"
	case CollectErrors:
		return "collect_errors"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
// Allows ordinary functions to be used as error handlers.
type ErrorHandlerFunc func(ctx context.Context, record Record, err error) error

// HandleError implements the ErrorHandler interface for ErrorHandlerFunc.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, record Record, err error) error {
	return f(ctx, record, err)
}

// DropMalformed returns an ErrorHandler that swallows ErrMalformedRecord and calls
// onDrop for each one. Any other error is returned unchanged and stops processing.
func DropMalformed(onDrop func(err error)) ErrorHandler {
	return ErrorHandlerFunc(func(ctx context.Context, record Record, err error) error {
		if !errors.Is(err, ErrMalformedRecord) {
			return err
		}
		if onDrop != nil {
			onDrop(err)
		}
		return nil
	})
}
