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

// Package storage abstracts the filesystem-like locations songlake reads raw
// data from and writes its tables to.
//
// Keys are always slash separated and relative to the root of the Location,
// whether the location is a local directory or an S3 bucket prefix.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// Error provides structured error information for storage operations.
type Error struct {
	Op  string // Operation that failed (e.g., "list", "open", "create", "remove")
	Key string // Key the operation was applied to, if any
	Err error  // Underlying error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Object is an entry returned by List.
type Object struct {
	Key  string
	Size int64
}

// Location is a readable and writable tree of objects.
type Location interface {
	// URI returns the location in s3://bucket/prefix or filesystem path form.
	URI() string
	// List returns every object below prefix, sorted by key.
	// A prefix that does not exist yields an empty list.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Open opens an object for reading.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Create opens an object for writing. The object is visible once Close returns nil.
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	// RemoveAll deletes every object below prefix.
	RemoveAll(ctx context.Context, prefix string) error
	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Join builds a location key from parts.
func Join(parts ...string) string {
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// ParseLocation resolves a URI into a Location. s3:// and s3a:// URIs map to
// S3; file:// URIs and bare paths map to the local filesystem.
func ParseLocation(ctx context.Context, uri string, opts ...S3Option) (Location, error) {
	if uri == "" {
		return nil, &Error{Op: "parse", Err: fmt.Errorf("location is required")}
	}
	for _, scheme := range []string{"s3://", "s3a://"} {
		if rest, ok := strings.CutPrefix(uri, scheme); ok {
			bucket, prefix, _ := strings.Cut(rest, "/")
			if bucket == "" {
				return nil, &Error{Op: "parse", Key: uri, Err: fmt.Errorf("bucket is required")}
			}
			return NewS3Location(ctx, bucket, strings.Trim(prefix, "/"), opts...)
		}
	}
	if strings.Contains(uri, "://") && !strings.HasPrefix(uri, "file://") {
		return nil, &Error{Op: "parse", Key: uri, Err: fmt.Errorf("unsupported scheme")}
	}
	return NewLocalLocation(filepath.Clean(strings.TrimPrefix(uri, "file://"))), nil
}
