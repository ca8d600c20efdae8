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

package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalLocation is a Location rooted at a local directory.
type LocalLocation struct {
	root string
}

// NewLocalLocation creates a Location rooted at dir. The directory is created
// lazily by the first write.
func NewLocalLocation(dir string) *LocalLocation {
	return &LocalLocation{root: dir}
}

func (l *LocalLocation) URI() string { return l.root }

func (l *LocalLocation) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalLocation) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	base := l.path(prefix)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (l *LocalLocation) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, &Error{Op: "open", Key: key, Err: err}
	}
	return f, nil
}

func (l *LocalLocation) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, &Error{Op: "create", Key: key, Err: err}
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, &Error{Op: "create", Key: key, Err: err}
	}
	return f, nil
}

func (l *LocalLocation) RemoveAll(ctx context.Context, prefix string) error {
	if err := os.RemoveAll(l.path(prefix)); err != nil {
		return &Error{Op: "remove", Key: prefix, Err: err}
	}
	return nil
}

func (l *LocalLocation) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: "stat", Key: key, Err: err}
	}
	return true, nil
}
