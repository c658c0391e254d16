// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blobstore persists produced artifacts (reports, charts, source
// documents) under session-scoped keys.
//
// Keys follow the layout research-outputs/{sessionID}/{stage}/{filename}.
// The development backend is the local filesystem.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// OutputPrefix roots all produced artifacts.
const OutputPrefix = "research-outputs"

// OutputKey builds the canonical artifact key.
func OutputKey(sessionID string, parts ...string) string {
	return strings.Join(append([]string{OutputPrefix, sessionID}, parts...), "/")
}

// Store is the artifact backend.
type Store interface {
	// Put writes a blob at the key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the blob at the key.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns keys under the prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}

// NewFilesystem returns a store rooted at dir.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

// Filesystem stores blobs as files under a root directory.
type Filesystem struct {
	root string
}

func (f *Filesystem) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *Filesystem) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return nil
}

func (f *Filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

var _ Store = (*Filesystem)(nil)
