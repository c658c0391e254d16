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

// Package sandbox runs chart-generation code in an isolated, session-scoped
// environment.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds a single code execution.
const DefaultTimeout = 2 * time.Minute

// Result captures one code execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox is the code-execution surface for chart generation.
type Sandbox interface {
	// ExecuteCode runs Python code in the session's working directory.
	ExecuteCode(ctx context.Context, sessionID, code string) (*Result, error)

	// WriteFile places a file in the session's working directory.
	WriteFile(ctx context.Context, sessionID, name string, data []byte) error

	// ReadFile returns a file from the session's working directory.
	ReadFile(ctx context.Context, sessionID, name string) ([]byte, error)

	// ListFiles returns the session's files in lexical order.
	ListFiles(ctx context.Context, sessionID string) ([]string, error)
}

// Local runs code as a python3 subprocess under a per-session directory.
type Local struct {
	baseDir string
	python  string
	timeout time.Duration
}

// LocalOption configures a Local sandbox.
type LocalOption func(*Local)

// WithPython overrides the interpreter binary.
func WithPython(path string) LocalOption {
	return func(l *Local) { l.python = path }
}

// WithTimeout overrides the per-execution timeout.
func WithTimeout(d time.Duration) LocalOption {
	return func(l *Local) { l.timeout = d }
}

// NewLocal creates a sandbox rooted at baseDir.
func NewLocal(baseDir string, opts ...LocalOption) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}
	l := &Local{
		baseDir: baseDir,
		python:  "python3",
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Local) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") {
		return "", fmt.Errorf("invalid session ID %q", sessionID)
	}
	dir := filepath.Join(l.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}

func (l *Local) ExecuteCode(ctx context.Context, sessionID, code string) (*Result, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.python, "-c", code)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("code execution timed out after %v", l.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("code execution failed: %w", err)
	}
	return result, nil
}

func (l *Local) WriteFile(ctx context.Context, sessionID, name string, data []byte) error {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return err
	}
	path, err := securePath(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create file directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *Local) ReadFile(ctx context.Context, sessionID, name string) ([]byte, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	path, err := securePath(dir, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (l *Local) ListFiles(ctx context.Context, sessionID string) ([]string, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// securePath keeps file names inside the session directory.
func securePath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dir, clean), nil
}

var _ Sandbox = (*Local)(nil)
