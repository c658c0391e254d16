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

// Package workspace manages the local directory layout for files produced
// during a research session before they are uploaded to the blob store.
//
// Layout:
//
//	workspace/
//	  arxiv/      temp downloads
//	  dimensions/ per-dimension markdown
//	  final/      merged markdown/docx/pdf
//	  temp/{sessionID}/charts/
package workspace

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Workspace is a rooted directory layout.
type Workspace struct {
	root string
}

// New creates the workspace layout under root.
func New(root string) (*Workspace, error) {
	w := &Workspace{root: root}
	for _, dir := range []string{w.ArxivDir(), w.DimensionsDir(), w.FinalDir(), filepath.Join(root, "temp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	return w, nil
}

// Root returns the workspace root.
func (w *Workspace) Root() string { return w.root }

// ArxivDir holds temporary paper downloads.
func (w *Workspace) ArxivDir() string { return filepath.Join(w.root, "arxiv") }

// DimensionsDir holds per-dimension markdown files.
func (w *Workspace) DimensionsDir() string { return filepath.Join(w.root, "dimensions") }

// FinalDir holds the merged report in its output formats.
func (w *Workspace) FinalDir() string { return filepath.Join(w.root, "final") }

// ChartsDir returns (and creates) the session's chart directory.
func (w *Workspace) ChartsDir(sessionID string) (string, error) {
	dir := filepath.Join(w.root, "temp", sessionID, "charts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create charts directory: %w", err)
	}
	return dir, nil
}

// DimensionFile returns a unique path for a dimension document. Parallel
// reduction workers write concurrently, so the name carries a timestamp and
// random suffix.
func (w *Workspace) DimensionFile(dimension string) string {
	name := fmt.Sprintf("%s_%s_%04d.md", Slug(dimension), time.Now().Format("20060102T150405"), rand.Intn(10000))
	return filepath.Join(w.DimensionsDir(), name)
}

// DraftFile returns a unique path for the merged draft report.
func (w *Workspace) DraftFile() string {
	name := fmt.Sprintf("draft_%s_%04d.md", time.Now().Format("20060102T150405"), rand.Intn(10000))
	return filepath.Join(w.FinalDir(), name)
}

// CleanupSession removes the session's temp directory.
func (w *Workspace) CleanupSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(w.root, "temp", sessionID))
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a dimension name into a filesystem- and key-safe token.
func Slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(s, "_")
}

var filenameRe = regexp.MustCompile(`[^A-Za-z0-9 \-\(\)\[\]]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// SanitizeFilename restricts a reference filename to the provider-accepted
// character class and collapses whitespace.
func SanitizeFilename(name string) string {
	s := filenameRe.ReplaceAllString(name, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
