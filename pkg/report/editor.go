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

package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kadirpekel/deepresearch/pkg/toolplane"
)

// fileLocks serializes edits per absolute path. The registry itself is
// guarded by a meta-mutex.
var (
	fileLocksMu sync.Mutex
	fileLocks   = make(map[string]*sync.Mutex)
)

func lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	fileLocksMu.Lock()
	defer fileLocksMu.Unlock()
	mu, ok := fileLocks[abs]
	if !ok {
		mu = &sync.Mutex{}
		fileLocks[abs] = mu
	}
	return mu
}

// ReplaceTextArgs are the arguments of the replace_text editor tool.
type ReplaceTextArgs struct {
	Find            string `json:"find" jsonschema:"description=Exact text to find in the draft"`
	ReplaceWith     string `json:"replace_with" jsonschema:"description=Replacement text"`
	MaxReplacements int    `json:"max_replacements,omitempty" jsonschema:"description=Maximum occurrences to replace; 0 replaces all"`
}

// SummaryConclusionArgs are the arguments of write_summary_and_conclusion.
type SummaryConclusionArgs struct {
	Summary    string `json:"summary" jsonschema:"description=Executive summary markdown"`
	Conclusion string `json:"conclusion" jsonschema:"description=Conclusion markdown"`
}

// EditorTools returns the two tools the editor sub-agent may use against
// the draft file. Both write under the file's mutex.
func EditorTools(draftPath string) []toolplane.LocalTool {
	return []toolplane.LocalTool{
		{
			Name:        "replace_text",
			Description: "Replace exact text in the draft report. Use for repairing citations and improving transitions.",
			Schema:      toolplane.SchemaFor(&ReplaceTextArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				find, _ := args["find"].(string)
				replaceWith, _ := args["replace_with"].(string)
				maxRepl := intArg(args, "max_replacements")
				if find == "" {
					return "", fmt.Errorf("find must not be empty")
				}
				n, err := replaceInFile(draftPath, find, replaceWith, maxRepl)
				if err != nil {
					return "", err
				}
				if n == 0 {
					return "No occurrences found.", nil
				}
				return fmt.Sprintf("Replaced %d occurrence(s).", n), nil
			},
		},
		{
			Name:        "write_summary_and_conclusion",
			Description: "Write the executive summary and conclusion, replacing their placeholders in a single call.",
			Schema:      toolplane.SchemaFor(&SummaryConclusionArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				summary, _ := args["summary"].(string)
				conclusion, _ := args["conclusion"].(string)
				if summary == "" || conclusion == "" {
					return "", fmt.Errorf("both summary and conclusion are required")
				}
				if err := writeSummaryAndConclusion(draftPath, summary, conclusion); err != nil {
					return "", err
				}
				return "Summary and conclusion written.", nil
			},
		},
	}
}

func replaceInFile(path, find, replaceWith string, maxReplacements int) (int, error) {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read draft: %w", err)
	}
	content := string(data)

	count := strings.Count(content, find)
	if count == 0 {
		return 0, nil
	}
	if maxReplacements <= 0 || maxReplacements > count {
		maxReplacements = count
	}

	content = strings.Replace(content, find, replaceWith, maxReplacements)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write draft: %w", err)
	}
	return maxReplacements, nil
}

func writeSummaryAndConclusion(path, summary, conclusion string) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read draft: %w", err)
	}
	content := string(data)

	if !strings.Contains(content, SummaryPlaceholder) && !strings.Contains(content, ConclusionPlaceholder) {
		return fmt.Errorf("draft has no summary or conclusion placeholder left")
	}

	content = strings.Replace(content, SummaryPlaceholder, "## Executive Summary\n\n"+summary, 1)
	content = strings.Replace(content, ConclusionPlaceholder, "## Conclusion\n\n"+conclusion, 1)

	return os.WriteFile(path, []byte(content), 0o644)
}

// UpdateDraft applies fn to the draft content under the file's mutex. Chart
// insertion uses this to keep renumbering atomic with the write.
func UpdateDraft(path string, fn func(content string) (string, error)) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read draft: %w", err)
	}
	updated, err := fn(string(data))
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(updated), 0o644)
}

// ReadDraftLines returns the inclusive 1-based line window of the draft.
func ReadDraftLines(path string, start, end int) (string, error) {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read draft: %w", err)
	}
	lines := strings.Split(string(data), "\n")

	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", nil
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return b.String(), nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
