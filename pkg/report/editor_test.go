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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/toolplane"
)

func writeDraft(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func findTool(t *testing.T, tools []toolplane.LocalTool, name string) toolplane.LocalTool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return toolplane.LocalTool{}
}

func TestReplaceText(t *testing.T) {
	path := writeDraft(t, "alpha beta alpha gamma alpha")
	tool := findTool(t, EditorTools(path), "replace_text")

	out, err := tool.Handler(context.Background(), map[string]any{
		"find":             "alpha",
		"replace_with":     "delta",
		"max_replacements": float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "Replaced 2 occurrence(s).", out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "delta beta delta gamma alpha", string(data))
}

func TestReplaceText_NoMatchIsNotAnError(t *testing.T) {
	path := writeDraft(t, "content")
	tool := findTool(t, EditorTools(path), "replace_text")

	out, err := tool.Handler(context.Background(), map[string]any{
		"find":         "missing",
		"replace_with": "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "No occurrences found.", out)
}

func TestReplaceText_EmptyFindRejected(t *testing.T) {
	path := writeDraft(t, "content")
	tool := findTool(t, EditorTools(path), "replace_text")

	_, err := tool.Handler(context.Background(), map[string]any{
		"find":         "",
		"replace_with": "x",
	})
	require.Error(t, err)
}

func TestWriteSummaryAndConclusion(t *testing.T) {
	path := writeDraft(t, "# Topic\n\n"+SummaryPlaceholder+"\n\nbody\n\n"+ConclusionPlaceholder+"\n")
	tool := findTool(t, EditorTools(path), "write_summary_and_conclusion")

	_, err := tool.Handler(context.Background(), map[string]any{
		"summary":    "The short version.",
		"conclusion": "The wrap-up.",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "## Executive Summary\n\nThe short version.")
	assert.Contains(t, content, "## Conclusion\n\nThe wrap-up.")
	assert.NotContains(t, content, SummaryPlaceholder)
	assert.NotContains(t, content, ConclusionPlaceholder)
}

func TestWriteSummaryAndConclusion_NoPlaceholdersLeft(t *testing.T) {
	path := writeDraft(t, "# Topic\n\nalready edited\n")
	tool := findTool(t, EditorTools(path), "write_summary_and_conclusion")

	_, err := tool.Handler(context.Background(), map[string]any{
		"summary":    "s",
		"conclusion": "c",
	})
	require.Error(t, err)
}

func TestUpdateDraft_SerializesWriters(t *testing.T) {
	path := writeDraft(t, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := UpdateDraft(path, func(content string) (string, error) {
				return content + "x", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, string(data), 20)
}

func TestReadDraftLines(t *testing.T) {
	path := writeDraft(t, "one\ntwo\nthree\nfour")

	out, err := ReadDraftLines(path, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "2: two\n3: three\n", out)

	// Out-of-range windows clamp.
	out, err = ReadDraftLines(path, -3, 100)
	require.NoError(t, err)
	assert.Contains(t, out, "1: one\n")
	assert.Contains(t, out, "4: four\n")

	out, err = ReadDraftLines(path, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, out)
}
