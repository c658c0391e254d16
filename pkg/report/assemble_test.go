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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_OrderAndPlaceholders(t *testing.T) {
	docs := map[string]string{
		"Economics":  "## Economics\n\nEconomic findings.",
		"Technology": "## Technology\n\nTech findings.",
	}
	out := Merge("AI Impact", []string{"Technology", "Economics"}, docs)

	assert.True(t, strings.HasPrefix(out, "# AI Impact\n"))
	assert.Contains(t, out, SummaryPlaceholder)
	assert.Contains(t, out, ConclusionPlaceholder)

	// Declared order, not map order.
	assert.Less(t, strings.Index(out, "Tech findings."), strings.Index(out, "Economic findings."))
}

func TestMerge_SkipsFailedDimensions(t *testing.T) {
	docs := map[string]string{
		"good": "## Good\n\nContent.",
		"bad":  "",
	}
	out := Merge("Topic", []string{"good", "bad", "missing"}, docs)
	assert.Contains(t, out, "Content.")
	assert.Equal(t, 1, strings.Count(out, "---\n\n##"))
}

func TestMerge_ReferencesDedupedAndSorted(t *testing.T) {
	docs := map[string]string{
		"a": "## A\n\nBody A.\n\n## References\n\n- [Zeta](http://z.example)\n- [Alpha](http://a.example)",
		"b": "## B\n\nBody B.\n\n### References\n\n- [Alpha](http://a.example)",
	}
	out := Merge("Topic", []string{"a", "b"}, docs)

	// One consolidated section, per-document sections stripped.
	assert.Equal(t, 1, strings.Count(out, "References"))
	assert.Equal(t, 1, strings.Count(out, "http://a.example"))

	alpha := strings.Index(out, "http://a.example")
	zeta := strings.Index(out, "http://z.example")
	assert.Less(t, alpha, zeta)
}

func TestRenumberFigures(t *testing.T) {
	content := "text\n*Figure 7:* first\nmore\n*Figure 2:* second\n*Figure 2:* third"
	out := RenumberFigures(content)
	assert.Contains(t, out, "*Figure 1:* first")
	assert.Contains(t, out, "*Figure 2:* second")
	assert.Contains(t, out, "*Figure 3:* third")
	assert.NotContains(t, out, "*Figure 7:*")
}

func TestInsertAtLine_RenumbersInDocumentOrder(t *testing.T) {
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = "line"
	}
	content := strings.Join(lines, "\n")

	// Insert out of order; final numbering follows document position.
	content = InsertAtLine(content, 120, ChartBlock("charts/a.png", "A", "caption a"))
	content = InsertAtLine(content, 30, ChartBlock("charts/b.png", "B", "caption b"))
	content = InsertAtLine(content, 250, ChartBlock("charts/c.png", "C", "caption c"))

	b := strings.Index(content, "caption b")
	a := strings.Index(content, "caption a")
	c := strings.Index(content, "caption c")
	require.True(t, b < a && a < c)

	assert.Contains(t, content[:a], "*Figure 1:* caption b")
	assert.Contains(t, content, "*Figure 2:* caption a")
	assert.Contains(t, content, "*Figure 3:* caption c")
}

func TestInsertAtLine_ClampsOutOfRange(t *testing.T) {
	content := "one\ntwo"
	out := InsertAtLine(content, 999, "block")
	assert.True(t, strings.HasSuffix(strings.TrimRight(out, "\n"), "block"))

	out = InsertAtLine(content, -5, "block")
	assert.True(t, strings.HasPrefix(out, "\nblock"))
}

func TestChartBlock(t *testing.T) {
	block := ChartBlock("charts/gdp.png", "GDP Growth", "GDP growth by year.")
	assert.Contains(t, block, "![GDP Growth](charts/gdp.png)")
	assert.Contains(t, block, "*Figure 1:* GDP growth by year.")
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 3, WordCount("  one\ttwo\nthree  "))
}
