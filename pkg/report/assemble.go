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

// Package report assembles dimension documents into the final report and
// provides the editing tools that refine it.
package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholders replaced by the editor sub-agent.
const (
	SummaryPlaceholder    = "[EXECUTIVE_SUMMARY_TO_BE_GENERATED]"
	ConclusionPlaceholder = "[CONCLUSION_TO_BE_GENERATED]"
)

var referencesHeadingRe = regexp.MustCompile(`(?mi)^#{1,3}\s*References\s*$`)

// Merge joins dimension documents in declared order into the draft report.
// Each document's embedded references section is stripped; the union of
// reference lines, deduplicated and sorted, lands in a single trailing
// References section. Failed dimensions (empty content) are skipped.
func Merge(topic string, dimensions []string, docs map[string]string) string {
	var body []string
	refSet := make(map[string]bool)

	for _, dim := range dimensions {
		content, ok := docs[dim]
		if !ok || content == "" {
			continue
		}
		stripped, refs := stripReferences(content)
		for _, r := range refs {
			refSet[r] = true
		}
		body = append(body, strings.TrimSpace(stripped))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", topic)
	b.WriteString(SummaryPlaceholder)
	b.WriteString("\n\n---\n\n")
	b.WriteString(strings.Join(body, "\n\n---\n\n"))
	b.WriteString("\n\n---\n\n")
	b.WriteString(ConclusionPlaceholder)
	b.WriteString("\n")

	if len(refSet) > 0 {
		refs := make([]string, 0, len(refSet))
		for r := range refSet {
			refs = append(refs, r)
		}
		sort.Strings(refs)
		b.WriteString("\n## References\n\n")
		for _, r := range refs {
			b.WriteString(r)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// stripReferences removes the document's references section and returns the
// remaining content plus the collected reference lines.
func stripReferences(content string) (string, []string) {
	loc := referencesHeadingRe.FindStringIndex(content)
	if loc == nil {
		return content, nil
	}

	head := content[:loc[0]]
	tail := content[loc[1]:]

	// The section ends at the next heading or the end of the document.
	var refBlock, rest string
	if next := regexp.MustCompile(`(?m)^#`).FindStringIndex(tail); next != nil {
		refBlock = tail[:next[0]]
		rest = tail[next[0]:]
	} else {
		refBlock = tail
	}

	var refs []string
	for _, line := range strings.Split(refBlock, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		refs = append(refs, line)
	}

	return strings.TrimSpace(head) + "\n" + rest, refs
}

var figureCaptionRe = regexp.MustCompile(`\*Figure \d+:\*`)

// RenumberFigures rewrites every "*Figure N:*" caption so figures read 1..K
// in document order with no gaps.
func RenumberFigures(content string) string {
	n := 0
	return figureCaptionRe.ReplaceAllStringFunc(content, func(string) string {
		n++
		return fmt.Sprintf("*Figure %d:*", n)
	})
}

// InsertAtLine inserts a block after the given 1-based line, clamped to the
// document bounds, and returns the renumbered result.
func InsertAtLine(content string, line int, block string) string {
	lines := strings.Split(content, "\n")
	if line < 0 {
		line = 0
	}
	if line > len(lines) {
		line = len(lines)
	}

	out := make([]string, 0, len(lines)+3)
	out = append(out, lines[:line]...)
	out = append(out, "", block, "")
	out = append(out, lines[line:]...)

	return RenumberFigures(strings.Join(out, "\n"))
}

// ChartBlock formats a chart insertion. The figure number is provisional;
// RenumberFigures assigns the final ordering.
func ChartBlock(imagePath, title, caption string) string {
	return fmt.Sprintf("![%s](%s)\n\n*Figure 1:* %s", title, imagePath, caption)
}

// WordCount counts whitespace-separated tokens.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
