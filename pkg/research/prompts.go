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

package research

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/state"
)

func referenceSummaryPrompt(title, note string) string {
	var b strings.Builder
	b.WriteString("Summarize the following reference material into a structured summary of 500-800 words.\n")
	b.WriteString("Cover: the main topic, 3-5 key concepts, the methods used, 3-5 findings, and why it is relevant.\n")
	b.WriteString("End with a section titled 'Key Points' containing up to 5 bullet points.\n")
	if title != "" {
		fmt.Fprintf(&b, "\nTitle: %s\n", title)
	}
	if note != "" {
		fmt.Fprintf(&b, "Reader's note on relevance: %s\n", note)
	}
	return b.String()
}

func explorationSystemPrompt() string {
	return "You are a research scout. Use at most 3 tool calls to get a quick overview of the topic, " +
		"then reply with a short synopsis (under 300 words) of what the topic covers and how it could be subdivided. " +
		"Do not produce a report; just the synopsis."
}

func dimensionsPrompt(topic, synopsis, researchContext string, target int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", topic)
	if researchContext != "" {
		fmt.Fprintf(&b, "Context from the requester:\n%s\n\n", researchContext)
	}
	if synopsis != "" {
		fmt.Fprintf(&b, "Background synopsis:\n%s\n\n", synopsis)
	}
	fmt.Fprintf(&b, "Decompose the topic into exactly %d research dimensions: top-level, non-overlapping angles that together cover the topic.\n", target)
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"dimensions": ["dimension name", ...]}`)
	return b.String()
}

func aspectsPrompt(topic, dimension, searchSnippet string, refs []state.ReferenceMaterial, researchContext string, perDim int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\nDimension under analysis: %s\n\n", topic, dimension)
	if researchContext != "" {
		fmt.Fprintf(&b, "Context from the requester:\n%s\n\n", researchContext)
	}
	if searchSnippet != "" {
		fmt.Fprintf(&b, "Search results for this dimension:\n%s\n\n", searchSnippet)
	}
	if len(refs) > 0 {
		b.WriteString("Reference key points:\n")
		for _, r := range refs {
			for _, kp := range r.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", kp)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Identify exactly %d concrete aspects of this dimension worth researching.\n", perDim)
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"aspects": [{"name": "...", "reasoning": "...", "key_questions": ["...", "..."]}]}`)
	return b.String()
}

func planningPrompt(topic string, aspectsByDim map[string][]state.Aspect, refs []state.ReferenceMaterial, target, perDim int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", topic)
	b.WriteString("Draft research structure:\n")
	for dim, aspects := range aspectsByDim {
		fmt.Fprintf(&b, "- %s\n", dim)
		for _, a := range aspects {
			fmt.Fprintf(&b, "  - %s: %s\n", a.Name, a.Reasoning)
		}
	}
	if len(refs) > 0 {
		b.WriteString("\nReference key points to reconcile with:\n")
		for _, r := range refs {
			for _, kp := range r.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", kp)
			}
		}
	}
	fmt.Fprintf(&b, "\nRefine this structure into exactly %d dimensions with exactly %d aspects each. ", target, perDim)
	b.WriteString("You may rename dimensions or move aspects, but keep the total shape.\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"aspectsByDim": {"dimension": [{"name": "...", "reasoning": "...", "key_questions": ["..."]}]}}`)
	return b.String()
}

func researchSystemPrompt() string {
	return strings.TrimSpace(`
You are a research analyst producing evidence for one aspect of a larger report.

Work in three phases:
1. Survey: broad searches to map what sources exist.
2. Investigation: follow the most credible sources in depth.
3. Synthesis: write up your findings.

Citation rules:
- Cite web sources inline with bracketed URLs: [https://example.com/page].
- Cite supplied reference materials with their tags: [REF-1], [REF-2], ...
- Prefer primary sources, peer-reviewed work, and official documentation.
  Treat forums and content farms as leads, not evidence.

Output rules:
- Markdown only. Start with a ## heading naming the aspect.
- Report concrete findings with citations; flag uncertainty explicitly.
`)
}

func researchUserPrompt(topic, dimension string, aspect state.Aspect, aspectsByDim map[string][]state.Aspect, refs []state.ReferenceMaterial) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall topic: %s\nDimension: %s\nAspect to research: %s\n", topic, dimension, aspect.Name)
	if aspect.Reasoning != "" {
		fmt.Fprintf(&b, "Why it matters: %s\n", aspect.Reasoning)
	}
	if len(aspect.KeyQuestions) > 0 {
		b.WriteString("Key questions:\n")
		for _, q := range aspect.KeyQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}

	b.WriteString("\nFull report structure (avoid duplicating sibling aspects):\n")
	for dim, aspects := range aspectsByDim {
		fmt.Fprintf(&b, "- %s: ", dim)
		names := make([]string, 0, len(aspects))
		for _, a := range aspects {
			names = append(names, a.Name)
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	for i, r := range refs {
		fmt.Fprintf(&b, "\n[REF-%d] %s\n%s\n", i+1, r.Title, r.Summary)
	}
	return b.String()
}

func reductionPrompt(topic, dimension string, results []state.ResearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall topic: %s\nDimension: %s\n\n", topic, dimension)
	b.WriteString("Synthesize the aspect research below into one coherent markdown section:\n")
	b.WriteString("- Open with a short introduction to the dimension.\n")
	b.WriteString("- Organize by concept, not by the aspect titles below.\n")
	b.WriteString("- Close with the key findings.\n")
	b.WriteString("- Preserve all inline citations exactly as written.\n")
	b.WriteString("- Do NOT generate a References section.\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "--- Aspect: %s ---\n%s\n\n", r.Title, r.Content)
	}
	return b.String()
}

func editorSystemPrompt() string {
	return strings.TrimSpace(`
You are the final editor of a research report draft.

Your tasks, in order:
1. Repair malformed bracketed URL citations with replace_text.
2. Minimally improve transitions between merged sections with replace_text.
3. Write the executive summary and conclusion with a single call to
   write_summary_and_conclusion, which replaces their placeholders.

Make the smallest edits that achieve each task. Never rewrite whole
sections. When done, reply with a one-line summary of the edits.
`)
}
