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

package driver

import (
	"fmt"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

// CachePointHook marks the most recent non-tool message with a cache hint
// so compatible models can reuse prefix state. Models without cache support
// ignore the annotation.
func CachePointHook() Hook {
	return func(messages []*model.Message) []*model.Message {
		target := -1
		for i := len(messages) - 1; i >= 0; i-- {
			if !isToolMessage(messages[i]) {
				target = i
				break
			}
		}
		if target < 0 {
			return messages
		}

		out := make([]*model.Message, len(messages))
		copy(out, messages)

		annotated := &model.Message{
			Role:  out[target].Role,
			Parts: make([]model.Part, 0, len(out[target].Parts)+1),
		}
		for _, p := range out[target].Parts {
			if _, ok := p.(model.CachePointPart); ok {
				continue
			}
			annotated.Parts = append(annotated.Parts, p)
		}
		annotated.Parts = append(annotated.Parts, model.CachePointPart{})
		out[target] = annotated
		return out
	}
}

// CompactToolResultsHook elides tool-result content older than the last
// keepLast tool-result messages, replacing it with a placeholder that names
// the tool and keeps the tool-call linkage intact. counter estimates the
// elided size; nil falls back to a character heuristic.
func CompactToolResultsHook(keepLast int, counter TokenCounter) Hook {
	if keepLast < 1 {
		keepLast = 1
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}

	return func(messages []*model.Message) []*model.Message {
		// Tool names by call ID, for the placeholder text.
		toolNames := make(map[string]string)
		for _, msg := range messages {
			for _, p := range msg.Parts {
				if tu, ok := p.(model.ToolUsePart); ok {
					toolNames[tu.ID] = tu.Name
				}
			}
		}

		var resultIndexes []int
		for i, msg := range messages {
			if hasToolResult(msg) {
				resultIndexes = append(resultIndexes, i)
			}
		}
		if len(resultIndexes) <= keepLast {
			return messages
		}

		compactBefore := resultIndexes[len(resultIndexes)-keepLast]
		out := make([]*model.Message, len(messages))
		copy(out, messages)

		for i := 0; i < compactBefore; i++ {
			if !hasToolResult(out[i]) {
				continue
			}
			compacted := &model.Message{
				Role:  out[i].Role,
				Parts: make([]model.Part, 0, len(out[i].Parts)),
			}
			for _, p := range out[i].Parts {
				tr, ok := p.(model.ToolResultPart)
				if !ok {
					compacted.Parts = append(compacted.Parts, p)
					continue
				}
				name := toolNames[tr.ToolCallID]
				if name == "" {
					name = "tool"
				}
				compacted.Parts = append(compacted.Parts, model.ToolResultPart{
					ToolCallID: tr.ToolCallID,
					Content: fmt.Sprintf("[Result of %s (%s) elided, ~%d tokens]",
						name, shortID(tr.ToolCallID), counter.Count(tr.Content)),
				})
			}
			out[i] = compacted
		}
		return out
	}
}

func isToolMessage(msg *model.Message) bool {
	for _, p := range msg.Parts {
		switch p.(type) {
		case model.ToolUsePart, model.ToolResultPart:
			return true
		}
	}
	return false
}

func hasToolResult(msg *model.Message) bool {
	for _, p := range msg.Parts {
		if _, ok := p.(model.ToolResultPart); ok {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
