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

package model

import "strings"

// StreamingAggregator accumulates streaming deltas into the final
// aggregated response yielded once the stream closes.
type StreamingAggregator struct {
	text      strings.Builder
	toolCalls []ToolCall
	usage     *Usage
	finish    FinishReason
}

// NewStreamingAggregator creates an empty aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{finish: FinishReasonStop}
}

// TextDelta records a text chunk and returns the partial response to yield.
func (a *StreamingAggregator) TextDelta(delta string) *Response {
	a.text.WriteString(delta)
	return &Response{
		Content: NewTextMessage(RoleAssistant, delta),
		Partial: true,
	}
}

// AddToolCall records a completed tool call and returns the partial
// response to yield.
func (a *StreamingAggregator) AddToolCall(tc ToolCall) *Response {
	a.toolCalls = append(a.toolCalls, tc)
	return &Response{
		ToolCalls: []ToolCall{tc},
		Partial:   true,
	}
}

// SetUsage records final usage accounting.
func (a *StreamingAggregator) SetUsage(u *Usage) { a.usage = u }

// SetFinishReason records the final stop reason.
func (a *StreamingAggregator) SetFinishReason(r FinishReason) { a.finish = r }

// Close returns the aggregated final response (Partial=false).
func (a *StreamingAggregator) Close() *Response {
	resp := &Response{
		Partial:      false,
		ToolCalls:    a.toolCalls,
		Usage:        a.usage,
		FinishReason: a.finish,
	}
	if a.text.Len() > 0 {
		resp.Content = NewTextMessage(RoleAssistant, a.text.String())
	}
	return resp
}
