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

// Package model defines the LLM interface.
//
// A single GenerateContent method serves both streaming and non-streaming
// calls and returns iter.Seq2[*Response, error]:
//   - non-streaming: yields exactly one Response (Partial=false)
//   - streaming: yields partial Responses (Partial=true), then the final
//     aggregated Response (Partial=false) for persistence
package model

import (
	"context"
	"iter"
)

// MaxDocumentBytes is the provider payload ceiling for document input.
const MaxDocumentBytes = 4_500_000

// Role identifies a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one content block of a message.
type Part interface{ isPart() }

// TextPart is plain text content.
type TextPart struct {
	Text string
}

// ToolUsePart records a model-issued tool call inside an assistant message.
type ToolUsePart struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResultPart carries a tool result back to the model.
type ToolResultPart struct {
	ToolCallID string
	Content    string
}

// DocumentPart is an opaque document payload (PDF summarization input).
type DocumentPart struct {
	Filename  string
	MediaType string
	Data      []byte
}

// ImagePart is inline image content (chart review input).
type ImagePart struct {
	MediaType string
	Data      []byte
}

// CachePointPart marks a prefix-cache hint. Providers without cache support
// must ignore it; correctness never depends on cache presence.
type CachePointPart struct{}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}
func (DocumentPart) isPart()   {}
func (ImagePart) isPart()      {}
func (CachePointPart) isPart() {}

// Message is one turn of the conversation.
type Message struct {
	Role  Role
	Parts []Part
}

// NewTextMessage builds a single-text-part message.
func NewTextMessage(role Role, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolDefinition declares a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// GenerateConfig tunes a generation call.
type GenerateConfig struct {
	Temperature   *float64
	MaxTokens     *int
	StopSequences []string

	// JSONOnly asks the model for a bare JSON object response.
	JSONOnly bool
}

// Request is the input to a generation call.
type Request struct {
	SystemInstruction string
	Messages          []*Message
	Tools             []ToolDefinition
	Config            *GenerateConfig
}

// Usage carries token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// Response is one yielded result of a generation call.
type Response struct {
	// Content is the generated message (nil for pure tool-call turns).
	Content *Message

	// Partial marks streaming chunks; the aggregated final response has
	// Partial=false.
	Partial bool

	ToolCalls    []ToolCall
	Usage        *Usage
	FinishReason FinishReason
}

// TextContent extracts the response text.
func (r *Response) TextContent() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return r.Content.Text()
}

// HasToolCalls reports whether the model requested tool invocations.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// LLM is the language model interface.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// GenerateContent produces responses for the request. See the package
	// comment for streaming semantics.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// Close releases held resources.
	Close() error
}

// Generate is a convenience wrapper for non-streaming single responses.
func Generate(ctx context.Context, llm LLM, req *Request) (*Response, error) {
	for resp, err := range llm.GenerateContent(ctx, req, false) {
		return resp, err
	}
	return nil, context.Canceled
}
