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

// Package anthropic provides an Anthropic Claude LLM implementation.
//
// Supports tool use, document content blocks for PDF summarization, and
// prompt cache-point annotations (cache_control on the preceding block).
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/model"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 8192
	defaultTimeout   = 300 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an Anthropic LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &Client{
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// GenerateContent produces responses for the given request.
//
// When stream=false:
//   - Yields exactly one Response with complete content, Partial=false
//
// When stream=true:
//   - Yields partial Responses (Partial=true) as chunks arrive
//   - Finally yields the aggregated Response (Partial=false)
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}

	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	apiReq, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	parsed := c.parseResponse(&apiResp)
	if req.Config != nil && req.Config.JSONOnly {
		restorePrefill(parsed)
	}
	return parsed, nil
}

// restorePrefill puts the prefilled opening brace back onto the completion.
func restorePrefill(resp *model.Response) {
	if resp == nil || resp.Content == nil {
		return
	}
	for i, part := range resp.Content.Parts {
		if tp, ok := part.(model.TextPart); ok {
			if !strings.HasPrefix(strings.TrimSpace(tp.Text), "{") {
				tp.Text = "{" + tp.Text
				resp.Content.Parts[i] = tp
			}
			return
		}
	}
}

// streamState holds state accumulated during SSE streaming.
type streamState struct {
	toolJSONBuffers map[int]string
	toolCalls       map[int]*model.ToolCall
	usage           *model.Usage
	finishReason    model.FinishReason
}

func newStreamState() *streamState {
	return &streamState{
		toolJSONBuffers: make(map[int]string),
		toolCalls:       make(map[int]*model.ToolCall),
		finishReason:    model.FinishReasonStop,
	}
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		apiReq, err := c.buildRequest(req, true)
		if err != nil {
			yield(nil, err)
			return
		}

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(nil, fmt.Errorf("failed to marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("failed to create request: %w", err))
			return
		}

		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(nil, fmt.Errorf("request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
			return
		}

		reader := bufio.NewReader(resp.Body)
		state := newStreamState()
		aggregator := model.NewStreamingAggregator()

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			for _, partial := range processStreamEvent(&event, state, aggregator) {
				if !yield(partial, nil) {
					return
				}
			}
		}

		if state.usage != nil {
			aggregator.SetUsage(state.usage)
		}
		aggregator.SetFinishReason(state.finishReason)

		yield(aggregator.Close(), nil)
	}
}

// processStreamEvent folds one SSE event into the stream state and returns
// the partial responses to yield.
func processStreamEvent(event *streamEvent, state *streamState, agg *model.StreamingAggregator) []*model.Response {
	var out []*model.Response

	switch event.Type {
	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			state.toolCalls[event.Index] = &model.ToolCall{
				ID:   event.ContentBlock.ID,
				Name: event.ContentBlock.Name,
			}
			state.toolJSONBuffers[event.Index] = ""
		}

	case "content_block_delta":
		if event.Delta != nil {
			switch event.Delta.Type {
			case "text_delta":
				out = append(out, agg.TextDelta(event.Delta.Text))
			case "input_json_delta":
				state.toolJSONBuffers[event.Index] += event.Delta.PartialJSON
			}
		}

	case "content_block_stop":
		if tc, ok := state.toolCalls[event.Index]; ok {
			if jsonStr := state.toolJSONBuffers[event.Index]; jsonStr != "" {
				var args map[string]any
				_ = json.Unmarshal([]byte(jsonStr), &args)
				tc.Args = args
			}
			out = append(out, agg.AddToolCall(*tc))
			delete(state.toolCalls, event.Index)
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			switch event.Delta.StopReason {
			case "tool_use":
				state.finishReason = model.FinishReasonToolCalls
			case "max_tokens":
				state.finishReason = model.FinishReasonLength
			default:
				state.finishReason = model.FinishReasonStop
			}
		}
		if event.Usage != nil {
			state.usage = &model.Usage{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
	}

	return out
}

// setHeaders sets the required HTTP headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// buildRequest creates an API request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) (*apiRequest, error) {
	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}

	if c.temperature != nil {
		apiReq.Temperature = *c.temperature
	}
	if req.Config != nil {
		if req.Config.Temperature != nil {
			apiReq.Temperature = *req.Config.Temperature
		}
		if req.Config.MaxTokens != nil {
			apiReq.MaxTokens = *req.Config.MaxTokens
		}
		apiReq.StopSequences = req.Config.StopSequences
	}

	if req.SystemInstruction != "" {
		apiReq.System = req.SystemInstruction
	}

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}

		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "assistant"
		}

		var content []apiContent
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case model.TextPart:
				content = append(content, apiContent{
					Type: "text",
					Text: p.Text,
				})
			case model.ToolUsePart:
				content = append(content, apiContent{
					Type:  "tool_use",
					ID:    p.ID,
					Name:  p.Name,
					Input: p.Args,
				})
			case model.ToolResultPart:
				result := p.Content
				// Anthropic rejects empty tool results.
				if result == "" {
					result = "(no output)"
				}
				content = append(content, apiContent{
					Type:      "tool_result",
					ToolUseID: p.ToolCallID,
					Content:   result,
				})
			case model.DocumentPart:
				if len(p.Data) > model.MaxDocumentBytes {
					return nil, fmt.Errorf("document %s exceeds %d byte limit (%d bytes)",
						p.Filename, model.MaxDocumentBytes, len(p.Data))
				}
				mediaType := p.MediaType
				if mediaType == "" {
					mediaType = "application/pdf"
				}
				content = append(content, apiContent{
					Type: "document",
					Source: &apiDocumentSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      base64.StdEncoding.EncodeToString(p.Data),
					},
				})
			case model.ImagePart:
				mediaType := p.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				content = append(content, apiContent{
					Type: "image",
					Source: &apiDocumentSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      base64.StdEncoding.EncodeToString(p.Data),
					},
				})
			case model.CachePointPart:
				// Annotate the preceding block; a leading cache point has
				// nothing to attach to and is dropped.
				if len(content) > 0 {
					content[len(content)-1].CacheControl = &apiCacheControl{Type: "ephemeral"}
				}
			}
		}

		if len(content) > 0 {
			apiReq.Messages = append(apiReq.Messages, apiMessage{
				Role:    role,
				Content: content,
			})
		}
	}

	// A prefilled assistant turn pins the completion to a bare JSON object;
	// the caller-facing response gets the brace restored.
	if req.Config != nil && req.Config.JSONOnly {
		apiReq.Messages = append(apiReq.Messages, apiMessage{
			Role:    "assistant",
			Content: []apiContent{{Type: "text", Text: "{"}},
		})
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return apiReq, nil
}

// parseResponse converts an API response to model.Response.
func (c *Client) parseResponse(resp *apiResponse) *model.Response {
	result := &model.Response{
		Partial: false,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: model.FinishReasonStop,
	}

	switch resp.StopReason {
	case "tool_use":
		result.FinishReason = model.FinishReasonToolCalls
	case "max_tokens":
		result.FinishReason = model.FinishReasonLength
	}

	var parts []model.Part
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			parts = append(parts, model.TextPart{Text: content.Text})
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, model.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: content.Input,
			})
		}
	}

	if len(parts) > 0 {
		result.Content = &model.Message{
			Role:  model.RoleAssistant,
			Parts: parts,
		}
	}

	return result
}

// API types

type apiRequest struct {
	Model         string       `json:"model"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   float64      `json:"temperature,omitempty"`
	Stream        bool         `json:"stream"`
	System        string       `json:"system,omitempty"`
	Tools         []apiTool    `json:"tools,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type         string             `json:"type"`
	Text         string             `json:"text,omitempty"`
	ID           string             `json:"id,omitempty"`
	Name         string             `json:"name,omitempty"`
	Input        map[string]any     `json:"input,omitempty"`
	ToolUseID    string             `json:"tool_use_id,omitempty"`
	Content      string             `json:"content,omitempty"`
	Source       *apiDocumentSource `json:"source,omitempty"`
	CacheControl *apiCacheControl   `json:"cache_control,omitempty"`
}

type apiDocumentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiCacheControl struct {
	Type string `json:"type"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	Delta        *apiDelta   `json:"delta,omitempty"`
	ContentBlock *apiContent `json:"content_block,omitempty"`
	Usage        *apiUsage   `json:"usage,omitempty"`
}

type apiDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
