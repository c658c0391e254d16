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
	"context"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/model"
)

// scriptedLLM replays a fixed sequence of responses and records the
// message lists it was called with.
type scriptedLLM struct {
	responses []*model.Response
	calls     [][]*model.Message
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		s.calls = append(s.calls, req.Messages)
		if len(s.responses) == 0 {
			yield(nil, fmt.Errorf("script exhausted"))
			return
		}
		resp := s.responses[0]
		s.responses = s.responses[1:]
		yield(resp, nil)
	}
}

func (s *scriptedLLM) Close() error { return nil }

// recordingPlane answers every tool call with a canned result.
type recordingPlane struct {
	results map[string]string
	errs    map[string]error
	invoked []string
}

func (p *recordingPlane) Discover(ctx context.Context) ([]model.ToolDefinition, error) {
	return nil, nil
}

func (p *recordingPlane) Resolve(ctx context.Context, name string) (string, error) {
	return name, nil
}

func (p *recordingPlane) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	p.invoked = append(p.invoked, name)
	if err, ok := p.errs[name]; ok {
		return "", err
	}
	return p.results[name], nil
}

func (p *recordingPlane) Close() error { return nil }

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:      model.NewTextMessage(model.RoleAssistant, text),
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(calls ...model.ToolCall) *model.Response {
	return &model.Response{
		ToolCalls:    calls,
		FinishReason: model.FinishReasonToolCalls,
		Usage:        &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestRun_TerminalTextOnFirstCall(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{textResponse("done")}}
	d := New(llm, &recordingPlane{})

	result, err := d.Run(context.Background(), &Request{UserPrompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.FinalText)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.Transcript)
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestRun_ToolLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		toolCallResponse(model.ToolCall{ID: "c1", Name: "ddg_search", Args: map[string]any{"query": "inflation"}}),
		textResponse("findings"),
	}}
	plane := &recordingPlane{results: map[string]string{"ddg_search": "search output"}}
	d := New(llm, plane)

	result, err := d.Run(context.Background(), &Request{UserPrompt: "research"})
	require.NoError(t, err)
	assert.Equal(t, "findings", result.FinalText)
	assert.Equal(t, []string{"ddg_search"}, plane.invoked)

	require.Len(t, result.Transcript, 1)
	assert.Equal(t, "ddg_search", result.Transcript[0].Name)
	assert.Equal(t, "search output", result.Transcript[0].Result)
	assert.Empty(t, result.Transcript[0].Err)

	// Usage accumulates over both calls.
	assert.Equal(t, 30, result.Usage.TotalTokens)

	// The second model call sees user, assistant tool_use, user tool_result.
	require.Len(t, llm.calls, 2)
	second := llm.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, model.RoleAssistant, second[1].Role)

	var linked bool
	for _, p := range second[2].Parts {
		if tr, ok := p.(model.ToolResultPart); ok {
			linked = tr.ToolCallID == "c1" && tr.Content == "search output"
		}
	}
	assert.True(t, linked)
}

func TestRun_ToolErrorFedBackAsResult(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		toolCallResponse(model.ToolCall{ID: "c1", Name: "flaky"}),
		textResponse("recovered"),
	}}
	plane := &recordingPlane{errs: map[string]error{"flaky": fmt.Errorf("rate limited")}}
	d := New(llm, plane)

	result, err := d.Run(context.Background(), &Request{UserPrompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.FinalText)

	require.Len(t, result.Transcript, 1)
	assert.Equal(t, "rate limited", result.Transcript[0].Err)
	assert.Contains(t, result.Transcript[0].Result, "Error: rate limited")
}

func TestRun_IterationCap(t *testing.T) {
	// The model never terminates; every turn calls a tool.
	responses := make([]*model.Response, 10)
	for i := range responses {
		responses[i] = toolCallResponse(model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "loop"})
	}
	llm := &scriptedLLM{responses: responses}
	d := New(llm, &recordingPlane{results: map[string]string{"loop": "again"}})

	result, err := d.Run(context.Background(), &Request{UserPrompt: "go", MaxIterations: 3})
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.Transcript, 3)
}

func TestRun_IterationCapClampedToCeiling(t *testing.T) {
	// An oversized per-invocation cap never outruns the hard ceiling.
	responses := make([]*model.Response, HardIterationCeiling+10)
	for i := range responses {
		responses[i] = toolCallResponse(model.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "loop"})
	}
	llm := &scriptedLLM{responses: responses}
	d := New(llm, &recordingPlane{results: map[string]string{"loop": "again"}})

	result, err := d.Run(context.Background(), &Request{UserPrompt: "go", MaxIterations: 5000})
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, HardIterationCeiling, result.Iterations)
	assert.Len(t, llm.calls, HardIterationCeiling)
}

func TestRun_CancelProbeStopsBeforeModelCall(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{textResponse("never")}}
	d := New(llm, &recordingPlane{})

	_, err := d.Run(context.Background(), &Request{
		UserPrompt: "go",
		CheckCancel: func(ctx context.Context) (bool, error) {
			return true, nil
		},
	})
	require.ErrorIs(t, err, graph.ErrCancelled)
	assert.Empty(t, llm.calls)
}

func TestRun_CancelProbeAfterToolReturn(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		toolCallResponse(model.ToolCall{ID: "c1", Name: "search"}),
		textResponse("never reached"),
	}}
	plane := &recordingPlane{results: map[string]string{"search": "out"}}
	d := New(llm, plane)

	// Cancel flips after the first probe, so the tool runs but the second
	// model call does not.
	probes := 0
	result, err := d.Run(context.Background(), &Request{
		UserPrompt: "go",
		CheckCancel: func(ctx context.Context) (bool, error) {
			probes++
			return probes > 1, nil
		},
	})
	require.ErrorIs(t, err, graph.ErrCancelled)
	assert.Len(t, llm.calls, 1)
	assert.Len(t, result.Transcript, 1)
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{responses: []*model.Response{textResponse("never")}}
	d := New(llm, &recordingPlane{})

	_, err := d.Run(ctx, &Request{UserPrompt: "go"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCachePointHook(t *testing.T) {
	hook := CachePointHook()
	messages := []*model.Message{
		model.NewTextMessage(model.RoleUser, "prompt"),
		{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "c1", Name: "t"}}},
	}

	out := hook(messages)

	// The cache point lands on the last non-tool message.
	_, isCache := out[0].Parts[len(out[0].Parts)-1].(model.CachePointPart)
	assert.True(t, isCache)

	// Input messages stay untouched.
	assert.Len(t, messages[0].Parts, 1)

	// Re-applying does not stack markers.
	out = hook(out)
	count := 0
	for _, p := range out[0].Parts {
		if _, ok := p.(model.CachePointPart); ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCompactToolResultsHook(t *testing.T) {
	hook := CompactToolResultsHook(1, HeuristicCounter{})

	mkRound := func(id, content string) []*model.Message {
		return []*model.Message{
			{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: id, Name: "search"}}},
			{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{ToolCallID: id, Content: content}}},
		}
	}

	var messages []*model.Message
	messages = append(messages, model.NewTextMessage(model.RoleUser, "prompt"))
	messages = append(messages, mkRound("c1", "very long first result")...)
	messages = append(messages, mkRound("c2", "fresh result")...)

	out := hook(messages)

	// Older result elided, linkage and tool name preserved.
	old := out[2].Parts[0].(model.ToolResultPart)
	assert.Equal(t, "c1", old.ToolCallID)
	assert.Contains(t, old.Content, "Result of search")
	assert.Contains(t, old.Content, "elided")

	// The freshest result stays verbatim.
	fresh := out[4].Parts[0].(model.ToolResultPart)
	assert.Equal(t, "fresh result", fresh.Content)

	// Originals untouched.
	assert.Equal(t, "very long first result", messages[2].Parts[0].(model.ToolResultPart).Content)
}

func TestCompactToolResultsHook_NothingToCompact(t *testing.T) {
	hook := CompactToolResultsHook(2, nil)
	messages := []*model.Message{
		model.NewTextMessage(model.RoleUser, "prompt"),
		{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{ToolCallID: "c1", Content: "only"}}},
	}
	out := hook(messages)
	assert.Equal(t, "only", out[1].Parts[0].(model.ToolResultPart).Content)
}
