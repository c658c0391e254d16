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

// Package driver runs the tool-calling reasoning loop.
//
// The driver sends the prompt with the declared toolset, invokes requested
// tools through the tool plane, feeds results back, and repeats until the
// model produces a terminal completion or the iteration cap is reached.
// Pre-model hooks transform the accumulated message list before every model
// call; cancellation is probed before each model call and after each tool
// return.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
)

// DefaultMaxIterations bounds the loop when no cap is configured.
const DefaultMaxIterations = 25

// HardIterationCeiling is the absolute safety bound; per-invocation
// overrides never raise the cap above it.
const HardIterationCeiling = 100

// ErrMaxIterations is returned when the loop hits its iteration cap.
var ErrMaxIterations = errors.New("agent reached iteration cap")

// Hook transforms the message list before a model call. Hooks must be pure:
// they return a new list and never mutate the input messages.
type Hook func(messages []*model.Message) []*model.Message

// ToolCallRecord is one transcript entry.
type ToolCallRecord struct {
	Iteration int
	Name      string
	Args      map[string]any
	Result    string
	Err       string
	Elapsed   time.Duration
}

// Request configures one agent run.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Tools        []model.ToolDefinition

	// MaxIterations caps the reasoning loop (default 25, clamped to the
	// 100-iteration safety ceiling).
	MaxIterations int

	// Hooks run in order before every model call.
	Hooks []Hook

	// CheckCancel is probed before each model call and after each tool
	// return. Returning true raises graph.ErrCancelled.
	CheckCancel func(ctx context.Context) (bool, error)

	// Config tunes the underlying model calls.
	Config *model.GenerateConfig
}

// Result is the outcome of an agent run.
type Result struct {
	FinalText  string
	Transcript []ToolCallRecord
	Iterations int
	Usage      model.Usage
}

// Driver binds a model to the tool plane.
type Driver struct {
	llm   model.LLM
	plane toolplane.Plane
}

// New creates a driver.
func New(llm model.LLM, plane toolplane.Plane) *Driver {
	return &Driver{llm: llm, plane: plane}
}

// Run executes the reasoning loop.
func (d *Driver) Run(ctx context.Context, req *Request) (*Result, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > HardIterationCeiling {
		maxIter = HardIterationCeiling
	}

	messages := []*model.Message{
		model.NewTextMessage(model.RoleUser, req.UserPrompt),
	}
	result := &Result{}

	for iteration := 0; ; iteration++ {
		if iteration >= maxIter {
			result.Iterations = iteration
			return result, fmt.Errorf("%w (%d iterations)", ErrMaxIterations, iteration)
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if cancelled, err := d.probe(ctx, req); err != nil {
			return result, err
		} else if cancelled {
			return result, graph.ErrCancelled
		}

		hooked := messages
		for _, hook := range req.Hooks {
			hooked = hook(hooked)
		}

		resp, err := model.Generate(ctx, d.llm, &model.Request{
			SystemInstruction: req.SystemPrompt,
			Messages:          hooked,
			Tools:             req.Tools,
			Config:            req.Config,
		})
		if err != nil {
			return result, fmt.Errorf("model call failed at iteration %d: %w", iteration, err)
		}
		if resp.Usage != nil {
			result.Usage.PromptTokens += resp.Usage.PromptTokens
			result.Usage.CompletionTokens += resp.Usage.CompletionTokens
			result.Usage.TotalTokens += resp.Usage.TotalTokens
		}

		if !resp.HasToolCalls() {
			result.FinalText = resp.TextContent()
			result.Iterations = iteration + 1
			return result, nil
		}

		// Record the assistant turn exactly as the model produced it so
		// tool_use/tool_result linkage survives.
		assistant := &model.Message{Role: model.RoleAssistant}
		if text := resp.TextContent(); text != "" {
			assistant.Parts = append(assistant.Parts, model.TextPart{Text: text})
		}
		for _, tc := range resp.ToolCalls {
			assistant.Parts = append(assistant.Parts, model.ToolUsePart{
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
			})
		}
		messages = append(messages, assistant)

		toolTurn := &model.Message{Role: model.RoleUser}
		for _, tc := range resp.ToolCalls {
			record := ToolCallRecord{
				Iteration: iteration,
				Name:      tc.Name,
				Args:      tc.Args,
			}

			start := time.Now()
			output, err := d.plane.Invoke(ctx, tc.Name, tc.Args)
			record.Elapsed = time.Since(start)

			if err != nil {
				// Tool failures go back to the model as results so it can
				// adapt instead of aborting the run.
				record.Err = err.Error()
				output = fmt.Sprintf("Error: %s", err.Error())
				slog.Warn("Tool call failed", "tool", tc.Name, "error", err)
			}
			record.Result = output
			result.Transcript = append(result.Transcript, record)

			toolTurn.Parts = append(toolTurn.Parts, model.ToolResultPart{
				ToolCallID: tc.ID,
				Content:    output,
			})
		}
		messages = append(messages, toolTurn)

		if cancelled, err := d.probe(ctx, req); err != nil {
			return result, err
		} else if cancelled {
			return result, graph.ErrCancelled
		}
	}
}

func (d *Driver) probe(ctx context.Context, req *Request) (bool, error) {
	if req.CheckCancel == nil {
		return false, nil
	}
	return req.CheckCancel(ctx)
}
