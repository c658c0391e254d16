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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kadirpekel/deepresearch/pkg/driver"
	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/report"
	"github.com/kadirpekel/deepresearch/pkg/state"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
)

// maxChartsPerReport bounds chart insertions.
const maxChartsPerReport = 8

// chartWindowLines is the read window the chart agent pages through.
const chartWindowLines = 100

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// chartGeneration runs the chart sub-agent over the draft. Every failure
// mode here is graceful: the report ships without charts.
func (r *run) chartGeneration(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StageChartGeneration); err != nil {
		return nil, err
	}
	if r.svc.sandbox == nil {
		slog.Info("No sandbox configured, skipping chart generation", "session_id", w.SessionID)
		return &state.Update{}, nil
	}

	chartsDir, err := r.svc.ws.ChartsDir(w.SessionID)
	if err != nil {
		_ = r.publisher.AddError(ctx, StageChartGeneration, "charts directory unavailable")
		return &state.Update{}, nil
	}

	cs := &chartSession{
		run:       r,
		sessionID: w.SessionID,
		draftPath: w.DraftReportFile,
		chartsDir: chartsDir,
		generated: make(map[string]bool),
	}

	local, err := toolplane.NewLocal(cs.tools()...)
	if err != nil {
		return nil, err
	}
	tools, err := local.Discover(ctx)
	if err != nil {
		return nil, err
	}

	lineCount, err := draftLineCount(w.DraftReportFile)
	if err != nil {
		_ = r.publisher.AddError(ctx, StageChartGeneration, "draft unreadable; skipping charts")
		return &state.Update{}, nil
	}

	agent := driver.New(r.llm, local)
	_, err = agent.Run(ctx, &driver.Request{
		SystemPrompt:  chartSystemPrompt(),
		UserPrompt:    fmt.Sprintf("The draft report for %q has %d lines. Page through it with read_document_lines and add charts where data supports them.", w.Topic, lineCount),
		Tools:         tools,
		MaxIterations: 24,
		Hooks:         r.hooks(),
		CheckCancel:   r.checkCancel,
	})
	switch {
	case err == nil || errors.Is(err, driver.ErrMaxIterations):
		// Inserted charts are already in the draft.
	case errors.Is(err, graph.ErrCancelled):
		return nil, err
	default:
		slog.Warn("Chart agent failed, report ships without charts", "error", err)
		_ = r.publisher.AddError(ctx, StageChartGeneration, "chart generation failed; report has no charts")
	}

	slog.Info("Chart generation finished", "session_id", w.SessionID, "charts", cs.insertedCount())
	return &state.Update{}, nil
}

// chartSession holds the per-run chart agent state shared by its tools.
type chartSession struct {
	run       *run
	sessionID string
	draftPath string
	chartsDir string

	mu        sync.Mutex
	generated map[string]bool
	inserted  int
}

func (cs *chartSession) insertedCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.inserted
}

// ReadDocumentLinesArgs pages through the draft.
type ReadDocumentLinesArgs struct {
	StartLine int `json:"start_line" jsonschema:"description=1-based first line of the 100-line window"`
}

// GenerateChartArgs runs chart code in the sandbox.
type GenerateChartArgs struct {
	Code     string `json:"code" jsonschema:"description=Python code that saves the chart as a PNG in the working directory"`
	Filename string `json:"filename" jsonschema:"description=PNG filename the code writes, e.g. growth_trend.png"`
}

// InsertChartArgs places a validated chart into the draft.
type InsertChartArgs struct {
	Filename  string `json:"filename" jsonschema:"description=Previously generated PNG filename"`
	AfterLine int    `json:"after_line" jsonschema:"description=1-based line after which the chart is inserted"`
	Title     string `json:"title" jsonschema:"description=Short chart title"`
	Caption   string `json:"caption" jsonschema:"description=One-sentence figure caption"`
}

func (cs *chartSession) tools() []toolplane.LocalTool {
	return []toolplane.LocalTool{
		{
			Name:        "read_document_lines",
			Description: fmt.Sprintf("Read a %d-line window of the draft report with line numbers.", chartWindowLines),
			Schema:      toolplane.SchemaFor(&ReadDocumentLinesArgs{}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				start := intArg(args, "start_line")
				if start < 1 {
					start = 1
				}
				return report.ReadDraftLines(cs.draftPath, start, start+chartWindowLines-1)
			},
		},
		{
			Name:        "generate_and_validate_chart",
			Description: "Execute Python chart code in the sandbox and validate the produced PNG. Must succeed before the chart can be inserted.",
			Schema:      toolplane.SchemaFor(&GenerateChartArgs{}),
			Handler:     cs.generateChart,
		},
		{
			Name:        "bring_and_insert_chart",
			Description: "Insert a validated chart into the draft after the given line. Figures are renumbered automatically.",
			Schema:      toolplane.SchemaFor(&InsertChartArgs{}),
			Handler:     cs.insertChart,
		},
	}
}

func (cs *chartSession) generateChart(ctx context.Context, args map[string]any) (string, error) {
	code, _ := args["code"].(string)
	filename, _ := args["filename"].(string)
	if code == "" || filename == "" {
		return "", fmt.Errorf("code and filename are required")
	}
	if !strings.HasSuffix(filename, ".png") || strings.ContainsAny(filename, "/\\") {
		return "", fmt.Errorf("filename must be a bare .png name")
	}

	result, err := cs.run.svc.sandbox.ExecuteCode(ctx, cs.sessionID, code)
	if err != nil {
		return "", fmt.Errorf("sandbox execution failed: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("Chart code failed (exit %d):\n%s", result.ExitCode, result.Stderr), nil
	}

	data, err := cs.run.svc.sandbox.ReadFile(ctx, cs.sessionID, filename)
	if err != nil {
		return fmt.Sprintf("Chart code ran but %s was not produced. Make sure the code saves the file.", filename), nil
	}
	if len(data) == 0 || !bytes.HasPrefix(data, pngSignature) {
		return fmt.Sprintf("%s is not a valid PNG; regenerate it.", filename), nil
	}

	if err := os.WriteFile(filepath.Join(cs.chartsDir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store chart: %w", err)
	}

	cs.mu.Lock()
	cs.generated[filename] = true
	cs.mu.Unlock()

	review := cs.reviewChart(ctx, data, filename)
	if review == "" {
		return fmt.Sprintf("Chart %s generated and validated (%d bytes).", filename, len(data)), nil
	}
	return fmt.Sprintf("Chart %s generated and validated (%d bytes). Visual review:\n%s",
		filename, len(data), review), nil
}

// reviewChart shows the rendered PNG to the model for a readability check.
// Best-effort: a failed review never blocks the chart.
func (cs *chartSession) reviewChart(ctx context.Context, png []byte, filename string) string {
	resp, err := model.Generate(ctx, cs.run.llm, &model.Request{
		Messages: []*model.Message{{
			Role: model.RoleUser,
			Parts: []model.Part{
				model.ImagePart{MediaType: "image/png", Data: png},
				model.TextPart{Text: fmt.Sprintf(
					"This is the rendered chart %s. Check that the labels, axes and legend are readable and the data is plotted sensibly. Reply APPROVED, or list what to fix before regenerating.", filename)},
			},
		}},
	})
	if err != nil {
		slog.Debug("Chart review failed", "chart", filename, "error", err)
		return ""
	}
	return strings.TrimSpace(resp.TextContent())
}

func (cs *chartSession) insertChart(ctx context.Context, args map[string]any) (string, error) {
	filename, _ := args["filename"].(string)
	title, _ := args["title"].(string)
	caption, _ := args["caption"].(string)
	afterLine := intArg(args, "after_line")

	cs.mu.Lock()
	ok := cs.generated[filename]
	full := cs.inserted >= maxChartsPerReport
	cs.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("chart %q has not been generated and validated", filename)
	}
	if full {
		return fmt.Sprintf("The report already has %d charts; no more can be added.", maxChartsPerReport), nil
	}

	block := report.ChartBlock(filepath.Join("charts", filename), title, caption)
	err := report.UpdateDraft(cs.draftPath, func(content string) (string, error) {
		return report.InsertAtLine(content, afterLine, block), nil
	})
	if err != nil {
		return "", err
	}

	cs.mu.Lock()
	cs.inserted++
	n := cs.inserted
	cs.mu.Unlock()

	return fmt.Sprintf("Chart inserted after line %d (%d of %d).", afterLine, n, maxChartsPerReport), nil
}

func chartSystemPrompt() string {
	return strings.TrimSpace(`
You are a data visualization specialist adding charts to a research report.

Workflow per chart:
1. Page through the report with read_document_lines to find sections with
   concrete numeric data (growth figures, comparisons, distributions).
2. Write matplotlib code that saves the chart as a PNG and run it with
   generate_and_validate_chart. Only use numbers that appear in the report.
3. Once validated, place it with bring_and_insert_chart directly after the
   data it illustrates, with a title and a one-sentence caption.

Rules:
- Never invent data. A section without usable numbers gets no chart.
- Keep charts simple: one message per chart.
- Stop when the data-bearing sections are covered or the chart limit is hit.
`)
}

// intArg reads an integer tool argument that arrives as a JSON number.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func draftLineCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strings.Count(string(data), "\n") + 1, nil
}
