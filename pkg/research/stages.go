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
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/blobstore"
	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/convert"
	"github.com/kadirpekel/deepresearch/pkg/driver"
	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/jsonx"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/report"
	"github.com/kadirpekel/deepresearch/pkg/state"
	"github.com/kadirpekel/deepresearch/pkg/status"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
	"github.com/kadirpekel/deepresearch/pkg/workspace"
)

// Stage names, in pipeline order.
const (
	StageInitialize         = "initialize_session"
	StageReferences         = "reference_preparation"
	StageTopicAnalysis      = "topic_analysis"
	StageAspectAnalysis     = "aspect_analysis"
	StagePlanning           = "research_planning"
	StageResearch           = "research_agent"
	StageResearchJoin       = "research_join"
	StageReduction          = "dimension_reduction"
	StageReductionJoin      = "reduction_join"
	StageReportWriting      = "report_writing"
	StageChartGeneration    = "chart_generation"
	StageDocumentConversion = "document_conversion"
	StageFinalize           = "finalize"
)

// firstChunkTimeout bounds the wait for the first streamed token during
// dimension reduction.
const firstChunkTimeout = 30 * time.Second

// maxReferenceFetchBytes caps a fetched URL reference body.
const maxReferenceFetchBytes = 2 << 20

// extractToolName is the tool plane's URL content extractor.
const extractToolName = "tavily_extract"

// maxExplorationSnippet caps the search excerpt fed into analysis prompts.
const maxExplorationSnippet = 4000

// ---------------------------------------------------------------------------
// initialize_session

func (r *run) initializeSession(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.MarkProcessing(ctx, StageInitialize); err != nil {
		return nil, err
	}
	r.tracker.ResearchStart(ctx, w.Topic, r.modelID,
		string(r.cfg.ResearchType), string(r.cfg.ResearchDepth),
		len(r.cfg.ReferenceMaterials) > 0)

	slog.Info("Research session started",
		"session_id", w.SessionID,
		"topic", w.Topic,
		"type", r.cfg.ResearchType,
		"depth", r.cfg.ResearchDepth)

	return &state.Update{ResearchContext: r.cfg.ResearchContext}, nil
}

// ---------------------------------------------------------------------------
// reference_preparation

func (r *run) prepareReferences(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if len(r.cfg.ReferenceMaterials) == 0 {
		return &state.Update{}, nil
	}
	if err := r.publisher.UpdateStage(ctx, StageReferences); err != nil {
		return nil, err
	}

	var materials []state.ReferenceMaterial
	for i, ref := range r.cfg.ReferenceMaterials {
		material, err := r.prepareReference(ctx, ref)
		if err != nil {
			// A bad reference degrades the run, it does not abort it.
			slog.Warn("Reference preparation failed", "index", i, "source", ref.Source, "error", err)
			_ = r.publisher.AddError(ctx, StageReferences,
				fmt.Sprintf("reference %d (%s) skipped: %s", i+1, ref.Source, err))
			continue
		}
		materials = append(materials, *material)
	}

	if len(materials) > 0 {
		r.tracker.ReferencesPrepared(ctx, materials)
	}
	return &state.Update{References: materials}, nil
}

func (r *run) prepareReference(ctx context.Context, ref config.ReferenceInput) (*state.ReferenceMaterial, error) {
	var parts []model.Part

	switch ref.Type {
	case "url":
		body, err := r.extractURL(ctx, ref.Source)
		if err != nil {
			return nil, err
		}
		parts = append(parts, model.TextPart{Text: body})

	case "pdf":
		data, err := base64.StdEncoding.DecodeString(ref.Content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
		if len(data) > model.MaxDocumentBytes {
			// Oversized documents go in as extracted text instead of raw
			// document input.
			text, err := convert.ExtractPdfTextFromBytes(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("pdf too large and text extraction failed: %w", err)
			}
			parts = append(parts, model.TextPart{Text: text})
		} else {
			parts = append(parts, model.DocumentPart{
				Filename:  workspace.SanitizeFilename(referenceTitle(ref)),
				MediaType: "application/pdf",
				Data:      data,
			})
		}

	default:
		return nil, fmt.Errorf("unknown reference type %q", ref.Type)
	}

	parts = append(parts, model.TextPart{Text: referenceSummaryPrompt(ref.Title, ref.Note)})
	resp, err := model.Generate(ctx, r.llm, &model.Request{
		Messages: []*model.Message{{Role: model.RoleUser, Parts: parts}},
	})
	if err != nil {
		return nil, fmt.Errorf("reference summarization failed: %w", err)
	}

	summary := resp.TextContent()
	return &state.ReferenceMaterial{
		Type:      ref.Type,
		Source:    ref.Source,
		Title:     referenceTitle(ref),
		Summary:   summary,
		KeyPoints: extractKeyPoints(summary),
		Note:      ref.Note,
	}, nil
}

func referenceTitle(ref config.ReferenceInput) string {
	if ref.Title != "" {
		return ref.Title
	}
	return ref.Source
}

// extractURL pulls title and content for a URL reference through the tool
// plane's extraction tool, falling back to a raw fetch when the plane does
// not serve one.
func (r *run) extractURL(ctx context.Context, url string) (string, error) {
	if _, err := r.svc.plane.Resolve(ctx, extractToolName); err == nil {
		out, err := r.svc.plane.Invoke(ctx, extractToolName, map[string]any{"urls": url})
		if err != nil {
			return "", fmt.Errorf("url extraction failed: %w", err)
		}
		if strings.TrimSpace(out) != "" {
			return out, nil
		}
	}
	return fetchURL(ctx, url)
}

func fetchURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := httpclient.New(httpclient.WithMaxRetries(2))
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch reference URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reference URL returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceFetchBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read reference URL body: %w", err)
	}
	return string(body), nil
}

// extractKeyPoints pulls the bullet lines under the "Key Points" heading.
func extractKeyPoints(summary string) []string {
	var points []string
	inSection := false
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(strings.Trim(trimmed, "#* "))
		if strings.HasPrefix(lower, "key points") {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") {
			point := strings.TrimSpace(strings.TrimLeft(trimmed, "-* "))
			if point != "" && len(points) < 5 {
				points = append(points, point)
			}
		} else if trimmed != "" {
			break
		}
	}
	return points
}

// ---------------------------------------------------------------------------
// topic_analysis

func (r *run) topicAnalysis(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StageTopicAnalysis); err != nil {
		return nil, err
	}

	// A short tool-assisted exploration grounds the decomposition. Losing it
	// costs quality, not correctness.
	synopsis := ""
	expl, err := r.drv.Run(ctx, &driver.Request{
		SystemPrompt:  explorationSystemPrompt(),
		UserPrompt:    fmt.Sprintf("Topic: %s", w.Topic),
		Tools:         r.tools,
		MaxIterations: 5,
		CheckCancel:   r.checkCancel,
	})
	switch {
	case err == nil:
		synopsis = expl.FinalText
	case errors.Is(err, graph.ErrCancelled):
		return nil, err
	case errors.Is(err, driver.ErrMaxIterations):
		synopsis = expl.FinalText
	default:
		slog.Warn("Topic exploration failed, decomposing without synopsis", "error", err)
	}

	var decomposition struct {
		Dimensions []string `json:"dimensions"`
	}
	prompt := dimensionsPrompt(w.Topic, synopsis, w.ResearchContext, r.profile.TargetDimensions)
	if err := r.generateJSON(ctx, prompt, &decomposition); err != nil {
		return nil, fmt.Errorf("topic decomposition failed: %w", err)
	}

	dims := cleanStrings(decomposition.Dimensions, r.profile.TargetDimensions)
	if len(dims) == 0 {
		return nil, fmt.Errorf("topic decomposition produced no dimensions")
	}

	slog.Info("Topic decomposed", "session_id", w.SessionID, "dimensions", dims)
	return &state.Update{Dimensions: dims}, nil
}

// generateJSON calls the model in JSON-only mode and recovers the object,
// retrying once on a parse failure.
func (r *run) generateJSON(ctx context.Context, prompt string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := model.Generate(ctx, r.llm, &model.Request{
			Messages: []*model.Message{model.NewTextMessage(model.RoleUser, prompt)},
			Config:   &model.GenerateConfig{JSONOnly: true},
		})
		if err != nil {
			return err
		}
		if err := jsonx.Recover(resp.TextContent(), out); err != nil {
			lastErr = err
			slog.Warn("JSON recovery failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}
		return nil
	}
	return lastErr
}

func cleanStrings(in []string, limit int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// aspect_analysis (mapper)

type aspectTask struct {
	Dimension string
}

func (r *run) aspectSends(ctx context.Context, w *state.Workflow) ([]graph.Send, error) {
	if err := r.publisher.UpdateStage(ctx, StageAspectAnalysis); err != nil {
		return nil, err
	}
	sends := make([]graph.Send, 0, len(w.Dimensions))
	for _, dim := range w.Dimensions {
		sends = append(sends, graph.Send{Node: StageAspectAnalysis, Payload: aspectTask{Dimension: dim}})
	}
	return sends, nil
}

func (r *run) aspectWorker(ctx context.Context, w *state.Workflow, payload any) (*state.Update, error) {
	task := payload.(aspectTask)

	if cancelled, err := r.checkCancel(ctx); err != nil {
		return nil, err
	} else if cancelled {
		return &state.Update{}, graph.ErrCancelled
	}

	// One scoped grounding search; losing it costs quality, not the dimension.
	snippet := r.exploratorySearch(ctx, fmt.Sprintf("%s %s", w.Topic, task.Dimension))

	// A persistent failure here drops this dimension only; the surviving
	// dimensions carry the run.
	dropDimension := func(reason string) (*state.Update, error) {
		slog.Warn("Aspect analysis failed, dropping dimension",
			"dimension", task.Dimension, "reason", reason)
		_ = r.publisher.AddError(ctx, StageAspectAnalysis,
			fmt.Sprintf("dimension %q dropped: %s", task.Dimension, reason))
		return &state.Update{}, nil
	}

	var parsed struct {
		Aspects []state.Aspect `json:"aspects"`
	}
	prompt := aspectsPrompt(w.Topic, task.Dimension, snippet, w.References, w.ResearchContext, r.profile.AspectsPerDim)
	if err := r.generateJSON(ctx, prompt, &parsed); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, graph.ErrCancelled) {
			return nil, err
		}
		_, friendly := Classify(err)
		return dropDimension(friendly)
	}

	aspects := cleanAspects(parsed.Aspects, r.profile.AspectsPerDim)
	if len(aspects) == 0 {
		return dropDimension("no usable aspects in model output")
	}
	for i := range aspects {
		aspects[i].Completed = false
	}

	return &state.Update{
		OriginalAspectsByDim: map[string][]state.Aspect{task.Dimension: aspects},
	}, nil
}

// exploratorySearch runs one search through the session's toolset and
// returns a bounded snippet. Best-effort: any failure yields "".
func (r *run) exploratorySearch(ctx context.Context, query string) string {
	name := ""
	for _, t := range r.tools {
		if strings.Contains(toolplane.ShortName(t.Name), "search") {
			name = t.Name
			break
		}
	}
	if name == "" {
		return ""
	}
	out, err := r.svc.plane.Invoke(ctx, name, map[string]any{"query": query})
	if err != nil {
		slog.Debug("Exploratory search failed", "tool", name, "error", err)
		return ""
	}
	if len(out) > maxExplorationSnippet {
		out = out[:maxExplorationSnippet]
	}
	return out
}

// cleanAspects normalizes model output: non-object and nameless entries are
// dropped, missing fields get defaults, and the list is truncated or padded
// to the target count. Completed flags pass through untouched.
func cleanAspects(in []state.Aspect, target int) []state.Aspect {
	var out []state.Aspect
	for _, a := range in {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			continue
		}
		a.Reasoning = strings.TrimSpace(a.Reasoning)
		if a.Reasoning == "" {
			a.Reasoning = "Identified during dimension analysis"
		}
		var questions []string
		for _, q := range a.KeyQuestions {
			if q = strings.TrimSpace(q); q != "" {
				questions = append(questions, q)
			}
		}
		if len(questions) == 0 {
			questions = []string{fmt.Sprintf("What is the current state of %s?", a.Name)}
		}
		a.KeyQuestions = questions
		out = append(out, a)
		if len(out) == target {
			break
		}
	}
	// An entirely unusable list stays empty; the caller decides the fallback.
	for len(out) > 0 && len(out) < target {
		n := len(out) + 1
		out = append(out, state.Aspect{
			Name:         fmt.Sprintf("Additional analysis %d", n),
			Reasoning:    "Covers remaining ground in this dimension",
			KeyQuestions: []string{"What else is notable about this dimension?"},
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// research_planning (barrier)

func (r *run) researchPlanning(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StagePlanning); err != nil {
		return nil, err
	}

	var plan struct {
		AspectsByDim map[string][]state.Aspect `json:"aspectsByDim"`
	}
	prompt := planningPrompt(w.Topic, w.OriginalAspectsByDim, w.References,
		r.profile.TargetDimensions, r.profile.AspectsPerDim)

	final := w.OriginalAspectsByDim
	dims := w.Dimensions
	if err := r.generateJSON(ctx, prompt, &plan); err != nil || !validPlan(plan.AspectsByDim, r.profile.TargetDimensions) {
		// The draft structure from aspect analysis is already usable; a
		// failed refinement falls back to it.
		slog.Warn("Research planning failed, using draft structure", "session_id", w.SessionID, "error", err)
		_ = r.publisher.AddError(ctx, StagePlanning, "plan refinement failed; using draft research structure")
	} else {
		for dim, aspects := range plan.AspectsByDim {
			plan.AspectsByDim[dim] = cleanAspects(aspects, r.profile.AspectsPerDim)
		}
		final = plan.AspectsByDim
		dims = orderDimensions(w.Dimensions, final)
	}

	dims = survivingDimensions(dims, final)
	if len(dims) == 0 {
		return nil, fmt.Errorf("no dimension produced usable aspects")
	}

	for _, dim := range dims {
		r.publisher.AddDimension(dim)
		for _, a := range final[dim] {
			r.publisher.AddAspect(dim, a.Name)
		}
	}
	if err := r.publisher.FlushDimensionsAndAspects(ctx); err != nil {
		return nil, err
	}
	r.tracker.DimensionsIdentified(ctx, dims, final)

	return &state.Update{
		Dimensions:   dims,
		AspectsByDim: final,
	}, nil
}

// validPlan accepts only a refinement that kept the full dimension shape.
func validPlan(aspectsByDim map[string][]state.Aspect, targetDims int) bool {
	if len(aspectsByDim) != targetDims {
		return false
	}
	for _, aspects := range aspectsByDim {
		if len(aspects) == 0 {
			return false
		}
	}
	return true
}

// survivingDimensions drops dimensions whose aspect analysis delivered
// nothing.
func survivingDimensions(dims []string, aspectsByDim map[string][]state.Aspect) []string {
	var out []string
	for _, dim := range dims {
		if len(aspectsByDim[dim]) > 0 {
			out = append(out, dim)
		}
	}
	return out
}

// orderDimensions keeps the original discovery order for surviving names and
// appends renamed dimensions sorted.
func orderDimensions(original []string, final map[string][]state.Aspect) []string {
	var out []string
	seen := make(map[string]bool, len(final))
	for _, dim := range original {
		if _, ok := final[dim]; ok {
			out = append(out, dim)
			seen[dim] = true
		}
	}
	var added []string
	for dim := range final {
		if !seen[dim] {
			added = append(added, dim)
		}
	}
	sort.Strings(added)
	return append(out, added...)
}

// ---------------------------------------------------------------------------
// research_agent (mapper)

type researchTask struct {
	Dimension string
	Aspect    state.Aspect
}

func (r *run) researchSends(ctx context.Context, w *state.Workflow) ([]graph.Send, error) {
	if err := r.publisher.UpdateStage(ctx, StageResearch); err != nil {
		return nil, err
	}
	var sends []graph.Send
	for _, dim := range w.Dimensions {
		for _, aspect := range w.AspectsByDim[dim] {
			// Aspects the plan marked completed need no research pass.
			if aspect.Completed {
				continue
			}
			sends = append(sends, graph.Send{
				Node:    StageResearch,
				Payload: researchTask{Dimension: dim, Aspect: aspect},
			})
		}
	}
	return sends, nil
}

func (r *run) researchWorker(ctx context.Context, w *state.Workflow, payload any) (*state.Update, error) {
	task := payload.(researchTask)
	key := state.AspectKey(task.Dimension, task.Aspect.Name)

	release, err := r.svc.gov.Acquire(ctx, "research")
	if err != nil {
		return nil, err
	}
	defer release()

	if cancelled, err := r.checkCancel(ctx); err != nil {
		return nil, err
	} else if cancelled {
		return r.researchPlaceholder(ctx, task, "Research cancelled before completion."), graph.ErrCancelled
	}

	result, err := r.drv.Run(ctx, &driver.Request{
		SystemPrompt:  researchSystemPrompt(),
		UserPrompt:    researchUserPrompt(w.Topic, task.Dimension, task.Aspect, w.AspectsByDim, w.References),
		Tools:         r.tools,
		MaxIterations: r.profile.AgentMaxIter,
		Hooks:         r.hooks(),
		CheckCancel:   r.checkCancel,
	})
	if result != nil {
		for _, call := range result.Transcript {
			agentToolCalls.WithLabelValues(call.Name).Inc()
		}
	}

	content := ""
	if result != nil {
		content = result.FinalText
	}
	switch {
	case err == nil:
	case errors.Is(err, graph.ErrCancelled):
		return r.researchPlaceholder(ctx, task, "Research cancelled before completion."), graph.ErrCancelled
	case errors.Is(err, driver.ErrMaxIterations) && content != "":
		slog.Warn("Research agent hit iteration cap with partial output",
			"aspect", key, "iterations", result.Iterations)
	default:
		// Research failures degrade the aspect instead of failing the run.
		_, friendly := Classify(err)
		slog.Warn("Research agent failed", "aspect", key, "error", err)
		_ = r.publisher.AddError(ctx, StageResearch, fmt.Sprintf("aspect %s: %s", key, friendly))
		return r.researchPlaceholder(ctx, task, "Research unavailable: "+friendly), nil
	}

	res := state.ResearchResult{
		AspectKey: key,
		Title:     task.Aspect.Name,
		Content:   content,
		WordCount: report.WordCount(content),
	}
	r.publisher.AddResearchResult(status.ResearchResultMeta{
		Dimension:   task.Dimension,
		Aspect:      task.Aspect.Name,
		WordCount:   res.WordCount,
		SourceCount: strings.Count(content, "[http"),
	})
	r.tracker.AspectResearchComplete(ctx, task.Dimension, task.Aspect.Name, content, res.WordCount)

	return &state.Update{ResearchByAspect: map[string]state.ResearchResult{key: res}}, nil
}

// researchPlaceholder records a degraded aspect so downstream stages see a
// complete key set.
func (r *run) researchPlaceholder(ctx context.Context, task researchTask, message string) *state.Update {
	key := state.AspectKey(task.Dimension, task.Aspect.Name)
	res := state.ResearchResult{
		AspectKey: key,
		Title:     task.Aspect.Name,
		Content:   fmt.Sprintf("## %s\n\n*%s*\n", task.Aspect.Name, message),
		WordCount: 0,
	}
	r.publisher.AddResearchResult(status.ResearchResultMeta{
		Dimension: task.Dimension,
		Aspect:    task.Aspect.Name,
	})
	return &state.Update{ResearchByAspect: map[string]state.ResearchResult{key: res}}
}

func (r *run) researchJoin(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.FlushResearchResults(ctx); err != nil {
		return nil, err
	}
	return &state.Update{}, nil
}

// ---------------------------------------------------------------------------
// dimension_reduction (mapper)

type reductionTask struct {
	Dimension string
}

func (r *run) reductionSends(ctx context.Context, w *state.Workflow) ([]graph.Send, error) {
	if err := r.publisher.UpdateStage(ctx, StageReduction); err != nil {
		return nil, err
	}
	sends := make([]graph.Send, 0, len(w.Dimensions))
	for _, dim := range w.Dimensions {
		sends = append(sends, graph.Send{Node: StageReduction, Payload: reductionTask{Dimension: dim}})
	}
	return sends, nil
}

func (r *run) reductionWorker(ctx context.Context, w *state.Workflow, payload any) (*state.Update, error) {
	task := payload.(reductionTask)

	release, err := r.svc.gov.Acquire(ctx, "dimension_reduction")
	if err != nil {
		return nil, err
	}
	defer release()

	failed := func(reason string) *state.Update {
		_ = r.publisher.AddError(ctx, StageReduction, fmt.Sprintf("dimension %q: %s", task.Dimension, reason))
		update := &state.Update{}
		update.SetDimensionDoc(task.Dimension, "")
		return update
	}

	if cancelled, err := r.checkCancel(ctx); err != nil {
		return nil, err
	} else if cancelled {
		update := &state.Update{}
		update.SetDimensionDoc(task.Dimension, "")
		return update, graph.ErrCancelled
	}

	results := dimensionResults(w, task.Dimension)
	if len(results) == 0 {
		return failed("no research results to synthesize"), nil
	}

	markdown, err := r.streamReduction(ctx, w.Topic, task.Dimension, results)
	if err != nil {
		// A failed synthesis drops the dimension from the report; the run
		// continues with the surviving ones.
		_, friendly := Classify(err)
		slog.Warn("Dimension reduction failed", "dimension", task.Dimension, "error", err)
		return failed(friendly), nil
	}

	path := r.svc.ws.DimensionFile(task.Dimension)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return failed(fmt.Sprintf("failed to write document: %s", err)), nil
	}

	words := report.WordCount(markdown)
	r.publisher.AddDimensionDoc(task.Dimension, path)
	r.tracker.DimensionDocumentComplete(ctx, task.Dimension, markdown, filepath.Base(path), words)

	update := &state.Update{}
	update.SetDimensionDoc(task.Dimension, path)
	return update, nil
}

// streamReduction runs the synthesis call in streaming mode with a bound on
// the wait for the first chunk.
func (r *run) streamReduction(ctx context.Context, topic, dimension string, results []state.ResearchResult) (string, error) {
	req := &model.Request{
		Messages: []*model.Message{
			model.NewTextMessage(model.RoleUser, reductionPrompt(topic, dimension, results)),
		},
	}

	seq := model.WithFirstChunkTimeout(r.llm.GenerateContent(ctx, req, true), firstChunkTimeout)

	var final *model.Response
	for resp, err := range seq {
		if err != nil {
			return "", err
		}
		if !resp.Partial {
			final = resp
		}
	}
	if final == nil {
		return "", fmt.Errorf("streaming synthesis yielded no final response")
	}
	text := final.TextContent()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("streaming synthesis produced empty output")
	}
	return text, nil
}

// dimensionResults returns the dimension's results in declared aspect order.
func dimensionResults(w *state.Workflow, dimension string) []state.ResearchResult {
	var results []state.ResearchResult
	for _, aspect := range w.AspectsByDim[dimension] {
		if res, ok := w.ResearchByAspect[state.AspectKey(dimension, aspect.Name)]; ok {
			results = append(results, res)
		}
	}
	return results
}

func (r *run) reductionJoin(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.FlushDimensionDocuments(ctx); err != nil {
		return nil, err
	}
	return &state.Update{}, nil
}

// ---------------------------------------------------------------------------
// report_writing

func (r *run) reportWriting(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StageReportWriting); err != nil {
		return nil, err
	}

	contents := make(map[string]string, len(w.DimensionDocs))
	for dim, path := range w.DimensionDocs {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read dimension document", "dimension", dim, "path", path, "error", err)
			_ = r.publisher.AddError(ctx, StageReportWriting, fmt.Sprintf("dimension %q document unreadable", dim))
			continue
		}
		contents[dim] = string(data)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no dimension documents available for the report")
	}

	draft := report.Merge(w.Topic, w.Dimensions, contents)
	draftPath := r.svc.ws.DraftFile()
	if err := os.WriteFile(draftPath, []byte(draft), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write draft report: %w", err)
	}

	if err := r.runEditor(ctx, draftPath, draft); err != nil {
		if errors.Is(err, graph.ErrCancelled) {
			return nil, err
		}
		// Editing polishes the draft; the report ships unpolished if the
		// editor dies.
		slog.Warn("Editor agent failed, shipping unedited draft", "error", err)
		_ = r.publisher.AddError(ctx, StageReportWriting, "editor pass failed; report not polished")
	}

	// Whatever the editor did, the shipped report carries no placeholders.
	if err := report.UpdateDraft(draftPath, func(content string) (string, error) {
		content = strings.ReplaceAll(content, report.SummaryPlaceholder, "")
		content = strings.ReplaceAll(content, report.ConclusionPlaceholder, "")
		return content, nil
	}); err != nil {
		return nil, err
	}

	return &state.Update{DraftReportFile: draftPath}, nil
}

// runEditor drives the editor sub-agent over the local tool plane.
func (r *run) runEditor(ctx context.Context, draftPath, draft string) error {
	local, err := toolplane.NewLocal(report.EditorTools(draftPath)...)
	if err != nil {
		return err
	}
	tools, err := local.Discover(ctx)
	if err != nil {
		return err
	}

	editor := driver.New(r.llm, local)
	_, err = editor.Run(ctx, &driver.Request{
		SystemPrompt:  editorSystemPrompt(),
		UserPrompt:    fmt.Sprintf("The draft report follows.\n\n%s", draft),
		Tools:         tools,
		MaxIterations: 15,
		Hooks:         r.hooks(),
		CheckCancel:   r.checkCancel,
	})
	if errors.Is(err, driver.ErrMaxIterations) {
		// Partial edits are already on disk.
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// document_conversion

func (r *run) documentConversion(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StageDocumentConversion); err != nil {
		return nil, err
	}

	update := &state.Update{ReportFile: w.DraftReportFile}

	data, err := os.ReadFile(w.DraftReportFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	markdown := report.RenumberFigures(string(data))
	if err := os.WriteFile(w.DraftReportFile, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	docxPath := strings.TrimSuffix(w.DraftReportFile, ".md") + ".docx"
	if err := convert.MarkdownToDocx(markdown, docxPath); err != nil {
		// Derived formats are optional; the markdown report stands alone.
		slog.Warn("DOCX conversion failed", "error", err)
		_ = r.publisher.AddError(ctx, StageDocumentConversion, "docx conversion failed")
		return update, nil
	}

	pdfPath, err := convert.DocxToPdf(ctx, docxPath)
	if err != nil {
		slog.Warn("PDF conversion failed", "error", err)
		_ = r.publisher.AddError(ctx, StageDocumentConversion, "pdf conversion failed")
		return update, nil
	}
	update.ReportPdfFile = pdfPath

	return update, nil
}

// ---------------------------------------------------------------------------
// finalize

func (r *run) finalize(ctx context.Context, w *state.Workflow) (*state.Update, error) {
	if err := r.publisher.UpdateStage(ctx, StageFinalize); err != nil {
		return nil, err
	}

	var artifactKeys []string
	upload := func(path, name, contentType string) {
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Artifact read failed, skipping upload", "path", path, "error", err)
			return
		}
		key := blobstore.OutputKey(w.SessionID, "versions", status.InitialVersion, name)
		if err := r.svc.blobs.Put(ctx, key, data, contentType); err != nil {
			slog.Warn("Artifact upload failed", "key", key, "error", err)
			return
		}
		artifactKeys = append(artifactKeys, key)
	}

	upload(w.ReportFile, "report.md", "text/markdown")
	if w.ReportFile != "" {
		upload(strings.TrimSuffix(w.ReportFile, ".md")+".docx", "report.docx",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	}
	upload(w.ReportPdfFile, "report.pdf", "application/pdf")

	if chartsDir, err := r.svc.ws.ChartsDir(w.SessionID); err == nil {
		entries, _ := os.ReadDir(chartsDir)
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(chartsDir, e.Name()))
			if err != nil {
				continue
			}
			key := blobstore.OutputKey(w.SessionID, "charts", e.Name())
			if err := r.svc.blobs.Put(ctx, key, data, "image/png"); err != nil {
				slog.Warn("Chart upload failed", "key", key, "error", err)
				continue
			}
			artifactKeys = append(artifactKeys, key)
		}
	}

	if len(artifactKeys) == 0 {
		return nil, fmt.Errorf("finalize produced no artifacts")
	}

	if err := r.publisher.CreateVersion(ctx, status.InitialVersion, artifactKeys, "initial"); err != nil {
		return nil, err
	}
	if err := r.publisher.SetCurrentVersion(ctx, status.InitialVersion); err != nil {
		return nil, err
	}

	totalAspects := 0
	for _, aspects := range w.AspectsByDim {
		totalAspects += len(aspects)
	}
	elapsed := time.Since(w.StartedAt)
	outputs := []string{w.ReportFile}
	if w.ReportPdfFile != "" {
		outputs = append(outputs, w.ReportPdfFile)
	}
	r.tracker.ResearchComplete(ctx, len(w.Dimensions), totalAspects, elapsed, outputs, artifactKeys)

	if err := r.publisher.MarkCompleted(ctx, map[string]any{
		"report_key":      blobstore.OutputKey(w.SessionID, "versions", status.InitialVersion, "report.md"),
		"artifact_keys":   artifactKeys,
		"elapsed_seconds": int(elapsed.Seconds()),
	}); err != nil {
		return nil, err
	}

	if err := r.svc.ws.CleanupSession(w.SessionID); err != nil {
		slog.Warn("Session cleanup failed", "session_id", w.SessionID, "error", err)
	}

	return &state.Update{}, nil
}
