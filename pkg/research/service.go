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

// Package research orchestrates the deep research workflow: the staged
// graph from session initialization through report finalization, with
// streaming progress records for the caller.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/blobstore"
	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/driver"
	"github.com/kadirpekel/deepresearch/pkg/events"
	"github.com/kadirpekel/deepresearch/pkg/governor"
	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/memstore"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/sandbox"
	"github.com/kadirpekel/deepresearch/pkg/state"
	"github.com/kadirpekel/deepresearch/pkg/status"
	"github.com/kadirpekel/deepresearch/pkg/statusstore"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
	"github.com/kadirpekel/deepresearch/pkg/workspace"
)

// LLMFactory builds a model client for a canonical model id.
type LLMFactory func(modelID string) (model.LLM, error)

// Options wire the service's backends.
type Options struct {
	Config     *config.Config
	Registry   *config.ModelRegistry
	LLMFactory LLMFactory
	Plane      toolplane.Plane
	Mapping    *toolplane.ToolsetMapping
	Memory     memstore.Store
	Status     statusstore.Store
	Blobs      blobstore.Store
	Sandbox    sandbox.Sandbox
	Workspace  *workspace.Workspace
	Governor   *governor.Governor
}

// Service runs research workflows.
type Service struct {
	cfg        *config.Config
	registry   *config.ModelRegistry
	llmFactory LLMFactory
	plane      toolplane.Plane
	mapping    *toolplane.ToolsetMapping
	memory     memstore.Store
	statuses   statusstore.Store
	blobs      blobstore.Store
	sandbox    sandbox.Sandbox
	ws         *workspace.Workspace
	gov        *governor.Governor
}

// New creates a service, failing on missing backends.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("config is required")
	case opts.LLMFactory == nil:
		return nil, fmt.Errorf("LLM factory is required")
	case opts.Plane == nil:
		return nil, fmt.Errorf("tool plane is required")
	case opts.Memory == nil:
		return nil, fmt.Errorf("memory store is required")
	case opts.Status == nil:
		return nil, fmt.Errorf("status store is required")
	case opts.Blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case opts.Workspace == nil:
		return nil, fmt.Errorf("workspace is required")
	}
	if opts.Registry == nil {
		opts.Registry = config.NewModelRegistry(opts.Config.DefaultModelID)
	}
	if opts.Mapping == nil {
		opts.Mapping = toolplane.DefaultToolsetMapping()
	}
	if opts.Governor == nil {
		opts.Governor = governor.New()
	}
	return &Service{
		cfg:        opts.Config,
		registry:   opts.Registry,
		llmFactory: opts.LLMFactory,
		plane:      opts.Plane,
		mapping:    opts.Mapping,
		memory:     opts.Memory,
		statuses:   opts.Status,
		blobs:      opts.Blobs,
		sandbox:    opts.Sandbox,
		ws:         opts.Workspace,
		gov:        opts.Governor,
	}, nil
}

// ValidateToolsets resolves every mapped tool against the gateway. Run at
// startup so missing tools fail the deployment.
func (s *Service) ValidateToolsets(ctx context.Context) error {
	return s.mapping.Validate(ctx, s.plane)
}

// Memory exposes the event log for the chat replay endpoint.
func (s *Service) Memory() memstore.Store { return s.memory }

// RunRequest is one research invocation.
type RunRequest struct {
	Topic     string
	Config    *config.ResearchConfig
	SessionID string // caller-assigned (bff) session id
	UserID    string
}

// Cancel flags a running session for cancellation. Workers observe the flag
// on their next probe.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	return status.NewPublisher(s.statuses, sessionID).RequestCancel(ctx)
}

// Status reads a session's status document.
func (s *Service) Status(ctx context.Context, sessionID string) (map[string]any, error) {
	return s.statuses.Get(ctx, sessionID)
}

// Run executes the workflow and streams progress records. The channel is
// closed after the terminal record.
func (s *Service) Run(ctx context.Context, req *RunRequest) <-chan Record {
	out := make(chan Record, 16)
	go func() {
		defer close(out)
		s.run(ctx, req, func(r Record) {
			select {
			case out <- r:
			case <-ctx.Done():
			}
		})
	}()
	return out
}

func (s *Service) run(ctx context.Context, req *RunRequest, emit func(Record)) {
	sessionsStarted.Inc()
	startedAt := time.Now()

	fail := func(sessionID string, err error) {
		category, message := Classify(err)
		slog.Error("Research run failed", "session_id", sessionID, "category", category, "error", err)
		emit(Record{
			Type:      RecordError,
			SessionID: sessionID,
			Error:     message,
		})
		sessionsFinished.WithLabelValues(status.StateFailed).Inc()
	}

	if req.Topic == "" || req.SessionID == "" {
		fail(req.SessionID, fmt.Errorf("validation: topic and session_id are required"))
		return
	}

	cfg := req.Config
	if cfg == nil {
		cfg = &config.ResearchConfig{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		fail(req.SessionID, err)
		return
	}

	publisher := status.NewPublisher(s.statuses, req.SessionID)
	tracker := events.NewTracker(s.memory, req.SessionID, req.UserID)

	modelID, err := s.registry.Resolve(cfg.LLMModel)
	if err != nil {
		fail(req.SessionID, err)
		return
	}
	llm, err := s.llmFactory(modelID)
	if err != nil {
		_ = publisher.MarkFailed(ctx, "model initialization failed")
		fail(req.SessionID, err)
		return
	}
	defer llm.Close()

	// Tool availability is a launch precondition: a research type whose
	// tools are missing fails before any research stage runs.
	tools, err := s.mapping.DefinitionsFor(ctx, s.plane, string(cfg.ResearchType))
	if err != nil {
		_ = publisher.MarkFailed(ctx, err.Error())
		fail(req.SessionID, err)
		return
	}

	r := &run{
		svc:       s,
		req:       req,
		cfg:       cfg,
		profile:   cfg.ResearchDepth.Profile(),
		modelID:   modelID,
		llm:       llm,
		drv:       driver.New(llm, s.plane),
		tools:     tools,
		publisher: publisher,
		tracker:   tracker,
		counter:   driver.NewTiktokenCounter(),
		emit:      emit,
		startedAt: startedAt,
	}

	g, err := r.buildGraph()
	if err != nil {
		fail(req.SessionID, err)
		return
	}

	engine, err := graph.NewEngine(g, graph.Options[*state.Workflow]{
		MaxSteps:    graph.DefaultMaxSteps,
		CheckCancel: r.probeCancel,
		OnNodeStart: func(name string, w *state.Workflow) {
			r.stageStartedAt = time.Now()
			emit(Record{
				Type:         RecordProgress,
				SessionID:    req.SessionID,
				CurrentStage: name,
				State:        progressState(w),
			})
		},
		OnNodeComplete: func(name string, w *state.Workflow) {
			stageDuration.WithLabelValues(name).Observe(time.Since(r.stageStartedAt).Seconds())
		},
	})
	if err != nil {
		fail(req.SessionID, err)
		return
	}

	emit(Record{
		Type:      RecordStatus,
		SessionID: req.SessionID,
		Status:    status.StateProcessing,
		Message:   "research started",
	})

	initial := &state.Workflow{
		Topic:     req.Topic,
		Config:    cfg,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		StartedAt: startedAt,
	}

	final, err := engine.Run(ctx, initial)
	switch {
	case err == nil:
		elapsed := time.Since(startedAt)
		emit(Record{
			Type:        RecordComplete,
			SessionID:   req.SessionID,
			ElapsedTime: elapsed.Seconds(),
			Result:      runResult(final),
		})
		sessionsFinished.WithLabelValues(status.StateCompleted).Inc()

	case errors.Is(err, graph.ErrCancelled):
		_ = publisher.MarkCancelled(ctx)
		emit(Record{
			Type:      RecordCancelled,
			SessionID: req.SessionID,
			Message:   "research cancelled by request",
		})
		sessionsFinished.WithLabelValues(status.StateCancelled).Inc()

	default:
		_, message := Classify(err)
		_ = publisher.MarkFailed(ctx, message)
		tracker.Error(ctx, ErrorInternal, err.Error(), "", nil)
		fail(req.SessionID, err)
	}
}

// run carries the per-session wiring through the stage handlers.
type run struct {
	svc     *Service
	req     *RunRequest
	cfg     *config.ResearchConfig
	profile config.DepthProfile
	modelID string
	llm     model.LLM
	drv     *driver.Driver
	tools   []model.ToolDefinition

	publisher *status.Publisher
	tracker   *events.Tracker
	counter   driver.TokenCounter
	emit      func(Record)

	startedAt      time.Time
	stageStartedAt time.Time
}

func (r *run) probeCancel(ctx context.Context, _ *state.Workflow) (bool, error) {
	return r.publisher.IsCancelling(ctx)
}

// checkCancel is the driver-facing probe.
func (r *run) checkCancel(ctx context.Context) (bool, error) {
	return r.publisher.IsCancelling(ctx)
}

// hooks are the standard pre-model transformations for heavy agents.
func (r *run) hooks() []driver.Hook {
	return []driver.Hook{
		driver.CompactToolResultsHook(1, r.counter),
		driver.CachePointHook(),
	}
}

func progressState(w *state.Workflow) map[string]any {
	s := map[string]any{}
	if len(w.Dimensions) > 0 {
		s["dimensions"] = w.Dimensions
	}
	if len(w.ResearchByAspect) > 0 {
		s["researchedAspects"] = len(w.ResearchByAspect)
	}
	if len(w.DimensionDocs) > 0 {
		s["dimensionDocuments"] = len(w.DimensionDocs)
	}
	return s
}

func runResult(w *state.Workflow) *RunResult {
	aspects := make(map[string][]string, len(w.AspectsByDim))
	for dim, as := range w.AspectsByDim {
		names := make([]string, 0, len(as))
		for _, a := range as {
			names = append(names, a.Name)
		}
		aspects[dim] = names
	}
	words := make(map[string]int, len(w.ResearchByAspect))
	for key, res := range w.ResearchByAspect {
		words[key] = res.WordCount
	}
	return &RunResult{
		Topic:              w.Topic,
		Dimensions:         w.Dimensions,
		AspectsByDim:       aspects,
		ResearchByAspect:   words,
		ReportFile:         w.ReportFile,
		ReportPdfFile:      w.ReportPdfFile,
		DimensionDocuments: w.DimensionDocs,
	}
}
