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

// Package status publishes per-session workflow status.
//
// The publisher is a session-scoped singleton. Fine-grained progress
// (dimensions, aspects, research results) accumulates in buffers and is
// written atomically by the flush methods, so readers never observe a
// half-populated listing. The cancel endpoint writes the same document the
// cancellation probe polls.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/statusstore"
)

// Workflow states.
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateCancelling = "cancelling"
	StateCancelled  = "cancelled"
)

// InitialVersion names the first artifact version.
const InitialVersion = "draft"

// ResearchResultMeta is the published view of one aspect's result. Full
// content stays in the event log.
type ResearchResultMeta struct {
	Dimension   string `json:"dimension"`
	Aspect      string `json:"aspect"`
	WordCount   int    `json:"word_count"`
	SourceCount int    `json:"source_count"`
}

// Version is an immutable snapshot of produced artifacts.
type Version struct {
	Name         string    `json:"name"`
	ArtifactKeys []string  `json:"artifact_keys"`
	EditType     string    `json:"edit_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Publisher writes status updates for one session.
type Publisher struct {
	store     statusstore.Store
	sessionID string

	mu              sync.Mutex
	dimensions      []string
	aspectsByDim    map[string][]string
	researchResults []ResearchResultMeta
	dimensionDocs   map[string]string
	versions        map[string]Version
	versionOrder    []string
}

// NewPublisher creates a publisher bound to a session.
func NewPublisher(store statusstore.Store, sessionID string) *Publisher {
	return &Publisher{
		store:         store,
		sessionID:     sessionID,
		aspectsByDim:  make(map[string][]string),
		dimensionDocs: make(map[string]string),
		versions:      make(map[string]Version),
	}
}

// SessionID returns the bound session.
func (p *Publisher) SessionID() string { return p.sessionID }

// UpdateStage records the current stage immediately.
func (p *Publisher) UpdateStage(ctx context.Context, stage string) error {
	return p.merge(ctx, map[string]any{
		"current_stage": stage,
		"updated_at":    time.Now().UTC(),
	})
}

// UpdateProgress writes arbitrary progress fields immediately.
func (p *Publisher) UpdateProgress(ctx context.Context, fields map[string]any) error {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["updated_at"] = time.Now().UTC()
	return p.merge(ctx, merged)
}

// AddDimension buffers a discovered dimension.
func (p *Publisher) AddDimension(dimension string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dimensions = append(p.dimensions, dimension)
}

// AddAspect buffers a discovered aspect.
func (p *Publisher) AddAspect(dimension, aspect string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aspectsByDim[dimension] = append(p.aspectsByDim[dimension], aspect)
}

// AddResearchResult buffers one aspect's result metadata.
func (p *Publisher) AddResearchResult(meta ResearchResultMeta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.researchResults = append(p.researchResults, meta)
}

// AddDimensionDoc buffers a completed dimension document path.
func (p *Publisher) AddDimensionDoc(dimension, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dimensionDocs[dimension] = path
}

// FlushDimensionsAndAspects atomically publishes the buffered topology.
func (p *Publisher) FlushDimensionsAndAspects(ctx context.Context) error {
	p.mu.Lock()
	dims := append([]string(nil), p.dimensions...)
	aspects := make(map[string][]string, len(p.aspectsByDim))
	for d, a := range p.aspectsByDim {
		aspects[d] = append([]string(nil), a...)
	}
	p.mu.Unlock()

	return p.merge(ctx, map[string]any{
		"dimensions":     dims,
		"aspects_by_dim": aspects,
		"updated_at":     time.Now().UTC(),
	})
}

// FlushResearchResults atomically publishes the buffered result metadata.
func (p *Publisher) FlushResearchResults(ctx context.Context) error {
	p.mu.Lock()
	results := append([]ResearchResultMeta(nil), p.researchResults...)
	p.mu.Unlock()

	return p.merge(ctx, map[string]any{
		"research_results": results,
		"updated_at":       time.Now().UTC(),
	})
}

// FlushDimensionDocuments atomically publishes the buffered document paths.
func (p *Publisher) FlushDimensionDocuments(ctx context.Context) error {
	p.mu.Lock()
	docs := make(map[string]string, len(p.dimensionDocs))
	for d, path := range p.dimensionDocs {
		docs[d] = path
	}
	p.mu.Unlock()

	return p.merge(ctx, map[string]any{
		"dimension_documents": docs,
		"updated_at":          time.Now().UTC(),
	})
}

// MarkProcessing transitions the session into the processing state.
func (p *Publisher) MarkProcessing(ctx context.Context, stage string) error {
	return p.merge(ctx, map[string]any{
		"status":        StateProcessing,
		"current_stage": stage,
		"started_at":    time.Now().UTC(),
		"updated_at":    time.Now().UTC(),
	})
}

// MarkCompleted transitions the session into the completed state.
func (p *Publisher) MarkCompleted(ctx context.Context, fields map[string]any) error {
	merged := map[string]any{
		"status":       StateCompleted,
		"completed_at": time.Now().UTC(),
		"updated_at":   time.Now().UTC(),
	}
	for k, v := range fields {
		merged[k] = v
	}
	return p.merge(ctx, merged)
}

// MarkFailed transitions the session into the failed state.
func (p *Publisher) MarkFailed(ctx context.Context, message string) error {
	return p.merge(ctx, map[string]any{
		"status":       StateFailed,
		"error":        message,
		"completed_at": time.Now().UTC(),
		"updated_at":   time.Now().UTC(),
	})
}

// MarkCancelled transitions the session into the cancelled state.
func (p *Publisher) MarkCancelled(ctx context.Context) error {
	return p.merge(ctx, map[string]any{
		"status":       StateCancelled,
		"completed_at": time.Now().UTC(),
		"updated_at":   time.Now().UTC(),
	})
}

// RequestCancel flags the session for cancellation. The probe picks it up
// on its next poll.
func (p *Publisher) RequestCancel(ctx context.Context) error {
	return p.merge(ctx, map[string]any{
		"status":     StateCancelling,
		"updated_at": time.Now().UTC(),
	})
}

// AddError appends a non-fatal error note to the status record.
func (p *Publisher) AddError(ctx context.Context, stage, message string) error {
	doc, err := p.GetStatus(ctx)
	if err != nil && !errors.Is(err, statusstore.ErrNotFound) {
		return err
	}

	var errs []any
	if doc != nil {
		if existing, ok := doc["errors"].([]any); ok {
			errs = existing
		}
	}
	errs = append(errs, map[string]any{
		"stage":   stage,
		"message": message,
		"at":      time.Now().UTC(),
	})
	return p.merge(ctx, map[string]any{"errors": errs})
}

// GetStatus reads the latest status document. A missing document returns
// statusstore.ErrNotFound.
func (p *Publisher) GetStatus(ctx context.Context) (map[string]any, error) {
	return p.store.Get(ctx, p.sessionID)
}

// IsCancelling reports whether the session has been asked to stop. A
// missing document reads as not cancelling.
func (p *Publisher) IsCancelling(ctx context.Context) (bool, error) {
	doc, err := p.GetStatus(ctx)
	if err != nil {
		if errors.Is(err, statusstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s, _ := doc["status"].(string)
	return s == StateCancelling || s == StateCancelled, nil
}

// CreateVersion records an immutable artifact snapshot. Re-creating an
// existing version is a no-op so retried stages stay idempotent.
func (p *Publisher) CreateVersion(ctx context.Context, name string, artifactKeys []string, editType string) error {
	p.mu.Lock()
	if _, exists := p.versions[name]; exists {
		p.mu.Unlock()
		return nil
	}
	p.versions[name] = Version{
		Name:         name,
		ArtifactKeys: append([]string(nil), artifactKeys...),
		EditType:     editType,
		CreatedAt:    time.Now().UTC(),
	}
	p.versionOrder = append(p.versionOrder, name)
	snapshot := p.versionList()
	p.mu.Unlock()

	return p.merge(ctx, map[string]any{
		"versions":   snapshot,
		"updated_at": time.Now().UTC(),
	})
}

// SetCurrentVersion marks a previously created version as current.
func (p *Publisher) SetCurrentVersion(ctx context.Context, name string) error {
	p.mu.Lock()
	_, exists := p.versions[name]
	p.mu.Unlock()
	if !exists {
		return fmt.Errorf("version %q does not exist", name)
	}

	return p.merge(ctx, map[string]any{
		"current_version": name,
		"updated_at":      time.Now().UTC(),
	})
}

// versionList snapshots versions in creation order. Caller holds p.mu.
func (p *Publisher) versionList() []Version {
	out := make([]Version, 0, len(p.versionOrder))
	for _, name := range p.versionOrder {
		out = append(out, p.versions[name])
	}
	return out
}

func (p *Publisher) merge(ctx context.Context, fields map[string]any) error {
	if err := p.store.Merge(ctx, p.sessionID, fields); err != nil {
		return fmt.Errorf("failed to publish status for %s: %w", p.sessionID, err)
	}
	return nil
}
