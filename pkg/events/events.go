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

// Package events emits the session's domain event trail to the memory store.
//
// Emission is best-effort: a failed write is logged and never aborts the
// workflow. Payloads over the store's size ceiling have their content-heavy
// fields replaced with a placeholder noting the original size.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/memstore"
	"github.com/kadirpekel/deepresearch/pkg/state"
)

// Event kinds.
const (
	KindResearchStart             = "research_start"
	KindReferencesPrepared        = "references_prepared"
	KindDimensionsIdentified      = "dimensions_identified"
	KindAspectResearchComplete    = "aspect_research_complete"
	KindDimensionDocumentComplete = "dimension_document_complete"
	KindResearchComplete          = "research_complete"
	KindError                     = "error"
)

const (
	maxTopicMetadataLen = 100
	maxErrorMessageLen  = 500
)

// metadataDisallowed matches characters the store rejects in metadata values.
var metadataDisallowed = regexp.MustCompile(`[^A-Za-z0-9 ._:/=+@-]`)

// Tracker emits events for one session.
type Tracker struct {
	store     memstore.Store
	sessionID string
	userID    string
}

// NewTracker creates a tracker bound to a session.
func NewTracker(store memstore.Store, sessionID, userID string) *Tracker {
	return &Tracker{
		store:     store,
		sessionID: sessionID,
		userID:    userID,
	}
}

// ResearchStart records the start of a research session.
func (t *Tracker) ResearchStart(ctx context.Context, topic, model, researchType, researchDepth string, hasReferences bool) {
	t.emit(ctx, KindResearchStart, map[string]any{
		"topic":          topic,
		"model":          model,
		"researchType":   researchType,
		"researchDepth":  researchDepth,
		"has_references": hasReferences,
	}, map[string]string{
		"topic": truncateString(topic, maxTopicMetadataLen),
		"model": model,
		"depth": researchDepth,
	}, nil)
}

// ReferencesPrepared records summarized reference materials.
func (t *Tracker) ReferencesPrepared(ctx context.Context, materials []state.ReferenceMaterial) {
	t.emit(ctx, KindReferencesPrepared, map[string]any{
		"materials": materials,
	}, map[string]string{
		"count": fmt.Sprintf("%d", len(materials)),
	}, []string{"materials"})
}

// DimensionsIdentified records the topic decomposition.
func (t *Tracker) DimensionsIdentified(ctx context.Context, dimensions []string, aspectsByDim map[string][]state.Aspect) {
	total := 0
	for _, aspects := range aspectsByDim {
		total += len(aspects)
	}
	t.emit(ctx, KindDimensionsIdentified, map[string]any{
		"dimensions":   dimensions,
		"aspectsByDim": aspectsByDim,
	}, map[string]string{
		"dimension_count": fmt.Sprintf("%d", len(dimensions)),
		"total_aspects":   fmt.Sprintf("%d", total),
	}, nil)
}

// AspectResearchComplete records one aspect's full research content.
func (t *Tracker) AspectResearchComplete(ctx context.Context, dimension, aspect, content string, wordCount int) {
	t.emit(ctx, KindAspectResearchComplete, map[string]any{
		"dimension": dimension,
		"aspect":    aspect,
		"research_content": map[string]any{
			"content": content,
		},
		"wordCount": wordCount,
	}, map[string]string{
		"dimension":  dimension,
		"aspect":     aspect,
		"word_count": fmt.Sprintf("%d", wordCount),
	}, []string{"research_content.content"})
}

// DimensionDocumentComplete records one synthesized dimension document.
func (t *Tracker) DimensionDocumentComplete(ctx context.Context, dimension, markdown, filename string, wordCount int) {
	t.emit(ctx, KindDimensionDocumentComplete, map[string]any{
		"dimension": dimension,
		"markdown":  markdown,
		"wordCount": wordCount,
		"filename":  filename,
	}, map[string]string{
		"dimension":  dimension,
		"word_count": fmt.Sprintf("%d", wordCount),
	}, []string{"markdown"})
}

// ResearchComplete records the finished session.
func (t *Tracker) ResearchComplete(ctx context.Context, dimensions, totalAspects int, elapsed time.Duration, outputFiles, uploads []string) {
	t.emit(ctx, KindResearchComplete, map[string]any{
		"dimensions":      dimensions,
		"totalAspects":    totalAspects,
		"elapsed_seconds": int(elapsed.Seconds()),
		"outputFiles":     outputFiles,
		"uploads":         uploads,
	}, map[string]string{
		"dimension_count": fmt.Sprintf("%d", dimensions),
		"total_aspects":   fmt.Sprintf("%d", totalAspects),
		"elapsed":         elapsed.Round(time.Second).String(),
	}, nil)
}

// Error records a stage failure.
func (t *Tracker) Error(ctx context.Context, errorType, errorMessage, nodeName string, extra map[string]any) {
	t.emit(ctx, KindError, map[string]any{
		"errorType":    errorType,
		"errorMessage": truncateString(errorMessage, maxErrorMessageLen),
		"nodeName":     nodeName,
		"context":      extra,
	}, map[string]string{
		"error_type": errorType,
		"node_name":  nodeName,
	}, nil)
}

// emit serializes, size-bounds, and stores one event.
func (t *Tracker) emit(ctx context.Context, kind string, payload map[string]any, metadata map[string]string, heavyFields []string) {
	body := map[string]any{
		"kind":    kind,
		"payload": payload,
	}

	serialized, err := boundPayload(body, heavyFields)
	if err != nil {
		slog.Warn("Failed to serialize event", "kind", kind, "session_id", t.sessionID, "error", err)
		return
	}

	meta := make(map[string]string, len(metadata)+1)
	meta["kind"] = kind
	for k, v := range metadata {
		meta[k] = SanitizeMetadataValue(v)
	}

	event := &memstore.Event{
		SessionID: t.sessionID,
		ActorID:   t.userID,
		Payload:   serialized,
		Metadata:  meta,
	}
	if err := t.store.CreateEvent(ctx, event); err != nil {
		slog.Warn("Failed to store event", "kind", kind, "session_id", t.sessionID, "error", err)
		return
	}

	slog.Debug("Event emitted", "kind", kind, "session_id", t.sessionID, "bytes", len(serialized))
}

// boundPayload serializes the body, replacing heavy fields with a
// truncation placeholder until it fits the store ceiling.
func boundPayload(body map[string]any, heavyFields []string) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	if len(data) <= memstore.MaxPayloadBytes {
		return string(data), nil
	}

	for _, field := range heavyFields {
		replaceField(body, field, TruncationPlaceholder(fieldSize(body, field)))
		data, err = json.Marshal(body)
		if err != nil {
			return "", err
		}
		if len(data) <= memstore.MaxPayloadBytes {
			return string(data), nil
		}
	}

	if len(data) > memstore.MaxPayloadBytes {
		return "", fmt.Errorf("event payload still %d bytes after truncation", len(data))
	}
	return string(data), nil
}

// TruncationPlaceholder notes the original serialized size, e.g.
// "[Content truncated - original size: 150.00 KB]".
func TruncationPlaceholder(originalBytes int) string {
	return fmt.Sprintf("[Content truncated - original size: %.2f KB]", float64(originalBytes)/1024)
}

// fieldSize measures the field about to be elided so the placeholder can
// report that field's original size.
func fieldSize(body map[string]any, path string) int {
	value, ok := lookupField(body, path)
	if !ok {
		return 0
	}
	if s, ok := value.(string); ok {
		return len(s)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}

// lookupField reads a dot-separated path in the payload map.
func lookupField(body map[string]any, path string) (any, bool) {
	current := body["payload"]
	keys := splitPath(path)
	for i, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			v, exists := m[key]
			return v, exists
		}
		current = m[key]
	}
	return nil, false
}

// SanitizeMetadataValue replaces characters outside the store's accepted
// class with underscores.
func SanitizeMetadataValue(v string) string {
	return metadataDisallowed.ReplaceAllString(v, "_")
}

// replaceField sets a dot-separated path in a nested map.
func replaceField(body map[string]any, path string, value any) {
	current := body["payload"]
	keys := splitPath(path)
	for i, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return
		}
		if i == len(keys)-1 {
			if _, exists := m[key]; exists {
				m[key] = value
			}
			return
		}
		current = m[key]
	}
}

func splitPath(path string) []string {
	var keys []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			keys = append(keys, path[start:i])
			start = i + 1
		}
	}
	return append(keys, path[start:])
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
