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

// Package state defines the workflow state record and its merge semantics.
//
// Stages never mutate the state they receive. They return an Update (a
// sparse view of the record) and the engine folds it in with Merge. Scalar
// fields are last-writer-wins; the map fields written by parallel workers
// use key-union merge and treat key collisions as programming errors.
package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/config"
)

// AspectKey builds the stable identity for an aspect within a dimension.
// The key correlates research results, events and status entries.
func AspectKey(dimension, aspect string) string {
	return dimension + "::" + aspect
}

// Aspect is the finest-grained research unit inside a dimension.
type Aspect struct {
	Name         string   `json:"name"`
	Reasoning    string   `json:"reasoning"`
	KeyQuestions []string `json:"key_questions"`
	Completed    bool     `json:"completed"`
}

// UnmarshalJSON tolerates the malformed shapes models produce: a string
// key_questions value is split into a list, and a non-object entry decodes
// to a zero Aspect so cleanup can drop it instead of failing the dimension.
func (a *Aspect) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string          `json:"name"`
		Reasoning    string          `json:"reasoning"`
		KeyQuestions json.RawMessage `json:"key_questions"`
		Completed    bool            `json:"completed"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		*a = Aspect{}
		return nil
	}
	a.Name = raw.Name
	a.Reasoning = raw.Reasoning
	a.Completed = raw.Completed
	a.KeyQuestions = coerceStringList(raw.KeyQuestions)
	return nil
}

// coerceStringList accepts a JSON string list or a single string split on
// newlines, falling back to commas.
func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil
	}
	sep := "\n"
	if !strings.Contains(single, "\n") {
		sep = ","
	}
	var out []string
	for _, piece := range strings.Split(single, sep) {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// ReferenceMaterial is a prepared caller-supplied reference.
type ReferenceMaterial struct {
	Type      string   `json:"type"` // "url" or "pdf"
	Source    string   `json:"source"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Note      string   `json:"note"`
}

// ResearchResult is the output of one research agent run.
type ResearchResult struct {
	AspectKey string `json:"aspect_key"`
	Title     string `json:"title"`
	Content   string `json:"content"` // markdown
	WordCount int    `json:"word_count"`
}

// Workflow is the state record threaded through the graph.
type Workflow struct {
	Topic     string
	Config    *config.ResearchConfig
	SessionID string
	UserID    string
	StartedAt time.Time

	References      []ReferenceMaterial
	ResearchContext string

	Dimensions           []string
	OriginalAspectsByDim map[string][]Aspect
	AspectsByDim         map[string][]Aspect

	ResearchByAspect map[string]ResearchResult

	// DimensionDocs maps a dimension to its markdown file path. An empty
	// string records a graceful failure; the report stage skips it.
	DimensionDocs map[string]string

	DraftReportFile string
	ReportFile      string
	ReportPdfFile   string
}

// Update is a sparse view of Workflow. Nil and zero fields are skipped by
// Merge; map fields are merged by key union.
type Update struct {
	Topic     string
	Config    *config.ResearchConfig
	SessionID string
	UserID    string
	StartedAt time.Time

	References      []ReferenceMaterial
	ResearchContext string

	Dimensions           []string
	OriginalAspectsByDim map[string][]Aspect
	AspectsByDim         map[string][]Aspect
	ResearchByAspect     map[string]ResearchResult

	DimensionDocs map[string]string

	DraftReportFile string
	ReportFile      string
	ReportPdfFile   string
}

// SetDimensionDoc records a per-dimension document path. An empty path marks
// the dimension as failed while still counting as delivered.
func (u *Update) SetDimensionDoc(dim, path string) {
	if u.DimensionDocs == nil {
		u.DimensionDocs = make(map[string]string)
	}
	u.DimensionDocs[dim] = path
}

// Clone returns a shallow copy of the workflow with fresh map headers so a
// merge never aliases the maps a running stage may still be reading.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.OriginalAspectsByDim = cloneAspectMap(w.OriginalAspectsByDim)
	clone.AspectsByDim = cloneAspectMap(w.AspectsByDim)
	clone.ResearchByAspect = cloneResultMap(w.ResearchByAspect)
	clone.DimensionDocs = cloneStringMap(w.DimensionDocs)
	clone.Dimensions = append([]string(nil), w.Dimensions...)
	clone.References = append([]ReferenceMaterial(nil), w.References...)
	return &clone
}

// Merge folds an update into the workflow, returning a new record.
// Scalar fields are last-writer-wins. Map fields are key-union merges; a key
// present on both sides is a partitioning bug and fails fast.
func (w *Workflow) Merge(u *Update) (*Workflow, error) {
	if u == nil {
		return w, nil
	}
	next := w.Clone()

	if u.Topic != "" {
		next.Topic = u.Topic
	}
	if u.Config != nil {
		next.Config = u.Config
	}
	if u.SessionID != "" {
		next.SessionID = u.SessionID
	}
	if u.UserID != "" {
		next.UserID = u.UserID
	}
	if !u.StartedAt.IsZero() {
		next.StartedAt = u.StartedAt
	}
	if u.References != nil {
		next.References = u.References
	}
	if u.ResearchContext != "" {
		next.ResearchContext = u.ResearchContext
	}
	if u.Dimensions != nil {
		next.Dimensions = u.Dimensions
	}
	if u.AspectsByDim != nil {
		next.AspectsByDim = cloneAspectMap(u.AspectsByDim)
	}
	if u.DraftReportFile != "" {
		next.DraftReportFile = u.DraftReportFile
	}
	if u.ReportFile != "" {
		next.ReportFile = u.ReportFile
	}
	if u.ReportPdfFile != "" {
		next.ReportPdfFile = u.ReportPdfFile
	}

	var err error
	if next.OriginalAspectsByDim, err = unionAspects(next.OriginalAspectsByDim, u.OriginalAspectsByDim); err != nil {
		return nil, fmt.Errorf("originalAspectsByDim: %w", err)
	}
	if next.ResearchByAspect, err = unionResults(next.ResearchByAspect, u.ResearchByAspect); err != nil {
		return nil, fmt.Errorf("researchByAspect: %w", err)
	}
	if next.DimensionDocs, err = unionStrings(next.DimensionDocs, u.DimensionDocs); err != nil {
		return nil, fmt.Errorf("dimensionDocs: %w", err)
	}

	return next, nil
}

func unionAspects(dst, src map[string][]Aspect) (map[string][]Aspect, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if dst == nil {
		dst = make(map[string][]Aspect, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; exists {
			return nil, fmt.Errorf("duplicate key %q in concurrent merge", k)
		}
		dst[k] = v
	}
	return dst, nil
}

func unionResults(dst, src map[string]ResearchResult) (map[string]ResearchResult, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if dst == nil {
		dst = make(map[string]ResearchResult, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; exists {
			return nil, fmt.Errorf("duplicate key %q in concurrent merge", k)
		}
		dst[k] = v
	}
	return dst, nil
}

func unionStrings(dst, src map[string]string) (map[string]string, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		if _, exists := dst[k]; exists {
			return nil, fmt.Errorf("duplicate key %q in concurrent merge", k)
		}
		dst[k] = v
	}
	return dst, nil
}

func cloneAspectMap(m map[string][]Aspect) map[string][]Aspect {
	if m == nil {
		return nil
	}
	out := make(map[string][]Aspect, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResultMap(m map[string]ResearchResult) map[string]ResearchResult {
	if m == nil {
		return nil
	}
	out := make(map[string]ResearchResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
