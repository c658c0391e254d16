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

package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ResearchType selects the toolset available to research agents.
type ResearchType string

const (
	ResearchBasicWeb      ResearchType = "basic_web"
	ResearchAdvancedWeb   ResearchType = "advanced_web"
	ResearchAcademic      ResearchType = "academic"
	ResearchFinancial     ResearchType = "financial"
	ResearchComprehensive ResearchType = "comprehensive"
	ResearchCustom        ResearchType = "custom"
)

// ResearchDepth selects the depth profile.
type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthBalanced ResearchDepth = "balanced"
	DepthDeep     ResearchDepth = "deep"
)

// DepthProfile expands a ResearchDepth into concrete limits.
type DepthProfile struct {
	TargetDimensions int
	AspectsPerDim    int
	SearchResultCap  int
	AgentMaxIter     int
}

var depthProfiles = map[ResearchDepth]DepthProfile{
	DepthQuick:    {TargetDimensions: 2, AspectsPerDim: 2, SearchResultCap: 3, AgentMaxIter: 15},
	DepthBalanced: {TargetDimensions: 3, AspectsPerDim: 3, SearchResultCap: 5, AgentMaxIter: 25},
	DepthDeep:     {TargetDimensions: 5, AspectsPerDim: 3, SearchResultCap: 5, AgentMaxIter: 35},
}

// Profile returns the depth profile for d, defaulting to balanced.
func (d ResearchDepth) Profile() DepthProfile {
	if p, ok := depthProfiles[d]; ok {
		return p
	}
	return depthProfiles[DepthBalanced]
}

// ReferenceInput is a caller-supplied reference material.
type ReferenceInput struct {
	Type    string `mapstructure:"type" json:"type"` // "url" or "pdf"
	Source  string `mapstructure:"source" json:"source"`
	Title   string `mapstructure:"title" json:"title"`
	Note    string `mapstructure:"note" json:"note"`
	Content string `mapstructure:"content" json:"content"` // base64 for pdf
}

// ResearchConfig is the per-request research configuration.
type ResearchConfig struct {
	ResearchType       ResearchType     `mapstructure:"research_type" json:"research_type"`
	ResearchDepth      ResearchDepth    `mapstructure:"research_depth" json:"research_depth"`
	LLMModel           string           `mapstructure:"llm_model" json:"llm_model"`
	ResearchContext    string           `mapstructure:"research_context" json:"research_context"`
	ReferenceMaterials []ReferenceInput `mapstructure:"reference_materials" json:"reference_materials"`
}

// DecodeResearchConfig decodes a raw payload map into a ResearchConfig and
// applies defaults.
func DecodeResearchConfig(raw map[string]any) (*ResearchConfig, error) {
	var cfg ResearchConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid research_config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *ResearchConfig) ApplyDefaults() {
	if c.ResearchType == "" {
		c.ResearchType = ResearchBasicWeb
	}
	if c.ResearchDepth == "" {
		c.ResearchDepth = DepthBalanced
	}
}

// Validate checks enumerated fields.
func (c *ResearchConfig) Validate() error {
	switch c.ResearchType {
	case ResearchBasicWeb, ResearchAdvancedWeb, ResearchAcademic,
		ResearchFinancial, ResearchComprehensive, ResearchCustom:
	default:
		return fmt.Errorf("unknown research_type %q", c.ResearchType)
	}
	switch c.ResearchDepth {
	case DepthQuick, DepthBalanced, DepthDeep:
	default:
		return fmt.Errorf("unknown research_depth %q", c.ResearchDepth)
	}
	return nil
}
