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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResearchConfig(t *testing.T) {
	cfg, err := DecodeResearchConfig(map[string]any{
		"research_type":    "academic",
		"research_depth":   "deep",
		"llm_model":        "sonnet",
		"research_context": "focus on peer-reviewed work",
		"reference_materials": []any{
			map[string]any{"type": "url", "source": "https://example.com/paper"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ResearchAcademic, cfg.ResearchType)
	assert.Equal(t, DepthDeep, cfg.ResearchDepth)
	require.Len(t, cfg.ReferenceMaterials, 1)
	assert.Equal(t, "url", cfg.ReferenceMaterials[0].Type)
}

func TestDecodeResearchConfig_DefaultsApplied(t *testing.T) {
	cfg, err := DecodeResearchConfig(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, ResearchBasicWeb, cfg.ResearchType)
	assert.Equal(t, DepthBalanced, cfg.ResearchDepth)
}

func TestDecodeResearchConfig_UnknownKeysIgnored(t *testing.T) {
	cfg, err := DecodeResearchConfig(map[string]any{
		"research_type": "basic_web",
		"unexpected":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResearchBasicWeb, cfg.ResearchType)
}

func TestResearchConfigValidate(t *testing.T) {
	cfg := &ResearchConfig{ResearchType: ResearchFinancial, ResearchDepth: DepthQuick}
	assert.NoError(t, cfg.Validate())

	cfg.ResearchType = "quantum"
	assert.Error(t, cfg.Validate())

	cfg.ResearchType = ResearchBasicWeb
	cfg.ResearchDepth = "bottomless"
	assert.Error(t, cfg.Validate())
}

func TestDepthProfiles(t *testing.T) {
	quick := DepthQuick.Profile()
	assert.Equal(t, 2, quick.TargetDimensions)
	assert.Equal(t, 2, quick.AspectsPerDim)
	assert.Equal(t, 3, quick.SearchResultCap)
	assert.Equal(t, 15, quick.AgentMaxIter)

	deep := DepthDeep.Profile()
	assert.Equal(t, 5, deep.TargetDimensions)
	assert.Equal(t, 35, deep.AgentMaxIter)

	// Unknown depth falls back to balanced.
	assert.Equal(t, DepthBalanced.Profile(), ResearchDepth("??").Profile())
}

func TestModelRegistryResolve(t *testing.T) {
	r := NewModelRegistry("default-model-id")

	id, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "default-model-id", id)

	id, err = r.Resolve("sonnet")
	require.NoError(t, err)
	assert.Contains(t, id, "claude-sonnet")

	// Fully-qualified ids pass through.
	id, err = r.Resolve("anthropic.claude-custom-v9")
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-custom-v9", id)
}

func TestModelRegistryResolve_NoDefault(t *testing.T) {
	r := NewModelRegistry("")
	_, err := r.Resolve("")
	require.Error(t, err)
}
