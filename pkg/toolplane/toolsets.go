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

package toolplane

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

// ToolsetMapping assigns each research type the tools its agents may use.
// Names may be short or qualified; they are resolved against the gateway
// inventory before any agent runs.
type ToolsetMapping struct {
	// Default applies to research types without an explicit entry.
	Default []string `yaml:"default"`

	// ByType maps a research type to its tool names.
	ByType map[string][]string `yaml:"research_types"`
}

// DefaultToolsetMapping covers the built-in research types.
func DefaultToolsetMapping() *ToolsetMapping {
	return &ToolsetMapping{
		Default: []string{"ddg_search", "tavily_search", "tavily_extract"},
		ByType: map[string][]string{
			"basic_web":    {"ddg_search", "ddg_news", "tavily_search"},
			"advanced_web": {"ddg_search", "tavily_search", "tavily_extract", "google_web_search"},
			"academic":     {"tavily_search", "wikipedia_search", "wikipedia_get_article", "arxiv_search", "arxiv_get_paper"},
			"financial":    {"tavily_search", "stock_quote", "stock_history", "financial_news", "stock_analysis"},
			"comprehensive": {
				"ddg_search", "ddg_news", "tavily_search", "tavily_extract",
				"google_web_search", "wikipedia_search", "arxiv_search",
			},
		},
	}
}

// LoadToolsetMapping reads a mapping from a YAML file.
func LoadToolsetMapping(path string) (*ToolsetMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read toolset mapping: %w", err)
	}

	var m ToolsetMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse toolset mapping: %w", err)
	}
	return &m, nil
}

// ToolsFor returns the tool names assigned to a research type.
func (m *ToolsetMapping) ToolsFor(researchType string) []string {
	if names, ok := m.ByType[researchType]; ok {
		return names
	}
	return m.Default
}

// Validate resolves every mapped tool against the plane's inventory and
// returns an error naming each missing tool. Run at startup so a renamed
// gateway target fails the deployment, not a session.
func (m *ToolsetMapping) Validate(ctx context.Context, plane Plane) error {
	var missing []string
	seen := make(map[string]bool)

	check := func(researchType string, names []string) {
		for _, name := range names {
			key := researchType + "/" + name
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := plane.Resolve(ctx, name); err != nil {
				missing = append(missing, fmt.Sprintf("%s (research type %q)", name, researchType))
			}
		}
	}

	check("default", m.Default)
	types := make([]string, 0, len(m.ByType))
	for t := range m.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		check(t, m.ByType[t])
	}

	if len(missing) > 0 {
		return fmt.Errorf("toolset mapping references tools missing from the gateway: %s", strings.Join(missing, "; "))
	}
	return nil
}

// DefinitionsFor resolves the research type's tools into definitions the
// model can call, with short names exposed to the model.
func (m *ToolsetMapping) DefinitionsFor(ctx context.Context, plane Plane, researchType string) ([]model.ToolDefinition, error) {
	inventory, err := plane.Discover(ctx)
	if err != nil {
		return nil, err
	}

	byQualified := make(map[string]model.ToolDefinition, len(inventory))
	qualified := make([]string, 0, len(inventory))
	for _, def := range inventory {
		byQualified[def.Name] = def
		qualified = append(qualified, def.Name)
	}

	var defs []model.ToolDefinition
	for _, name := range m.ToolsFor(researchType) {
		q, err := resolveName(name, qualified)
		if err != nil {
			return nil, fmt.Errorf("research type %q: %w", researchType, err)
		}
		def := byQualified[q]
		def.Name = ShortName(q)
		defs = append(defs, def)
	}
	return defs, nil
}
