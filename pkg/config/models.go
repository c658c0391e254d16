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

import "fmt"

// ModelEntry maps an opaque short name to a provider model id.
type ModelEntry struct {
	ShortName string
	ModelID   string
	Usages    []string // recommended usages, informational
}

// ModelRegistry resolves short model names to provider ids.
type ModelRegistry struct {
	entries   map[string]ModelEntry
	defaultID string
}

// NewModelRegistry creates a registry with the built-in entries plus a
// default id used when a short name is unknown or empty.
func NewModelRegistry(defaultID string) *ModelRegistry {
	r := &ModelRegistry{
		entries:   make(map[string]ModelEntry),
		defaultID: defaultID,
	}
	for _, e := range builtinModels {
		r.entries[e.ShortName] = e
	}
	return r
}

// builtinModels is the canonical short-name table.
var builtinModels = []ModelEntry{
	{ShortName: "sonnet", ModelID: "anthropic.claude-sonnet-4-20250514-v1:0", Usages: []string{"research", "synthesis"}},
	{ShortName: "haiku", ModelID: "anthropic.claude-3-5-haiku-20241022-v1:0", Usages: []string{"exploration", "summaries"}},
	{ShortName: "opus", ModelID: "anthropic.claude-opus-4-20250514-v1:0", Usages: []string{"report"}},
}

// Register adds or replaces an entry.
func (r *ModelRegistry) Register(e ModelEntry) {
	r.entries[e.ShortName] = e
}

// Resolve maps a short name to the provider model id. Empty names resolve to
// the default. Unknown names pass through unchanged so fully-qualified ids
// keep working.
func (r *ModelRegistry) Resolve(shortName string) (string, error) {
	if shortName == "" {
		if r.defaultID == "" {
			return "", fmt.Errorf("no model specified and no default configured")
		}
		return r.defaultID, nil
	}
	if e, ok := r.entries[shortName]; ok {
		return e.ModelID, nil
	}
	return shortName, nil
}
