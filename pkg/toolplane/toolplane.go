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

// Package toolplane connects research agents to the tool gateway.
//
// The gateway exposes tools through MCP with qualified names of the form
// "target___tool" (triple underscore between the registered target and the
// tool it hosts). Agents reference tools by short name; the plane resolves
// short names against the discovered inventory and fails loudly on missing
// or ambiguous references.
package toolplane

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

// NameSeparator joins a gateway target and its tool name.
const NameSeparator = "___"

// Plane is the tool surface available to agents.
type Plane interface {
	// Discover returns the current tool inventory.
	Discover(ctx context.Context) ([]model.ToolDefinition, error)

	// Resolve maps a short or qualified tool name to its qualified name.
	Resolve(ctx context.Context, name string) (string, error)

	// Invoke calls a tool by short or qualified name and returns its text
	// output. Tool-reported errors come back as an error with the tool's
	// message so the agent loop can feed them to the model.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)

	// Close releases the underlying connection.
	Close() error
}

// QualifiedName joins a target and tool name.
func QualifiedName(target, tool string) string {
	return target + NameSeparator + tool
}

// ShortName strips the target prefix from a qualified name. Unqualified
// names pass through unchanged.
func ShortName(qualified string) string {
	if i := strings.LastIndex(qualified, NameSeparator); i >= 0 {
		return qualified[i+len(NameSeparator):]
	}
	return qualified
}

// resolveName matches a requested name against an inventory of qualified
// names. Exact qualified matches win; otherwise the short name must match
// exactly one entry.
func resolveName(requested string, inventory []string) (string, error) {
	for _, q := range inventory {
		if q == requested {
			return q, nil
		}
	}

	var matches []string
	for _, q := range inventory {
		if ShortName(q) == requested {
			matches = append(matches, q)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("tool %q not found in gateway inventory (%d tools available)", requested, len(inventory))
	default:
		return "", fmt.Errorf("tool %q is ambiguous: matches %s", requested, strings.Join(matches, ", "))
	}
}
