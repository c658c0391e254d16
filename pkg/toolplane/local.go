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
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

// LocalTool is an in-process tool served without the gateway. Editor and
// chart sub-agents use these.
type LocalTool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     func(ctx context.Context, args map[string]any) (string, error)
}

// Local serves a fixed set of in-process tools.
type Local struct {
	tools map[string]LocalTool
	order []string
}

// NewLocal creates a plane over the given tools.
func NewLocal(tools ...LocalTool) (*Local, error) {
	l := &Local{tools: make(map[string]LocalTool, len(tools))}
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return nil, fmt.Errorf("local tool requires a name and handler")
		}
		if _, dup := l.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate local tool %q", t.Name)
		}
		l.tools[t.Name] = t
		l.order = append(l.order, t.Name)
	}
	return l, nil
}

// Discover returns the tool definitions in registration order.
func (l *Local) Discover(ctx context.Context) ([]model.ToolDefinition, error) {
	defs := make([]model.ToolDefinition, 0, len(l.order))
	for _, name := range l.order {
		t := l.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return defs, nil
}

// Resolve maps a name to the registered tool.
func (l *Local) Resolve(ctx context.Context, name string) (string, error) {
	return resolveName(name, l.order)
}

// Invoke runs the named tool.
func (l *Local) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	resolved, err := l.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	out, err := l.tools[resolved].Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", resolved, err)
	}
	return out, nil
}

// Close is a no-op for local tools.
func (l *Local) Close() error { return nil }

// SchemaFor reflects a JSON schema for a tool's argument struct.
func SchemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	// Tool contracts carry bare object schemas.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

var _ Plane = (*Local)(nil)
