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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

func TestQualifiedAndShortNames(t *testing.T) {
	assert.Equal(t, "websearch___ddg_search", QualifiedName("websearch", "ddg_search"))
	assert.Equal(t, "ddg_search", ShortName("websearch___ddg_search"))
	assert.Equal(t, "plain_name", ShortName("plain_name"))
}

func TestResolveName(t *testing.T) {
	inventory := []string{
		"websearch___ddg_search",
		"websearch___tavily_search",
		"finance___tavily_search",
		"wiki___wikipedia_search",
	}

	t.Run("exact qualified match", func(t *testing.T) {
		q, err := resolveName("websearch___ddg_search", inventory)
		require.NoError(t, err)
		assert.Equal(t, "websearch___ddg_search", q)
	})

	t.Run("unique short name", func(t *testing.T) {
		q, err := resolveName("ddg_search", inventory)
		require.NoError(t, err)
		assert.Equal(t, "websearch___ddg_search", q)
	})

	t.Run("ambiguous short name", func(t *testing.T) {
		_, err := resolveName("tavily_search", inventory)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
		assert.Contains(t, err.Error(), "websearch___tavily_search")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := resolveName("missing_tool", inventory)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestLocalPlane(t *testing.T) {
	local, err := NewLocal(LocalTool{
		Name:        "echo",
		Description: "Echo the input back.",
		Schema:      map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}, LocalTool{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", fmt.Errorf("tool failure")
		},
	})
	require.NoError(t, err)

	defs, err := local.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Name)

	out, err := local.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = local.Invoke(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool failure")

	_, err = local.Invoke(context.Background(), "ghost", nil)
	require.Error(t, err)
}

func TestNewLocal_Rejections(t *testing.T) {
	_, err := NewLocal(LocalTool{Name: ""})
	require.Error(t, err)

	handler := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	_, err = NewLocal(
		LocalTool{Name: "dup", Handler: handler},
		LocalTool{Name: "dup", Handler: handler},
	)
	require.Error(t, err)
}

func TestSchemaFor(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema:"description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}
	schema := SchemaFor(&args{})

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
}

// fakePlane serves a fixed inventory for mapping tests.
type fakePlane struct {
	inventory []model.ToolDefinition
}

func (f *fakePlane) Discover(ctx context.Context) ([]model.ToolDefinition, error) {
	return f.inventory, nil
}

func (f *fakePlane) Resolve(ctx context.Context, name string) (string, error) {
	names := make([]string, 0, len(f.inventory))
	for _, def := range f.inventory {
		names = append(names, def.Name)
	}
	return resolveName(name, names)
}

func (f *fakePlane) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakePlane) Close() error { return nil }

func TestToolsetMapping_ToolsFor(t *testing.T) {
	m := DefaultToolsetMapping()
	assert.Contains(t, m.ToolsFor("academic"), "arxiv_search")
	assert.Equal(t, m.Default, m.ToolsFor("custom"))
}

func TestToolsetMapping_Validate(t *testing.T) {
	plane := &fakePlane{inventory: []model.ToolDefinition{
		{Name: "websearch___ddg_search"},
		{Name: "websearch___tavily_search"},
	}}

	m := &ToolsetMapping{
		Default: []string{"ddg_search"},
		ByType: map[string][]string{
			"basic_web": {"ddg_search", "tavily_search", "missing_one"},
			"academic":  {"missing_two"},
		},
	}

	err := m.Validate(context.Background(), plane)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_one")
	assert.Contains(t, err.Error(), "missing_two")
	assert.Contains(t, err.Error(), `research type "basic_web"`)

	m.ByType = map[string][]string{"basic_web": {"ddg_search", "tavily_search"}}
	require.NoError(t, m.Validate(context.Background(), plane))
}

func TestDefinitionsFor_ExposesShortNames(t *testing.T) {
	plane := &fakePlane{inventory: []model.ToolDefinition{
		{Name: "websearch___ddg_search", Description: "DuckDuckGo search"},
		{Name: "websearch___tavily_search", Description: "Tavily search"},
	}}

	m := &ToolsetMapping{ByType: map[string][]string{
		"basic_web": {"ddg_search", "tavily_search"},
	}}

	defs, err := m.DefinitionsFor(context.Background(), plane, "basic_web")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "ddg_search", defs[0].Name)
	assert.Equal(t, "DuckDuckGo search", defs[0].Description)
}

func TestDefinitionsFor_MissingToolFails(t *testing.T) {
	plane := &fakePlane{inventory: []model.ToolDefinition{
		{Name: "websearch___ddg_search"},
	}}

	m := &ToolsetMapping{ByType: map[string][]string{
		"basic_web": {"ddg_search", "gone"},
	}}

	_, err := m.DefinitionsFor(context.Background(), plane, "basic_web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `research type "basic_web"`)
}
