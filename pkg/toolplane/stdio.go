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
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/deepresearch/pkg/model"
)

// StdioConfig configures a subprocess MCP server, used for local development
// without a deployed gateway.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StdioPlane serves tools from a subprocess MCP server.
type StdioPlane struct {
	cfg StdioConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
	tools     []model.ToolDefinition
	qualified []string
}

// NewStdioPlane creates a lazily-connected subprocess plane.
func NewStdioPlane(cfg StdioConfig) (*StdioPlane, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	return &StdioPlane{cfg: cfg}, nil
}

// Discover returns the tool inventory, connecting lazily if needed.
func (p *StdioPlane) Discover(ctx context.Context) ([]model.ToolDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ToolDefinition, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

// Resolve maps a short or qualified name to the inventory entry.
func (p *StdioPlane) Resolve(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return "", err
	}
	return resolveName(name, p.qualified)
}

// Invoke calls a tool and returns its text output.
func (p *StdioPlane) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	qualified, err := p.Resolve(ctx, name)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	mcpClient := p.client
	p.mu.Unlock()
	if mcpClient == nil {
		return "", fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = qualified
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", qualified, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	text := ""
	if len(texts) > 0 {
		text = texts[0]
		for _, t := range texts[1:] {
			text += "\n" + t
		}
	}

	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("tool %s: %s", qualified, text)
	}
	return text, nil
}

// Close closes the subprocess connection.
func (p *StdioPlane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		p.connected = false
		p.tools = nil
		p.qualified = nil
		return err
	}
	return nil
}

// connectLocked starts the subprocess and lists its tools. Caller holds p.mu.
func (p *StdioPlane) connectLocked(ctx context.Context) error {
	if p.connected {
		return nil
	}

	mcpClient, err := client.NewStdioMCPClient(
		p.cfg.Command,
		convertEnv(p.cfg.Env),
		p.cfg.Args...,
	)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []model.ToolDefinition
	var qualified []string
	for _, mcpTool := range listResp.Tools {
		tools = append(tools, model.ToolDefinition{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			InputSchema: convertSchema(mcpTool.InputSchema),
		})
		qualified = append(qualified, mcpTool.Name)
	}

	p.client = mcpClient
	p.tools = tools
	p.qualified = qualified
	p.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"command", p.cfg.Command,
		"tools", len(tools),
	)
	return nil
}

// convertEnv converts map to slice of "KEY=VALUE".
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// convertSchema converts MCP tool schema to map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var _ Plane = (*StdioPlane)(nil)
