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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/model"
)

const (
	// DefaultSSEResponseTimeout bounds SSE response reads. Tool calls can
	// run for minutes (sandboxed code execution, deep crawls).
	DefaultSSEResponseTimeout = 5 * time.Minute

	// DefaultDiscoveryTTL is how long a discovered inventory stays fresh.
	DefaultDiscoveryTTL = 10 * time.Minute

	protocolVersion = "2024-11-05"
	clientName      = "deepresearch"
	clientVersion   = "1.0.0"
)

// GatewayConfig configures the gateway client.
type GatewayConfig struct {
	// URL is the MCP gateway endpoint.
	URL string

	// SigningKey signs outbound request tokens (HS256). Empty disables
	// signing for local gateways.
	SigningKey []byte

	// Issuer and Audience stamp the signed token.
	Issuer   string
	Audience string

	// MaxRetries for HTTP requests (default: 3).
	MaxRetries int

	// SSETimeout for SSE response reading (default: 5m).
	SSETimeout time.Duration

	// DiscoveryTTL for the cached tool inventory (default: 10m).
	DiscoveryTTL time.Duration
}

// Gateway is an MCP gateway client with lazy initialization and a cached
// tool inventory.
type Gateway struct {
	cfg        GatewayConfig
	httpClient *httpclient.Client

	mu           sync.Mutex
	sessionID    string
	initialized  bool
	tools        []model.ToolDefinition
	qualified    []string
	discoveredAt time.Time
}

// NewGateway creates a gateway client.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSEResponseTimeout
	}
	if cfg.DiscoveryTTL == 0 {
		cfg.DiscoveryTTL = DefaultDiscoveryTTL
	}

	return &Gateway{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.SSETimeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}, nil
}

// Discover returns the tool inventory, refreshing the cache when stale.
func (g *Gateway) Discover(ctx context.Context) ([]model.ToolDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.refreshLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ToolDefinition, len(g.tools))
	copy(out, g.tools)
	return out, nil
}

// Resolve maps a short or qualified name to the qualified inventory entry.
func (g *Gateway) Resolve(ctx context.Context, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.refreshLocked(ctx); err != nil {
		return "", err
	}
	return resolveName(name, g.qualified)
}

// Invoke calls a tool and returns its text output.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	qualified, err := g.Resolve(ctx, name)
	if err != nil {
		return "", err
	}

	resp, err := g.call(ctx, "tools/call", map[string]any{
		"name":      qualified,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", qualified, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("tool %s: %s", qualified, resp.Error.Message)
	}

	text, isErr := parseCallResult(resp.Result)
	if isErr {
		return "", fmt.Errorf("tool %s: %s", qualified, text)
	}
	return text, nil
}

// Close drops the session and cached inventory.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = ""
	g.initialized = false
	g.tools = nil
	g.qualified = nil
	return nil
}

// refreshLocked (re)initializes the session and tool inventory when needed.
// Caller holds g.mu.
func (g *Gateway) refreshLocked(ctx context.Context) error {
	if g.initialized && time.Since(g.discoveredAt) < g.cfg.DiscoveryTTL {
		return nil
	}

	if !g.initialized {
		initResp, err := g.call(ctx, "initialize", map[string]any{
			"protocolVersion": protocolVersion,
			"clientInfo": map[string]any{
				"name":    clientName,
				"version": clientVersion,
			},
			"capabilities": map[string]any{},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize gateway session: %w", err)
		}
		if initResp.Error != nil {
			return fmt.Errorf("gateway init error: %s", initResp.Error.Message)
		}
		g.initialized = true
	}

	listResp, err := g.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list gateway tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("gateway list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []model.ToolDefinition
	var qualified []string
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := toolMap["description"].(string)
		var schema map[string]any
		if inputSchema, ok := toolMap["inputSchema"].(map[string]any); ok {
			schema = inputSchema
		}
		tools = append(tools, model.ToolDefinition{
			Name:        name,
			Description: desc,
			InputSchema: schema,
		})
		qualified = append(qualified, name)
	}

	g.tools = tools
	g.qualified = qualified
	g.discoveredAt = time.Now()

	slog.Info("Discovered gateway tools",
		"url", g.cfg.URL,
		"tools", len(tools),
	)
	return nil
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call sends a JSON-RPC request with retry/backoff and a signed token.
func (g *Gateway) call(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	if len(g.cfg.SigningKey) > 0 {
		token, err := g.signToken()
		if err != nil {
			return nil, fmt.Errorf("failed to sign gateway token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	if g.sessionID != "" {
		httpReq.Header.Set("mcp-session-id", g.sessionID)
	}

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		slog.Debug("Gateway request failed",
			"url", g.cfg.URL,
			"method", method,
			"error", err.Error())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		g.sessionID = newSessionID
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s (response: %s)", httpResp.StatusCode, httpResp.Status, string(responseBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return g.readSSEResponse(httpResp)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// signToken builds a short-lived HS256 token for the gateway.
func (g *Gateway) signToken() (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		IssuedAt(now).
		Expiration(now.Add(5 * time.Minute))
	if g.cfg.Issuer != "" {
		builder = builder.Issuer(g.cfg.Issuer)
	}
	if g.cfg.Audience != "" {
		builder = builder.Audience([]string{g.cfg.Audience})
	}

	token, err := builder.Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, g.cfg.SigningKey))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// readSSEResponse reads the first complete JSON-RPC response from an SSE
// stream.
func (g *Gateway) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				slog.Debug("Gateway SSE read error", "url", g.cfg.URL, "error", err)
				break
			}

			lineStr := strings.TrimSpace(string(line))

			// Empty line signals end of event
			if lineStr == "" {
				if currentData.Len() > 0 {
					var resp jsonRPCResponse
					if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
						resultChan <- result{response: &resp}
						return
					}
					currentData.Reset()
				}
				continue
			}

			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if currentData.Len() > 0 {
			var resp jsonRPCResponse
			if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
				resultChan <- result{response: &resp}
				return
			}
		}

		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		return res.response, nil
	case <-time.After(g.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", g.cfg.SSETimeout)
	}
}

// parseCallResult flattens an MCP tools/call result into text, reporting
// whether the tool flagged an error.
func parseCallResult(result any) (string, bool) {
	resultMap, ok := result.(map[string]any)
	if !ok {
		data, _ := json.Marshal(result)
		return string(data), false
	}

	isError, _ := resultMap["isError"].(bool)

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if cm["type"] == "text" {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}

	if len(texts) == 0 {
		if isError {
			return "unknown error", true
		}
		data, _ := json.Marshal(resultMap)
		return string(data), false
	}
	return strings.Join(texts, "\n"), isError
}

var _ Plane = (*Gateway)(nil)
