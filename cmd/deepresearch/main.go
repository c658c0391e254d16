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

// Command deepresearch runs the research orchestrator.
//
// Usage:
//
//	deepresearch serve --port 8080
//	deepresearch run "History of container orchestration" --depth quick
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/kadirpekel/deepresearch/pkg/blobstore"
	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/logger"
	"github.com/kadirpekel/deepresearch/pkg/memstore"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/model/anthropic"
	"github.com/kadirpekel/deepresearch/pkg/research"
	"github.com/kadirpekel/deepresearch/pkg/sandbox"
	"github.com/kadirpekel/deepresearch/pkg/server"
	"github.com/kadirpekel/deepresearch/pkg/statusstore"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
	"github.com/kadirpekel/deepresearch/pkg/workspace"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the research HTTP server."`
	Run     RunCmd     `cmd:"" help:"Run a single research session and stream records to stdout."`

	Env        string `help:"Path to a .env file." default:".env"`
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat  string `help:"Log format (simple or verbose)." default:"simple"`
	MCPCommand string `help:"Serve tools from a local stdio MCP server command instead of the gateway."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("deepresearch version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port     int    `help:"Port to listen on." default:"8080"`
	Toolsets string `help:"Path to a YAML toolset mapping (empty = built-in)." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, cleanup, err := buildService(cli, c.Toolsets)
	if err != nil {
		return err
	}
	defer cleanup()

	// A serving deployment with missing tools is broken; fail now, not at
	// the first session.
	if err := svc.ValidateToolsets(ctx); err != nil {
		return err
	}

	return server.New(svc).ListenAndServe(ctx, fmt.Sprintf(":%d", c.Port))
}

// RunCmd runs one research session from the terminal.
type RunCmd struct {
	Topic string `arg:"" help:"Research topic."`

	Type     string `help:"Research type (basic_web, advanced_web, academic, financial, comprehensive)." default:"basic_web"`
	Depth    string `help:"Research depth (quick, balanced, deep)." default:"balanced"`
	Model    string `help:"Model short name or id."`
	Context  string `help:"Extra context for the researchers."`
	Toolsets string `help:"Path to a YAML toolset mapping (empty = built-in)." type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc, cleanup, err := buildService(cli, c.Toolsets)
	if err != nil {
		return err
	}
	defer cleanup()

	enc := json.NewEncoder(os.Stdout)
	for record := range svc.Run(ctx, &research.RunRequest{
		Topic:     c.Topic,
		SessionID: uuid.NewString(),
		Config: &config.ResearchConfig{
			ResearchType:    config.ResearchType(c.Type),
			ResearchDepth:   config.ResearchDepth(c.Depth),
			LLMModel:        c.Model,
			ResearchContext: c.Context,
		},
	}) {
		if err := enc.Encode(record); err != nil {
			return err
		}
		if record.Type == research.RecordError {
			return fmt.Errorf("research failed: %s", record.Error)
		}
	}
	return nil
}

// buildService assembles the research service and its backends.
func buildService(cli *CLI, toolsetsPath string) (*research.Service, func(), error) {
	cfg, err := config.Load(cli.Env)
	if err != nil {
		return nil, nil, err
	}

	ws, err := workspace.New(cfg.WorkspaceDir)
	if err != nil {
		return nil, nil, err
	}
	blobs, err := blobstore.NewFilesystem(filepath.Join(cfg.WorkspaceDir, "blobs"))
	if err != nil {
		return nil, nil, err
	}
	sb, err := sandbox.NewLocal(filepath.Join(cfg.WorkspaceDir, "sandbox"))
	if err != nil {
		return nil, nil, err
	}

	var plane toolplane.Plane
	if cli.MCPCommand != "" {
		plane, err = toolplane.NewStdioPlane(toolplane.StdioConfig{Command: cli.MCPCommand})
	} else {
		plane, err = toolplane.NewGateway(toolplane.GatewayConfig{
			URL:        cfg.GatewayURL,
			SigningKey: []byte(os.Getenv("GATEWAY_SIGNING_KEY")),
			Issuer:     os.Getenv("GATEWAY_TOKEN_ISSUER"),
			Audience:   os.Getenv("GATEWAY_TOKEN_AUDIENCE"),
		})
	}
	if err != nil {
		return nil, nil, err
	}

	mapping := toolplane.DefaultToolsetMapping()
	if toolsetsPath != "" {
		mapping, err = toolplane.LoadToolsetMapping(toolsetsPath)
		if err != nil {
			return nil, nil, err
		}
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	svc, err := research.New(research.Options{
		Config: cfg,
		LLMFactory: func(modelID string) (model.LLM, error) {
			return anthropic.New(anthropic.Config{
				APIKey: apiKey,
				Model:  modelID,
			})
		},
		Plane:     plane,
		Mapping:   mapping,
		Memory:    memstore.InMemory(),
		Status:    statusstore.InMemory(),
		Blobs:     blobs,
		Sandbox:   sb,
		Workspace: ws,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := plane.Close(); err != nil {
			slog.Warn("Failed to close tool plane", "error", err)
		}
	}
	return svc, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("deepresearch"),
		kong.Description("deepresearch - multi-stage concurrent research orchestrator"),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	kctx.FatalIfErrorf(kctx.Run(&cli))
}
