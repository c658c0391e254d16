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

// Package config holds process configuration for the research orchestrator.
//
// Runtime settings come from environment variables (optionally seeded from a
// .env file). Per-request research options arrive as a ResearchConfig decoded
// from the caller payload.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Config is the process-level configuration resolved at startup.
type Config struct {
	Region             string
	MemoryID           string
	ChatMemoryID       string
	StatusTable        string
	PreferencesTable   string
	OutputsBucket      string
	GatewayURL         string
	TavilyAPIKey       string
	GoogleAPIKey       string
	GoogleSearchEngine string
	DefaultModelID     string
	LogLevel           slog.Level

	// WorkspaceDir is the local scratch area for produced files.
	WorkspaceDir string
}

// required environment variables; absence is a fatal init error.
var requiredVars = []string{
	"AWS_REGION",
	"AGENTCORE_MEMORY_ID",
	"DYNAMODB_STATUS_TABLE",
	"S3_OUTPUTS_BUCKET",
	"GATEWAY_URL",
}

// Load reads configuration from the environment. Files listed in dotenv are
// loaded first (missing files are ignored).
func Load(dotenv ...string) (*Config, error) {
	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	for _, name := range requiredVars {
		if os.Getenv(name) == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", name)
		}
	}

	cfg := &Config{
		Region:             os.Getenv("AWS_REGION"),
		MemoryID:           os.Getenv("AGENTCORE_MEMORY_ID"),
		ChatMemoryID:       os.Getenv("AGENTCORE_RESEARCH_MEMORY_ID"),
		StatusTable:        os.Getenv("DYNAMODB_STATUS_TABLE"),
		PreferencesTable:   os.Getenv("DYNAMODB_USER_PREFERENCES_TABLE"),
		OutputsBucket:      os.Getenv("S3_OUTPUTS_BUCKET"),
		GatewayURL:         os.Getenv("GATEWAY_URL"),
		TavilyAPIKey:       os.Getenv("TAVILY_API_KEY"),
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		GoogleSearchEngine: os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
		DefaultModelID:     os.Getenv("DEFAULT_MODEL_ID"),
		WorkspaceDir:       os.Getenv("WORKSPACE_DIR"),
	}

	cfg.LogLevel = parseLevel(os.Getenv("LOG_LEVEL"))

	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "workspace"
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
