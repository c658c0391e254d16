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

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/blobstore"
	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/memstore"
	"github.com/kadirpekel/deepresearch/pkg/model"
	"github.com/kadirpekel/deepresearch/pkg/research"
	"github.com/kadirpekel/deepresearch/pkg/statusstore"
	"github.com/kadirpekel/deepresearch/pkg/toolplane"
	"github.com/kadirpekel/deepresearch/pkg/workspace"
)

// brokenLLM fails every call; runs through it terminate with an error record.
type brokenLLM struct{}

func (brokenLLM) Name() string { return "broken" }

func (brokenLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		yield(nil, fmt.Errorf("model unavailable"))
	}
}

func (brokenLLM) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, statusstore.Store, memstore.Store) {
	t.Helper()

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	blobs, err := blobstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	stub := func(name string) toolplane.LocalTool {
		return toolplane.LocalTool{
			Name:    name,
			Schema:  map[string]any{"type": "object"},
			Handler: func(ctx context.Context, args map[string]any) (string, error) { return "ok", nil },
		}
	}
	plane, err := toolplane.NewLocal(stub("ddg_search"), stub("ddg_news"), stub("tavily_search"))
	require.NoError(t, err)

	statuses := statusstore.InMemory()
	memory := memstore.InMemory()

	svc, err := research.New(research.Options{
		Config:     &config.Config{DefaultModelID: "model-x"},
		LLMFactory: func(string) (model.LLM, error) { return brokenLLM{}, nil },
		Plane:      plane,
		Memory:     memory,
		Status:     statuses,
		Blobs:      blobs,
		Workspace:  ws,
	})
	require.NoError(t, err)
	return New(svc), statuses, memory
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRun_RequiresTopic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(`{"session_id":"s1"}`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "topic is required")
}

func TestRun_RejectsBadConfig(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"topic":"t","research_config":{"research_depth":"bottomless"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "research_depth")
}

func TestRun_StreamsNDJSONUntilTerminal(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"topic":"doomed topic","session_id":"sess-ndjson"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var records []research.Record
	scanner := bufio.NewScanner(rec.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var r research.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.NotEmpty(t, records)

	// The broken model fails the run after the initial status record.
	assert.Equal(t, research.RecordStatus, records[0].Type)
	terminal := records[len(records)-1]
	assert.Equal(t, research.RecordError, terminal.Type)
	assert.NotEmpty(t, terminal.Error)
}

func TestStatus_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/research/ghost/status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelThenStatus(t *testing.T) {
	srv, statuses, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/research/sess-c/cancel", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	doc, err := statuses.Get(context.Background(), "sess-c")
	require.NoError(t, err)
	assert.Equal(t, "cancelling", doc["status"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/research/sess-c/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelling")
}

func TestEventsReplay(t *testing.T) {
	srv, _, memory := newTestServer(t)

	require.NoError(t, memory.CreateEvent(context.Background(), &memstore.Event{
		SessionID: "sess-e",
		Payload:   `{"kind":"research_start"}`,
		Metadata:  map[string]string{"kind": "research_start"},
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/research/sess-e/events", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		SessionID string           `json:"session_id"`
		Events    []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "sess-e", out.SessionID)
	assert.Len(t, out.Events, 1)
}
