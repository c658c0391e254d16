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

// Package server exposes the research service over HTTP.
//
// POST /v1/research streams newline-delimited JSON progress records until the
// run reaches a terminal state. Status, cancellation, and event replay are
// plain JSON endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/memstore"
	"github.com/kadirpekel/deepresearch/pkg/research"
	"github.com/kadirpekel/deepresearch/pkg/statusstore"
)

// Server wires the research service into an HTTP handler.
type Server struct {
	svc    *research.Service
	router chi.Router
}

// New creates a server around the service.
func New(svc *research.Service) *Server {
	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Hour))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/research", func(r chi.Router) {
		r.Post("/", s.handleRun)
		r.Get("/{sessionID}/status", s.handleStatus)
		r.Post("/{sessionID}/cancel", s.handleCancel)
		r.Get("/{sessionID}/events", s.handleEvents)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// runPayload is the research invocation body.
type runPayload struct {
	Topic          string         `json:"topic"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	ResearchConfig map[string]any `json:"research_config"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var payload runPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	if payload.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if payload.SessionID == "" {
		payload.SessionID = uuid.NewString()
	}

	cfg, err := config.DecodeResearchConfig(payload.ResearchConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for record := range s.svc.Run(r.Context(), &research.RunRequest{
		Topic:     payload.Topic,
		Config:    cfg,
		SessionID: payload.SessionID,
		UserID:    payload.UserID,
	}) {
		if err := enc.Encode(record); err != nil {
			slog.Warn("Failed to write stream record", "session_id", payload.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	doc, err := s.svc.Status(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, statusstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.svc.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sessionID,
		"status":     "cancelling",
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	events, err := s.svc.Memory().ListEvents(r.Context(), sessionID, memstore.ListOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
