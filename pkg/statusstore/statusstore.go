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

// Package statusstore persists per-session status documents.
//
// A status document is a flat map keyed by session ID. Writers merge fields
// atomically; the cancellation probe polls the same document, so a write
// from the cancel endpoint is visible to the next probe.
package statusstore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no document exists for the session.
var ErrNotFound = errors.New("status document not found")

// Store is the status document backend.
type Store interface {
	// Get returns the session's status document.
	Get(ctx context.Context, sessionID string) (map[string]any, error)

	// Merge writes the given fields into the session's document, creating
	// it if absent. Existing fields not named are preserved.
	Merge(ctx context.Context, sessionID string, fields map[string]any) error

	// Delete removes the session's document.
	Delete(ctx context.Context, sessionID string) error
}

// InMemory returns an in-memory store for development and tests.
func InMemory() Store {
	return &inMemoryStore{
		docs: make(map[string]map[string]any),
	}
}

type inMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func (s *inMemoryStore) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

func (s *inMemoryStore) Merge(ctx context.Context, sessionID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[sessionID]
	if !ok {
		doc = make(map[string]any, len(fields))
		s.docs[sessionID] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (s *inMemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, sessionID)
	return nil
}

var _ Store = (*inMemoryStore)(nil)
