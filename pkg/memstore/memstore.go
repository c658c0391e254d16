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

// Package memstore persists the session event log.
//
// Events are append-only conversational records keyed by session and actor.
// The store enforces the backend payload ceiling; callers that may exceed
// it truncate first (see pkg/events).
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxPayloadBytes is the backend's per-event payload ceiling.
const MaxPayloadBytes = 100 * 1024

// ErrPayloadTooLarge is returned for events over MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("event payload exceeds backend limit")

// Event is one conversational record.
type Event struct {
	ID        string
	SessionID string
	ActorID   string
	Timestamp time.Time

	// Payload is the serialized event body.
	Payload string

	// Metadata holds searchable key/value pairs alongside the payload.
	Metadata map[string]string
}

// ListOptions filter an event listing.
type ListOptions struct {
	// ActorID limits results to one actor. Empty matches all.
	ActorID string

	// MaxResults caps the number of returned events (most recent kept).
	// Zero returns all.
	MaxResults int
}

// Store is the event log backend.
type Store interface {
	// CreateEvent appends an event. The ID and Timestamp are assigned if
	// unset.
	CreateEvent(ctx context.Context, event *Event) error

	// ListEvents returns a session's events in timestamp order.
	ListEvents(ctx context.Context, sessionID string, opts ListOptions) ([]*Event, error)
}

// InMemory returns an in-memory store for development and tests.
func InMemory() Store {
	return &inMemoryStore{
		events: make(map[string][]*Event),
	}
}

type inMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*Event
}

func (s *inMemoryStore) CreateEvent(ctx context.Context, event *Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("event session ID is required")
	}
	if len(event.Payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(event.Payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	s.events[event.SessionID] = append(s.events[event.SessionID], &stored)
	return nil
}

func (s *inMemoryStore) ListEvents(ctx context.Context, sessionID string, opts ListOptions) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, ev := range s.events[sessionID] {
		if opts.ActorID != "" && ev.ActorID != opts.ActorID {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[len(out)-opts.MaxResults:]
	}
	return out, nil
}

var _ Store = (*inMemoryStore)(nil)
