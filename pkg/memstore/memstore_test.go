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

package memstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEvent_AssignsIDAndTimestamp(t *testing.T) {
	store := InMemory()

	require.NoError(t, store.CreateEvent(context.Background(), &Event{
		SessionID: "sess-1",
		Payload:   `{"kind":"research_start"}`,
	}))

	events, err := store.ListEvents(context.Background(), "sess-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestCreateEvent_RequiresSession(t *testing.T) {
	store := InMemory()
	err := store.CreateEvent(context.Background(), &Event{Payload: "x"})
	require.Error(t, err)
}

func TestCreateEvent_PayloadCeiling(t *testing.T) {
	store := InMemory()

	err := store.CreateEvent(context.Background(), &Event{
		SessionID: "sess-1",
		Payload:   strings.Repeat("x", MaxPayloadBytes+1),
	})
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	require.NoError(t, store.CreateEvent(context.Background(), &Event{
		SessionID: "sess-1",
		Payload:   strings.Repeat("x", MaxPayloadBytes),
	}))
}

func TestListEvents_OrderAndFilters(t *testing.T) {
	store := InMemory()
	base := time.Now()

	for i, actor := range []string{"agent-a", "agent-b", "agent-a"} {
		require.NoError(t, store.CreateEvent(context.Background(), &Event{
			SessionID: "sess-1",
			ActorID:   actor,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Payload:   actor,
		}))
	}

	events, err := store.ListEvents(context.Background(), "sess-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Timestamp.Before(events[2].Timestamp))

	events, err = store.ListEvents(context.Background(), "sess-1", ListOptions{ActorID: "agent-a"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// MaxResults keeps the most recent.
	events, err = store.ListEvents(context.Background(), "sess-1", ListOptions{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "agent-a", events[0].Payload)
	assert.Equal(t, base.Add(2*time.Second).Unix(), events[0].Timestamp.Unix())
}

func TestListEvents_UnknownSessionIsEmpty(t *testing.T) {
	store := InMemory()
	events, err := store.ListEvents(context.Background(), "nope", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
