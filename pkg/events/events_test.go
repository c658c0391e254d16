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

package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/memstore"
)

func TestTruncationPlaceholder(t *testing.T) {
	assert.Equal(t, "[Content truncated - original size: 150.00 KB]", TruncationPlaceholder(150*1024))
	assert.Equal(t, "[Content truncated - original size: 0.50 KB]", TruncationPlaceholder(512))
}

func TestSanitizeMetadataValue(t *testing.T) {
	assert.Equal(t, "a b.c_d_e", SanitizeMetadataValue("a b.c\"d%e"))
	assert.Equal(t, "path/to/thing=x+y@z", SanitizeMetadataValue("path/to/thing=x+y@z"))
	assert.Equal(t, "___", SanitizeMetadataValue("日本語"))
}

func TestAspectResearchComplete_OversizePayloadTruncated(t *testing.T) {
	store := memstore.InMemory()
	tracker := NewTracker(store, "sess-1", "user-1")

	big := strings.Repeat("research findings ", 10_000) // ~180 KB

	tracker.AspectResearchComplete(context.Background(), "Economics", "Inflation", big, 20000)

	events, err := store.ListEvents(context.Background(), "sess-1", memstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.LessOrEqual(t, len(events[0].Payload), memstore.MaxPayloadBytes)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &body))
	payload := body["payload"].(map[string]any)
	content := payload["research_content"].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(content, "[Content truncated - original size:"))

	// The placeholder reports the elided field's own size, not the
	// whole payload's. 180,000 bytes is 175.78 KB.
	assert.Equal(t, TruncationPlaceholder(len(big)), content)
	assert.Contains(t, content, "175.78 KB")

	// The light fields survive intact.
	assert.Equal(t, "Economics", payload["dimension"])
	assert.EqualValues(t, 20000, payload["wordCount"])
}

func TestAspectResearchComplete_SmallPayloadIntact(t *testing.T) {
	store := memstore.InMemory()
	tracker := NewTracker(store, "sess-1", "")

	tracker.AspectResearchComplete(context.Background(), "Econ", "CPI", "short findings", 2)

	events, err := store.ListEvents(context.Background(), "sess-1", memstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &body))
	payload := body["payload"].(map[string]any)
	content := payload["research_content"].(map[string]any)["content"].(string)
	assert.Equal(t, "short findings", content)
}

func TestResearchStart_TopicMetadataBounded(t *testing.T) {
	store := memstore.InMemory()
	tracker := NewTracker(store, "sess-1", "user-1")

	longTopic := strings.Repeat("t", 300) + "!!!"
	tracker.ResearchStart(context.Background(), longTopic, "model-x", "basic_web", "quick", false)

	events, err := store.ListEvents(context.Background(), "sess-1", memstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	topic := events[0].Metadata["topic"]
	assert.LessOrEqual(t, len(topic), maxTopicMetadataLen)
	assert.NotContains(t, topic, "!")
	assert.Equal(t, "research_start", events[0].Metadata["kind"])
}

func TestError_MessageBounded(t *testing.T) {
	store := memstore.InMemory()
	tracker := NewTracker(store, "sess-1", "")

	tracker.Error(context.Background(), "timeout", strings.Repeat("e", 1000), "research_agent", nil)

	events, err := store.ListEvents(context.Background(), "sess-1", memstore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(events[0].Payload), &body))
	payload := body["payload"].(map[string]any)
	assert.Len(t, payload["errorMessage"].(string), maxErrorMessageLen)
}

func TestEmit_BestEffort(t *testing.T) {
	// A nil-session tracker hits a store error; emission logs and moves on.
	store := memstore.InMemory()
	tracker := NewTracker(store, "", "")

	assert.NotPanics(t, func() {
		tracker.ResearchStart(context.Background(), "topic", "m", "basic_web", "quick", false)
	})
}
