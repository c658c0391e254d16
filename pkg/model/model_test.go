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

package model

import (
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingAggregator(t *testing.T) {
	agg := NewStreamingAggregator()

	partial := agg.TextDelta("Hello, ")
	assert.True(t, partial.Partial)
	assert.Equal(t, "Hello, ", partial.TextContent())

	agg.TextDelta("world.")
	agg.AddToolCall(ToolCall{ID: "c1", Name: "search"})
	agg.SetUsage(&Usage{TotalTokens: 42})

	final := agg.Close()
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello, world.", final.TextContent())
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, 42, final.Usage.TotalTokens)
	assert.Equal(t, FinishReasonStop, final.FinishReason)
}

func TestStreamingAggregator_EmptyTextHasNilContent(t *testing.T) {
	agg := NewStreamingAggregator()
	agg.AddToolCall(ToolCall{ID: "c1", Name: "search"})

	final := agg.Close()
	assert.Nil(t, final.Content)
	assert.True(t, final.HasToolCalls())
}

func slowStream(delay time.Duration, texts ...string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		time.Sleep(delay)
		for _, text := range texts {
			if !yield(&Response{Content: NewTextMessage(RoleAssistant, text), Partial: true}, nil) {
				return
			}
		}
	}
}

func TestWithFirstChunkTimeout_PassThrough(t *testing.T) {
	seq := WithFirstChunkTimeout(slowStream(0, "a", "b"), time.Second)

	var got []string
	for resp, err := range seq {
		require.NoError(t, err)
		got = append(got, resp.TextContent())
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestWithFirstChunkTimeout_Expires(t *testing.T) {
	seq := WithFirstChunkTimeout(slowStream(200*time.Millisecond, "late"), 10*time.Millisecond)

	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFirstChunkTimeout)
}

func TestWithFirstChunkTimeout_OnlyFirstChunkIsBounded(t *testing.T) {
	// The second chunk may take longer than the timeout.
	seq := func(yield func(*Response, error) bool) {
		if !yield(&Response{Content: NewTextMessage(RoleAssistant, "fast"), Partial: true}, nil) {
			return
		}
		time.Sleep(50 * time.Millisecond)
		yield(&Response{Content: NewTextMessage(RoleAssistant, "slow"), Partial: false}, nil)
	}

	wrapped := WithFirstChunkTimeout(seq, 20*time.Millisecond)
	var got []string
	for resp, err := range wrapped {
		require.NoError(t, err)
		got = append(got, resp.TextContent())
	}
	assert.Equal(t, []string{"fast", "slow"}, got)
}

func TestMessageText(t *testing.T) {
	msg := &Message{Role: RoleAssistant, Parts: []Part{
		TextPart{Text: "one "},
		ToolUsePart{ID: "c1", Name: "t"},
		TextPart{Text: "two"},
	}}
	assert.Equal(t, "one two", msg.Text())
}

func TestResponseHelpers(t *testing.T) {
	var nilResp *Response
	assert.Empty(t, nilResp.TextContent())

	resp := &Response{ToolCalls: []ToolCall{{ID: "c1"}}}
	assert.True(t, resp.HasToolCalls())
	assert.Empty(t, resp.TextContent())
}
