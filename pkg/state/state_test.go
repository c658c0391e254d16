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

package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAspectKey(t *testing.T) {
	assert.Equal(t, "Economics::Inflation", AspectKey("Economics", "Inflation"))
}

func TestAspectUnmarshal_StringKeyQuestions(t *testing.T) {
	var a Aspect
	require.NoError(t, json.Unmarshal([]byte(
		`{"name": "Inflation", "key_questions": "What drives it?\nWho is affected?"}`), &a))
	assert.Equal(t, []string{"What drives it?", "Who is affected?"}, a.KeyQuestions)

	var b Aspect
	require.NoError(t, json.Unmarshal([]byte(
		`{"name": "Trade", "key_questions": "tariffs, supply chains"}`), &b))
	assert.Equal(t, []string{"tariffs", "supply chains"}, b.KeyQuestions)
}

func TestAspectUnmarshal_MalformedEntriesDecodeToZero(t *testing.T) {
	var aspects []Aspect
	require.NoError(t, json.Unmarshal([]byte(
		`[{"name": "Inflation", "completed": true}, "just a string", 42]`), &aspects))
	require.Len(t, aspects, 3)
	assert.Equal(t, "Inflation", aspects[0].Name)
	assert.True(t, aspects[0].Completed)
	assert.Empty(t, aspects[1].Name)
	assert.Empty(t, aspects[2].Name)
}

func TestMerge_ScalarLastWriterWins(t *testing.T) {
	w := &Workflow{Topic: "old", SessionID: "s1"}

	merged, err := w.Merge(&Update{Topic: "new"})
	require.NoError(t, err)

	assert.Equal(t, "new", merged.Topic)
	assert.Equal(t, "s1", merged.SessionID)
	// The original record is untouched.
	assert.Equal(t, "old", w.Topic)
}

func TestMerge_NilUpdate(t *testing.T) {
	w := &Workflow{Topic: "t"}
	merged, err := w.Merge(nil)
	require.NoError(t, err)
	assert.Same(t, w, merged)
}

func TestMerge_DisjointResultUnion(t *testing.T) {
	w := &Workflow{}

	merged, err := w.Merge(&Update{
		ResearchByAspect: map[string]ResearchResult{
			"a::x": {AspectKey: "a::x", WordCount: 10},
		},
	})
	require.NoError(t, err)

	merged, err = merged.Merge(&Update{
		ResearchByAspect: map[string]ResearchResult{
			"a::y": {AspectKey: "a::y", WordCount: 20},
		},
	})
	require.NoError(t, err)

	assert.Len(t, merged.ResearchByAspect, 2)
	assert.Equal(t, 10, merged.ResearchByAspect["a::x"].WordCount)
	assert.Equal(t, 20, merged.ResearchByAspect["a::y"].WordCount)
}

func TestMerge_DuplicateKeyFails(t *testing.T) {
	w := &Workflow{
		ResearchByAspect: map[string]ResearchResult{
			"a::x": {AspectKey: "a::x"},
		},
	}

	_, err := w.Merge(&Update{
		ResearchByAspect: map[string]ResearchResult{
			"a::x": {AspectKey: "a::x"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestMerge_DuplicateDimensionDocFails(t *testing.T) {
	w := &Workflow{DimensionDocs: map[string]string{"econ": "/tmp/econ.md"}}

	u := &Update{}
	u.SetDimensionDoc("econ", "/tmp/econ2.md")

	_, err := w.Merge(u)
	require.Error(t, err)
}

func TestSetDimensionDoc_EmptyPathRecordsFailure(t *testing.T) {
	u := &Update{}
	u.SetDimensionDoc("econ", "")

	w := &Workflow{}
	merged, err := w.Merge(u)
	require.NoError(t, err)

	path, ok := merged.DimensionDocs["econ"]
	assert.True(t, ok)
	assert.Empty(t, path)
}

func TestClone_MapsDoNotAlias(t *testing.T) {
	w := &Workflow{
		Dimensions:    []string{"a"},
		DimensionDocs: map[string]string{"a": "one"},
	}

	clone := w.Clone()
	clone.DimensionDocs["b"] = "two"

	assert.Len(t, w.DimensionDocs, 1)
	assert.Len(t, clone.DimensionDocs, 2)
}

func TestMerge_ConcurrentChildrenSeparateUpdates(t *testing.T) {
	// Simulates the engine folding three mapper children.
	w := &Workflow{}
	updates := []*Update{
		{OriginalAspectsByDim: map[string][]Aspect{"d1": {{Name: "a1"}}}},
		{OriginalAspectsByDim: map[string][]Aspect{"d2": {{Name: "a2"}}}},
		{OriginalAspectsByDim: map[string][]Aspect{"d3": {{Name: "a3"}}}},
	}

	current := w
	for _, u := range updates {
		next, err := current.Merge(u)
		require.NoError(t, err)
		current = next
	}

	assert.Len(t, current.OriginalAspectsByDim, 3)
}
