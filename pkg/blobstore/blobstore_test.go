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

package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputKey(t *testing.T) {
	assert.Equal(t,
		"research-outputs/sess-1/versions/draft/report.md",
		OutputKey("sess-1", "versions", "draft", "report.md"))
	assert.Equal(t, "research-outputs/sess-1", OutputKey("sess-1"))
}

func TestFilesystem_PutGetDelete(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := OutputKey("sess-1", "charts", "gdp.png")
	require.NoError(t, store.Put(ctx, key, []byte("png-bytes"), "image/png"))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// Overwrite replaces.
	require.NoError(t, store.Put(ctx, key, []byte("v2"), "image/png"))
	data, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, key))
}

func TestFilesystem_List(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, OutputKey("sess-1", "b.md"), []byte("b"), "text/markdown"))
	require.NoError(t, store.Put(ctx, OutputKey("sess-1", "a.md"), []byte("a"), "text/markdown"))
	require.NoError(t, store.Put(ctx, OutputKey("sess-2", "c.md"), []byte("c"), "text/markdown"))

	keys, err := store.List(ctx, OutputKey("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"research-outputs/sess-1/a.md",
		"research-outputs/sess-1/b.md",
	}, keys)
}

func TestFilesystem_RejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../escape", "/abs/path", "."} {
		assert.Error(t, store.Put(ctx, key, []byte("x"), ""), key)
	}
}
