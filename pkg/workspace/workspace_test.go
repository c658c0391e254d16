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

package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesLayout(t *testing.T) {
	root := t.TempDir()
	w, err := New(filepath.Join(root, "ws"))
	require.NoError(t, err)

	for _, dir := range []string{w.ArxivDir(), w.DimensionsDir(), w.FinalDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestChartsDirAndCleanup(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := w.ChartsDir("sess-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0o644))

	require.NoError(t, w.CleanupSession("sess-1"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Empty session ID is a no-op, not a recursive delete.
	require.NoError(t, w.CleanupSession(""))
	_, err = os.Stat(w.DimensionsDir())
	assert.NoError(t, err)
}

func TestDimensionFile_UniquePerCall(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	a := w.DimensionFile("Economic Impact")
	b := w.DimensionFile("Economic Impact")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(filepath.Base(a), "economic_impact_"))
	assert.True(t, strings.HasSuffix(a, ".md"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "economic_social_impact", Slug("Economic & Social Impact!"))
	assert.Equal(t, "ai_2030", Slug("  AI 2030  "))
	assert.Equal(t, "", Slug("!!!"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Annual Report (2024) v2", SanitizeFilename("Annual_Report_(2024)/v2"))
	assert.Equal(t, "a b", SanitizeFilename("a \t\n b"))
	assert.Equal(t, "", SanitizeFilename("###"))
}
