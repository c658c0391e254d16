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

package convert

import (
	"archive/zip"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDocxBody(t *testing.T, path string) string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	t.Fatal("word/document.xml missing from docx")
	return ""
}

func TestMarkdownToDocx(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.docx")

	markdown := "# AI & Labor\n\nSteady growth since 2020.\n\n- **bold** point\n\n---\n\n![Figure 1](charts/trend.png)"
	require.NoError(t, MarkdownToDocx(markdown, out))

	body := readDocxBody(t, out)
	assert.Contains(t, body, "AI &amp; Labor")
	assert.Contains(t, body, "Steady growth since 2020.")
	assert.Contains(t, body, "• bold point")
	assert.Contains(t, body, "[Image: Figure 1]")
	assert.NotContains(t, body, bodyPlaceholder)
	assert.NotContains(t, body, "**")
}

func TestMarkdownToOOXML_Headings(t *testing.T) {
	out := markdownToOOXML("## Section\n\nplain text")
	assert.Contains(t, out, `<w:sz w:val="30"/>`)
	assert.Contains(t, out, ">Section</w:t>")
	assert.Contains(t, out, ">plain text</w:t>")
}

func TestImageCaption(t *testing.T) {
	assert.Equal(t, "[Image: Growth]", imageCaption("![Growth](charts/g.png)"))
	assert.Equal(t, "![broken", imageCaption("![broken"))
}
