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

// Package convert adapts the report between formats: markdown to .docx and
// .docx to .pdf. No LLM involvement.
package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

const bodyPlaceholder = "DEEPRESEARCH_BODY"

// MarkdownToDocx renders markdown into a Word document at outPath.
func MarkdownToDocx(markdown, outPath string) error {
	template, err := minimalTemplate()
	if err != nil {
		return fmt.Errorf("failed to build docx template: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(template), int64(len(template)))
	if err != nil {
		return fmt.Errorf("failed to open docx template: %w", err)
	}
	defer r.Close()

	d := r.Editable()
	d.ReplaceRaw(placeholderParagraph(), markdownToOOXML(markdown), 1)
	if err := d.WriteToFile(outPath); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}

// placeholderParagraph is the body marker inside the template.
func placeholderParagraph() string {
	return fmt.Sprintf(`<w:p><w:r><w:t>%s</w:t></w:r></w:p>`, bodyPlaceholder)
}

// markdownToOOXML converts markdown into WordprocessingML paragraphs.
// Coverage is intentionally narrow: headings, bullet items, horizontal
// rules, image references (kept as captions), and plain paragraphs.
func markdownToOOXML(markdown string) string {
	var b strings.Builder

	for _, block := range strings.Split(markdown, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "---":
				b.WriteString(`<w:p><w:pPr><w:pBdr><w:bottom w:val="single" w:sz="6" w:space="1" w:color="auto"/></w:pBdr></w:pPr></w:p>`)
			case strings.HasPrefix(line, "#"):
				level := 0
				for level < len(line) && line[level] == '#' {
					level++
				}
				text := strings.TrimSpace(line[level:])
				b.WriteString(headingParagraph(text, level))
			case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
				b.WriteString(bulletParagraph(strings.TrimSpace(line[2:])))
			case strings.HasPrefix(line, "!["):
				// Image markup renders as its caption; the pdf conversion
				// step picks up the real image from disk.
				b.WriteString(textParagraph(imageCaption(line)))
			default:
				b.WriteString(textParagraph(line))
			}
		}
	}
	return b.String()
}

func headingParagraph(text string, level int) string {
	sizes := map[int]int{1: 36, 2: 30, 3: 26}
	size, ok := sizes[level]
	if !ok {
		size = 24
	}
	return fmt.Sprintf(
		`<w:p><w:pPr><w:spacing w:before="240" w:after="120"/></w:pPr><w:r><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		size, escapeXML(text))
}

func bulletParagraph(text string) string {
	return fmt.Sprintf(
		`<w:p><w:pPr><w:ind w:left="360"/></w:pPr><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		escapeXML("• "+stripInlineMarkdown(text)))
}

func textParagraph(text string) string {
	return fmt.Sprintf(
		`<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
		escapeXML(stripInlineMarkdown(text)))
}

// imageCaption pulls the alt text out of ![alt](path).
func imageCaption(line string) string {
	start := strings.Index(line, "[")
	end := strings.Index(line, "]")
	if start < 0 || end <= start {
		return line
	}
	return "[Image: " + line[start+1:end] + "]"
}

// stripInlineMarkdown drops emphasis markers; the docx body keeps plain
// runs.
func stripInlineMarkdown(text string) string {
	replacer := strings.NewReplacer("**", "", "__", "", "`", "")
	return replacer.Replace(text)
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// minimalTemplate builds an empty-but-valid docx whose body carries the
// placeholder paragraph.
func minimalTemplate() ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
</Relationships>`,
		"word/document.xml": fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>%s<w:sectPr/></w:body>
</w:document>`, placeholderParagraph()),
	}

	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write([]byte(content)); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
