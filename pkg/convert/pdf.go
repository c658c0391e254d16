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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// DefaultConvertTimeout bounds one soffice invocation.
const DefaultConvertTimeout = 3 * time.Minute

// DocxToPdf converts a .docx into a .pdf in the same directory using a
// headless LibreOffice and returns the pdf path.
func DocxToPdf(ctx context.Context, docxPath string) (string, error) {
	outDir := filepath.Dir(docxPath)

	ctx, cancel := context.WithTimeout(ctx, DefaultConvertTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "soffice", "--headless", "--convert-to", "pdf", "--outdir", outDir, docxPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("pdf conversion timed out after %v", DefaultConvertTimeout)
		}
		return "", fmt.Errorf("pdf conversion failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	pdfPath := strings.TrimSuffix(docxPath, filepath.Ext(docxPath)) + ".pdf"
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("pdf conversion produced no output at %s: %w", pdfPath, err)
	}
	return pdfPath, nil
}

// ExtractPdfText pulls plain text out of a PDF. Reference preparation uses
// it when a document exceeds the model's payload ceiling.
func ExtractPdfText(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat PDF: %w", err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractPdfTextFromBytes extracts text from in-memory PDF bytes.
func ExtractPdfTextFromBytes(ctx context.Context, data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "deepresearch-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp PDF: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp PDF: %w", err)
	}
	tmp.Close()

	return ExtractPdfText(ctx, tmp.Name())
}
