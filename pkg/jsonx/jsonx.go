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

// Package jsonx recovers JSON objects from LLM responses.
//
// Models asked for JSON-only output still wrap it in markdown fences,
// surround it with prose, or emit trailing commas. Recover applies a
// widening sequence of repairs before giving up:
//
//  1. strip ```json / ``` fences
//  2. locate the widest { ... } span
//  3. strict parse
//  4. normalize trailing commas and missing inter-field commas, retry
//  5. extract the largest valid JSON object substring
package jsonx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const diagnosticLimit = 500

// ParseError reports a recovery failure with a bounded sample of the input.
type ParseError struct {
	Reason string
	Sample string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("json recovery failed: %s (input: %s)", e.Reason, e.Sample)
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	// A closing quote or brace directly followed by an opening quote on the
	// next field means the model dropped the comma.
	missingCommaRe = regexp.MustCompile(`([}\]"])\s*\n\s*"`)
)

// Recover extracts a single top-level JSON object from text and unmarshals
// it into out. See the package comment for the repair sequence.
func Recover(text string, out any) error {
	candidate := stripFences(text)

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return newParseError("no JSON object found", text)
	}
	candidate = candidate[start : end+1]

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	normalized := normalize(candidate)
	if err := json.Unmarshal([]byte(normalized), out); err == nil {
		return nil
	}

	if sub := largestValidObject(candidate); sub != "" {
		if err := json.Unmarshal([]byte(sub), out); err == nil {
			return nil
		}
	}

	return newParseError("unrecoverable JSON", text)
}

// RecoverMap is Recover into a generic map.
func RecoverMap(text string) (map[string]any, error) {
	var m map[string]any
	if err := Recover(text, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RequireKeys validates that the map carries every expected top-level key.
func RequireKeys(m map[string]any, keys ...string) error {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return fmt.Errorf("missing required key %q", k)
		}
	}
	return nil
}

func stripFences(text string) string {
	if match := fenceRe.FindStringSubmatch(text); len(match) == 2 {
		return match[1]
	}
	return text
}

func normalize(candidate string) string {
	normalized := trailingCommaRe.ReplaceAllString(candidate, "$1")
	normalized = missingCommaRe.ReplaceAllString(normalized, "$1,\n\"")
	return normalized
}

// largestValidObject scans brace-balanced spans from the first opening brace
// and returns the longest one that parses.
func largestValidObject(candidate string) string {
	var best string
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, r := range candidate {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					span := candidate[start : i+1]
					if len(span) > len(best) && json.Valid([]byte(span)) {
						best = span
					}
				}
			}
		}
	}
	return best
}

func newParseError(reason, text string) *ParseError {
	sample := text
	if len(sample) > diagnosticLimit {
		sample = sample[:diagnosticLimit]
	}
	return &ParseError{Reason: reason, Sample: sample}
}
