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

package driver

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for compaction placeholders.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates four characters per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return len(text) / 4
}

// TiktokenCounter counts with a real BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a cl100k_base counter, falling back to the
// character heuristic if the encoding cannot be loaded.
func NewTiktokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Failed to load tiktoken encoding, using heuristic", "error", err)
		return HeuristicCounter{}
	}
	return &TiktokenCounter{encoding: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
