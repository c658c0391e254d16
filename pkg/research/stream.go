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

package research

// Record types streamed to the caller.
const (
	RecordStatus    = "status"
	RecordProgress  = "progress"
	RecordComplete  = "complete"
	RecordCancelled = "cancelled"
	RecordError     = "error"
)

// Record is one streamed JSON line.
type Record struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"sessionId"`
	Status       string         `json:"status,omitempty"`
	CurrentStage string         `json:"currentStage,omitempty"`
	Message      string         `json:"message,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	ElapsedTime  float64        `json:"elapsedTime,omitempty"`
	Result       *RunResult     `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// RunResult is the terminal success payload.
type RunResult struct {
	Topic              string              `json:"topic"`
	Dimensions         []string            `json:"dimensions"`
	AspectsByDim       map[string][]string `json:"aspectsByDim"`
	ResearchByAspect   map[string]int      `json:"researchByAspect"` // aspectKey → word count
	ReportFile         string              `json:"reportFile"`
	ReportPdfFile      string              `json:"reportPdfFile,omitempty"`
	DimensionDocuments map[string]string   `json:"dimensionDocuments"`
}
