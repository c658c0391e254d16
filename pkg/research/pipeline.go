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

import (
	"github.com/kadirpekel/deepresearch/pkg/graph"
	"github.com/kadirpekel/deepresearch/pkg/state"
)

// buildGraph assembles the research pipeline:
//
//	initialize_session → reference_preparation → topic_analysis
//	  → aspect_analysis ⇉ research_planning (barrier)
//	  → research_agent ⇉ research_join (barrier)
//	  → dimension_reduction ⇉ reduction_join (barrier)
//	  → report_writing → chart_generation → document_conversion → finalize
//
// ⇉ marks a fan-out whose children rejoin at the named barrier.
func (r *run) buildGraph() (*graph.Graph[*state.Workflow, *state.Update], error) {
	g := graph.New(func(w *state.Workflow, u *state.Update) (*state.Workflow, error) {
		return w.Merge(u)
	})

	g.AddNode(StageInitialize, r.initializeSession).
		AddNode(StageReferences, r.prepareReferences).
		AddNode(StageTopicAnalysis, r.topicAnalysis).
		AddMapper(StageAspectAnalysis, r.aspectSends, r.aspectWorker, StagePlanning).
		AddBarrier(StagePlanning, r.researchPlanning).
		AddMapper(StageResearch, r.researchSends, r.researchWorker, StageResearchJoin).
		AddBarrier(StageResearchJoin, r.researchJoin).
		AddMapper(StageReduction, r.reductionSends, r.reductionWorker, StageReductionJoin).
		AddBarrier(StageReductionJoin, r.reductionJoin).
		AddNode(StageReportWriting, r.reportWriting).
		AddNode(StageChartGeneration, r.chartGeneration).
		AddNode(StageDocumentConversion, r.documentConversion).
		AddNode(StageFinalize, r.finalize)

	g.SetStart(StageInitialize).
		AddEdge(StageInitialize, StageReferences).
		AddEdge(StageReferences, StageTopicAnalysis).
		AddEdge(StageTopicAnalysis, StageAspectAnalysis).
		AddEdge(StagePlanning, StageResearch).
		AddEdge(StageResearchJoin, StageReduction).
		AddEdge(StageReductionJoin, StageReportWriting).
		AddEdge(StageReportWriting, StageChartGeneration).
		AddEdge(StageChartGeneration, StageDocumentConversion).
		AddEdge(StageDocumentConversion, StageFinalize).
		AddEdge(StageFinalize, graph.End)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
