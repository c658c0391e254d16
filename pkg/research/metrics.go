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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "sessions_started_total",
		Help:      "Research sessions started.",
	})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "sessions_finished_total",
		Help:      "Research sessions finished, by terminal status.",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deepresearch",
		Name:      "stage_duration_seconds",
		Help:      "Wall time per workflow stage.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	agentToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearch",
		Name:      "agent_tool_calls_total",
		Help:      "Tool calls issued by agent drivers, by tool name.",
	}, []string{"tool"})
)
