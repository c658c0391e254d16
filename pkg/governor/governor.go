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

// Package governor bounds per-stage parallelism with named semaphores.
//
// Stages with no registered limit run unbounded. Semaphores are created
// lazily; updating a limit installs a fresh semaphore while holders of the
// old one drain under the previous count.
package governor

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Default limits for the known heavy stages.
const (
	DefaultResearchLimit  = 3
	DefaultReductionLimit = 1
)

// Governor is a registry of named semaphores.
type Governor struct {
	mu     sync.Mutex
	limits map[string]int64
	sems   map[string]*semaphore.Weighted
}

// New creates a governor with the default stage limits.
func New() *Governor {
	return &Governor{
		limits: map[string]int64{
			"research":            DefaultResearchLimit,
			"dimension_reduction": DefaultReductionLimit,
		},
		sems: make(map[string]*semaphore.Weighted),
	}
}

// SetLimit registers or updates the limit for a stage. A limit of zero or
// less removes the bound. Existing holders continue under the old semaphore.
func (g *Governor) SetLimit(stage string, limit int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit <= 0 {
		delete(g.limits, stage)
		delete(g.sems, stage)
		return
	}
	g.limits[stage] = limit
	g.sems[stage] = semaphore.NewWeighted(limit)
}

// Limit reports the configured limit for a stage (0 means unbounded).
func (g *Governor) Limit(stage string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits[stage]
}

// Acquire blocks until a slot for the stage is available, returning a
// release function. Unregistered stages acquire immediately.
func (g *Governor) Acquire(ctx context.Context, stage string) (func(), error) {
	sem := g.semFor(stage)
	if sem == nil {
		return func() {}, nil
	}

	slog.Debug("semaphore acquire", "stage", stage)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	slog.Debug("semaphore acquired", "stage", stage)

	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			slog.Debug("semaphore released", "stage", stage)
		})
	}, nil
}

func (g *Governor) semFor(stage string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limits[stage]
	if !ok {
		return nil
	}
	sem, ok := g.sems[stage]
	if !ok {
		sem = semaphore.NewWeighted(limit)
		g.sems[stage] = sem
	}
	return sem
}
