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

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrCancelled is the distinguished cancellation signal. Handlers raise it
// when the cancellation probe observes a cancelling status; the engine
// short-circuits the remaining graph without treating it as a failure.
var ErrCancelled = errors.New("workflow cancelled")

// ErrStepLimit is returned when the engine exceeds its step ceiling.
var ErrStepLimit = errors.New("graph step limit exceeded")

// DefaultMaxSteps is the outer-graph step ceiling.
const DefaultMaxSteps = 50

// Options configure an engine run.
type Options[S any] struct {
	// MaxSteps bounds the number of node executions (default 50).
	MaxSteps int

	// CheckCancel is probed before every node. Returning true raises
	// ErrCancelled.
	CheckCancel func(ctx context.Context, s S) (bool, error)

	// OnNodeStart and OnNodeComplete observe node lifecycle for progress
	// streaming. Both may be nil.
	OnNodeStart    func(name string, s S)
	OnNodeComplete func(name string, s S)
}

// Engine executes a validated graph.
type Engine[S, U any] struct {
	graph  *Graph[S, U]
	opts   Options[S]
	tracer trace.Tracer
}

// NewEngine creates an engine for the graph.
func NewEngine[S, U any](g *Graph[S, U], opts Options[S]) (*Engine[S, U], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	return &Engine[S, U]{
		graph:  g,
		opts:   opts,
		tracer: otel.Tracer("deepresearch/graph"),
	}, nil
}

// Run executes the graph from its start node and returns the final state.
func (e *Engine[S, U]) Run(ctx context.Context, initial S) (S, error) {
	current := initial
	nodeName := e.graph.start

	for step := 0; nodeName != "" && nodeName != End; step++ {
		if step >= e.opts.MaxSteps {
			return current, fmt.Errorf("%w after %d steps at node %q", ErrStepLimit, step, nodeName)
		}
		if err := ctx.Err(); err != nil {
			return current, err
		}
		if cancelled, err := e.probeCancel(ctx, current); err != nil {
			return current, err
		} else if cancelled {
			return current, ErrCancelled
		}

		n, ok := e.graph.nodes[nodeName]
		if !ok {
			return current, fmt.Errorf("unknown node %q", nodeName)
		}

		next, err := e.execute(ctx, n, &current)
		if err != nil {
			return current, err
		}
		nodeName = next
	}

	return current, nil
}

// execute runs a single node and returns the name of its successor.
func (e *Engine[S, U]) execute(ctx context.Context, n *node[S, U], current *S) (string, error) {
	ctx, span := e.tracer.Start(ctx, "node."+n.name,
		trace.WithAttributes(attribute.String("graph.node", n.name)))
	defer span.End()

	if e.opts.OnNodeStart != nil {
		e.opts.OnNodeStart(n.name, *current)
	}
	slog.Debug("graph node start", "node", n.name)

	if n.mapFn != nil {
		if err := e.executeMapper(ctx, n, current); err != nil {
			return "", err
		}
		if e.opts.OnNodeComplete != nil {
			e.opts.OnNodeComplete(n.name, *current)
		}
		// All sends delivered; the barrier is now eligible.
		return n.barrier, nil
	}

	update, err := n.run(ctx, *current)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", n.name, err)
	}

	merged, err := e.graph.merge(*current, update)
	if err != nil {
		return "", fmt.Errorf("node %s: merge: %w", n.name, err)
	}
	*current = merged

	if e.opts.OnNodeComplete != nil {
		e.opts.OnNodeComplete(n.name, *current)
	}
	slog.Debug("graph node complete", "node", n.name)

	if n.router != nil {
		return n.router(*current), nil
	}
	if n.next != "" {
		return n.next, nil
	}
	return End, nil
}

// executeMapper fans the sends out as goroutines and folds every child's
// update into the state. Child updates write disjoint keys, so the merge
// order is immaterial; the fold itself is serialized here.
func (e *Engine[S, U]) executeMapper(ctx context.Context, n *node[S, U], current *S) error {
	sends, err := n.mapFn(ctx, *current)
	if err != nil {
		return fmt.Errorf("mapper %s: %w", n.name, err)
	}
	if len(sends) == 0 {
		return nil
	}

	type outcome struct {
		update U
		err    error
	}

	results := make(chan outcome, len(sends))
	var wg sync.WaitGroup
	snapshot := *current

	for _, send := range sends {
		wg.Add(1)
		go func(s Send) {
			defer wg.Done()
			update, err := n.sendFn(ctx, snapshot, s.Payload)
			results <- outcome{update: update, err: err}
		}(send)
	}

	wg.Wait()
	close(results)

	var cancelled bool
	for out := range results {
		if out.err != nil {
			if !errors.Is(out.err, ErrCancelled) {
				return fmt.Errorf("mapper %s: %w", n.name, out.err)
			}
			// Cancelled children still deliver their placeholder updates.
			cancelled = true
		}
		merged, err := e.graph.merge(*current, out.update)
		if err != nil {
			return fmt.Errorf("mapper %s: merge: %w", n.name, err)
		}
		*current = merged
	}

	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (e *Engine[S, U]) probeCancel(ctx context.Context, s S) (bool, error) {
	if e.opts.CheckCancel == nil {
		return false, nil
	}
	return e.opts.CheckCancel(ctx, s)
}
