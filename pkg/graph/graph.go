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

// Package graph executes a typed dataflow graph of workflow stages.
//
// Nodes are either unary handlers or mappers. A mapper emits a dynamic set
// of sends whose results rejoin at a deferred barrier node before the
// successor runs. The engine owns all state merges: handlers return partial
// updates that are folded into the state through the merge function, so
// parallel children never write shared state directly.
//
// S is the state type, U the partial-update type.
package graph

import (
	"context"
	"fmt"
)

// Send dispatches one child task of a mapper with its own payload.
type Send struct {
	// Node names the child handler that receives the payload.
	Node string

	// Payload is the per-child argument.
	Payload any
}

// Handler runs a unary node and returns a partial state update.
type Handler[S, U any] func(ctx context.Context, s S) (U, error)

// SendHandler runs one mapper child for a payload.
type SendHandler[S, U any] func(ctx context.Context, s S, payload any) (U, error)

// MapFunc expands a mapper node into its dynamic set of sends.
type MapFunc[S any] func(ctx context.Context, s S) ([]Send, error)

// Router picks the next node name at a conditional edge.
type Router[S any] func(s S) string

// MergeFunc folds a partial update into the state.
type MergeFunc[S, U any] func(s S, u U) (S, error)

// End is the reserved successor name that terminates execution.
const End = "__end__"

type node[S, U any] struct {
	name string

	run     Handler[S, U]
	mapFn   MapFunc[S]
	sendFn  SendHandler[S, U]
	barrier string // mapper: barrier node entered when all sends complete

	deferred bool

	next   string
	router Router[S]
}

// Graph is a static topology of nodes and edges.
type Graph[S, U any] struct {
	nodes map[string]*node[S, U]
	start string
	merge MergeFunc[S, U]
}

// New creates an empty graph with the given merge function.
func New[S, U any](merge MergeFunc[S, U]) *Graph[S, U] {
	return &Graph[S, U]{
		nodes: make(map[string]*node[S, U]),
		merge: merge,
	}
}

// AddNode registers a unary node.
func (g *Graph[S, U]) AddNode(name string, run Handler[S, U]) *Graph[S, U] {
	g.nodes[name] = &node[S, U]{name: name, run: run}
	return g
}

// AddBarrier registers a deferred node: it refuses to run until every
// incoming send has completed. The engine enters it only through a mapper's
// rejoin, so the flag is enforced structurally and checked at validation.
func (g *Graph[S, U]) AddBarrier(name string, run Handler[S, U]) *Graph[S, U] {
	g.nodes[name] = &node[S, U]{name: name, run: run, deferred: true}
	return g
}

// AddMapper registers a fan-out node. mapFn produces the sends, sendFn runs
// each child, and barrier names the deferred node entered when all children
// have delivered.
func (g *Graph[S, U]) AddMapper(name string, mapFn MapFunc[S], sendFn SendHandler[S, U], barrier string) *Graph[S, U] {
	g.nodes[name] = &node[S, U]{name: name, mapFn: mapFn, sendFn: sendFn, barrier: barrier}
	return g
}

// SetStart marks the entry node.
func (g *Graph[S, U]) SetStart(name string) *Graph[S, U] {
	g.start = name
	return g
}

// AddEdge wires an unconditional transition.
func (g *Graph[S, U]) AddEdge(from, to string) *Graph[S, U] {
	if n, ok := g.nodes[from]; ok {
		n.next = to
	}
	return g
}

// AddConditionalEdge wires a router at the node's out-edge. The router
// returns the target node name (or End).
func (g *Graph[S, U]) AddConditionalEdge(from string, router Router[S]) *Graph[S, U] {
	if n, ok := g.nodes[from]; ok {
		n.router = router
	}
	return g
}

// Validate checks the topology: the start node exists, every edge target
// resolves, mappers point at deferred barriers, and barriers are only
// reachable through a mapper.
func (g *Graph[S, U]) Validate() error {
	if g.start == "" {
		return fmt.Errorf("graph has no start node")
	}
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("start node %q is not registered", g.start)
	}

	barrierTargets := make(map[string]bool)
	for name, n := range g.nodes {
		if n.next != "" && n.next != End {
			if _, ok := g.nodes[n.next]; !ok {
				return fmt.Errorf("node %q: edge target %q is not registered", name, n.next)
			}
		}
		if n.mapFn != nil {
			if n.barrier == "" {
				return fmt.Errorf("mapper %q has no barrier", name)
			}
			b, ok := g.nodes[n.barrier]
			if !ok {
				return fmt.Errorf("mapper %q: barrier %q is not registered", name, n.barrier)
			}
			if !b.deferred {
				return fmt.Errorf("mapper %q: barrier %q is not deferred", name, n.barrier)
			}
			barrierTargets[n.barrier] = true
		}
	}

	for name, n := range g.nodes {
		if n.deferred && !barrierTargets[name] {
			return fmt.Errorf("deferred node %q is not the barrier of any mapper", name)
		}
		if n.next != "" && g.nodes[n.next] != nil && g.nodes[n.next].deferred {
			if !g.isMapper(name) {
				return fmt.Errorf("node %q: only a mapper may enter deferred node %q", name, n.next)
			}
		}
	}

	return nil
}

func (g *Graph[S, U]) isMapper(name string) bool {
	n, ok := g.nodes[name]
	return ok && n.mapFn != nil
}
