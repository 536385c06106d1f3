// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides a small directed graph type together with
// depth-first search and topological ordering. It is used both to
// order phases relative to each other and to order the nodes inside
// a single phase.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
)

// ErrCycle is returned by TopologicalOrder and DFS when the graph
// contains a directed cycle.
var ErrCycle = errors.E(errors.Invalid, "graph: cycle detected")

// Graph is a directed graph over nodes of type T. The node set
// comprises the nodes added explicitly with AddNode and the
// endpoints of every edge. Nodes are kept in insertion order, which
// makes every traversal deterministic.
type Graph[T comparable] struct {
	nodes []T
	index map[T]int
	edges [][]int
}

// New returns a new, empty graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{index: make(map[T]int)}
}

// AddNode adds v to the graph. Adding a node twice is a no-op.
func (g *Graph[T]) AddNode(v T) {
	g.add(v)
}

func (g *Graph[T]) add(v T) int {
	if i, ok := g.index[v]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[v] = i
	g.nodes = append(g.nodes, v)
	g.edges = append(g.edges, nil)
	return i
}

// AddEdge adds the directed edge u->v, adding the endpoints as
// needed. Parallel edges are collapsed.
func (g *Graph[T]) AddEdge(u, v T) {
	i, j := g.add(u), g.add(v)
	for _, k := range g.edges[i] {
		if k == j {
			return
		}
	}
	g.edges[i] = append(g.edges[i], j)
}

// HasEdge tells whether the graph contains the edge u->v.
func (g *Graph[T]) HasEdge(u, v T) bool {
	i, ok := g.index[u]
	if !ok {
		return false
	}
	j, ok := g.index[v]
	if !ok {
		return false
	}
	for _, k := range g.edges[i] {
		if k == j {
			return true
		}
	}
	return false
}

// Has tells whether v is a node of the graph.
func (g *Graph[T]) Has(v T) bool {
	_, ok := g.index[v]
	return ok
}

// Len returns the number of nodes in the graph.
func (g *Graph[T]) Len() int { return len(g.nodes) }

// Nodes returns the graph's nodes in insertion order.
func (g *Graph[T]) Nodes() []T {
	nodes := make([]T, len(g.nodes))
	copy(nodes, g.nodes)
	return nodes
}

// Successors returns the targets of v's outgoing edges, in the order
// the edges were added.
func (g *Graph[T]) Successors(v T) []T {
	i, ok := g.index[v]
	if !ok {
		return nil
	}
	succ := make([]T, len(g.edges[i]))
	for k, j := range g.edges[i] {
		succ[k] = g.nodes[j]
	}
	return succ
}

// InDegree returns the number of edges ending in v.
func (g *Graph[T]) InDegree(v T) int {
	j, ok := g.index[v]
	if !ok {
		return 0
	}
	var n int
	for _, edges := range g.edges {
		for _, k := range edges {
			if k == j {
				n++
			}
		}
	}
	return n
}

// Times holds the discover and finish timestamps assigned to a node
// by a depth-first search.
type Times struct {
	Discover, Finish int
}

// DFS performs a depth-first search over the whole graph, starting a
// new tree at every node that has not yet been visited. Roots are
// taken in reverse insertion order and so are each node's
// successors; with this order, nodes that are not constrained by any
// edge appear in insertion order in the topological order derived
// from the finish times. DFS returns ErrCycle if it encounters a back
// edge.
func (g *Graph[T]) DFS() (map[T]Times, error) {
	times, cycle := g.dfs()
	if cycle != nil {
		return nil, ErrCycle
	}
	result := make(map[T]Times, len(g.nodes))
	for i, v := range g.nodes {
		result[v] = times[i]
	}
	return result, nil
}

// TopologicalOrder returns the graph's nodes sorted by decreasing DFS
// finish time: for every edge u->v, u precedes v. It returns ErrCycle
// if the graph is not acyclic.
func (g *Graph[T]) TopologicalOrder() ([]T, error) {
	times, cycle := g.dfs()
	if cycle != nil {
		return nil, ErrCycle
	}
	order := make([]int, len(g.nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return times[order[i]].Finish > times[order[j]].Finish
	})
	result := make([]T, len(order))
	for i, k := range order {
		result[i] = g.nodes[k]
	}
	return result, nil
}

// Cycle returns the nodes of some directed cycle in the graph, in
// edge order, or nil if the graph is acyclic.
func (g *Graph[T]) Cycle() []T {
	_, cycle := g.dfs()
	if cycle == nil {
		return nil
	}
	nodes := make([]T, len(cycle))
	for i, k := range cycle {
		nodes[i] = g.nodes[k]
	}
	return nodes
}

// String returns a schematic adjacency listing of the graph.
func (g *Graph[T]) String() string {
	var b strings.Builder
	for i, v := range g.nodes {
		fmt.Fprintf(&b, "%v:", v)
		for _, j := range g.edges[i] {
			fmt.Fprintf(&b, " %v", g.nodes[j])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const (
	white = iota
	gray
	black
)

// dfs is an iterative depth-first search. It returns the timestamps
// of every node, indexed like g.nodes, or, if a back edge is found,
// the cycle closed by that edge.
func (g *Graph[T]) dfs() ([]Times, []int) {
	var (
		n     = len(g.nodes)
		times = make([]Times, n)
		color = make([]int, n)
		time  = 1
	)
	type frame struct {
		node, next int
	}
	var stack []frame
	for root := n - 1; root >= 0; root-- {
		if color[root] != white {
			continue
		}
		color[root] = gray
		times[root].Discover = time
		time++
		stack = append(stack[:0], frame{root, len(g.edges[root]) - 1})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < 0 {
				color[top.node] = black
				times[top.node].Finish = time
				time++
				stack = stack[:len(stack)-1]
				continue
			}
			v := g.edges[top.node][top.next]
			top.next--
			switch color[v] {
			case white:
				color[v] = gray
				times[v].Discover = time
				time++
				stack = append(stack, frame{v, len(g.edges[v]) - 1})
			case gray:
				var cycle []int
				for k := len(stack) - 1; k >= 0; k-- {
					cycle = append(cycle, stack[k].node)
					if stack[k].node == v {
						break
					}
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return nil, cycle
			}
		}
	}
	return times, nil
}
