// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/bigpipe/disjoint"
	"github.com/grailbio/bigpipe/graph"
	"github.com/grailbio/bigpipe/nodemap"
	"github.com/spaolacci/murmur3"
)

// A Phase is a set of nodes that run together: items flow between
// them by push or pull calls, so they begin, process, and end in
// lock-step.
type Phase struct {
	index      int
	nodes      []Node
	flow       *graph.Graph[nodemap.ID]
	actors     *graph.Graph[nodemap.ID]
	flowOrder  []Node
	actorOrder []Node
	initiators []Node
}

// Index returns the position of the phase in its plan's execution
// order.
func (p *Phase) Index() int { return p.index }

// Nodes returns the phase's nodes in ascending ID order.
func (p *Phase) Nodes() []Node { return p.nodes }

// FlowOrder returns the phase's nodes in item-flow order: producers
// before the consumers of their items.
func (p *Phase) FlowOrder() []Node { return p.flowOrder }

// ActorOrder returns the phase's nodes in actor order: callers
// before the nodes they push to or pull from.
func (p *Phase) ActorOrder() []Node { return p.actorOrder }

// Initiators returns the nodes that drive the phase.
func (p *Phase) Initiators() []Node { return p.initiators }

// Contains tells whether the node with the given ID belongs to the
// phase.
func (p *Phase) Contains(id nodemap.ID) bool { return p.flow.Has(id) }

// Name returns the name of the member with the highest name
// priority. Ties go to the member with the smallest ID.
func (p *Phase) Name() string {
	var best *Base
	for _, n := range p.nodes {
		if b := n.base(); best == nil || b.namePriority > best.namePriority {
			best = b
		}
	}
	if best == nil {
		return ""
	}
	return best.name
}

// UID returns a hash of the names of the phase's members, which
// identifies the phase across runs of the same program.
func (p *Phase) UID() uint64 {
	names := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		names[i] = n.Name()
	}
	return murmur3.Sum64([]byte(strings.Join(names, "\x00")))
}

// Steps returns the total number of steps declared by the phase's
// nodes.
func (p *Phase) Steps() uint64 {
	var steps uint64
	for _, n := range p.nodes {
		steps += n.base().steps
	}
	return steps
}

// String returns the phase's index and name.
func (p *Phase) String() string {
	return fmt.Sprintf("phase %d (%s)", p.index, p.Name())
}

// A Plan is a compiled pipeline: its phases in execution order.
type Plan struct {
	// Phases holds the pipeline's phases in the order they run.
	Phases []*Phase
	// EvacuatePrevious[i] tells whether the nodes of phase i-1 should
	// evacuate their data before phase i runs, which is the case when
	// phase i does not directly depend on phase i-1.
	EvacuatePrevious []bool

	phaseOf map[nodemap.ID]int
}

// PhaseOf returns the phase that the node with the given ID belongs
// to.
func (p *Plan) PhaseOf(id nodemap.ID) (*Phase, bool) {
	i, ok := p.phaseOf[id]
	if !ok {
		return nil, false
	}
	return p.Phases[i], true
}

// Compile partitions the nodes of the registry m into phases and
// orders them. Compile fails if m is not authoritative, is empty,
// relates nodes it does not hold, has a cyclic phase graph, or has a
// phase that cannot be driven.
func Compile(m *nodemap.Map[Node]) (*Plan, error) {
	if err := m.AssertAuthoritative(); err != nil {
		return nil, newError(DisconnectedRegistry, "", "%v", err)
	}
	if m.Len() == 0 {
		return nil, newError(EmptyPipeline, "", "no nodes in pipeline")
	}
	for _, r := range m.Relations() {
		if !m.Contains(r.From) || !m.Contains(r.To) {
			return nil, newError(DisconnectedRegistry, "", "relation %v touches a node outside the registry", r)
		}
	}
	ids := m.IDs()
	nodes := make(map[nodemap.ID]Node, len(ids))
	for _, id := range ids {
		n, ok := m.Get(id)
		if !ok {
			return nil, newError(Other, "", "token %d was never bound to a node", id)
		}
		nodes[id] = n
	}
	numbers, nphase := partition(m)

	// Phase graph: dependee phases before their dependers.
	pg := graph.New[int]()
	for i := 0; i < nphase; i++ {
		pg.AddNode(i)
	}
	for _, r := range m.Relations() {
		if !r.Kind.IsDependency() {
			continue
		}
		dependee, depender := r.Flow()
		pg.AddEdge(numbers[dependee], numbers[depender])
	}
	order, err := pg.TopologicalOrder()
	if err != nil {
		var names []string
		for _, number := range pg.Cycle() {
			names = append(names, phaseName(nodes, numbers, number))
		}
		return nil, newError(CyclicPhaseGraph, "", "phases %s depend on each other", strings.Join(names, " -> "))
	}

	plan := &Plan{
		Phases:           make([]*Phase, nphase),
		EvacuatePrevious: make([]bool, nphase),
		phaseOf:          make(map[nodemap.ID]int, len(ids)),
	}
	position := make([]int, nphase)
	for i, number := range order {
		position[number] = i
		plan.Phases[i] = &Phase{
			index:  i,
			flow:   graph.New[nodemap.ID](),
			actors: graph.New[nodemap.ID](),
		}
		plan.EvacuatePrevious[i] = i > 0 && !pg.HasEdge(order[i-1], number)
	}
	for _, id := range ids {
		i := position[numbers[id]]
		p := plan.Phases[i]
		p.nodes = append(p.nodes, nodes[id])
		p.flow.AddNode(id)
		p.actors.AddNode(id)
		plan.phaseOf[id] = i
	}
	for _, r := range m.Relations() {
		if r.Kind.IsDependency() {
			continue
		}
		p := plan.Phases[plan.phaseOf[r.From]]
		producer, consumer := r.Flow()
		p.flow.AddEdge(producer, consumer)
		p.actors.AddEdge(r.From, r.To)
	}
	for _, p := range plan.Phases {
		if err := p.compile(m, nodes); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// compile computes the phase's initiators and its node orders.
func (p *Phase) compile(m *nodemap.Map[Node], nodes map[nodemap.ID]Node) error {
	for _, n := range p.nodes {
		if m.InDegree(n.ID(), nodemap.Pushes) > 0 || m.InDegree(n.ID(), nodemap.Pulls) > 0 {
			continue
		}
		if _, ok := n.(Initiator); !ok {
			return newError(NotInitiatorNode, n.Name(), "node %s is not pushed to or pulled from but does not implement Go", n.base())
		}
		p.initiators = append(p.initiators, n)
	}
	if len(p.initiators) == 0 {
		return newError(NoInitiatorNode, p.Name(), "every node of %s is pushed to or pulled from", p)
	}
	flow, err := p.flow.TopologicalOrder()
	if err != nil {
		return newError(CyclicItemFlow, p.Name(), "items flow in a cycle through %s", idNames(nodes, p.flow.Cycle()))
	}
	actors, err := p.actors.TopologicalOrder()
	if err != nil {
		return newError(CyclicItemFlow, p.Name(), "nodes call each other in a cycle through %s", idNames(nodes, p.actors.Cycle()))
	}
	p.flowOrder = lookup(nodes, flow)
	p.actorOrder = lookup(nodes, actors)
	return nil
}

// partition assigns a phase number to each node of m: nodes joined
// by push or pull relations share a phase. Phase numbers are
// assigned in order of first appearance in ascending ID order.
func partition(m *nodemap.Map[Node]) (map[nodemap.ID]int, int) {
	ids := m.IDs()
	index := make(map[nodemap.ID]int, len(ids))
	sets := disjoint.New(len(ids))
	for i, id := range ids {
		index[id] = i
		sets.MakeSet(i)
	}
	for _, r := range m.Relations() {
		if r.Kind.IsDependency() {
			continue
		}
		sets.Union(index[r.From], index[r.To])
	}
	var (
		numbers = make(map[nodemap.ID]int, len(ids))
		byRep   = make(map[int]int)
	)
	for i, id := range ids {
		rep := sets.Find(i)
		number, ok := byRep[rep]
		if !ok {
			number = len(byRep)
			byRep[rep] = number
		}
		numbers[id] = number
	}
	return numbers, len(byRep)
}

func lookup(nodes map[nodemap.ID]Node, ids []nodemap.ID) []Node {
	result := make([]Node, len(ids))
	for i, id := range ids {
		result[i] = nodes[id]
	}
	return result
}

func idNames(nodes map[nodemap.ID]Node, ids []nodemap.ID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = nodes[id].base().String()
	}
	return strings.Join(names, " -> ")
}

// phaseName returns the name of the phase with the provided number,
// before phases are ordered.
func phaseName(nodes map[nodemap.ID]Node, numbers map[nodemap.ID]int, number int) string {
	p := new(Phase)
	for id, n := range numbers {
		if n == number {
			p.nodes = append(p.nodes, nodes[id])
		}
	}
	sort.Slice(p.nodes, func(i, j int) bool { return p.nodes[i].ID() < p.nodes[j].ID() })
	return p.Name()
}
