// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package nodemap implements the node registry used while a pipeline
// is being assembled. A Map associates node IDs with node values and
// records the relations (push, pull, dependency) between them.
//
// Pipelines are usually assembled piecemeal: every node starts out in
// its own Map, and Maps are merged whenever two nodes are connected.
// Merging is a union-find operation (union by rank): the Map with the
// lower rank is emptied into the other and forwards to it from then
// on. Only the surviving, authoritative Map may be used to schedule
// a pipeline; a superseded Map reports ErrNonAuthoritative from
// AssertAuthoritative.
package nodemap

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// ErrNonAuthoritative is returned by AssertAuthoritative when a map
// has been merged into another one.
var ErrNonAuthoritative = errors.E(errors.Precondition, "nodemap: non-authoritative node map")

// ID identifies a node. IDs are unique within a process, so that
// maps built independently of each other can always be merged.
type ID uint64

// lastID is the last ID handed out by any map.
var lastID uint64

func newID() ID {
	return ID(atomic.AddUint64(&lastID, 1))
}

// Kind is the kind of a relation between two nodes.
type Kind int

const (
	// Pushes indicates that the relation's source pushes items into
	// its target.
	Pushes Kind = iota
	// Pulls indicates that the relation's source pulls items from its
	// target.
	Pulls
	// Depends indicates that the relation's source may not begin
	// before its target has ended.
	Depends
	// ForwardingDepends is a Depends relation along which forwarded
	// metadata also flows, from the target to the source.
	ForwardingDepends
)

var kinds = [...]string{
	Pushes:            "pushes",
	Pulls:             "pulls",
	Depends:           "depends",
	ForwardingDepends: "depends(forwarding)",
}

// String returns a lower-case name of the relation kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kinds) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kinds[k]
}

// IsDependency tells whether k orders phases rather than joining
// them.
func (k Kind) IsDependency() bool {
	return k == Depends || k == ForwardingDepends
}

// Forwards tells whether metadata forwarded by a producer reaches
// the consumer over a relation of kind k.
func (k Kind) Forwards() bool {
	return k != Depends
}

// A Relation is a directed relation between two nodes.
type Relation struct {
	From, To ID
	Kind     Kind
}

// Flow returns the relation's endpoints oriented from the producer of
// items (or, for dependencies, the node that must finish first) to
// their consumer. Only Pushes relations point in the direction items
// flow; all other kinds are reversed.
func (r Relation) Flow() (producer, consumer ID) {
	if r.Kind == Pushes {
		return r.From, r.To
	}
	return r.To, r.From
}

// String returns a short description of the relation.
func (r Relation) String() string {
	return fmt.Sprintf("%d %s %d", r.From, r.Kind, r.To)
}

type entry[V any] struct {
	value V
	set   bool
}

// Map is a node registry with values of type V. The zero Map is not
// usable; create maps with New.
//
// Maps are not safe for concurrent use: they are mutated only while a
// pipeline is assembled, which happens on a single goroutine.
type Map[V any] struct {
	entries   map[ID]entry[V]
	relations []Relation
	out, in   map[ID][]int

	authority *Map[V]
	rank      int
}

// New returns a new, empty, authoritative map.
func New[V any]() *Map[V] {
	return &Map[V]{
		entries: make(map[ID]entry[V]),
		out:     make(map[ID][]int),
		in:      make(map[ID][]int),
	}
}

// Add registers v under a fresh ID and returns the ID.
func (m *Map[V]) Add(v V) ID {
	id := newID()
	m.Set(id, v)
	return id
}

// Reserve mints a fresh ID without a value. The ID is owned by m
// (and the maps m is later merged with) and must be given its value
// by Set before the map is scheduled.
func (m *Map[V]) Reserve() ID {
	m.mustAuthoritative("Reserve")
	id := newID()
	m.entries[id] = entry[V]{}
	return id
}

// Set sets the value associated with the provided ID.
func (m *Map[V]) Set(id ID, v V) {
	m.mustAuthoritative("Set")
	m.entries[id] = entry[V]{value: v, set: true}
}

// Get returns the value associated with id, and whether the ID is
// registered with a value in this map.
func (m *Map[V]) Get(id ID) (V, bool) {
	e := m.entries[id]
	return e.value, e.set
}

// Contains tells whether id is registered in this map, with or
// without a value.
func (m *Map[V]) Contains(id ID) bool {
	_, ok := m.entries[id]
	return ok
}

// Len returns the number of IDs registered in the map.
func (m *Map[V]) Len() int { return len(m.entries) }

// IDs returns the IDs registered in the map in ascending order.
func (m *Map[V]) IDs() []ID {
	ids := make([]ID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddRelation records a relation of the given kind from one node to
// another.
func (m *Map[V]) AddRelation(from, to ID, kind Kind) {
	m.mustAuthoritative("AddRelation")
	m.addRelation(Relation{from, to, kind})
}

func (m *Map[V]) addRelation(r Relation) {
	i := len(m.relations)
	m.relations = append(m.relations, r)
	m.out[r.From] = append(m.out[r.From], i)
	m.in[r.To] = append(m.in[r.To], i)
}

// Relations returns all relations in the map, in the order they were
// added.
func (m *Map[V]) Relations() []Relation {
	relations := make([]Relation, len(m.relations))
	copy(relations, m.relations)
	return relations
}

// RelationsFrom returns the relations whose source is id.
func (m *Map[V]) RelationsFrom(id ID) []Relation {
	return m.collect(m.out[id])
}

// RelationsTo returns the relations whose target is id.
func (m *Map[V]) RelationsTo(id ID) []Relation {
	return m.collect(m.in[id])
}

func (m *Map[V]) collect(indices []int) []Relation {
	relations := make([]Relation, len(indices))
	for i, k := range indices {
		relations[i] = m.relations[k]
	}
	return relations
}

// InDegree returns the number of relations of the given kind whose
// target is id.
func (m *Map[V]) InDegree(id ID, kind Kind) int {
	return m.degree(m.in[id], kind)
}

// OutDegree returns the number of relations of the given kind whose
// source is id.
func (m *Map[V]) OutDegree(id ID, kind Kind) int {
	return m.degree(m.out[id], kind)
}

func (m *Map[V]) degree(indices []int, kind Kind) int {
	var n int
	for _, k := range indices {
		if m.relations[k].Kind == kind {
			n++
		}
	}
	return n
}

// ItemSuccessors returns the nodes that directly consume what id
// produces, over relations that forward metadata.
func (m *Map[V]) ItemSuccessors(id ID) []ID {
	var (
		succ []ID
		seen = make(map[ID]bool)
	)
	visit := func(r Relation) {
		if !r.Kind.Forwards() {
			return
		}
		producer, consumer := r.Flow()
		if producer != id || seen[consumer] {
			return
		}
		seen[consumer] = true
		succ = append(succ, consumer)
	}
	for _, k := range m.out[id] {
		visit(m.relations[k])
	}
	for _, k := range m.in[id] {
		visit(m.relations[k])
	}
	return succ
}

// Successors returns every node reachable from id by following
// ItemSuccessors, closest nodes first. The returned set does not
// include id itself.
func (m *Map[V]) Successors(id ID) []ID {
	return m.SuccessorsUntil(id, nil)
}

// SuccessorsUntil is like Successors, but does not look past nodes
// for which stop returns true. Such nodes are still returned.
func (m *Map[V]) SuccessorsUntil(id ID, stop func(ID) bool) []ID {
	var (
		succ  []ID
		seen  = map[ID]bool{id: true}
		queue = []ID{id}
	)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, s := range m.ItemSuccessors(next) {
			if seen[s] {
				continue
			}
			seen[s] = true
			succ = append(succ, s)
			if stop == nil || !stop(s) {
				queue = append(queue, s)
			}
		}
	}
	return succ
}

// FindAuthority returns the authoritative map that m has been merged
// into, which is m itself if m has never been merged into another
// map. The forwarding chain is compressed along the way.
func (m *Map[V]) FindAuthority() *Map[V] {
	root := m
	for root.authority != nil {
		root = root.authority
	}
	for m.authority != nil && m.authority != root {
		next := m.authority
		m.authority = root
		m = next
	}
	return root
}

// Authoritative tells whether m is authoritative.
func (m *Map[V]) Authoritative() bool {
	return m.authority == nil
}

// AssertAuthoritative returns ErrNonAuthoritative if m has been
// merged into another map.
func (m *Map[V]) AssertAuthoritative() error {
	if m.authority != nil {
		return ErrNonAuthoritative
	}
	return nil
}

// Union merges the maps m and other and returns the authoritative
// map of the result. Of the two authorities, the one with the
// higher rank wins; the loser's nodes and relations move to the
// winner and the loser forwards to it.
func (m *Map[V]) Union(other *Map[V]) *Map[V] {
	a, b := m.FindAuthority(), other.FindAuthority()
	if a == b {
		return a
	}
	if b.rank > a.rank {
		a, b = b, a
	}
	a.link(b)
	return a
}

// link moves the contents of b into m and makes m b's authority.
func (m *Map[V]) link(b *Map[V]) {
	for id, e := range b.entries {
		if _, ok := m.entries[id]; ok {
			log.Panicf("nodemap: id %d registered in two maps", id)
		}
		m.entries[id] = e
	}
	for _, r := range b.relations {
		m.addRelation(r)
	}
	b.entries = nil
	b.relations = nil
	b.out, b.in = nil, nil
	b.authority = m
	if b.rank == m.rank {
		m.rank++
	}
}

func (m *Map[V]) mustAuthoritative(op string) {
	if m.authority != nil {
		log.Panicf("nodemap.%s: non-authoritative node map", op)
	}
}

// Dump writes a description of the map's contents to w.
func (m *Map[V]) Dump(w io.Writer) {
	if m.authority != nil {
		fmt.Fprintln(w, "non-authoritative")
		return
	}
	fmt.Fprintf(w, "authoritative, rank %d\n", m.rank)
	for _, id := range m.IDs() {
		e := m.entries[id]
		if !e.set {
			fmt.Fprintf(w, "%d -> (reserved)\n", id)
			continue
		}
		fmt.Fprintf(w, "%d -> %v\n", id, e.value)
	}
	for _, r := range m.relations {
		fmt.Fprintln(w, r)
	}
}
