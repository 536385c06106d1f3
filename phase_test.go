// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"math/rand"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigpipe/nodemap"
)

func names(nodes []Node) []string {
	list := make([]string, len(nodes))
	for i, n := range nodes {
		list[i] = n.Name()
	}
	return list
}

func TestPartition(t *testing.T) {
	var ev events
	var (
		a = newStarter(&ev, "a")
		b = newRecorder(&ev, "b")
		c = newStarter(&ev, "c")
		d = newRecorder(&ev, "d")
		e = newStarter(&ev, "e")
	)
	a.AddPushDestination(b)
	c.AddPullDestination(d)
	e.AddDependency(a)
	e.AddDependency(c)
	numbers, n := partition(e.Map())
	if got, want := n, 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := len(numbers), 5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if numbers[a.ID()] != numbers[b.ID()] || numbers[c.ID()] != numbers[d.ID()] {
		t.Errorf("pushes or pulls did not join phases: %v", numbers)
	}
	if numbers[a.ID()] == numbers[c.ID()] || numbers[a.ID()] == numbers[e.ID()] {
		t.Errorf("dependencies joined phases: %v", numbers)
	}
	// Numbers are assigned in ascending ID order.
	if got, want := []int{numbers[a.ID()], numbers[c.ID()], numbers[e.ID()]}, []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompileOrder(t *testing.T) {
	var ev events
	var (
		sink = newRecorder(&ev, "sink")
		src  = newStarter(&ev, "src")
		mid  = newRecorder(&ev, "mid")
	)
	src.AddPushDestination(mid)
	mid.AddPushDestination(sink)
	plan, err := Compile(src.Map())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(plan.Phases), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	p := plan.Phases[0]
	if got, want := names(p.FlowOrder()), []string{"src", "mid", "sink"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names(p.ActorOrder()), []string{"src", "mid", "sink"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names(p.Initiators()), []string{"src"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names(p.Nodes()), []string{"sink", "src", "mid"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompilePullOrder(t *testing.T) {
	var ev events
	var (
		src  = newRecorder(&ev, "src")
		mid  = newRecorder(&ev, "mid")
		sink = newStarter(&ev, "sink")
	)
	sink.AddPullDestination(mid)
	mid.AddPullDestination(src)
	plan, err := Compile(sink.Map())
	if err != nil {
		t.Fatal(err)
	}
	p := plan.Phases[0]
	if got, want := names(p.FlowOrder()), []string{"src", "mid", "sink"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names(p.ActorOrder()), []string{"sink", "mid", "src"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := names(p.Initiators()), []string{"sink"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDependencyOrder(t *testing.T) {
	var ev events
	var (
		late  = newStarter(&ev, "late")
		early = newStarter(&ev, "early")
		sink  = newRecorder(&ev, "sink")
	)
	early.AddPushDestination(sink)
	late.AddDependency(sink)
	plan, err := Compile(late.Map())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(plan.Phases), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	first, ok := plan.PhaseOf(sink.ID())
	if !ok {
		t.Fatal("sink not in plan")
	}
	second, _ := plan.PhaseOf(late.ID())
	if first.Index() >= second.Index() {
		t.Errorf("dependee %s runs after depender %s", first, second)
	}
	if got, want := plan.EvacuatePrevious, []bool{false, false}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEvacuatePrevious(t *testing.T) {
	var ev events
	var (
		p0 = newStarter(&ev, "p0")
		p1 = newStarter(&ev, "p1")
		p2 = newStarter(&ev, "p2")
	)
	p1.AddDependency(p0)
	p2.AddDependency(p0)
	plan, err := Compile(p2.Map())
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, p := range plan.Phases {
		order = append(order, p.Name())
	}
	if got, want := order, []string{"p0", "p1", "p2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := plan.EvacuatePrevious, []bool{false, false, true}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCompileErrors(t *testing.T) {
	var ev events
	for _, c := range []struct {
		name  string
		build func() Node
		kind  Kind
	}{
		{"empty", nil, EmptyPipeline},
		{"cyclic phases", func() Node {
			a, b := newStarter(&ev, "a"), newStarter(&ev, "b")
			a.AddDependency(b)
			b.AddDependency(a)
			return a
		}, CyclicPhaseGraph},
		{"dependency within a phase", func() Node {
			a, b := newStarter(&ev, "a"), newRecorder(&ev, "b")
			a.AddPushDestination(b)
			b.AddDependency(a)
			return a
		}, CyclicPhaseGraph},
		{"no initiator", func() Node {
			a, b := newStarter(&ev, "a"), newStarter(&ev, "b")
			a.AddPushDestination(b)
			b.AddPushDestination(a)
			return a
		}, NoInitiatorNode},
		{"not an initiator", func() Node {
			a, b := newRecorder(&ev, "a"), newRecorder(&ev, "b")
			a.AddPushDestination(b)
			return a
		}, NotInitiatorNode},
		{"foreign push", func() Node {
			a, b, other := newStarter(&ev, "a"), newStarter(&ev, "b"), newStarter(&ev, "other")
			m := a.Map().Union(b.Map())
			m.AddRelation(other.ID(), b.ID(), nodemap.Pushes)
			return a
		}, DisconnectedRegistry},
		{"foreign dependency", func() Node {
			a, b, other := newStarter(&ev, "a"), newStarter(&ev, "b"), newStarter(&ev, "other")
			m := a.Map().Union(b.Map())
			m.AddRelation(a.ID(), other.ID(), nodemap.Depends)
			return a
		}, DisconnectedRegistry},
		{"cyclic item flow", func() Node {
			s, a, b := newStarter(&ev, "s"), newRecorder(&ev, "a"), newRecorder(&ev, "b")
			s.AddPushDestination(a)
			a.AddPushDestination(b)
			b.AddPushDestination(a)
			return s
		}, CyclicItemFlow},
	} {
		t.Run(c.name, func(t *testing.T) {
			m := nodemap.New[Node]()
			if c.build != nil {
				m = c.build().Map()
			}
			_, err := Compile(m)
			if got, want := KindOf(err), c.kind; got != want {
				t.Errorf("got %v, want %v (%v)", got, want, err)
			}
		})
	}
}

func TestDisconnectedRegistry(t *testing.T) {
	var ev events
	a, b := newStarter(&ev, "a"), newRecorder(&ev, "b")
	ma, mb := a.Map(), b.Map()
	a.AddPushDestination(b)
	loser := ma
	if ma.Authoritative() {
		loser = mb
	}
	_, err := Compile(loser)
	if !IsKind(DisconnectedRegistry, err) {
		t.Errorf("got %v, want disconnected registry", err)
	}
	if err := NewRuntime(loser).Go(0, nil, 1<<20); !IsKind(DisconnectedRegistry, err) {
		t.Errorf("got %v, want disconnected registry", err)
	}
}

func TestPhaseName(t *testing.T) {
	var ev events
	a, b, c := newStarter(&ev, "a"), newRecorder(&ev, "b"), newRecorder(&ev, "c")
	a.AddPushDestination(b)
	b.AddPushDestination(c)
	b.SetName("sorter", PriorityUser)
	plan, err := Compile(a.Map())
	if err != nil {
		t.Fatal(err)
	}
	p := plan.Phases[0]
	if got, want := p.Name(), "sorter"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	uid := p.UID()
	c.SetName("other", PriorityNoName)
	if p.UID() == uid {
		t.Error("UID did not change with member names")
	}
	if !p.Contains(c.ID()) {
		t.Error("phase does not contain c")
	}
}

// TestRandomPipelines builds random pipelines of chains joined by
// dependencies and checks that every node is assigned to exactly one
// phase and that dependencies are honored by the phase order.
func TestRandomPipelines(t *testing.T) {
	var seed int64
	fz := fuzz.New()
	for iter := 0; iter < 50; iter++ {
		fz.Fuzz(&seed)
		r := rand.New(rand.NewSource(seed))
		var (
			ev     events
			chains [][]Node
			all    []Node
		)
		nchain := 1 + r.Intn(8)
		for i := 0; i < nchain; i++ {
			chain := []Node{newStarter(&ev, "head")}
			for j := r.Intn(4); j > 0; j-- {
				n := newRecorder(&ev, "node")
				chain[len(chain)-1].base().AddPushDestination(n)
				chain = append(chain, n)
			}
			chains = append(chains, chain)
			all = append(all, chain...)
		}
		// Dependencies only point to earlier chains.
		type dep struct{ from, to Node }
		var deps []dep
		for i := 1; i < nchain; i++ {
			from := chains[i][r.Intn(len(chains[i]))]
			to := chains[r.Intn(i)][0]
			from.base().AddDependency(to)
			deps = append(deps, dep{from, to})
		}
		// Join disconnected chains.
		for i := 1; i < nchain; i++ {
			chains[0][0].Map().Union(chains[i][0].Map())
		}
		plan, err := Compile(all[0].Map())
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if got, want := len(plan.Phases), nchain; got != want {
			t.Errorf("seed %d: got %v, want %v", seed, got, want)
		}
		var total int
		for _, p := range plan.Phases {
			total += len(p.Nodes())
		}
		if got, want := total, len(all); got != want {
			t.Errorf("seed %d: got %v, want %v", seed, got, want)
		}
		for _, d := range deps {
			from, _ := plan.PhaseOf(d.from.ID())
			to, _ := plan.PhaseOf(d.to.ID())
			if to.Index() >= from.Index() {
				t.Errorf("seed %d: %s runs before its dependency %s", seed, from, to)
			}
		}
	}
}
