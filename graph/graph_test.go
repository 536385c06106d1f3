// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"math/rand"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestTopologicalOrder(t *testing.T) {
	g := New[string]()
	g.AddEdge("shirt", "tie")
	g.AddEdge("tie", "jacket")
	g.AddEdge("trousers", "shoes")
	g.AddEdge("trousers", "belt")
	g.AddEdge("belt", "jacket")
	g.AddEdge("shirt", "belt")
	g.AddNode("watch")
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(order), 7; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	checkOrder(t, g, order)
}

func TestUnconstrainedKeepsInsertionOrder(t *testing.T) {
	g := New[int]()
	for i := 0; i < 5; i++ {
		g.AddNode(i)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := order, []int{0, 1, 2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	g.AddEdge(3, 1)
	order, err = g.TopologicalOrder()
	if err != nil {
		t.Fatal(err)
	}
	checkOrder(t, g, order)
}

func TestCycle(t *testing.T) {
	g := New[int]()
	g.AddEdge(0, 1)
	g.AddEdge(1, 2)
	g.AddEdge(2, 3)
	g.AddEdge(3, 1)
	if _, err := g.TopologicalOrder(); err != ErrCycle {
		t.Errorf("got %v, want ErrCycle", err)
	}
	if _, err := g.DFS(); err != ErrCycle {
		t.Errorf("got %v, want ErrCycle", err)
	}
	cycle := g.Cycle()
	if got, want := len(cycle), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range cycle {
		if !g.HasEdge(cycle[i], cycle[(i+1)%len(cycle)]) {
			t.Errorf("cycle %v: missing edge %v->%v", cycle, cycle[i], cycle[(i+1)%len(cycle)])
		}
	}
}

func TestSelfLoop(t *testing.T) {
	g := New[int]()
	g.AddEdge(7, 7)
	if _, err := g.TopologicalOrder(); err != ErrCycle {
		t.Errorf("got %v, want ErrCycle", err)
	}
	if got, want := g.Cycle(), []int{7}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDFSTimes(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	times, err := g.DFS()
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int]bool)
	for v, tm := range times {
		if tm.Discover >= tm.Finish {
			t.Errorf("%s: discover %d >= finish %d", v, tm.Discover, tm.Finish)
		}
		for _, x := range []int{tm.Discover, tm.Finish} {
			if seen[x] {
				t.Errorf("timestamp %d assigned twice", x)
			}
			seen[x] = true
		}
	}
	// Descendants finish before their ancestors.
	if !(times["c"].Finish < times["b"].Finish && times["b"].Finish < times["a"].Finish) {
		t.Errorf("bad finish times %v", times)
	}
}

func TestHasEdge(t *testing.T) {
	g := New[int]()
	g.AddEdge(1, 2)
	g.AddEdge(1, 2)
	if !g.HasEdge(1, 2) {
		t.Error("missing edge 1->2")
	}
	if g.HasEdge(2, 1) {
		t.Error("unexpected edge 2->1")
	}
	if g.HasEdge(1, 5) {
		t.Error("unexpected edge to unknown node")
	}
	if got, want := g.Successors(1), []int{2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := g.InDegree(2), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestRandomDAG checks topological orders of randomly generated acyclic
// graphs: edges always run from a lower to a higher rank under a
// random relabeling of the nodes.
func TestRandomDAG(t *testing.T) {
	type edge struct{ U, V uint8 }
	fz := fuzz.New().NilChance(0).NumElements(0, 100)
	for iter := 0; iter < 50; iter++ {
		var (
			edges []edge
			seed  int64
			perm  = make([]uint8, 32)
		)
		fz.Fuzz(&edges)
		fz.Fuzz(&seed)
		for i := range perm {
			perm[i] = uint8(i)
		}
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		g := New[uint8]()
		for _, e := range edges {
			u, v := e.U%32, e.V%32
			if u == v {
				g.AddNode(perm[u])
				continue
			}
			if u > v {
				u, v = v, u
			}
			g.AddEdge(perm[u], perm[v])
		}
		order, err := g.TopologicalOrder()
		if err != nil {
			t.Fatalf("%v:\n%s", err, g)
		}
		if got, want := len(order), g.Len(); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		checkOrder(t, g, order)
	}
}

func checkOrder[T comparable](t *testing.T, g *Graph[T], order []T) {
	t.Helper()
	pos := make(map[T]int)
	for i, v := range order {
		pos[v] = i
	}
	for _, u := range g.Nodes() {
		for _, v := range g.Successors(u) {
			if pos[u] >= pos[v] {
				t.Errorf("edge %v->%v violated by order %v", u, v, order)
			}
		}
	}
}
