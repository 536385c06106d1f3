// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package disjoint

import (
	"math/rand"
	"testing"
)

func TestUnionFind(t *testing.T) {
	s := New(6)
	for i := 0; i < 6; i++ {
		s.MakeSet(i)
	}
	if got, want := s.Count(), 6; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	s.Union(0, 1)
	s.Union(2, 3)
	s.Union(1, 3)
	if s.Find(0) != s.Find(3) {
		t.Error("0 and 3 should be in the same set")
	}
	if s.Find(4) == s.Find(0) {
		t.Error("4 should be alone")
	}
	if got, want := s.Count(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Union of already-joined elements is a no-op.
	s.Union(0, 2)
	if got, want := s.Count(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestIsSet(t *testing.T) {
	s := New(2)
	if s.IsSet(0) {
		t.Error("fresh element should not be a set")
	}
	s.MakeSet(0)
	if !s.IsSet(0) {
		t.Error("expected element 0 to be a set")
	}
}

// TestRandomUnions compares the structure against a naive labeling.
func TestRandomUnions(t *testing.T) {
	const N = 200
	r := rand.New(rand.NewSource(0))
	s := New(N)
	label := make([]int, N)
	for i := range label {
		s.MakeSet(i)
		label[i] = i
	}
	for k := 0; k < 150; k++ {
		i, j := r.Intn(N), r.Intn(N)
		s.Union(i, j)
		from, to := label[j], label[i]
		for x := range label {
			if label[x] == from {
				label[x] = to
			}
		}
	}
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			if (s.Find(i) == s.Find(j)) != (label[i] == label[j]) {
				t.Fatalf("elements %d and %d disagree", i, j)
			}
		}
	}
}
