// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package disjoint implements a disjoint-set (union-find) structure
// over the dense integer range [0, n). Union is by rank and Find
// performs path compression, so a sequence of m operations costs
// O(m α(n)).
package disjoint

import "github.com/grailbio/base/log"

// Sets is a collection of disjoint sets over the elements 0..n-1.
// Elements must be made into singleton sets with MakeSet before
// they participate in Find or Union.
type Sets struct {
	parent []int
	rank   []int
	count  int
}

// nilParent marks an element that has not yet been made into a set.
const nilParent = -1

// New returns a collection of n elements, none of which belongs to a
// set yet.
func New(n int) *Sets {
	s := &Sets{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range s.parent {
		s.parent[i] = nilParent
	}
	return s
}

// MakeSet places element i in its own singleton set.
func (s *Sets) MakeSet(i int) {
	if s.parent[i] != nilParent {
		log.Panicf("disjoint.MakeSet: element %d already belongs to a set", i)
	}
	s.parent[i] = i
	s.count++
}

// IsSet tells whether element i has been made into a set.
func (s *Sets) IsSet(i int) bool {
	return s.parent[i] != nilParent
}

// Find returns the representative of the set containing i.
func (s *Sets) Find(i int) int {
	if s.parent[i] == nilParent {
		log.Panicf("disjoint.Find: element %d is not in a set", i)
	}
	root := i
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for s.parent[i] != root {
		next := s.parent[i]
		s.parent[i] = root
		i = next
	}
	return root
}

// Union merges the sets containing i and j and returns the
// representative of the merged set.
func (s *Sets) Union(i, j int) int {
	i, j = s.Find(i), s.Find(j)
	if i == j {
		return i
	}
	s.count--
	switch {
	case s.rank[i] < s.rank[j]:
		s.parent[i] = j
		return j
	case s.rank[i] > s.rank[j]:
		s.parent[j] = i
		return i
	default:
		s.parent[j] = i
		s.rank[i]++
		return i
	}
}

// Len returns the number of elements managed by s.
func (s *Sets) Len() int { return len(s.parent) }

// Count returns the number of disjoint sets currently in s.
func (s *Sets) Count() int { return s.count }
