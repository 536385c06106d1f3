// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package nodes provides general purpose pipeline nodes. Pipelines are
// assembled from their last node backwards, since each node is
// constructed with its destination:
//
//	var out []int
//	sink := nodes.NewSink(func(x int) error { out = append(out, x); return nil })
//	square := nodes.NewMap(func(x int) int { return x * x }, sink)
//	input := nodes.NewInput([]int{1, 2, 3}, square)
//	err := bigpipe.New(input).Go(3, nil, 64<<20)
package nodes

import (
	"github.com/grailbio/bigpipe"
)

// ItemsKey is the key under which nodes forward the number of items
// they produce.
const ItemsKey = "items"

// Input is an initiator that pushes the items of a slice.
type Input[T any] struct {
	bigpipe.Base
	items []T
	dest  bigpipe.Pusher[T]
}

// NewInput returns a node that pushes items to dest.
func NewInput[T any](items []T, dest bigpipe.Pusher[T]) *Input[T] {
	n := &Input[T]{items: items, dest: dest}
	n.Init(n, "input")
	n.AddPushDestination(dest)
	return n
}

// Prepare declares one step per item.
func (n *Input[T]) Prepare() error {
	n.SetSteps(uint64(len(n.items)))
	return nil
}

// Propagate forwards the number of items.
func (n *Input[T]) Propagate() error {
	n.Forward(ItemsKey, uint64(len(n.items)))
	return nil
}

// Go pushes the items.
func (n *Input[T]) Go() error {
	for _, item := range n.items {
		if err := n.dest.Push(item); err != nil {
			return err
		}
		n.Step(1)
	}
	return nil
}

// Map applies a function to every item pushed to it.
type Map[T, U any] struct {
	bigpipe.Base
	fn   func(T) U
	dest bigpipe.Pusher[U]
}

// NewMap returns a node that pushes fn(x) to dest for every item x.
func NewMap[T, U any](fn func(T) U, dest bigpipe.Pusher[U]) *Map[T, U] {
	n := &Map[T, U]{fn: fn, dest: dest}
	n.Init(n, "")
	n.SetName("map", bigpipe.PriorityInsignificant)
	n.AddPushDestination(dest)
	return n
}

// Push implements bigpipe.Pusher.
func (n *Map[T, U]) Push(item T) error {
	return n.dest.Push(n.fn(item))
}

// Filter passes on the items for which a predicate holds.
type Filter[T any] struct {
	bigpipe.Base
	pred func(T) bool
	dest bigpipe.Pusher[T]
}

// NewFilter returns a node that pushes to dest the items for which
// pred returns true.
func NewFilter[T any](pred func(T) bool, dest bigpipe.Pusher[T]) *Filter[T] {
	n := &Filter[T]{pred: pred, dest: dest}
	n.Init(n, "")
	n.SetName("filter", bigpipe.PriorityInsignificant)
	n.AddPushDestination(dest)
	return n
}

// Push implements bigpipe.Pusher.
func (n *Filter[T]) Push(item T) error {
	if !n.pred(item) {
		return nil
	}
	return n.dest.Push(item)
}

// Sink consumes items with a function.
type Sink[T any] struct {
	bigpipe.Base
	fn func(T) error
}

// NewSink returns a node that calls fn for every item pushed to it.
func NewSink[T any](fn func(T) error) *Sink[T] {
	n := &Sink[T]{fn: fn}
	n.Init(n, "sink")
	return n
}

// Push implements bigpipe.Pusher.
func (n *Sink[T]) Push(item T) error {
	return n.fn(item)
}

// PullInput is a node from which the items of a slice are pulled.
type PullInput[T any] struct {
	bigpipe.Base
	items []T
	next  int
}

// NewPullInput returns a node from which items are pulled.
func NewPullInput[T any](items []T) *PullInput[T] {
	n := &PullInput[T]{items: items}
	n.Init(n, "pull input")
	return n
}

// Propagate forwards the number of items.
func (n *PullInput[T]) Propagate() error {
	n.Forward(ItemsKey, uint64(len(n.items)))
	return nil
}

// CanPull implements bigpipe.Puller.
func (n *PullInput[T]) CanPull() bool { return n.next < len(n.items) }

// Pull implements bigpipe.Puller.
func (n *PullInput[T]) Pull() (T, error) {
	item := n.items[n.next]
	n.next++
	return item, nil
}

// PullOutput is an initiator that pulls every item from its source
// and consumes it with a function.
type PullOutput[T any] struct {
	bigpipe.Base
	source bigpipe.Puller[T]
	fn     func(T) error
}

// NewPullOutput returns a node that pulls items from source and
// calls fn for each of them.
func NewPullOutput[T any](source bigpipe.Puller[T], fn func(T) error) *PullOutput[T] {
	n := &PullOutput[T]{source: source, fn: fn}
	n.Init(n, "pull output")
	n.AddPullDestination(source)
	return n
}

// Begin declares one step per item, if the number of items was
// forwarded.
func (n *PullOutput[T]) Begin() error {
	if n.CanFetch(ItemsKey) {
		n.SetSteps(bigpipe.FetchAs[uint64](n, ItemsKey))
	}
	return nil
}

// Go pulls and consumes every item.
func (n *PullOutput[T]) Go() error {
	for n.source.CanPull() {
		item, err := n.source.Pull()
		if err != nil {
			return err
		}
		if err := n.fn(item); err != nil {
			return err
		}
		n.Step(1)
	}
	return nil
}
