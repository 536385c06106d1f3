// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package bigpipe implements a pipelining runtime for computations over
data sets that are larger than main memory.

A pipeline is a graph of nodes: streaming operators that push items
to, or pull items from, their neighbors. Nodes are written by
embedding Base and implementing the lifecycle methods they need:

	type Square struct {
		bigpipe.Base
		dest bigpipe.Pusher[int]
	}

	func NewSquare(dest bigpipe.Pusher[int]) *Square {
		s := &Square{dest: dest}
		s.Init(s, "square")
		s.AddPushDestination(dest)
		return s
	}

	func (s *Square) Push(x int) error {
		return s.dest.Push(x * x)
	}

Nodes joined by push or pull relations form a phase: they begin
together, process items in lock-step, and end together. Dependencies
(Base.AddDependency) order phases: a node may not begin before the
nodes it depends on have ended. Each phase is driven by its
initiators, the nodes that nothing pushes to or pulls from, which
must implement Initiator.

Before any item is processed, the runtime calls Prepare on every node
and divides the memory budget among the nodes of each phase, in
proportion to their memory fractions and subject to their minimum
and maximum memory. Then, phase by phase, it calls Propagate, Begin,
Go (on the initiators), and End. Nodes may forward metadata (for
example the number of items they will produce) to the nodes
downstream of them with Base.Forward; forwarded values are available
from Propagate onwards.

The runtime's errors are of type *Error and are classified by Kind;
use KindOf or IsKind to test for them.
*/
package bigpipe
