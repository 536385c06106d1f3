// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigpipe/nodemap"
	"github.com/grailbio/bigpipe/progress"
)

// State is the lifecycle state of a node.
type State int

const (
	// Fresh nodes have not yet been prepared. Relations may only be
	// added to fresh nodes.
	Fresh State = iota
	// InPrepare is the state of a node while its Prepare method runs.
	InPrepare
	// AfterPrepare is the state of a prepared node. Propagate is
	// called in this state.
	AfterPrepare
	// InBegin is the state of a node while its Begin method runs.
	InBegin
	// AfterBegin is the state of a node that is processing items.
	AfterBegin
	// InEnd is the state of a node while its End method runs.
	InEnd
	// AfterEnd is the final state of a node.
	AfterEnd
)

var stateNames = [...]string{
	Fresh:        "fresh",
	InPrepare:    "in prepare",
	AfterPrepare: "after prepare",
	InBegin:      "in begin",
	AfterBegin:   "after begin",
	InEnd:        "in end",
	AfterEnd:     "after end",
}

// String returns a description of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Name priorities. The name of a phase is the name of its member
// with the highest name priority.
const (
	PriorityNoName        = 0
	PriorityInsignificant = 5
	PrioritySignificant   = 10
	PriorityUser          = 20
)

// A Ref refers to a node in a node registry. Both nodes and tokens
// are refs.
type Ref interface {
	// ID returns the ID of the node.
	ID() nodemap.ID
	// Map returns the authoritative registry that the node belongs
	// to.
	Map() *nodemap.Map[Node]
}

// A Node is a streaming operator in a pipeline. Nodes are
// implemented by embedding Base and calling Base.Init from the
// node's constructor. The lifecycle methods of a node are optional;
// the runtime calls those the node implements: Preparer,
// Propagator, Beginner, Initiator, Ender, and Evacuator.
type Node interface {
	Ref
	// Name returns the node's name.
	Name() string
	// SetAvailableMemory assigns memory to the node. Nodes that
	// override it must call the Base implementation.
	SetAvailableMemory(bytes uint64)

	base() *Base
}

// Preparer is implemented by nodes that declare their requirements
// (memory, steps) once the pipeline is fully assembled.
type Preparer interface {
	Prepare() error
}

// Propagator is implemented by nodes that fetch or forward metadata
// before their phase begins.
type Propagator interface {
	Propagate() error
}

// Beginner is implemented by nodes that acquire resources before
// items flow.
type Beginner interface {
	Begin() error
}

// Initiator is implemented by nodes that drive a phase: Go is called
// once every node in the phase has begun, and returns when all of
// the phase's items have been pushed or pulled.
type Initiator interface {
	Go() error
}

// Ender is implemented by nodes that release resources or flush
// state after their phase is done.
type Ender interface {
	End() error
}

// Evacuator is implemented by nodes that hold data between phases
// and can move it out of memory when the following phase does not
// depend on it.
type Evacuator interface {
	CanEvacuate() bool
	Evacuate() error
}

// Pusher is implemented by nodes that accept items pushed by their
// predecessor.
type Pusher[T any] interface {
	Node
	Push(item T) error
}

// Puller is implemented by nodes from which their successor pulls
// items.
type Puller[T any] interface {
	Node
	CanPull() bool
	Pull() (T, error)
}

// A Token is a node ID, minted before the node that carries it is
// constructed. Tokens let a node refer to another node that does
// not yet exist.
type Token struct {
	id nodemap.ID
	m  *nodemap.Map[Node]
}

// NewToken returns a token reserved in a fresh registry.
func NewToken() Token {
	m := nodemap.New[Node]()
	return Token{m.Reserve(), m}
}

// ID implements Ref.
func (t Token) ID() nodemap.ID { return t.id }

// Map implements Ref.
func (t Token) Map() *nodemap.Map[Node] { return t.m.FindAuthority() }

type forwarded struct {
	value    interface{}
	explicit bool
}

// Base implements the bookkeeping common to all nodes: identity and
// registry membership, relations, memory requirements, progress
// steps, and forwarded metadata.
type Base struct {
	self Node
	id   nodemap.ID
	m    *nodemap.Map[Node]

	name         string
	namePriority int
	state        State

	minimum, maximum, available uint64
	fraction                    float64

	steps, stepsLeft uint64
	progress         progress.Indicator

	values map[string]forwarded
}

// Init registers self, which must embed b, in a fresh registry
// under the given name. An empty name is replaced by the node's type
// name.
func (b *Base) Init(self Node, name string) {
	b.InitWithToken(self, name, NewToken())
}

// InitWithToken is like Init, but registers the node under a token
// that was minted earlier.
func (b *Base) InitWithToken(self Node, name string, tok Token) {
	if b.self != nil {
		log.Panicf("bigpipe: node %s initialized twice", b.name)
	}
	if self.base() != b {
		log.Panicf("bigpipe: node %T does not embed the Base being initialized", self)
	}
	m := tok.Map()
	if !m.Contains(tok.id) {
		log.Panicf("bigpipe: token %d is not owned by its registry", tok.id)
	}
	if _, ok := m.Get(tok.id); ok {
		log.Panicf("bigpipe: token %d is already bound to a node", tok.id)
	}
	b.self = self
	b.id = tok.id
	b.m = m
	b.fraction = 1
	b.values = make(map[string]forwarded)
	if name == "" {
		b.SetName(fmt.Sprintf("%T", self), PriorityNoName)
	} else {
		b.SetName(name, PrioritySignificant)
	}
	m.Set(tok.id, self)
}

func (b *Base) base() *Base { return b }

// ID returns the node's ID.
func (b *Base) ID() nodemap.ID { return b.id }

// Map returns the authoritative registry the node belongs to.
func (b *Base) Map() *nodemap.Map[Node] {
	b.mustInit()
	b.m = b.m.FindAuthority()
	return b.m
}

// Name returns the node's name.
func (b *Base) Name() string { return b.name }

// NamePriority returns the priority of the node's name.
func (b *Base) NamePriority() int { return b.namePriority }

// SetName sets the node's name and its priority.
func (b *Base) SetName(name string, priority int) {
	b.name = name
	b.namePriority = priority
}

// State returns the node's lifecycle state.
func (b *Base) State() State { return b.state }

// String returns the node's name and ID.
func (b *Base) String() string {
	return fmt.Sprintf("%s#%d", b.name, b.id)
}

// AddPushDestination records that this node pushes items into dest.
// The registries of both nodes are merged.
func (b *Base) AddPushDestination(dest Ref) {
	b.addRelation("AddPushDestination", dest, nodemap.Pushes)
}

// AddPullDestination records that this node pulls items from dest.
func (b *Base) AddPullDestination(dest Ref) {
	b.addRelation("AddPullDestination", dest, nodemap.Pulls)
}

// AddDependency records that this node may not begin before dest has
// ended. The two nodes are placed in different phases.
func (b *Base) AddDependency(dest Ref) {
	b.addRelation("AddDependency", dest, nodemap.Depends)
}

// AddForwardingDependency is like AddDependency, but metadata
// forwarded to dest is also forwarded across the dependency to this
// node.
func (b *Base) AddForwardingDependency(dest Ref) {
	b.addRelation("AddForwardingDependency", dest, nodemap.ForwardingDepends)
}

func (b *Base) addRelation(method string, dest Ref, kind nodemap.Kind) {
	b.mustInit()
	b.mustState(method, Fresh)
	m := b.Map().Union(dest.Map())
	m.AddRelation(b.id, dest.ID(), kind)
	b.m = m
}

// SetMinimumMemory sets the smallest amount of memory the node can
// run with.
func (b *Base) SetMinimumMemory(bytes uint64) {
	b.mustState("SetMinimumMemory", Fresh, InPrepare)
	b.minimum = bytes
}

// MinimumMemory returns the node's minimum memory requirement.
func (b *Base) MinimumMemory() uint64 { return b.minimum }

// SetMaximumMemory sets the largest amount of memory the node can
// make use of. Zero means unbounded.
func (b *Base) SetMaximumMemory(bytes uint64) {
	b.mustState("SetMaximumMemory", Fresh, InPrepare)
	b.maximum = bytes
}

// MaximumMemory returns the node's maximum memory, or zero if it is
// unbounded.
func (b *Base) MaximumMemory() uint64 { return b.maximum }

// SetMemoryFraction sets the node's share of its phase's memory
// relative to the other nodes of the phase. The default is 1.
func (b *Base) SetMemoryFraction(fraction float64) {
	b.mustState("SetMemoryFraction", Fresh, InPrepare)
	if fraction < 0 {
		log.Panicf("bigpipe: %s: negative memory fraction %v", b, fraction)
	}
	b.fraction = fraction
}

// MemoryFraction returns the node's memory fraction.
func (b *Base) MemoryFraction() float64 { return b.fraction }

// SetAvailableMemory implements Node.
func (b *Base) SetAvailableMemory(bytes uint64) { b.available = bytes }

// AvailableMemory returns the memory assigned to the node.
func (b *Base) AvailableMemory() uint64 { return b.available }

// SetSteps declares the number of steps the node will report
// through Step.
func (b *Base) SetSteps(steps uint64) {
	b.mustState("SetSteps", Fresh, InPrepare, InBegin)
	b.steps = steps
	b.stepsLeft = steps
}

// Steps returns the number of steps declared by the node.
func (b *Base) Steps() uint64 { return b.steps }

// Step reports that n of the node's declared steps have completed.
func (b *Base) Step(n uint64) {
	b.mustState("Step", AfterBegin, InEnd)
	if b.stepsLeft < n {
		log.Printf("WARNING: bigpipe: %s: more steps than the %d declared", b, b.steps)
		b.stepsLeft = 0
	} else {
		b.stepsLeft -= n
	}
	if b.progress != nil {
		b.progress.Step(n)
	}
}

// Forward makes value available under key to the node's item
// successors. Direct successors receive the value explicitly; nodes
// further downstream receive it implicitly, and an implicit value
// never replaces an explicit one.
func (b *Base) Forward(key string, value interface{}) {
	b.mustInit()
	if b.state == AfterEnd {
		panic(newError(CallOrderViolation, b.name, "Forward(%q) called after End", key))
	}
	m := b.Map()
	direct := make(map[nodemap.ID]bool)
	for _, s := range b.successors() {
		s.values[key] = forwarded{value, true}
		direct[s.id] = true
	}
	// Implicit values stop at nodes that hold an explicit one.
	explicit := func(id nodemap.ID) bool {
		if direct[id] {
			return false
		}
		n, ok := m.Get(id)
		if !ok {
			return true
		}
		v, ok := n.base().values[key]
		return ok && v.explicit
	}
	for _, id := range m.SuccessorsUntil(b.id, explicit) {
		if direct[id] || explicit(id) {
			continue
		}
		n, _ := m.Get(id)
		n.base().values[key] = forwarded{value, false}
	}
}

// successors returns the nodes that directly receive what b
// forwards.
func (b *Base) successors() []*Base {
	m := b.Map()
	var succ []*Base
	for _, id := range m.ItemSuccessors(b.id) {
		if n, ok := m.Get(id); ok {
			succ = append(succ, n.base())
		}
	}
	return succ
}

// CanFetch tells whether a value was forwarded to the node under key.
func (b *Base) CanFetch(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Fetch returns the value forwarded to the node under key. Fetch
// panics if no such value exists.
func (b *Base) Fetch(key string) interface{} {
	v, ok := b.values[key]
	if !ok {
		panic(errors.E(errors.NotExist, fmt.Sprintf("bigpipe: %s: no value forwarded under key %q", b, key)))
	}
	return v.value
}

// FetchAs returns the value forwarded to n under key, which must be
// of type T.
func FetchAs[T any](n Node, key string) T {
	v := n.base().Fetch(key)
	t, ok := v.(T)
	if !ok {
		var zero T
		panic(errors.E(errors.Invalid, fmt.Sprintf("bigpipe: %s: key %q holds a %T, not a %T", n.base(), key, v, zero)))
	}
	return t
}

func (b *Base) mustInit() {
	if b.self == nil {
		log.Panicf("bigpipe: node used before Init")
	}
}

// mustState panics with a CallOrderViolation unless the node is in
// one of the provided states.
func (b *Base) mustState(method string, states ...State) {
	for _, s := range states {
		if b.state == s {
			return
		}
	}
	panic(newError(CallOrderViolation, b.name, "%s called in state %s", method, b.state))
}
