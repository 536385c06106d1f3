// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpipe/memory"
	"github.com/grailbio/bigpipe/nodemap"
	"github.com/grailbio/bigpipe/progress"
	"github.com/grailbio/bigpipe/stats"
)

// Runtime drives the nodes of a registry through their lifecycle.
// A Runtime runs its pipeline at most once.
type Runtime struct {
	m       *nodemap.Map[Node]
	eventer eventlog.Eventer
	status  *status.Status
	stats   *stats.Map
	tracer  *tracer

	plan     *Plan
	warnings []error
}

// NewRuntime returns a runtime for the nodes of the registry m,
// configured by the provided options.
func NewRuntime(m *nodemap.Map[Node], options ...Option) *Runtime {
	return newRuntime(m, makeOptions(options))
}

func newRuntime(m *nodemap.Map[Node], opts options) *Runtime {
	r := &Runtime{
		m:       m,
		eventer: opts.eventer,
		status:  opts.status,
		stats:   stats.NewMap(),
	}
	if opts.trace {
		r.tracer = newTracer()
	}
	return r
}

// Go runs the pipeline: it compiles the registry into phases,
// prepares every node, divides memory bytes of memory among the
// nodes of each phase, and then runs the phases in order. Progress
// is reported to pi, divided among the phases by the number of steps
// they declare. The items argument is the expected number of items
// and is recorded for diagnostics.
//
// Go returns the first error reported by a node or detected by the
// runtime. The nodes of a phase whose initiator failed are not
// ended.
func (r *Runtime) Go(items uint64, pi progress.Indicator, memory uint64) (err error) {
	if pi == nil {
		pi = progress.Null{}
	}
	start := time.Now()
	r.tracer.Event(nil, nil, "B", "compile")
	r.plan, err = Compile(r.m)
	r.tracer.Event(nil, nil, "E", "compile")
	if err != nil {
		r.eventer.Event("bigpipe:compileError", "error", err.Error())
		return err
	}
	r.stats.Int("phases").Set(int64(len(r.plan.Phases)))
	r.stats.Int("nodes").Set(int64(r.m.Len()))
	r.stats.Int("items").Set(int64(items))
	r.eventer.Event("bigpipe:start",
		"phases", len(r.plan.Phases),
		"nodes", r.m.Len(),
		"items", items,
		"memory", memory)
	defer func() {
		var msg string
		if err != nil {
			msg = err.Error()
		}
		r.eventer.Event("bigpipe:done",
			"duration", time.Since(start).Seconds(),
			"error", msg)
	}()

	for _, p := range r.plan.Phases {
		for _, n := range p.FlowOrder() {
			var fn func() error
			if x, ok := n.(Preparer); ok {
				fn = x.Prepare
			}
			if err := r.call(p, n, "Prepare", Fresh, InPrepare, AfterPrepare, fn); err != nil {
				return err
			}
		}
	}

	r.tracer.Event(nil, nil, "B", "assignMemory")
	err = r.assignMemory(memory)
	r.tracer.Event(nil, nil, "E", "assignMemory")
	if err != nil {
		return err
	}

	var group *status.Group
	if r.status != nil {
		group = r.status.Groupf("bigpipe: %d phases", len(r.plan.Phases))
	}
	frac := progress.NewFractional(pi)
	subs := make([]*progress.Sub, len(r.plan.Phases))
	for i, p := range r.plan.Phases {
		subs[i] = frac.Sub(p.Name(), float64(p.Steps()))
	}
	frac.Init()
	defer func() {
		if err != nil {
			frac.Stop()
		} else {
			frac.Done()
		}
	}()
	if group != nil {
		defer group.Printf("done")
	}
	for i, p := range r.plan.Phases {
		if group != nil {
			group.Printf("phase %d/%d", i+1, len(r.plan.Phases))
		}
		var task *status.Task
		if group != nil {
			task = group.Startf("%s", p)
		}
		err := r.runPhase(i, subs[i], task)
		if task != nil {
			if err != nil {
				task.Printf("error: %v", err)
			} else {
				task.Printf("done")
			}
			task.Done()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runPhase runs the i'th phase of the plan.
func (r *Runtime) runPhase(i int, pi *progress.Sub, task *status.Task) (err error) {
	defer func() {
		if err == nil {
			pi.Done()
		}
	}()
	p := r.plan.Phases[i]
	log.Debug.Printf("bigpipe: running %s", p)
	if r.plan.EvacuatePrevious[i] {
		if err := r.evacuate(r.plan.Phases[i-1]); err != nil {
			return err
		}
	}
	r.printf(task, "propagate")
	for _, n := range p.FlowOrder() {
		var fn func() error
		if x, ok := n.(Propagator); ok {
			fn = x.Propagate
		}
		if err := r.call(p, n, "Propagate", AfterPrepare, AfterPrepare, AfterPrepare, fn); err != nil {
			return err
		}
	}
	for _, n := range p.Nodes() {
		n.base().progress = pi
	}
	r.printf(task, "begin")
	actors := p.ActorOrder()
	for j := len(actors) - 1; j >= 0; j-- {
		n := actors[j]
		var fn func() error
		if x, ok := n.(Beginner); ok {
			fn = x.Begin
		}
		if err := r.call(p, n, "Begin", AfterPrepare, InBegin, AfterBegin, fn); err != nil {
			return err
		}
	}
	pi.Init(p.Steps())
	r.printf(task, "go")
	for _, n := range p.Initiators() {
		if err := r.call(p, n, "Go", AfterBegin, AfterBegin, AfterBegin, n.(Initiator).Go); err != nil {
			return err
		}
	}
	r.printf(task, "end")
	for _, n := range actors {
		var fn func() error
		if x, ok := n.(Ender); ok {
			fn = x.End
		}
		if err := r.call(p, n, "End", AfterBegin, InEnd, AfterEnd, fn); err != nil {
			return err
		}
	}
	r.stats.Int("phasesDone").Add(1)
	return nil
}

// evacuate asks the nodes of phase p that hold data to move it out
// of memory.
func (r *Runtime) evacuate(p *Phase) error {
	for _, n := range p.Nodes() {
		x, ok := n.(Evacuator)
		if !ok || !x.CanEvacuate() {
			continue
		}
		if err := r.call(p, n, "Evacuate", AfterEnd, AfterEnd, AfterEnd, x.Evacuate); err != nil {
			return err
		}
		log.Debug.Printf("bigpipe: evacuated node %s", n.base())
		r.stats.Int("evacuated").Add(1)
	}
	return nil
}

// assignMemory divides the memory budget among the nodes of each
// phase.
func (r *Runtime) assignMemory(budget uint64) error {
	if budget == 0 {
		log.Printf("WARNING: bigpipe: no memory for pipelining")
	}
	for _, p := range r.plan.Phases {
		nodes := p.FlowOrder()
		reqs := make([]memory.Requirement, len(nodes))
		for i, n := range nodes {
			b := n.base()
			reqs[i] = memory.Requirement{
				Name:     n.Name(),
				Minimum:  b.minimum,
				Maximum:  b.maximum,
				Fraction: b.fraction,
			}
		}
		alloc := memory.Distribute(budget, reqs)
		var table strings.Builder
		memory.WriteTable(&table, reqs, alloc)
		log.Debug.Printf("bigpipe: memory assigned to %s:\n%s", p, table.String())
		if alloc.Oversubscribed {
			w := newError(InsufficientMemory, p.Name(), "%s needs at least %s, but only %s is available",
				p, data.Size(alloc.Total()), data.Size(budget))
			log.Printf("WARNING: %v", w)
			r.warnings = append(r.warnings, w)
			r.stats.Int("oversubscribed").Add(1)
		}
		for i, n := range nodes {
			bytes := alloc.Bytes[i]
			err := protect(n.base(), "SetAvailableMemory", func() error {
				n.SetAvailableMemory(bytes)
				return nil
			})
			if err != nil {
				return err
			}
		}
		r.stats.Prefix(fmt.Sprintf("phase%d", p.Index())).Int("memory").Set(int64(alloc.Total()))
		r.stats.Int("memory").Max(int64(alloc.Total()))
	}
	return nil
}

// call invokes fn, the implementation of the provided lifecycle
// method of node n, after checking that the node is in state from.
// The node is in state during while fn runs, and in state after
// once fn has returned successfully. A nil fn only transitions the
// node's state.
func (r *Runtime) call(p *Phase, n Node, method string, from, during, after State, fn func() error) error {
	b := n.base()
	if b.state != from {
		return newError(CallOrderViolation, b.name, "%s called on %s in state %s, want %s", method, b, b.state, from)
	}
	if fn == nil {
		b.state = after
		return nil
	}
	b.state = during
	r.tracer.Event(p, n, "B", method)
	err := protect(b, method, fn)
	if err != nil {
		r.tracer.Event(p, n, "E", method, "error", err.Error())
		return err
	}
	r.tracer.Event(p, n, "E", method)
	b.state = after
	r.stats.Prefix("calls").Int(method).Add(1)
	return nil
}

// protect calls fn, recovering panics into fatal errors. Errors are
// annotated with the node and method that reported them.
func protect(b *Base, method string, fn func() error) (err error) {
	where := fmt.Sprintf("bigpipe: %s.%s", b, method)
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		log.Error.Printf("%s: panic: %v\n%s", where, e, debug.Stack())
		if cause, ok := e.(error); ok {
			err = errors.E(errors.Fatal, where, cause)
		} else {
			err = errors.E(errors.Fatal, fmt.Sprintf("%s: panic: %v", where, e))
		}
	}()
	if err := fn(); err != nil {
		return errors.E(err, where)
	}
	return nil
}

func (r *Runtime) printf(task *status.Task, format string, args ...interface{}) {
	if task != nil {
		task.Printf(format, args...)
	}
}

// Plan returns the plan compiled by Go, or nil if Go has not been
// called or compilation failed.
func (r *Runtime) Plan() *Plan { return r.plan }

// Warnings returns the warnings raised while running the pipeline.
func (r *Runtime) Warnings() []error { return r.warnings }

// Stats returns a snapshot of the runtime's counters.
func (r *Runtime) Stats() stats.Values { return r.stats.Snapshot() }

// WriteTrace writes the runtime's trace in Chrome's event tracing
// format to w. It returns an error if tracing was not enabled.
func (r *Runtime) WriteTrace(w io.Writer) error {
	if r.tracer == nil {
		return errors.E(errors.Precondition, "bigpipe: tracing not enabled")
	}
	return r.tracer.Marshal(w)
}
