// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpipe/nodemap"
	"github.com/grailbio/bigpipe/progress"
	"github.com/grailbio/bigpipe/stats"
)

type options struct {
	eventer   eventlog.Eventer
	status    *status.Status
	trace     bool
	tracePath string
}

func makeOptions(opts []Option) options {
	o := options{eventer: eventlog.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// An Option represents a pipeline configuration parameter value.
type Option func(o *options)

// Eventer configures the pipeline with an Eventer that will be used
// to log pipeline events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(o *options) {
		o.eventer = e
	}
}

// Status configures the pipeline with a status object to which the
// progress of its phases is reported.
func Status(status *status.Status) Option {
	return func(o *options) {
		o.status = status
	}
}

// Trace turns on tracing of lifecycle calls. The trace is available
// from Pipeline.WriteTrace.
var Trace Option = func(o *options) {
	o.trace = true
}

// TracePath turns on tracing and configures the path to which the
// trace is written once the pipeline has run.
func TracePath(path string) Option {
	return func(o *options) {
		o.trace = true
		o.tracePath = path
	}
}

// A Pipeline is an assembled graph of nodes, referred to by one of
// its nodes (conventionally the last one).
//
// A pipeline is used as follows:
//
//	sink := nodes.NewSink(func(x int) error { ... })
//	square := nodes.NewMap(func(x int) int { return x * x }, sink)
//	input := nodes.NewInput(items, square)
//	p := bigpipe.New(input)
//	if err := p.Go(uint64(len(items)), nil, 64<<20); err != nil {
//		log.Fatal(err)
//	}
type Pipeline struct {
	final Node
	opts  options
	rt    *Runtime
}

// New returns a pipeline comprising final and every node connected
// to it, configured with the provided options.
func New(final Node, options ...Option) *Pipeline {
	return &Pipeline{final: final, opts: makeOptions(options)}
}

// Map returns the pipeline's authoritative node registry.
func (p *Pipeline) Map() *nodemap.Map[Node] {
	return p.final.Map()
}

// Go runs the pipeline with the provided memory budget, reporting
// progress to pi, which may be nil. See Runtime.Go.
func (p *Pipeline) Go(items uint64, pi progress.Indicator, memory uint64) error {
	p.rt = newRuntime(p.Map(), p.opts)
	err := p.rt.Go(items, pi, memory)
	if p.opts.tracePath != "" {
		writeTraceFile(context.Background(), p.rt.tracer, p.opts.tracePath)
	}
	return err
}

// Plan returns the plan of the last run, or compiles a fresh one if
// the pipeline has not run.
func (p *Pipeline) Plan() (*Plan, error) {
	if p.rt != nil && p.rt.Plan() != nil {
		return p.rt.Plan(), nil
	}
	return Compile(p.Map())
}

// Warnings returns the warnings raised during the last run.
func (p *Pipeline) Warnings() []error {
	if p.rt == nil {
		return nil
	}
	return p.rt.Warnings()
}

// Stats returns the counters recorded during the last run.
func (p *Pipeline) Stats() stats.Values {
	if p.rt == nil {
		return stats.Values{}
	}
	return p.rt.Stats()
}

// WriteTrace writes the trace of the last run to w.
func (p *Pipeline) WriteTrace(w io.Writer) error {
	if p.rt == nil {
		return errors.E(errors.Precondition, "bigpipe: pipeline has not run")
	}
	return p.rt.WriteTrace(w)
}

// Plot writes the pipeline's nodes and relations to w as a graphviz
// digraph. Edges point in the direction items flow; pull relations
// are drawn with their arrowhead at the tail, and dependencies are
// dashed.
func (p *Pipeline) Plot(w io.Writer) error {
	m := p.Map()
	label := func(id nodemap.ID) string {
		n, ok := m.Get(id)
		if !ok {
			return fmt.Sprintf("(unbound) (%d)", id)
		}
		return fmt.Sprintf("%s (%d)", n.Name(), id)
	}
	if _, err := fmt.Fprintln(w, "digraph {"); err != nil {
		return err
	}
	for _, id := range m.IDs() {
		if _, err := fmt.Fprintf(w, "%q;\n", label(id)); err != nil {
			return err
		}
	}
	for _, r := range m.Relations() {
		var err error
		switch r.Kind {
		case nodemap.Pushes:
			_, err = fmt.Fprintf(w, "%q -> %q;\n", label(r.From), label(r.To))
		case nodemap.Pulls:
			_, err = fmt.Fprintf(w, "%q -> %q [arrowhead=none,arrowtail=normal,dir=both];\n", label(r.To), label(r.From))
		case nodemap.Depends, nodemap.ForwardingDepends:
			_, err = fmt.Fprintf(w, "%q -> %q [arrowhead=none,arrowtail=normal,dir=both,style=dashed];\n", label(r.To), label(r.From))
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

// WriteGraph writes a tabular description of the pipeline's plan to
// w: one line per node, grouped by phase in execution order.
func (p *Pipeline) WriteGraph(w io.Writer) error {
	plan, err := p.Plan()
	if err != nil {
		return err
	}
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "phase\tevacuate\tnode\tid\tinitiator\tstate")
	for i, phase := range plan.Phases {
		initiators := make(map[nodemap.ID]bool)
		for _, n := range phase.Initiators() {
			initiators[n.ID()] = true
		}
		for _, n := range phase.FlowOrder() {
			fmt.Fprintf(&tw, "%d\t%v\t%s\t%d\t%v\t%s\n",
				i, plan.EvacuatePrevious[i], n.Name(), n.ID(), initiators[n.ID()], n.base().state)
		}
	}
	return tw.Flush()
}

// OutputMemory writes the memory requirements and assignment of
// every node to w.
func (p *Pipeline) OutputMemory(w io.Writer) error {
	m := p.Map()
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "node\tminimum\tmaximum\tfraction\tavailable")
	for _, id := range m.IDs() {
		n, ok := m.Get(id)
		if !ok {
			continue
		}
		b := n.base()
		max := "inf"
		if b.maximum > 0 {
			max = data.Size(b.maximum).String()
		}
		fmt.Fprintf(&tw, "%s\t%s\t%s\t%.2f\t%s\n",
			n.Name(), data.Size(b.minimum), max, b.fraction, data.Size(b.available))
	}
	return tw.Flush()
}
