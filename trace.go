// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigpipe/nodemap"
)

// traceEvent is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type traceEvent struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// A tracer records the lifecycle calls made by the runtime in the
// Chrome tracing format, which can be visualized with
// chrome://tracing. Each phase is represented as a Chrome "process"
// and each node as a "thread" of its phase. Events that concern the
// pipeline as a whole (compilation, memory assignment) belong to
// process 0.
//
// Matching begin (B) and end (E) events are coalesced into complete
// (X) events when the trace is rendered.
type tracer struct {
	mu sync.Mutex

	events     []traceEvent
	nodeEvents map[nodemap.ID][]traceEvent
	tids       map[nodemap.ID]int
	pids       map[int]bool

	// firstEvent is used to store the time of the first observed
	// event so that the offsets in the trace are meaningful.
	firstEvent time.Time
}

func newTracer() *tracer {
	return &tracer{
		nodeEvents: make(map[nodemap.ID][]traceEvent),
		tids:       make(map[nodemap.ID]int),
		pids:       make(map[int]bool),
	}
}

// Event logs an event of type ph (as in Chrome's tracing format) for
// the call of method on node n of phase p. If n is nil, the event
// concerns the pipeline as a whole. Args is a list of interleaved
// key-value pairs that are attached as event metadata. Args must be
// of even length.
func (t *tracer) Event(p *Phase, n Node, ph, method string, args ...interface{}) {
	if t == nil {
		return
	}
	if len(args)%2 != 0 {
		panic("trace.Event: invalid arguments")
	}
	var event traceEvent
	event.Args = make(map[string]interface{}, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		event.Args[fmt.Sprint(args[i])] = args[i+1]
	}
	event.Ph = ph
	event.Name = method
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstEvent.IsZero() {
		t.firstEvent = time.Now()
		event.Ts = 0
	} else {
		event.Ts = time.Since(t.firstEvent).Nanoseconds() / 1e3
	}
	if p != nil {
		// pid=0 is reserved for pipeline events.
		event.Pid = p.Index() + 1
		if !t.pids[event.Pid] {
			t.pids[event.Pid] = true
			t.events = append(t.events, traceEvent{
				Pid:  event.Pid,
				Ts:   event.Ts,
				Ph:   "M",
				Name: "process_name",
				Args: map[string]interface{}{"name": p.String()},
			})
		}
	}
	var id nodemap.ID
	if n != nil {
		id = n.ID()
		tid, ok := t.tids[id]
		if !ok {
			tid = len(t.tids) + 1
			t.tids[id] = tid
			t.events = append(t.events, traceEvent{
				Pid:  event.Pid,
				Tid:  tid,
				Ts:   event.Ts,
				Ph:   "M",
				Name: "thread_name",
				Args: map[string]interface{}{"name": n.base().String()},
			})
		}
		event.Tid = tid
		event.Cat = "node"
		event.Args["node"] = n.Name()
	} else {
		event.Cat = "pipeline"
	}
	t.nodeEvents[id] = append(t.nodeEvents[id], event)
}

// Marshal writes the trace captured by t into the writer w in
// Chrome's event tracing format.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	events := make([]traceEvent, len(t.events))
	copy(events, t.events)
	ids := make([]nodemap.ID, 0, len(t.nodeEvents))
	for id := range t.nodeEvents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		events = appendCoalesce(events, t.nodeEvents[id])
	}
	t.mu.Unlock()

	envelope := struct {
		TraceEvents []traceEvent `json:"traceEvents"`
	}{events}
	enc := json.NewEncoder(w)
	return enc.Encode(envelope)
}

// appendCoalesce appends events to list, pairing each "E" event
// with the innermost open "B" event into a single "X" event whose
// duration spans the two. Arguments of the "E" event are merged into
// the pair. Unpaired events of either kind are dropped.
func appendCoalesce(list []traceEvent, events []traceEvent) []traceEvent {
	var open []int
	for _, event := range events {
		switch event.Ph {
		case "B":
			open = append(open, len(list))
			list = append(list, event)
		case "E":
			if len(open) == 0 {
				continue
			}
			pair := &list[open[len(open)-1]]
			open = open[:len(open)-1]
			pair.Ph = "X"
			if pair.Dur = event.Ts - pair.Ts; pair.Dur <= 0 {
				pair.Dur = 1
			}
			for k, v := range event.Args {
				if _, ok := pair.Args[k]; !ok {
					pair.Args[k] = v
				}
			}
		default:
			list = append(list, event)
		}
	}
	for i := len(open) - 1; i >= 0; i-- {
		list = append(list[:open[i]], list[open[i]+1:]...)
	}
	return list
}

// writeTraceFile writes the trace recorded by t to path, which may
// name any file implementation registered with grailbio/base/file.
// Failures are logged.
func writeTraceFile(ctx context.Context, t *tracer, path string) {
	f, err := file.Create(ctx, path)
	if err != nil {
		log.Error.Printf("bigpipe: trace %s: %v", path, err)
		return
	}
	if err := t.Marshal(f.Writer(ctx)); err != nil {
		log.Error.Printf("bigpipe: trace %s: %v", path, err)
	}
	if err := f.Close(ctx); err != nil {
		log.Error.Printf("bigpipe: trace %s: %v", path, err)
	}
}
