// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package progress provides progress indicators for long-running
// pipelines. An Indicator is initialized with the number of steps it
// expects, stepped as work completes, and marked done at the end.
// Fractional indicators divide a single parent indicator among a
// number of sub-indicators, one per pipeline phase.
package progress

import (
	"sync"

	"github.com/grailbio/base/status"
)

// Indicator receives progress reports.
type Indicator interface {
	// Init announces that the work comprises the given number of steps.
	Init(steps uint64)
	// Step reports that the given number of steps have completed.
	Step(steps uint64)
	// Done reports that the work is complete.
	Done()
}

// Null is an Indicator that discards all reports.
type Null struct{}

// Init implements Indicator.
func (Null) Init(uint64) {}

// Step implements Indicator.
func (Null) Step(uint64) {}

// Done implements Indicator.
func (Null) Done() {}

// A Recorder is an Indicator that remembers what it was told. It is
// safe for concurrent use.
type Recorder struct {
	mu                   sync.Mutex
	steps, current       uint64
	inits, dones, events int
}

// Init implements Indicator.
func (r *Recorder) Init(steps uint64) {
	r.mu.Lock()
	r.steps = steps
	r.current = 0
	r.inits++
	r.events++
	r.mu.Unlock()
}

// Step implements Indicator.
func (r *Recorder) Step(steps uint64) {
	r.mu.Lock()
	r.current += steps
	r.events++
	r.mu.Unlock()
}

// Done implements Indicator.
func (r *Recorder) Done() {
	r.mu.Lock()
	r.dones++
	r.events++
	r.mu.Unlock()
}

// Progress returns the number of steps stepped since the last Init
// and the number of steps announced by it.
func (r *Recorder) Progress() (current, steps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.steps
}

// Calls returns the number of calls to Init and Done.
func (r *Recorder) Calls() (inits, dones int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inits, r.dones
}

// Status is an Indicator that reports progress on a status task.
type Status struct {
	task           *status.Task
	steps, current uint64
	percent        int
}

// NewStatus starts a new task with the provided name in group and
// returns an indicator that reports to it.
func NewStatus(group *status.Group, name string) *Status {
	return &Status{task: group.Startf("%s", name), percent: -1}
}

// Init implements Indicator.
func (s *Status) Init(steps uint64) {
	s.steps = steps
	s.current = 0
	s.percent = -1
	s.report()
}

// Step implements Indicator.
func (s *Status) Step(steps uint64) {
	s.current += steps
	s.report()
}

// Done implements Indicator.
func (s *Status) Done() {
	s.task.Printf("done: %d/%d", s.current, s.steps)
	s.task.Done()
}

// report updates the task's status whenever the completed percentage
// changes.
func (s *Status) report() {
	percent := 100
	if s.steps > 0 {
		percent = int(100 * s.current / s.steps)
	}
	if percent == s.percent {
		return
	}
	s.percent = percent
	s.task.Printf("%d/%d (%d%%)", s.current, s.steps, percent)
}
