// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package progress

import "github.com/grailbio/base/log"

// Resolution is the number of steps a Fractional announces to its
// parent indicator.
const Resolution = 10000

// Fractional divides a parent indicator among a set of
// sub-indicators. Each sub-indicator owns a share of the parent's
// range that is proportional to its weight; stepping through a
// sub-indicator's own range advances the parent through that share.
//
// All sub-indicators must be created before Init is called.
type Fractional struct {
	parent   Indicator
	subs     []*Sub
	reported uint64
	started  bool
}

// NewFractional returns a Fractional reporting to parent.
func NewFractional(parent Indicator) *Fractional {
	if parent == nil {
		parent = Null{}
	}
	return &Fractional{parent: parent}
}

// Sub returns a new sub-indicator with the provided name and weight.
func (f *Fractional) Sub(name string, weight float64) *Sub {
	if f.started {
		log.Panicf("progress.Fractional.Sub(%s): called after Init", name)
	}
	if weight < 0 {
		weight = 0
	}
	s := &Sub{f: f, name: name, weight: weight}
	f.subs = append(f.subs, s)
	return s
}

// Init divides the parent's range among the sub-indicators and
// initializes the parent. When no sub-indicator has a positive
// weight, the range is divided evenly.
func (f *Fractional) Init() {
	f.started = true
	var total float64
	for _, s := range f.subs {
		total += s.weight
	}
	var assigned uint64
	for i, s := range f.subs {
		switch {
		case i == len(f.subs)-1:
			s.share = Resolution - assigned
		case total > 0:
			s.share = uint64(Resolution * s.weight / total)
		default:
			s.share = Resolution / uint64(len(f.subs))
		}
		assigned += s.share
	}
	f.parent.Init(Resolution)
}

// Done completes the parent indicator, accounting for any share not
// yet reported.
func (f *Fractional) Done() {
	if f.reported < Resolution {
		f.parent.Step(Resolution - f.reported)
		f.reported = Resolution
	}
	f.parent.Done()
}

// Stop completes the parent indicator without reporting the share
// not yet reported. It is used when the work is abandoned.
func (f *Fractional) Stop() {
	f.parent.Done()
}

func (f *Fractional) step(n uint64) {
	if n == 0 {
		return
	}
	f.reported += n
	f.parent.Step(n)
}

// Sub is a sub-indicator of a Fractional.
type Sub struct {
	f      *Fractional
	name   string
	weight float64
	share  uint64

	steps, current, reported uint64
}

// Name returns the name of the sub-indicator.
func (s *Sub) Name() string { return s.name }

// Init implements Indicator.
func (s *Sub) Init(steps uint64) {
	s.steps = steps
	s.current = 0
}

// Step implements Indicator.
func (s *Sub) Step(steps uint64) {
	s.current += steps
	if s.current > s.steps {
		s.current = s.steps
	}
	s.advance()
}

// Done implements Indicator. The sub-indicator's whole share is
// accounted for, whether or not all of its steps were taken.
func (s *Sub) Done() {
	s.current = s.steps
	s.f.step(s.share - s.reported)
	s.reported = s.share
}

func (s *Sub) advance() {
	if s.steps == 0 {
		return
	}
	target := s.share * s.current / s.steps
	if target > s.reported {
		s.f.step(target - s.reported)
		s.reported = target
	}
}
