// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package memory divides a memory budget among a set of consumers,
// each declaring a minimum, an optional maximum, and a weight (its
// memory fraction).
package memory

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/grailbio/base/data"
)

// minWeight is the total weight below which weights are considered
// to be all zero.
const minWeight = 1e-9

// A Requirement describes the memory needs of a single consumer.
type Requirement struct {
	// Name is used for diagnostics only.
	Name string
	// Minimum is the smallest number of bytes the consumer can make do
	// with.
	Minimum uint64
	// Maximum is the largest number of bytes the consumer can make use
	// of. Zero means unbounded.
	Maximum uint64
	// Fraction is the consumer's weight when the budget is divided.
	Fraction float64
}

// cap returns the effective maximum of r: a maximum below the
// minimum is raised to the minimum.
func (r Requirement) cap() uint64 {
	if r.Maximum > 0 && r.Maximum < r.Minimum {
		return r.Minimum
	}
	return r.Maximum
}

// An Allocation is the result of distributing a budget.
type Allocation struct {
	// Budget is the budget that was distributed.
	Budget uint64
	// Bytes holds the number of bytes assigned to each requirement,
	// indexed like the requirements passed to Distribute.
	Bytes []uint64
	// Oversubscribed is set when the sum of minimums exceeds the
	// budget. Every consumer is then given exactly its minimum.
	Oversubscribed bool
}

// Total returns the sum of the assigned bytes.
func (a Allocation) Total() uint64 {
	var total uint64
	for _, b := range a.Bytes {
		total += b
	}
	return total
}

// Distribute divides budget among the provided requirements.
//
// Each consumer that has not yet been fixed is offered
// remaining*fraction/weights, where remaining and weights are the
// budget and total weight not yet claimed by fixed consumers. A
// consumer offered less than its minimum is fixed at its minimum,
// which shrinks what is left for everyone else, so the scan restarts
// until no consumer falls short. Consumers offered more than their
// maximum (never less than its minimum) are then capped in the same fashion; capping only ever
// raises the offers made to others. Finally, every unfixed consumer
// receives its offer.
//
// If the minimums together exceed the budget, or no consumer declares
// a positive fraction, every consumer receives exactly its minimum;
// only the former case is reported as Oversubscribed.
func Distribute(budget uint64, reqs []Requirement) Allocation {
	alloc := Allocation{Budget: budget, Bytes: make([]uint64, len(reqs))}
	var (
		minimum uint64
		weights float64
	)
	for _, r := range reqs {
		minimum += r.Minimum
		weights += r.Fraction
	}
	if minimum > budget || weights < minWeight {
		alloc.Oversubscribed = minimum > budget
		for i, r := range reqs {
			alloc.Bytes[i] = r.Minimum
		}
		return alloc
	}

	var (
		fixed     = make([]bool, len(reqs))
		remaining = float64(budget)
	)
	offer := func(i int) float64 {
		if weights < minWeight {
			return 0
		}
		return remaining * reqs[i].Fraction / weights
	}
	fix := func(i int, bytes uint64) {
		fixed[i] = true
		alloc.Bytes[i] = bytes
		remaining -= float64(bytes)
		weights -= reqs[i].Fraction
	}
	for again := true; again; {
		again = false
		for i, r := range reqs {
			if !fixed[i] && offer(i) < float64(r.Minimum) {
				fix(i, r.Minimum)
				again = true
			}
		}
	}
	for again := true; again; {
		again = false
		for i, r := range reqs {
			if limit := r.cap(); !fixed[i] && limit > 0 && offer(i) > float64(limit) {
				fix(i, limit)
				again = true
			}
		}
	}
	for i, r := range reqs {
		if fixed[i] {
			continue
		}
		bytes := uint64(offer(i))
		// Guard against rounding pushing an offer just under the
		// minimum it was checked against.
		if bytes < r.Minimum {
			bytes = r.Minimum
		}
		alloc.Bytes[i] = bytes
	}
	return alloc
}

// WriteTable writes a table of the requirements and their
// allocation to w.
func WriteTable(w io.Writer, reqs []Requirement, alloc Allocation) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintln(&tw, "minimum\tmaximum\tfraction\tassigned\t\tname")
	for i, r := range reqs {
		max := "inf"
		if r.Maximum > 0 {
			max = data.Size(r.Maximum).String()
		}
		fmt.Fprintf(&tw, "%s\t%s\t%.2f\t%s\t\t%s\n",
			data.Size(r.Minimum), max, r.Fraction, data.Size(alloc.Bytes[i]), r.Name)
	}
	tw.Flush()
	if alloc.Oversubscribed {
		fmt.Fprintf(w, "oversubscribed: budget %s\n", data.Size(alloc.Budget))
	}
}
