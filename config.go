// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpipe/progress"
)

// DefaultMemory is the default memory budget of a pipeline.
const DefaultMemory = 256 << 20

// Config holds the runtime parameters shared by the pipelines of a
// program.
type Config struct {
	// Memory is the memory budget, in bytes, divided among the nodes
	// of each phase.
	Memory uint64
	// TracePath is the path to which lifecycle traces are written.
	// Empty disables tracing.
	TracePath string
	// Status, if not nil, receives the progress of every pipeline.
	Status *status.Status
}

// Options returns the pipeline options implied by the configuration.
func (c *Config) Options() []Option {
	var opts []Option
	if c.TracePath != "" {
		opts = append(opts, TracePath(c.TracePath))
	}
	if c.Status != nil {
		opts = append(opts, Status(c.Status))
	}
	return opts
}

// Go runs the pipeline comprising final with the configured memory
// budget.
func (c *Config) Go(final Node, items uint64, pi progress.Indicator) error {
	return New(final, c.Options()...).Go(items, pi, c.Memory)
}

func init() {
	config.Register("bigpipe", func(inst *config.Constructor) {
		var (
			memory    int
			tracePath string
			reporting bool
		)
		inst.IntVar(&memory, "memory", DefaultMemory, "memory budget, in bytes, of each pipeline phase")
		inst.StringVar(&tracePath, "trace", "", "path to which lifecycle traces are written")
		inst.BoolVar(&reporting, "status", false, "aggregate pipeline progress in a status object")
		inst.Doc = "bigpipe configures the bigpipe pipelining runtime"
		inst.New = func() (interface{}, error) {
			c := &Config{Memory: uint64(memory), TracePath: tracePath}
			if reporting {
				c.Status = new(status.Status)
			}
			return c, nil
		}
	})
}
