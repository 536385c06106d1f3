// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package nodes

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigpipe"
)

// buffer holds the items passed between the two halves of a Buffer,
// either in memory or, once evacuated, in a spill file.
type buffer[T any] struct {
	items []T
	n     int
	path  string
}

// spill writes the buffered items to a temporary file and releases
// them from memory.
func (b *buffer[T]) spill() (err error) {
	f, err := os.CreateTemp("", "bigpipe-buffer-")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(f.Name())
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	for i := range b.items {
		if err := enc.Encode(&b.items[i]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	size, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Debug.Printf("buffer: spilled %d items (%s) to %s", len(b.items), data.Size(size), f.Name())
	b.path = f.Name()
	b.items = nil
	return nil
}

// each calls fn for every buffered item, reading them back from the
// spill file if the buffer was evacuated.
func (b *buffer[T]) each(fn func(T) error) error {
	if b.path == "" {
		for _, item := range b.items {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	}
	f, err := os.Open(b.path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := gob.NewDecoder(bufio.NewReader(f))
	for i := 0; i < b.n; i++ {
		var item T
		if err := dec.Decode(&item); err != nil {
			return errors.E(errors.Invalid, "buffer: reading spilled item", err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func (b *buffer[T]) release() error {
	b.items = nil
	if b.path == "" {
		return nil
	}
	path := b.path
	b.path = ""
	return os.Remove(path)
}

// BufferInput is the first half of a buffer: it stores the items
// pushed to it until its phase ends.
type BufferInput[T any] struct {
	bigpipe.Base
	buf *buffer[T]
}

// Push implements bigpipe.Pusher.
func (n *BufferInput[T]) Push(item T) error {
	n.buf.items = append(n.buf.items, item)
	n.buf.n++
	return nil
}

// End forwards the number of buffered items to the output half.
func (n *BufferInput[T]) End() error {
	n.Forward(ItemsKey, uint64(n.buf.n))
	return nil
}

// CanEvacuate tells whether the buffer holds items in memory.
func (n *BufferInput[T]) CanEvacuate() bool {
	return len(n.buf.items) > 0
}

// Evacuate spills the buffered items to disk.
func (n *BufferInput[T]) Evacuate() error {
	return n.buf.spill()
}

// BufferOutput is the second half of a buffer: it initiates a phase
// that pushes the buffered items to its destination.
type BufferOutput[T any] struct {
	bigpipe.Base
	buf  *buffer[T]
	dest bigpipe.Pusher[T]
}

// Begin declares one step per buffered item.
func (n *BufferOutput[T]) Begin() error {
	if n.CanFetch(ItemsKey) {
		n.SetSteps(bigpipe.FetchAs[uint64](n, ItemsKey))
	}
	return nil
}

// Go pushes the buffered items.
func (n *BufferOutput[T]) Go() error {
	return n.buf.each(func(item T) error {
		if err := n.dest.Push(item); err != nil {
			return err
		}
		n.Step(1)
		return nil
	})
}

// End releases the buffer's memory and spill file.
func (n *BufferOutput[T]) End() error {
	return n.buf.release()
}

// NewBuffer returns the two halves of a buffer that pushes to dest.
// Items pushed to the input are stored until the input's phase ends;
// the output then pushes them to dest in a phase of its own. If a
// phase that does not depend on the buffer runs in between, the
// buffered items are spilled to disk.
func NewBuffer[T any](dest bigpipe.Pusher[T]) (*BufferInput[T], *BufferOutput[T]) {
	buf := new(buffer[T])
	out := &BufferOutput[T]{buf: buf, dest: dest}
	out.Init(out, "buffer output")
	out.AddPushDestination(dest)
	in := &BufferInput[T]{buf: buf}
	in.Init(in, "buffer input")
	out.AddForwardingDependency(in)
	return in, out
}
