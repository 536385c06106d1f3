// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package nodes

import (
	"errors"
	"os"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigpipe"
	"github.com/grailbio/bigpipe/progress"
	"github.com/grailbio/testutil/assert"
)

func collect[T any](out *[]T) *Sink[T] {
	return NewSink(func(x T) error {
		*out = append(*out, x)
		return nil
	})
}

func TestPush(t *testing.T) {
	var out []int
	sink := collect(&out)
	even := NewFilter(func(x int) bool { return x%2 == 0 }, sink)
	square := NewMap(func(x int) int { return x * x }, even)
	input := NewInput([]int{1, 2, 3, 4}, square)
	var rec progress.Recorder
	assert.NoError(t, bigpipe.New(input).Go(4, &rec, 1<<20))
	if got, want := out, []int{4, 16}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := bigpipe.FetchAs[uint64](sink, ItemsKey), uint64(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if current, steps := rec.Progress(); current != steps {
		t.Errorf("progress %d/%d", current, steps)
	}
}

func TestPull(t *testing.T) {
	var out []string
	input := NewPullInput([]string{"a", "b", "c"})
	output := NewPullOutput[string](input, func(s string) error {
		out = append(out, s)
		return nil
	})
	assert.NoError(t, bigpipe.New(output).Go(3, nil, 1<<20))
	if got, want := out, []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := output.Steps(), uint64(3); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSinkError(t *testing.T) {
	errStop := errors.New("stop")
	sink := NewSink(func(int) error { return errStop })
	input := NewInput([]int{1}, sink)
	err := bigpipe.New(input).Go(1, nil, 1<<20)
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := bigpipe.KindOf(err), bigpipe.Other; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

type record struct {
	Key   string
	Value int
	Tags  []string
}

func TestBuffer(t *testing.T) {
	var items []record
	fz := fuzz.New().NilChance(0).NumElements(1, 100)
	fz.Fuzz(&items)
	var out []record
	sink := collect(&out)
	in, bufOut := NewBuffer[record](sink)
	input := NewInput(items, in)
	p := bigpipe.New(input)
	assert.NoError(t, p.Go(uint64(len(items)), nil, 1<<20))
	if got, want := out, items; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	plan, err := p.Plan()
	assert.NoError(t, err)
	if got, want := len(plan.Phases), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := bufOut.Steps(), uint64(len(items)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestBufferEvacuate runs an unrelated phase between the two halves
// of a buffer, so that the buffer is evacuated to disk.
func TestBufferEvacuate(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	var out []int
	sink := collect(&out)
	in, bufOut := NewBuffer[int](sink)
	input := NewInput(items, in)

	var spilled bool
	other := NewInput([]int{0}, NewSink(func(int) error {
		path := in.buf.path
		if path == "" {
			return nil
		}
		_, err := os.Stat(path)
		spilled = err == nil
		return nil
	}))
	bufOut.AddDependency(other)

	p := bigpipe.New(input)
	assert.NoError(t, p.Go(uint64(len(items)), nil, 1<<20))
	if !spilled {
		t.Error("buffer was not spilled while the unrelated phase ran")
	}
	if got, want := out, items; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if in.buf.path != "" {
		t.Error("spill file not released")
	}
	if got, want := p.Stats()["evacuated"], int64(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSpill(t *testing.T) {
	buf := &buffer[string]{items: []string{"x", "y"}, n: 2}
	assert.NoError(t, buf.spill())
	path := buf.path
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	var got []string
	assert.NoError(t, buf.each(func(s string) error {
		got = append(got, s)
		return nil
	}))
	if want := []string{"x", "y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	assert.NoError(t, buf.release())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spill file %s not removed", path)
	}
}
