// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"reflect"
	"testing"
)

func TestAppendCoalesce(t *testing.T) {
	ev := func(ph, name string, ts int64) traceEvent {
		return traceEvent{Ph: ph, Name: name, Ts: ts, Args: map[string]interface{}{}}
	}
	events := []traceEvent{
		ev("E", "orphan", 0),
		ev("B", "outer", 1),
		ev("B", "inner", 2),
		ev("E", "inner", 4),
		ev("E", "outer", 9),
		ev("M", "meta", 10),
		ev("B", "unfinished", 11),
	}
	list := appendCoalesce(nil, events)
	var got []string
	for _, e := range list {
		got = append(got, e.Ph+":"+e.Name)
	}
	if want := []string{"X:outer", "X:inner", "M:meta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := list[0].Dur, int64(8); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := list[1].Dur, int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
