// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpipe

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Kind classifies the errors reported by the pipeline runtime.
type Kind int

const (
	// Other is the kind of errors that do not originate in the
	// runtime, for example those returned by node methods.
	Other Kind = iota
	// DisconnectedRegistry indicates that a node map that was merged
	// into another one was used to schedule a pipeline.
	DisconnectedRegistry
	// NoInitiatorNode indicates that a phase has no node without
	// incoming push or pull relations.
	NoInitiatorNode
	// NotInitiatorNode indicates that a node in initiator position
	// does not implement Initiator.
	NotInitiatorNode
	// CyclicPhaseGraph indicates that the dependencies between
	// phases form a cycle.
	CyclicPhaseGraph
	// CyclicItemFlow indicates that items flow in a cycle within a
	// phase.
	CyclicItemFlow
	// CallOrderViolation indicates that a node was driven, or drove
	// itself, through its lifecycle out of order.
	CallOrderViolation
	// InsufficientMemory indicates that the minimum memory
	// requirements of a phase exceed the memory budget. It is
	// reported as a warning; the pipeline still runs.
	InsufficientMemory
	// EmptyPipeline indicates that the pipeline has no nodes.
	EmptyPipeline

	maxKind
)

var kindNames = [maxKind]string{
	Other:                "other",
	DisconnectedRegistry: "disconnected node registry",
	NoInitiatorNode:      "no initiator node",
	NotInitiatorNode:     "not an initiator node",
	CyclicPhaseGraph:     "cyclic phase graph",
	CyclicItemFlow:       "cyclic item flow",
	CallOrderViolation:   "call order violation",
	InsufficientMemory:   "insufficient memory",
	EmptyPipeline:        "empty pipeline",
}

// String returns a description of the kind.
func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is an error reported by the pipeline runtime.
type Error struct {
	// Kind is the error's kind.
	Kind Kind
	// Node is the name of the node or phase the error concerns, if
	// any.
	Node string
	// Message is a human readable description of the error.
	Message string
}

func newError(kind Kind, node string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Node: node, Message: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("bigpipe: ")
	b.WriteString(e.Kind.String())
	if e.Node != "" {
		b.WriteString(" (")
		b.WriteString(e.Node)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// KindOf returns the kind of the runtime error at the bottom of err's
// chain of causes. Errors that were not reported by the runtime have
// kind Other.
func KindOf(err error) Kind {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind
		case *errors.Error:
			err = e.Err
		default:
			u, ok := err.(interface{ Unwrap() error })
			if !ok {
				return Other
			}
			err = u.Unwrap()
		}
	}
	return Other
}

// IsKind tells whether err is a non-nil error of the provided kind.
func IsKind(kind Kind, err error) bool {
	return err != nil && KindOf(err) == kind
}
