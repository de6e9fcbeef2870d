// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package orch implements the eval loop's state machine: analyze a
// fragment, compose a draft compilation unit, build it, and either run
// it in the child process and reconcile variable state, or remap the
// failure back onto the user's fragment and discard the draft.
package orch

import (
	"github.com/hlrepl/hlrepl/internal/child"
	"github.com/hlrepl/hlrepl/internal/toolchain"
)

// EventKind classifies one streamed Event produced during Evaluate.
type EventKind int

const (
	EventOutput EventKind = iota
	EventDisplayArtifact
	EventProgress
	EventDiagnostic
)

// Event is one unit of streamed output from an in-progress eval,
// delivered to the caller's StreamCallback as it happens rather than
// buffered until the eval finishes.
type Event struct {
	Kind     EventKind
	Text     string
	Artifact child.DisplayArtifact
	Diag     toolchain.Diagnostic
}

// OutcomeKind classifies how one Evaluate call concluded.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeFragmentIncomplete
	OutcomeParseError
	OutcomeBuildError
	OutcomeTypeAnnotationRequired
	OutcomeChildCrashed
	OutcomeChildPanic
	OutcomeDirectiveError
	OutcomeCancelled
	OutcomeDirectiveResult
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeFragmentIncomplete:
		return "fragment-incomplete"
	case OutcomeParseError:
		return "parse-error"
	case OutcomeBuildError:
		return "build-error"
	case OutcomeTypeAnnotationRequired:
		return "type-annotation-required"
	case OutcomeChildCrashed:
		return "child-crashed"
	case OutcomeChildPanic:
		return "child-panic"
	case OutcomeDirectiveError:
		return "directive-error"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeDirectiveResult:
		return "directive-result"
	}
	return "unknown"
}

// EvalOutcome is the result of one Evaluate call.
type EvalOutcome struct {
	Kind        OutcomeKind
	Output      string
	Diagnostics []toolchain.Diagnostic
	Quit        bool
}

// Completion is one candidate identifier offered at a given cursor
// position.
type Completion struct {
	Text string
}

// StateSnapshot is a read-only view of the current composer/variable
// state, used by front-ends for prompts and by tests.
type StateSnapshot struct {
	VariableNames []string
	ItemCount     int
	UsePaths      []string
}
