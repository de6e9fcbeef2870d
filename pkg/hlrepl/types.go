// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package hlrepl

import (
	"github.com/hlrepl/hlrepl/internal/orch"
	"github.com/hlrepl/hlrepl/internal/toolchain"
)

// EventKind classifies one streamed Event produced during Eval.
type EventKind int

const (
	EventOutput EventKind = iota
	EventDisplayArtifact
	EventProgress
	EventDiagnostic
)

// Event is one unit of streamed output from an in-progress eval,
// delivered to a StreamCallback as it happens.
type Event struct {
	Kind         EventKind
	Text         string
	MimeType     string // set when Kind == EventDisplayArtifact
	ArtifactData []byte // set when Kind == EventDisplayArtifact
	Diagnostic   Diagnostic
}

// Diagnostic is one compiler diagnostic, with spans already remapped
// onto the user's own fragment text.
type Diagnostic struct {
	Severity string
	Code     string
	Message  string
	Rendered string
	Hint     string
}

// OutcomeKind classifies how one Eval call concluded.
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
	return orch.OutcomeKind(k).String()
}

// Outcome is the result of one Eval call.
type Outcome struct {
	Kind        OutcomeKind
	Output      string
	Diagnostics []Diagnostic
	Quit        bool
}

// StateSnapshot is a read-only view of the runtime's accumulated
// compilation-unit state.
type StateSnapshot struct {
	VariableNames []string
	ItemCount     int
	UsePaths      []string
}

func convertDiagnostic(d toolchain.Diagnostic) Diagnostic {
	hint, _ := toolchain.Hint(d.Code)
	return Diagnostic{
		Severity: string(d.Severity),
		Code:     d.Code,
		Message:  d.Message,
		Rendered: d.Rendered,
		Hint:     hint,
	}
}

func convertEvent(e orch.Event) Event {
	out := Event{Kind: EventKind(e.Kind), Text: e.Text}
	if e.Kind == orch.EventDisplayArtifact {
		out.MimeType = e.Artifact.MimeType
		out.ArtifactData = e.Artifact.Data
	}
	if e.Kind == orch.EventDiagnostic {
		out.Diagnostic = convertDiagnostic(e.Diag)
	}
	return out
}

func convertOutcome(o orch.EvalOutcome) Outcome {
	diags := make([]Diagnostic, len(o.Diagnostics))
	for i, d := range o.Diagnostics {
		diags[i] = convertDiagnostic(d)
	}
	return Outcome{
		Kind:        OutcomeKind(o.Kind),
		Output:      o.Output,
		Diagnostics: diags,
		Quit:        o.Quit,
	}
}

func convertSnapshot(s orch.StateSnapshot) StateSnapshot {
	return StateSnapshot{
		VariableNames: s.VariableNames,
		ItemCount:     s.ItemCount,
		UsePaths:      s.UsePaths,
	}
}
