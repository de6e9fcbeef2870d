// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package hlrepl

import (
	"testing"

	"github.com/hlrepl/hlrepl/internal/orch"
	"github.com/hlrepl/hlrepl/internal/toolchain"
)

func TestNewAppliesOptions(t *testing.T) {
	var gotEvent Event
	r := New(
		WithWorkDir("/tmp/hlrepl-pkg-test"),
		WithToolchain("stable"),
		WithOffline(true),
		WithOptLevel(1),
		WithMemoryCache(),
		WithCacheBudgetMB(64),
		WithVersion("9.9.9"),
		WithStreamCallback(func(e Event) { gotEvent = e }),
	)
	if r.workDir != "/tmp/hlrepl-pkg-test" {
		t.Errorf("unexpected workDir: %q", r.workDir)
	}
	if r.toolchain != "stable" || !r.offline || r.optLevel != 1 {
		t.Errorf("options not applied: %+v", r)
	}
	if r.cacheIndex == nil {
		t.Error("expected a memory cache index to be set")
	}
	r.forwardEvent(orch.Event{Kind: orch.EventProgress, Text: "compiling"})
	if gotEvent.Text != "compiling" {
		t.Errorf("expected stream callback to be invoked, got %+v", gotEvent)
	}
}

func TestStateReflectsEmptyRuntime(t *testing.T) {
	r := New(WithWorkDir("/tmp/hlrepl-pkg-test-2"))
	snap := r.State()
	if len(snap.VariableNames) != 0 || snap.ItemCount != 0 {
		t.Errorf("expected empty snapshot for a fresh runtime, got %+v", snap)
	}
}

func TestOutcomeKindStringMatchesOrch(t *testing.T) {
	if OutcomeBuildError.String() != orch.OutcomeBuildError.String() {
		t.Errorf("expected matching String() across hlrepl and orch OutcomeKind")
	}
}

func TestConvertDiagnosticAttachesHint(t *testing.T) {
	d := convertDiagnostic(toolchain.Diagnostic{Code: "E0597"})
	if d.Hint == "" {
		t.Error("expected a hint for E0597")
	}
}
