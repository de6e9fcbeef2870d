// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package orch

import (
	"context"
	"strings"
	"testing"

	"github.com/hlrepl/hlrepl/internal/compose"
	"github.com/hlrepl/hlrepl/internal/toolchain"
)

func newTestContext() *EvalContext {
	return New(Options{WorkDir: "/tmp/hlrepl-test", Version: "0.0.0-test"})
}

func TestSetOptionKnownScalars(t *testing.T) {
	ec := newTestContext()
	if err := ec.SetOption("opt_level", "2"); err != nil {
		t.Fatalf("SetOption opt_level failed: %v", err)
	}
	if ec.opts.OptLevel != 2 {
		t.Errorf("expected OptLevel 2, got %d", ec.opts.OptLevel)
	}
	if err := ec.SetOption("offline", "1"); err != nil {
		t.Fatalf("SetOption offline failed: %v", err)
	}
	if !ec.opts.Offline {
		t.Error("expected Offline to be true")
	}
}

func TestSetOptionUnknownNameErrors(t *testing.T) {
	ec := newTestContext()
	if err := ec.SetOption("not_a_real_option", "x"); err == nil {
		t.Error("expected an error for an unknown option name")
	}
}

func TestAddRemoveDependency(t *testing.T) {
	ec := newTestContext()
	if err := ec.AddDependency("serde", "1.0"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}
	if ec.state.Dependencies["serde"].Version != "1.0" {
		t.Errorf("expected dependency recorded, got %+v", ec.state.Dependencies)
	}
	if err := ec.RemoveDependency("serde"); err != nil {
		t.Fatalf("RemoveDependency failed: %v", err)
	}
	if _, ok := ec.state.Dependencies["serde"]; ok {
		t.Error("expected dependency to be removed")
	}
}

func TestRemoveUnknownDependencyErrors(t *testing.T) {
	ec := newTestContext()
	if err := ec.RemoveDependency("nope"); err == nil {
		t.Error("expected an error removing an unknown dependency")
	}
}

func TestVariablesAndClear(t *testing.T) {
	ec := newTestContext()
	ec.state.SetVariable("x", compose.VariableState{TypeName: "i32"})
	vars := ec.Variables()
	if len(vars) != 1 || vars[0].Name != "x" || vars[0].TypeName != "i32" {
		t.Errorf("unexpected variables: %+v", vars)
	}
	ec.ClearVariables()
	if len(ec.Variables()) != 0 {
		t.Error("expected no variables after ClearVariables")
	}
}

func TestCacheStatsWithNoIndex(t *testing.T) {
	ec := newTestContext()
	st, err := ec.CacheStats()
	if err != nil {
		t.Fatalf("CacheStats failed: %v", err)
	}
	if st.Entries != 0 {
		t.Errorf("expected zero-value stats with no cache index, got %+v", st)
	}
}

func TestTypeOfKnownAndUnknownBinding(t *testing.T) {
	ec := newTestContext()
	ec.state.SetVariable("count", compose.VariableState{TypeName: "u32"})
	ty, err := ec.TypeOf("count")
	if err != nil || ty != "u32" {
		t.Errorf("expected type u32, got %q err %v", ty, err)
	}
	if _, err := ec.TypeOf("unknown_name"); err == nil {
		t.Error("expected an error for an untracked name")
	}
}

func TestExplainWithNoDiagnostics(t *testing.T) {
	ec := newTestContext()
	s, err := ec.Explain()
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if s == "" {
		t.Error("expected a non-empty explanation message")
	}
}

func TestVersionFallsBackWhenUnset(t *testing.T) {
	ec := New(Options{WorkDir: "/tmp/hlrepl-test"})
	if ec.Version() != "unknown" {
		t.Errorf("expected fallback version, got %q", ec.Version())
	}
}

func TestHasTypeAnnotationError(t *testing.T) {
	diags := []toolchain.Diagnostic{{Code: "E0308"}}
	if hasTypeAnnotationError(diags) {
		t.Error("expected no type-annotation-required for E0308")
	}
	diags = append(diags, toolchain.Diagnostic{Code: "E0282"})
	if !hasTypeAnnotationError(diags) {
		t.Error("expected type-annotation-required once E0282 is present")
	}
}

func TestRemapDiagnosticTranslatesPrimarySpan(t *testing.T) {
	block := compose.NewCodeBlock()
	block.Push(compose.OriginOtherGenerated, "fn entry() {\n")
	block.PushUser("let x = bogus;", 0, 14)
	generated := block.String()
	offset := strings.Index(generated, "bogus")

	diag := toolchain.Diagnostic{
		Spans: []toolchain.Span{{ByteStart: offset, ByteEnd: offset + 5, IsPrimary: true}},
	}
	remapped := remapDiagnostic(diag, block)
	expected := offset - len("fn entry() {\n")
	if remapped.Spans[0].ByteStart != expected {
		t.Errorf("expected remapped offset %d, got %d", expected, remapped.Spans[0].ByteStart)
	}
}

func TestSetOptionEnvAndBuildEnvPrefixesAreRouted(t *testing.T) {
	ec := newTestContext()
	if err := ec.SetOption("env:RUST_LOG", "debug"); err != nil {
		t.Fatalf("SetOption env: failed: %v", err)
	}
	if err := ec.SetOption("build_env:CARGO_NET_OFFLINE", "true"); err != nil {
		t.Fatalf("SetOption build_env: failed: %v", err)
	}
	if ec.runtimeEnv["RUST_LOG"] != "debug" {
		t.Errorf("expected runtimeEnv[RUST_LOG]=debug, got %v", ec.runtimeEnv)
	}
	if ec.buildEnv["CARGO_NET_OFFLINE"] != "true" {
		t.Errorf("expected buildEnv[CARGO_NET_OFFLINE]=true, got %v", ec.buildEnv)
	}
	if ec.toolchainOptions().ExtraEnv["CARGO_NET_OFFLINE"] != "true" {
		t.Error("expected build_env overrides to reach toolchain.Options.ExtraEnv")
	}
}

func TestPruneNonCopyVariablesKeepsOnlyCopyTypes(t *testing.T) {
	ec := newTestContext()
	ec.state.SetVariable("a", compose.VariableState{TypeName: "i32", IsCopy: true})
	ec.state.SetVariable("s", compose.VariableState{TypeName: "String", IsCopy: false})

	ec.pruneNonCopyVariables()

	if _, ok := ec.state.Variable("a"); !ok {
		t.Error("expected Copy variable a to survive pruning")
	}
	if _, ok := ec.state.Variable("s"); ok {
		t.Error("expected non-Copy variable s to be dropped by pruning")
	}
}

func TestSetOptionFmtEfmtTypesStoreOnComposerState(t *testing.T) {
	ec := newTestContext()
	if err := ec.SetOption("fmt", "{:#?}"); err != nil {
		t.Fatalf("SetOption fmt failed: %v", err)
	}
	if ec.state.DisplayFmt != "{:#?}" {
		t.Errorf("expected DisplayFmt %q, got %q", "{:#?}", ec.state.DisplayFmt)
	}
	if err := ec.SetOption("efmt", "%s: %s"); err != nil {
		t.Fatalf("SetOption efmt failed: %v", err)
	}
	if ec.state.ErrorFmt != "%s: %s" {
		t.Errorf("expected ErrorFmt %q, got %q", "%s: %s", ec.state.ErrorFmt)
	}
	if err := ec.SetOption("types", "1"); err != nil {
		t.Fatalf("SetOption types failed: %v", err)
	}
	if !ec.state.ShowTypes {
		t.Error("expected ShowTypes to be set")
	}
}

func TestSetOptionTimePassesReachesToolchainOptions(t *testing.T) {
	ec := newTestContext()
	if err := ec.SetOption("time_passes", "1"); err != nil {
		t.Fatalf("SetOption time_passes failed: %v", err)
	}
	if !ec.toolchainOptions().TimePasses {
		t.Error("expected TimePasses to reach toolchain.Options")
	}
}

func TestExplainAppliesErrorFmt(t *testing.T) {
	ec := newTestContext()
	ec.lastDiagnostics = []toolchain.Diagnostic{{Severity: toolchain.SeverityError, Message: "bad thing"}}
	ec.state.ErrorFmt = "[%s] %s"
	out, err := ec.Explain()
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if !strings.Contains(out, "[error] bad thing") {
		t.Errorf("expected formatted diagnostic, got %q", out)
	}
}

func TestEvalFragmentRejectsAssignmentToUndeclaredName(t *testing.T) {
	ec := newTestContext()
	outcome, err := ec.evalFragment(context.Background(), "count = 5;")
	if err != nil {
		t.Fatalf("evalFragment failed: %v", err)
	}
	if outcome.Kind != OutcomeParseError {
		t.Errorf("expected OutcomeParseError, got %v", outcome.Kind)
	}
	if !strings.Contains(outcome.Output, "count") {
		t.Errorf("expected the undeclared name in the error message, got %q", outcome.Output)
	}
}

func TestStateSnapshotReflectsComposerState(t *testing.T) {
	ec := newTestContext()
	ec.state.SetVariable("x", compose.VariableState{TypeName: "i32"})
	ec.state.SetItem("item_1", "fn f() {}")
	snap := ec.StateSnapshot()
	if len(snap.VariableNames) != 1 || snap.VariableNames[0] != "x" {
		t.Errorf("unexpected snapshot variables: %v", snap.VariableNames)
	}
	if snap.ItemCount != 1 {
		t.Errorf("expected 1 item, got %d", snap.ItemCount)
	}
}
