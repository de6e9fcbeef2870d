// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package compose

import (
	"errors"
	"strings"
	"testing"

	"github.com/hlrepl/hlrepl/internal/analyzer"
)

func TestCodeBlockRemapToUser(t *testing.T) {
	b := NewCodeBlock()
	b.Push(OriginOtherGenerated, "fn entry() {\n")
	b.PushUser("let x = 1;", 0, 10)
	b.Push(OriginOtherGenerated, "\n}\n")

	generated := b.String()
	userStart := strings.Index(generated, "let x = 1;")
	if userStart < 0 {
		t.Fatal("user segment not found in generated source")
	}

	for i := 0; i < len("let x = 1;"); i++ {
		got, ok := b.RemapToUser(userStart + i)
		if !ok {
			t.Fatalf("expected remap success at generated offset %d", userStart+i)
		}
		if got != i {
			t.Errorf("offset %d: expected user offset %d, got %d", userStart+i, i, got)
		}
	}

	// Offsets inside generated-only text must not remap.
	if _, ok := b.RemapToUser(0); ok {
		t.Error("expected generated-preamble offset to not remap")
	}
}

func TestComposeTracksNewBinding(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("let x = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if len(draft.NewVariables) != 1 || draft.NewVariables[0] != "x" {
		t.Errorf("expected new variable x, got %v", draft.NewVariables)
	}
	if _, ok := state.Variable("x"); ok {
		t.Error("base state must not be mutated by Compose")
	}
	if _, ok := draft.State.Variable("x"); !ok {
		t.Error("draft state must track the new variable")
	}
	if !strings.Contains(draft.Source.String(), draft.EntryFunc) {
		t.Error("generated source must define the entry function")
	}
}

func TestComposeItemPersistsAcrossEvals(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("fn square(x: i32) -> i32 { x * x }")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(draft.State.Items()) != 1 {
		t.Fatalf("expected 1 item tracked, got %d", len(draft.State.Items()))
	}

	// Commit the draft, then compose a second, unrelated fragment; the
	// item from the first eval must still be present in generated
	// source for the second.
	committed := draft.State
	frag2, err := analyzer.Analyze("square(2)")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft2, err := Compose(committed, frag2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.Contains(draft2.Source.String(), "fn square") {
		t.Error("expected square item to persist into second eval's generated source")
	}
}

func TestComposeMarksKnownPrimitivesCopy(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("let a: i32 = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	vs, ok := draft.State.Variable("a")
	if !ok {
		t.Fatal("expected variable a to be tracked")
	}
	if !vs.IsCopy {
		t.Error("expected i32 binding to be marked Copy")
	}
}

func TestComposeLeavesUnknownTypesNonCopy(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("let s: String = String::new();")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	vs, ok := draft.State.Variable("s")
	if !ok {
		t.Fatal("expected variable s to be tracked")
	}
	if vs.IsCopy {
		t.Error("expected String binding to not be marked Copy")
	}
}

func TestComposeRestoresVariablesInDeclarationOrder(t *testing.T) {
	state := New()
	for _, src := range []string{"let z: i32 = 1;", "let a: i32 = 2;", "let m: i32 = 3;"} {
		frag, err := analyzer.Analyze(src)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		draft, err := Compose(state, frag)
		if err != nil {
			t.Fatalf("Compose failed: %v", err)
		}
		state = draft.State
	}

	frag, err := analyzer.Analyze("z + a + m")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	src := draft.Source.String()
	zIdx := strings.Index(src, `take::<i32>("z")`)
	aIdx := strings.Index(src, `take::<i32>("a")`)
	mIdx := strings.Index(src, `take::<i32>("m")`)
	if zIdx < 0 || aIdx < 0 || mIdx < 0 {
		t.Fatalf("expected all three restores present in generated source:\n%s", src)
	}
	if !(zIdx < aIdx && aIdx < mIdx) {
		t.Errorf("expected restores in declaration order z, a, m; got offsets %d, %d, %d", zIdx, aIdx, mIdx)
	}
}

func TestComposeEmitsCrateAttrsOnceAtTopOfUnit(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("#![allow(dead_code)] let a = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	src := draft.Source.String()
	if strings.Count(src, "#![allow(dead_code)]") != 2 {
		// Once emitted at the top from ComposerState.CrateAttrs, once
		// left inline in the fragment's own source, which is still
		// valid as a redundant inner attribute at the start of the
		// entry function body.
		t.Errorf("expected the attribute to appear exactly twice, got:\n%s", src)
	}
	if idx := strings.Index(src, "#![allow(dead_code)]"); idx > strings.Index(src, "fn "+draft.EntryFunc) {
		t.Error("expected the accumulated crate attribute before the entry function")
	}
}

func TestComposeAccumulatesCrateAttrsAcrossEvals(t *testing.T) {
	state := New()
	frag1, err := analyzer.Analyze("#![allow(dead_code)] let a = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft1, err := Compose(state, frag1)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	frag2, err := analyzer.Analyze("#![allow(unused)] let b = 2;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft2, err := Compose(draft1.State, frag2)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(draft2.State.CrateAttrs) != 2 {
		t.Errorf("expected both attributes accumulated, got %+v", draft2.State.CrateAttrs)
	}
}

func TestComposeRejectsAssignmentToUndeclaredName(t *testing.T) {
	state := New()
	frag, err := analyzer.Analyze("count = 5;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	_, err = Compose(state, frag)
	if err == nil {
		t.Fatal("expected Compose to reject assignment to an undeclared name")
	}
	var uae *UndeclaredAssignmentError
	if !errors.As(err, &uae) {
		t.Fatalf("expected an *UndeclaredAssignmentError, got %v (%T)", err, err)
	}
	if uae.Name != "count" {
		t.Errorf("expected undeclared name count, got %q", uae.Name)
	}
}

func TestComposeAllowsAssignmentToKnownVariable(t *testing.T) {
	state := New()
	frag1, err := analyzer.Analyze("let mut count = 0;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft1, err := Compose(state, frag1)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	frag2, err := analyzer.Analyze("count = 5;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if _, err := Compose(draft1.State, frag2); err != nil {
		t.Errorf("expected assignment to a known variable to succeed, got %v", err)
	}
}

func TestComposeShowTypesUsesDisplayTyped(t *testing.T) {
	state := New()
	state.ShowTypes = true
	frag, err := analyzer.Analyze("1 + 2")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.Contains(draft.Source.String(), "hlrepl_runtime::display_typed") {
		t.Error("expected display_typed to be used when ShowTypes is set")
	}
}

func TestComposeCustomDisplayFmtIsSpliced(t *testing.T) {
	state := New()
	state.DisplayFmt = "{:#?}"
	frag, err := analyzer.Analyze("1 + 2")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	draft, err := Compose(state, frag)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !strings.Contains(draft.Source.String(), `println!("{:#?}", (`) {
		t.Errorf("expected the custom display format spliced into generated source:\n%s", draft.Source.String())
	}
}

func TestComposerStateCloneIsIndependent(t *testing.T) {
	state := New()
	state.SetVariable("a", VariableState{TypeName: "i32"})
	clone := state.Clone()
	clone.SetVariable("b", VariableState{TypeName: "i32"})

	if _, ok := state.Variable("b"); ok {
		t.Error("mutating a clone must not affect the original")
	}
	if _, ok := clone.Variable("a"); !ok {
		t.Error("clone must retain variables present at clone time")
	}
}
