// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package analyzer

import "testing"

func TestAnalyzeTrailingExpression(t *testing.T) {
	frag, err := Analyze("1 + 2")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if frag.Kind != KindTrailingExpression {
		t.Errorf("expected KindTrailingExpression, got %v", frag.Kind)
	}
}

func TestAnalyzeStatements(t *testing.T) {
	frag, err := Analyze("let x = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if frag.Kind != KindStatements {
		t.Errorf("expected KindStatements, got %v", frag.Kind)
	}
	if len(frag.Bindings) != 1 || frag.Bindings[0].Name != "x" {
		t.Errorf("expected binding x, got %+v", frag.Bindings)
	}
}

func TestAnalyzeBindingWithTypeHintAndMut(t *testing.T) {
	frag, err := Analyze("let mut count: u32 = 0;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(frag.Bindings))
	}
	b := frag.Bindings[0]
	if b.Name != "count" || !b.IsMutable || b.TypeHint != "u32" {
		t.Errorf("unexpected binding: %+v", b)
	}
}

func TestAnalyzeItem(t *testing.T) {
	frag, err := Analyze("fn square(x: i32) -> i32 { x * x }")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if frag.Kind != KindItems {
		t.Errorf("expected KindItems, got %v", frag.Kind)
	}
}

func TestAnalyzeMixed(t *testing.T) {
	frag, err := Analyze("fn helper() -> i32 { 1 } let y = helper();")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if frag.Kind != KindMixed {
		t.Errorf("expected KindMixed, got %v", frag.Kind)
	}
}

func TestAnalyzeDirective(t *testing.T) {
	frag, err := Analyze(":dep serde = \"1\"")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if frag.Kind != KindDirective {
		t.Errorf("expected KindDirective, got %v", frag.Kind)
	}
}

func TestAnalyzeIncompleteFragment(t *testing.T) {
	_, err := Analyze("fn broken() {")
	if err != ErrFragmentIncomplete {
		t.Errorf("expected ErrFragmentIncomplete, got %v", err)
	}
}

func TestAnalyzeUnmatchedClose(t *testing.T) {
	_, err := Analyze("}")
	if err != ErrParse {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestAnalyzeIgnoresDelimitersInStringsAndComments(t *testing.T) {
	frag, err := Analyze(`let s = "{ not a brace }"; // } also ignored` + "\n" + "s")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.Bindings) != 1 || frag.Bindings[0].Name != "s" {
		t.Errorf("expected binding s, got %+v", frag.Bindings)
	}
	if frag.Kind != KindMixed && frag.Kind != KindStatements {
		t.Errorf("unexpected kind: %v", frag.Kind)
	}
}

func TestAnalyzeUsePath(t *testing.T) {
	frag, err := Analyze("use std::collections::HashMap;\nlet m = HashMap::new();")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.Uses) != 1 || frag.Uses[0].Path != "std::collections::HashMap" {
		t.Errorf("expected use path std::collections::HashMap, got %+v", frag.Uses)
	}
}

func TestAnalyzeAccumulatesCrateAttrs(t *testing.T) {
	frag, err := Analyze("#![allow(non_ascii_idents)] let a = 10;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.CrateAttrs) != 1 || frag.CrateAttrs[0] != "#![allow(non_ascii_idents)]" {
		t.Errorf("expected one crate attribute, got %+v", frag.CrateAttrs)
	}
	if len(frag.Bindings) != 1 || frag.Bindings[0].Name != "a" {
		t.Errorf("expected binding a alongside the attribute, got %+v", frag.Bindings)
	}
}

func TestAnalyzeMultipleCrateAttrsAccumulate(t *testing.T) {
	frag, err := Analyze("#![allow(dead_code)]\n#![allow(unused)]\nlet a = 1;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.CrateAttrs) != 2 {
		t.Errorf("expected two crate attributes, got %+v", frag.CrateAttrs)
	}
}

func TestAnalyzeDetectsBareAssignment(t *testing.T) {
	frag, err := Analyze("count = 5;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.BareAssignments) != 1 || frag.BareAssignments[0] != "count" {
		t.Errorf("expected bare assignment to count, got %+v", frag.BareAssignments)
	}
}

func TestAnalyzeLetBindingIsNotABareAssignment(t *testing.T) {
	frag, err := Analyze("let mut count: u32 = 0;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.BareAssignments) != 0 {
		t.Errorf("expected no bare assignments for a let binding, got %+v", frag.BareAssignments)
	}
}

func TestAnalyzeIgnoresCompoundAndComparisonOperators(t *testing.T) {
	frag, err := Analyze("count += 1; let ok = count == 5;")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(frag.BareAssignments) != 0 {
		t.Errorf("expected no bare assignments from += or ==, got %+v", frag.BareAssignments)
	}
}

func TestScannerSkipsBlockComments(t *testing.T) {
	sc := NewFromString("/* a { nested */ x")
	item, err := sc.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if item.Token != COMMENT {
		t.Fatalf("expected COMMENT, got %v", item.Token)
	}
	name, err := sc.ScanName()
	if err != nil {
		t.Fatalf("ScanName failed: %v", err)
	}
	if name != "x" {
		t.Errorf("expected x, got %q", name)
	}
}
