// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package toolchain

import (
	"strings"
	"testing"
)

func TestParseDiagnosticsSkipsNonJSONLines(t *testing.T) {
	input := strings.NewReader(`not json
{"message":"mismatched types","level":"error","code":{"code":"E0308"},"spans":[{"file_name":"src/lib.hl","byte_start":10,"byte_end":15,"is_primary":true,"label":"expected i32"}]}
also not json
`)
	diags, err := ParseDiagnostics(input)
	if err != nil {
		t.Fatalf("ParseDiagnostics failed: %v", err)
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	d := diags[0]
	if d.Code != "E0308" || d.Severity != SeverityError {
		t.Errorf("unexpected diagnostic: %+v", d)
	}
	span, ok := d.PrimarySpan()
	if !ok || span.ByteStart != 10 || span.ByteEnd != 15 {
		t.Errorf("unexpected primary span: %+v", span)
	}
}

func TestHasErrors(t *testing.T) {
	diags := []Diagnostic{{Severity: SeverityWarning}, {Severity: SeverityNote}}
	if HasErrors(diags) {
		t.Error("expected no errors among warning/note diagnostics")
	}
	diags = append(diags, Diagnostic{Severity: SeverityError})
	if !HasErrors(diags) {
		t.Error("expected HasErrors to detect the error diagnostic")
	}
}

func TestHint(t *testing.T) {
	if _, ok := Hint("E0382"); !ok {
		t.Error("expected a hint for E0382")
	}
	if _, ok := Hint("E9999"); ok {
		t.Error("expected no hint for an unknown code")
	}
}

func TestCacheKeyStableForIdenticalInputs(t *testing.T) {
	opts := Options{Toolchain: "hlc", OptLevel: 1}
	a := cacheKey("fn x() {}", opts)
	b := cacheKey("fn x() {}", opts)
	if a != b {
		t.Error("expected identical cache keys for identical source and options")
	}
	c := cacheKey("fn y() {}", opts)
	if a == c {
		t.Error("expected different cache keys for different source")
	}
}

func TestBuildArgsIncludesOfflineAndLinker(t *testing.T) {
	args, err := buildArgs(Options{Linker: "lld", Offline: true, OptLevel: 2})
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--linker lld") {
		t.Errorf("expected --linker lld in args: %v", args)
	}
	if !strings.Contains(joined, "--offline") {
		t.Errorf("expected --offline in args: %v", args)
	}
	if !strings.Contains(joined, "--opt-level=2") {
		t.Errorf("expected --opt-level=2 in args: %v", args)
	}
}

func TestBuildArgsIncludesTimePasses(t *testing.T) {
	args, err := buildArgs(Options{TimePasses: true})
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--time-passes") {
		t.Errorf("expected --time-passes in args: %v", args)
	}
}

func TestCacheKeyIgnoresTimePasses(t *testing.T) {
	a := cacheKey("fn x() {}", Options{Toolchain: "hlc"})
	b := cacheKey("fn x() {}", Options{Toolchain: "hlc", TimePasses: true})
	if a != b {
		t.Error("expected TimePasses to not affect the cache key")
	}
}

func TestBuildArgsSplitsExtraFlags(t *testing.T) {
	args, err := buildArgs(Options{ExtraFlags: `-C target-cpu=native --cfg "feature=\"x\""`})
	if err != nil {
		t.Fatalf("buildArgs failed: %v", err)
	}
	joined := strings.Join(args, "|")
	if !strings.Contains(joined, "-C|target-cpu=native") {
		t.Errorf("expected shell-quoted flags split correctly: %v", args)
	}
}
