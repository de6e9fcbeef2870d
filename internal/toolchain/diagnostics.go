// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package toolchain

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Severity mirrors the compiler's own diagnostic levels.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
	SeverityHelp    Severity = "help"
)

// Span is one source location a diagnostic points at, in the
// *generated* file's byte coordinates. internal/orch is responsible for
// remapping PrimarySpan back to the user's fragment via
// internal/compose.CodeBlock.RemapToUser.
type Span struct {
	FileName  string `json:"file_name"`
	ByteStart int    `json:"byte_start"`
	ByteEnd   int    `json:"byte_end"`
	IsPrimary bool   `json:"is_primary"`
	Label     string `json:"label"`
}

// Diagnostic is one compiler message, decoded from one line of
// `--error-format json` output.
type Diagnostic struct {
	Message  string   `json:"message"`
	Code     string   `json:"code"`
	Severity Severity `json:"level"`
	Spans    []Span   `json:"spans"`
	Rendered string   `json:"rendered"`
	Hint     string   `json:"-"`
}

// PrimarySpan returns the first span marked primary, if any.
func (d Diagnostic) PrimarySpan() (Span, bool) {
	for _, s := range d.Spans {
		if s.IsPrimary {
			return s, true
		}
	}
	return Span{}, false
}

// rawMessage mirrors the on-the-wire JSON shape closely enough to
// decode it before mapping into the smaller Diagnostic type above; the
// compiler's JSON diagnostic format carries more fields than the
// orchestrator needs.
type rawMessage struct {
	Message string `json:"message"`
	Code    *struct {
		Code string `json:"code"`
	} `json:"code"`
	Level    string  `json:"level"`
	Spans    []Span  `json:"spans"`
	Rendered *string `json:"rendered"`
}

// ParseDiagnostics reads newline-delimited JSON diagnostic objects from
// r, one per compiler message, the way `cargo rustc --error-format
// json` streams them on stderr. Lines that aren't valid JSON (plain
// progress text some toolchains still emit on the same stream) are
// skipped rather than treated as a fatal error.
func ParseDiagnostics(r io.Reader) ([]Diagnostic, error) {
	var out []Diagnostic
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		d := Diagnostic{
			Message:  raw.Message,
			Severity: Severity(raw.Level),
			Spans:    raw.Spans,
		}
		if raw.Code != nil {
			d.Code = raw.Code.Code
		}
		if raw.Rendered != nil {
			d.Rendered = *raw.Rendered
		}
		if h, ok := Hint(d.Code); ok {
			d.Hint = h
		}
		out = append(out, d)
	}
	if err := scanner.Err(); err != nil {
		return out, errors.Wrap(err, "scan diagnostic stream")
	}
	return out, nil
}

// HasErrors reports whether any diagnostic is error-severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// diagnosticHints supplements famously confusing raw compiler messages
// with a short, REPL-specific explanation, the way evcxr special-cases
// E0597 ("borrowed value does not live long enough", which in a REPL
// almost always means "the composer wrapped your expression in a
// function body that ends before you expected").
var diagnosticHints = map[string]string{
	"E0502": "a value is borrowed and moved in the same statement; split it across two evals",
	"E0597": "this typically means a reference to a local value outlived the generated entry function; store the value instead of a reference to it",
	"E0382": "the binding was moved by an earlier eval; re-bind it or avoid passing it by value",
}

// Hint returns a REPL-specific explanation for code, if one is known.
func Hint(code string) (string, bool) {
	h, ok := diagnosticHints[code]
	return h, ok
}
