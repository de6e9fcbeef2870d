// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package child

import (
	"encoding/base64"
	"strings"
)

// Sentinel lines the runtime shim writes to the child's stdout. The
// Supervisor's caller (internal/orch) watches for these while draining
// RecvLine between sending a LOAD command and seeing its response, so
// ordinary user-program output, MIME display payloads, and the panic
// notification can all be told apart on one shared stream.
const (
	beginEvalMarker  = "HLREPL_BEGIN_EVAL"
	endEvalMarker    = "HLREPL_EXECUTION_COMPLETE"
	panicMarker      = "HLREPL_PANIC_NOTIFICATION"
	beginContentTag  = "HLREPL_BEGIN_CONTENT "
	endContentMarker = "HLREPL_END_CONTENT"
)

// DisplayArtifact is a MIME-typed payload the user's code asked to be
// displayed, detected between a BEGIN_CONTENT/END_CONTENT bracket on
// child stdout.
type DisplayArtifact struct {
	MimeType string
	Data     []byte
}

// LineKind classifies one line read from the child during an eval.
type LineKind int

const (
	LineOutput LineKind = iota
	LineBeginEval
	LineEndEval
	LinePanic
	LineBeginContent
	LineEndContent
)

// Classify inspects one line of child stdout and returns its kind plus
// any payload (the MIME type for LineBeginContent).
func Classify(line string) (LineKind, string) {
	switch {
	case line == beginEvalMarker:
		return LineBeginEval, ""
	case line == endEvalMarker:
		return LineEndEval, ""
	case line == panicMarker:
		return LinePanic, ""
	case strings.HasPrefix(line, beginContentTag):
		return LineBeginContent, strings.TrimPrefix(line, beginContentTag)
	case line == endContentMarker:
		return LineEndContent, ""
	}
	return LineOutput, line
}

// isBinaryMimeType reports whether a MIME type's body should be treated
// as base64 and decoded, versus passed through as raw text joined by
// newlines. Only types with no sane textual rendering are treated as
// binary; everything else — including the application/* formats that
// are text under the hood (json, javascript, xml) — is passed through
// literally, matching evcxr's own content_by_mime_type, which never
// base64-decodes at all and simply joins lines with '\n'.
func isBinaryMimeType(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "text/"):
		return false
	case strings.HasPrefix(base, "image/"):
		return true
	case strings.HasPrefix(base, "audio/"):
		return true
	case strings.HasPrefix(base, "video/"):
		return true
	case base == "application/octet-stream", base == "application/pdf":
		return true
	}
	return false
}

// ContentCollector accumulates body lines between a LineBeginContent
// and LineEndContent pair. Lines are kept separately rather than
// concatenated so a text body can be rejoined with '\n' between lines
// (the raw wire format has none) while a binary body's base64 is
// concatenated with none.
type ContentCollector struct {
	mimeType string
	lines    []string
	active   bool
}

// Begin starts collecting a display artifact of the given MIME type.
func (c *ContentCollector) Begin(mimeType string) {
	c.mimeType = mimeType
	c.lines = c.lines[:0]
	c.active = true
}

// Active reports whether a content block is currently being collected.
func (c *ContentCollector) Active() bool {
	return c.active
}

// AddLine appends one body line, base64 or plain text depending on the
// artifact's MIME type.
func (c *ContentCollector) AddLine(line string) {
	c.lines = append(c.lines, line)
}

// Finish returns the collected artifact, decoding the body only for
// MIME types isBinaryMimeType treats as binary.
func (c *ContentCollector) Finish() (DisplayArtifact, error) {
	c.active = false
	if isBinaryMimeType(c.mimeType) {
		data, err := base64.StdEncoding.DecodeString(strings.Join(c.lines, ""))
		if err != nil {
			return DisplayArtifact{}, err
		}
		return DisplayArtifact{MimeType: c.mimeType, Data: data}, nil
	}
	return DisplayArtifact{MimeType: c.mimeType, Data: []byte(strings.Join(c.lines, "\n"))}, nil
}
