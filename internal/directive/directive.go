// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package directive implements the leading-colon command sublanguage
// (":dep", ":vars", ":clear", ...). Each directive is dispatched from a
// closed registry rather than a chain of regexes so every directive can
// be unit tested in isolation against a fake Host.
package directive

import (
	"strings"

	"github.com/pkg/errors"
)

// VarSummary is what ":vars" reports for one tracked binding.
type VarSummary struct {
	Name     string
	TypeName string
}

// CacheSummary is what ":cache" (no argument) reports.
type CacheSummary struct {
	Entries       int64
	DiskUsedBytes int64
	TotalHits     int64
}

// Host is the surface an EvalContext exposes to directive handlers.
// Keeping it narrow (rather than passing the whole EvalContext) is what
// makes each directive testable against a small fake.
type Host interface {
	SetOption(name, value string) error
	AddDependency(name, versionSpec string) error
	RemoveDependency(name string) error
	Variables() []VarSummary
	ClearVariables()
	CacheStats() (CacheSummary, error)
	SetCacheBudgetMB(mb int64) error
	TypeOf(expr string) (string, error)
	Explain() (string, error)
	LastCompileDir() string
	LastErrorJSON() string
	Version() string
}

// Result is what a directive produces for the REPL to display.
type Result struct {
	Output string
	// Quit is set by ":quit" so the front-end can end the session
	// after printing Output, without the directive package needing to
	// know how the host's process loop actually exits.
	Quit bool
}

// Handler implements one directive's behavior.
type Handler func(h Host, args string) (Result, error)

// registry is the closed set of known directives. Populated by init()
// in handlers.go so this file stays free of the individual directives'
// implementation details.
var registry = map[string]Handler{}

// register adds name to the registry; called only from handlers.go's
// init so the registry can never be mutated at runtime.
func register(name string, fn Handler) {
	registry[name] = fn
}

// ErrUnknownDirective is returned by Dispatch when line names a
// directive not in the registry.
var ErrUnknownDirective = errors.New("unknown directive")

// IsDirective reports whether line (already trimmed of leading
// whitespace) begins with the directive prefix.
func IsDirective(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ":")
}

// Dispatch parses line as "NAME [ARGS]" (after stripping the leading
// ':') and invokes the matching handler.
func Dispatch(line string, h Host) (Result, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ":") {
		return Result{}, errors.New("not a directive line")
	}
	body := strings.TrimPrefix(trimmed, ":")
	name, args := splitFirstWord(body)

	handler, ok := registry[name]
	if !ok {
		return Result{}, errors.Wrapf(ErrUnknownDirective, "%q", name)
	}
	return handler(h, args)
}

// Names returns every registered directive name, in no particular
// order; the ":help" handler sorts them for stable output.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

func splitFirstWord(s string) (word, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx+1:], " \t")
}
