// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package orch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/hlrepl/hlrepl/internal/compose"
	"github.com/hlrepl/hlrepl/internal/directive"
	"github.com/hlrepl/hlrepl/internal/varstore"
)

// The methods in this file implement directive.Host, letting
// EvalContext itself serve as the Host that directive.Dispatch calls
// into from Evaluate.

// SetOption applies one of the simple scalar directives (":opt",
// ":linker", ":toolchain", ":offline", ...) directly onto the
// orchestrator's live options. Names prefixed "env:" set an entry in
// the child process's environment instead, and names prefixed
// "build_env:" set an entry in the toolchain's extra environment map.
func (ec *EvalContext) SetOption(name, value string) error {
	switch name {
	case "opt_level":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid opt_level %q", value)
		}
		ec.opts.OptLevel = n
	case "linker":
		ec.opts.Linker = value
	case "toolchain":
		ec.opts.Toolchain = value
	case "offline":
		ec.opts.Offline = isTruthy(value)
	case "preserve_vars_on_panic":
		ec.opts.PreserveVarsOnPanic = isTruthy(value)
	case "timing":
		ec.timing = isTruthy(value)
	case "types":
		ec.typesOn = isTruthy(value)
		ec.state.ShowTypes = isTruthy(value)
	case "prewarm":
		ec.prewarm = isTruthy(value)
	case "time_passes":
		ec.timePasses = isTruthy(value)
	case "fmt":
		ec.state.DisplayFmt = value
	case "efmt":
		ec.state.ErrorFmt = value
	default:
		if key, ok := strings.CutPrefix(name, "env:"); ok {
			ec.setRuntimeEnv(key, value)
			return nil
		}
		if key, ok := strings.CutPrefix(name, "build_env:"); ok {
			ec.setBuildEnv(key, value)
			return nil
		}
		return errors.Errorf("unknown option %q", name)
	}
	return nil
}

// setRuntimeEnv records a ":env KEY=VALUE" override applied to the child
// process's environment on its next spawn or restart.
func (ec *EvalContext) setRuntimeEnv(key, value string) {
	if ec.runtimeEnv == nil {
		ec.runtimeEnv = make(map[string]string)
	}
	ec.runtimeEnv[key] = value
}

// setBuildEnv records a ":build_env KEY=VALUE" override passed to every
// subsequent build-tool invocation via toolchain.Options.ExtraEnv.
func (ec *EvalContext) setBuildEnv(key, value string) {
	if ec.buildEnv == nil {
		ec.buildEnv = make(map[string]string)
	}
	ec.buildEnv[key] = value
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// AddDependency records a ":dep NAME = VERSION" addition in the
// composer state so the next build's manifest includes it.
func (ec *EvalContext) AddDependency(name, versionSpec string) error {
	ec.state.Dependencies[name] = compose.DependencySpec{Name: name, Version: versionSpec}
	return nil
}

// RemoveDependency drops a previously added dependency.
func (ec *EvalContext) RemoveDependency(name string) error {
	if _, ok := ec.state.Dependencies[name]; !ok {
		return errors.Errorf("no such dependency %q", name)
	}
	delete(ec.state.Dependencies, name)
	return nil
}

// Variables reports every currently tracked binding for ":vars". It
// prefers a live round-trip against the child's own Variable Store,
// matching spec.md's "lists Variable Store keys with recorded types"
// contract literally; if no child is running yet (or the round-trip
// fails) it falls back to the parent's own bookkeeping.
func (ec *EvalContext) Variables() []directive.VarSummary {
	names := ec.state.VariableNames()
	out := make([]directive.VarSummary, 0, len(names))

	live, ok := ec.queryChildVars()
	if !ok {
		for _, n := range names {
			vs, _ := ec.state.Variable(n)
			out = append(out, directive.VarSummary{Name: n, TypeName: vs.TypeName})
		}
		return out
	}

	liveByName := make(map[string]string, len(live))
	for _, e := range live {
		liveByName[e.Name] = e.TypeName
	}
	for _, n := range names {
		typeName := liveByName[n]
		if typeName == "" {
			if vs, ok := ec.state.Variable(n); ok {
				typeName = vs.TypeName
			}
		}
		out = append(out, directive.VarSummary{Name: n, TypeName: typeName})
	}
	return out
}

// queryChildVars performs a live VARS round-trip against the child
// process. It reports ok=false (falling back to parent-side
// bookkeeping) if no child is running yet, since a context with no
// evals so far has nothing to ask.
func (ec *EvalContext) queryChildVars() ([]varstore.VarEntry, bool) {
	if ec.supervisor == nil || !ec.supervisor.EnsureAlive() {
		return nil, false
	}
	if err := ec.supervisor.Send(varstore.Encode(varstore.CmdVars)); err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, err := ec.supervisor.RecvLine(ctx)
	if err != nil {
		return nil, false
	}
	entries, err := varstore.ParseVarsList(line)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// ClearVariables drops every tracked binding, used by ":clear".
func (ec *EvalContext) ClearVariables() {
	ec.state.ClearVariables()
}

// CacheStats reports ":cache" (no argument) output.
func (ec *EvalContext) CacheStats() (directive.CacheSummary, error) {
	if ec.opts.CacheIndex == nil {
		return directive.CacheSummary{}, nil
	}
	st, err := ec.opts.CacheIndex.Stats()
	if err != nil {
		return directive.CacheSummary{}, err
	}
	return directive.CacheSummary{Entries: st.Entries, DiskUsedBytes: st.DiskUsed, TotalHits: st.TotalHits}, nil
}

// SetCacheBudgetMB applies ":cache N_MB", evicting immediately if the
// cache already exceeds the new budget.
func (ec *EvalContext) SetCacheBudgetMB(mb int64) error {
	ec.opts.CacheMaxMB = mb
	if ec.opts.CacheIndex == nil {
		return nil
	}
	_, _, err := ec.opts.CacheIndex.Evict(mb * 1024 * 1024)
	return err
}

// TypeOf is a best-effort ":type EXPR" implementation: it can only
// answer for a name that is itself a tracked binding, since real type
// inference belongs to the toolchain, not the orchestrator.
func (ec *EvalContext) TypeOf(expr string) (string, error) {
	if vs, ok := ec.state.Variable(expr); ok {
		return vs.TypeName, nil
	}
	return "", errors.Errorf("no known type for %q; only bound variable names can be queried without a build", expr)
}

// Explain reports the most recent build's diagnostics as a single
// human-readable block, for ":explain". If ":efmt" has installed a
// format string, each diagnostic's message is rendered through it
// instead of the plain "severity: message" default.
func (ec *EvalContext) Explain() (string, error) {
	if len(ec.lastDiagnostics) == 0 {
		return "no diagnostics from the last build", nil
	}
	var out string
	for _, d := range ec.lastDiagnostics {
		if ec.state.ErrorFmt != "" {
			out += fmt.Sprintf(ec.state.ErrorFmt, string(d.Severity), d.Message) + "\n"
			continue
		}
		out += string(d.Severity) + ": " + d.Message + "\n"
	}
	return out, nil
}

// LastCompileDir reports the working directory of the most recent
// build, for ":last_compile_dir".
func (ec *EvalContext) LastCompileDir() string {
	return ec.lastCompileDir
}

// LastErrorJSON reports the most recent build's diagnostics as a JSON
// array, for ":last_error_json".
func (ec *EvalContext) LastErrorJSON() string {
	return diagnosticsToJSON(ec.lastDiagnostics)
}

// Version reports the embedding application's version string, for
// ":version".
func (ec *EvalContext) Version() string {
	if ec.opts.Version != "" {
		return ec.opts.Version
	}
	return "unknown"
}

// humanizeBytes renders n as a human-readable byte count via
// go-humanize. It is unexported and has no callers; directive's
// ":cache" handler formats its own figure with go-humanize directly.
func humanizeBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
