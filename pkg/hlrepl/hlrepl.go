// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package hlrepl provides the public API for the HL interactive eval
// loop: compose a fragment into the running compilation unit, build it
// incrementally, and run it in a persistent child process that holds
// the live variable state between evaluations.
package hlrepl

import (
	"context"
	"time"

	"github.com/hlrepl/hlrepl/internal/cache"
	"github.com/hlrepl/hlrepl/internal/orch"
)

// Runtime is the HL eval-loop runtime.
type Runtime struct {
	ec *orch.EvalContext

	workDir             string
	toolchain           string
	linker              string
	offline             bool
	optLevel            int
	preserveVarsOnPanic bool
	cacheIndex          cache.Index
	cacheMaxMB          int64
	streamCb            func(Event)
	childWaitTimeout    time.Duration
	version             string
}

// New creates a new HL runtime with the given options.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		childWaitTimeout:    5 * time.Second,
		preserveVarsOnPanic: true,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.ec = orch.New(orch.Options{
		WorkDir:             r.workDir,
		Toolchain:           r.toolchain,
		Linker:              r.linker,
		Offline:             r.offline,
		OptLevel:            r.optLevel,
		PreserveVarsOnPanic: r.preserveVarsOnPanic,
		CacheIndex:          r.cacheIndex,
		CacheMaxMB:          r.cacheMaxMB,
		StreamCallback:      r.forwardEvent,
		ChildWaitTimeout:    r.childWaitTimeout,
		Version:             r.version,
	})

	return r
}

func (r *Runtime) forwardEvent(e orch.Event) {
	if r.streamCb == nil {
		return
	}
	r.streamCb(convertEvent(e))
}

// Eval evaluates one fragment of HL source (or a directive line) and
// returns the outcome. It blocks until the fragment's build and run
// complete or ctx is cancelled.
func (r *Runtime) Eval(ctx context.Context, fragment string) (Outcome, error) {
	out, err := r.ec.Evaluate(ctx, fragment)
	if err != nil {
		return Outcome{}, err
	}
	return convertOutcome(out), nil
}

// Complete returns identifier completions for fragment at the given
// byte offset.
func (r *Runtime) Complete(ctx context.Context, fragment string, cursorByteOffset int) ([]string, error) {
	completions, err := r.ec.Complete(ctx, fragment, cursorByteOffset)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(completions))
	for i, c := range completions {
		out[i] = c.Text
	}
	return out, nil
}

// State reports the current set of bound variables, declared items,
// and use-paths, for front-ends building a prompt or a ":vars"-style
// display without issuing a directive themselves.
func (r *Runtime) State() StateSnapshot {
	return convertSnapshot(r.ec.StateSnapshot())
}

// Reset discards all accumulated variables, items, and use-paths and
// restarts the child process with a clean slate.
func (r *Runtime) Reset(ctx context.Context) error {
	return r.ec.Reset(ctx)
}

// Close shuts down the child process, waiting up to the configured
// ChildWaitTimeout before forcing a kill.
func (r *Runtime) Close() error {
	return r.ec.Close()
}

// Cancel interrupts whatever Eval call is currently in flight (if any)
// by killing the child process out from under it; the interrupted call
// returns OutcomeCancelled. Safe to call from a signal handler running
// concurrently with Eval.
func (r *Runtime) Cancel() {
	r.ec.Cancel()
}
