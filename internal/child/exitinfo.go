// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package child

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitKind classifies how a child process terminated, matching the
// four outcomes the Eval Orchestrator must distinguish per the
// supervisor's wire contract: a clean exit, a non-zero exit status, an
// exit forced by a signal (segfault, kill -9, OOM), or an exec/wait
// failure that never produced a real exit status.
type ExitKind int

const (
	ExitClean ExitKind = iota
	ExitNonZero
	ExitSignaled
	ExitUnknown
)

// ExitInfo is the result of cmd.Wait() on the child process, decoded
// into the vocabulary internal/varstore.Response already uses
// (nonzero-exit N / signal N), via golang.org/x/sys/unix's
// WaitStatus helpers rather than hand-rolling the raw status-word math.
type ExitInfo struct {
	Kind Kind
	Code int
}

// Kind is an alias kept for readability at call sites; ExitKind is the
// canonical type.
type Kind = ExitKind

func classifyExit(err error) ExitInfo {
	if err == nil {
		return ExitInfo{Kind: ExitClean}
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return ExitInfo{Kind: ExitUnknown}
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitInfo{Kind: ExitUnknown}
	}
	ws := unix.WaitStatus(status)
	if ws.Signaled() {
		return ExitInfo{Kind: ExitSignaled, Code: int(ws.Signal())}
	}
	return ExitInfo{Kind: ExitNonZero, Code: ws.ExitStatus()}
}
