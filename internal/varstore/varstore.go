// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package varstore defines the wire protocol between the Child
// Supervisor (internal/child) and the type-erased variable map that
// lives inside the child process. The parent never holds a variable's
// value, only its name and type; internal/compose.ComposerState is the
// parent-side bookkeeping, this package is the line-protocol the two
// processes speak to keep that bookkeeping in sync.
package varstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Command is one line the Child Supervisor writes to the child's
// stdin. The generated entry function itself calls the runtime shim's
// put/take directly in-process; these three are the only commands the
// parent issues to the child between evals.
type Command int

const (
	// CmdLoad tells the child to dlopen the newly built artifact and
	// call the named entry function.
	CmdLoad Command = iota
	// CmdVars asks the child to report every currently stored
	// binding's name and type, used by the ":vars" directive.
	CmdVars
	// CmdExit tells the child to shut down cleanly.
	CmdExit
)

// Encode renders a command as the line the child expects on stdin.
func Encode(cmd Command, args ...string) string {
	switch cmd {
	case CmdLoad:
		return fmt.Sprintf("LOAD %s %s\n", args[0], args[1]) // artifact path, entry func
	case CmdVars:
		return "VARS\n"
	case CmdExit:
		return "EXIT\n"
	}
	return ""
}

// ResponseKind classifies one line of child output as a command
// response rather than ordinary fragment stdout.
type ResponseKind int

const (
	// RespOK means the entry function returned normally.
	RespOK ResponseKind = iota
	// RespPanic means the entry function's catch_unwind caught a panic.
	RespPanic
	// RespNonZeroExit means the child process itself exited non-zero
	// (distinct from a panic inside catch_unwind).
	RespNonZeroExit
	// RespSignal means the child process was killed by a signal.
	RespSignal
)

// Response is a parsed reply to CmdLoad.
type Response struct {
	Kind ResponseKind
	Code int // exit code for RespNonZeroExit, signal number for RespSignal
}

// ParseResponse parses one line of child output following "LOAD".
// Recognized forms: "ok", "panic", "nonzero-exit N", "signal N".
func ParseResponse(line string) (Response, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "ok":
		return Response{Kind: RespOK}, nil
	case line == "panic":
		return Response{Kind: RespPanic}, nil
	case strings.HasPrefix(line, "nonzero-exit "):
		n, err := strconv.Atoi(strings.TrimPrefix(line, "nonzero-exit "))
		if err != nil {
			return Response{}, errors.Wrapf(err, "parse nonzero-exit code from %q", line)
		}
		return Response{Kind: RespNonZeroExit, Code: n}, nil
	case strings.HasPrefix(line, "signal "):
		n, err := strconv.Atoi(strings.TrimPrefix(line, "signal "))
		if err != nil {
			return Response{}, errors.Wrapf(err, "parse signal number from %q", line)
		}
		return Response{Kind: RespSignal, Code: n}, nil
	}
	return Response{}, errors.Errorf("unrecognized child response: %q", line)
}

// VarEntry is one binding reported by a CmdVars round-trip: its name
// and the type string the entry function baked in when it called
// put::<T>.
type VarEntry struct {
	Name     string
	TypeName string
}

// EncodeVarsList renders entries as the line the child emits in
// response to CmdVars: comma-separated "name:Type" pairs.
func EncodeVarsList(entries []VarEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name + ":" + e.TypeName
	}
	return strings.Join(parts, ",") + "\n"
}

// ParseVarsList parses the CmdVars response line back into entries.
func ParseVarsList(line string) ([]VarEntry, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	parts := strings.Split(line, ",")
	out := make([]VarEntry, 0, len(parts))
	for _, p := range parts {
		nt := strings.SplitN(p, ":", 2)
		if len(nt) != 2 {
			return nil, errors.Errorf("malformed vars entry %q", p)
		}
		out = append(out, VarEntry{Name: nt[0], TypeName: nt[1]})
	}
	return out, nil
}

// StoredValue is the parent-side record of a value known to exist in
// the child's map. It never carries the value itself, only enough to
// decide whether the next eval should ask the child to restore it.
type StoredValue struct {
	Name     string
	TypeName string
	SizeHint int64 // best-effort, reported by the child for ":vars" display only
}
