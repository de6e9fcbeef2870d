// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package compose

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hlrepl/hlrepl/internal/analyzer"
)

// UndeclaredAssignmentError is returned by Compose when a fragment
// assigns to a name with no prior `let` binding in scope, matching
// spec.md's "bare assignment to an undeclared name is rejected, not
// silently promoted" contract.
type UndeclaredAssignmentError struct {
	Name string
}

func (e *UndeclaredAssignmentError) Error() string {
	return fmt.Sprintf("cannot assign to undeclared binding %q; use `let %s = ...` to declare it", e.Name, e.Name)
}

// EntryFuncPrefix names the per-eval entry function the runtime shim
// calls after loading the built artifact. Suffixed with a UUID so a
// stale handle from a previous build can never alias the new one.
const EntryFuncPrefix = "hlrepl_entry_"

// Draft is a speculative ComposerState plus the generated source that
// would implement the fragment just analyzed. The orchestrator builds
// and runs a Draft; on success it commits by replacing the live state
// with draft.State, on failure it discards the Draft entirely.
type Draft struct {
	State        *ComposerState
	EntryFunc    string
	Source       *CodeBlock
	NewVariables []string // bindings this eval would introduce
}

// Compose clones base, folds frag into the clone, and emits the full
// generated source for the next build. It never mutates base; the
// caller commits by discarding base in favor of draft.State once the
// build and run succeed.
func Compose(base *ComposerState, frag analyzer.Fragment) (*Draft, error) {
	for _, name := range frag.BareAssignments {
		if _, ok := base.Variable(name); !ok {
			return nil, &UndeclaredAssignmentError{Name: name}
		}
	}

	draft := base.Clone()
	entryFunc := EntryFuncPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	for _, u := range frag.Uses {
		draft.AddUse(u.Path, UseAttrs{})
	}
	for _, attr := range frag.CrateAttrs {
		draft.AddCrateAttr(attr)
	}

	switch frag.Kind {
	case analyzer.KindItems, analyzer.KindMixed:
		itemKey := fmt.Sprintf("item_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
		draft.SetItem(itemKey, frag.Source)
	}

	var newVars []string
	for _, b := range frag.Bindings {
		draft.SetVariable(b.Name, VariableState{
			TypeName:  b.TypeHint,
			IsCopy:    isKnownCopyType(b.TypeHint),
			MoveState: Alive,
		})
		newVars = append(newVars, b.Name)
	}

	block := emitSource(draft, frag, entryFunc)

	return &Draft{
		State:        draft,
		EntryFunc:    entryFunc,
		Source:       block,
		NewVariables: newVars,
	}, nil
}

// emitSource assembles the generated compilation unit: use paths,
// items in insertion order, then the entry function body, which
// restores variables from the store, runs the fragment's statements
// and/or trailing expression, and re-stores surviving variables. This
// mirrors the restore/run/re-store/panic-catch shape of the original
// evaluator's generated entry function, adapted to HL's syntax.
func emitSource(state *ComposerState, frag analyzer.Fragment, entryFunc string) *CodeBlock {
	b := NewCodeBlock()

	for _, attr := range state.CrateAttrs {
		b.Push(OriginOtherGenerated, attr+"\n")
	}
	for _, path := range state.UsePaths() {
		b.Push(OriginOtherGenerated, "use "+path+";\n")
	}
	for _, it := range state.Items() {
		b.Push(OriginOtherGenerated, it.Source+"\n")
	}

	b.Push(OriginOtherGenerated, "#[no_mangle]\npub extern \"C\" fn "+entryFunc+"() {\n")
	b.Push(OriginPanicGuard, "  let __hlrepl_result = std::panic::catch_unwind(|| {\n")

	for _, name := range sortedKnownVars(state, frag) {
		vs, _ := state.Variable(name)
		b.Push(OriginVariableRestore,
			fmt.Sprintf("    let %s%s = hlrepl_runtime::take::<%s>(%q);\n",
				mutPrefix(vs), name, vs.TypeName, name))
	}

	if frag.Kind == analyzer.KindStatements || frag.Kind == analyzer.KindMixed {
		stmts := frag.Source
		if frag.Kind == analyzer.KindMixed && frag.TrailingExprEnd > frag.TrailingExprStart {
			stmts = frag.Source[:frag.TrailingExprStart]
		}
		b.PushUser(stmts, 0, len(stmts))
	}

	if frag.Kind == analyzer.KindTrailingExpression || (frag.Kind == analyzer.KindMixed && frag.TrailingExprEnd > frag.TrailingExprStart) {
		start, end := frag.TrailingExprStart, frag.TrailingExprEnd
		expr := frag.Source[start:end]
		if state.ShowTypes {
			b.Push(OriginOtherGenerated, "    hlrepl_runtime::display_typed(&(")
			b.PushUser(expr, start, end)
			b.Push(OriginOtherGenerated, "));\n")
		} else {
			displayFmt := state.DisplayFmt
			if displayFmt == "" {
				displayFmt = "{:?}"
			}
			b.Push(OriginOtherGenerated, fmt.Sprintf("    println!(%q, (", displayFmt))
			b.PushUser(expr, start, end)
			b.Push(OriginOtherGenerated, "));\n")
		}
	}

	for _, name := range state.VariableNames() {
		vs, _ := state.Variable(name)
		if vs.MoveState == MovedInLastEval {
			continue
		}
		b.Push(OriginVariableStore,
			fmt.Sprintf("    hlrepl_runtime::put::<%s>(%q, %s);\n", vs.TypeName, name, name))
	}

	b.Push(OriginPanicGuard, "  });\n")
	b.Push(OriginOtherGenerated, "  if __hlrepl_result.is_err() { hlrepl_runtime::notify_panic(); }\n")
	b.Push(OriginOtherGenerated, "}\n")

	return b
}

// sortedKnownVars returns the variable names the entry function should
// restore before running frag, in declaration order: locals must come
// back in the same order they were originally bound so that drop order
// (and therefore lifetime correctness) matches what the user's fragments
// implied when each binding was introduced.
func sortedKnownVars(state *ComposerState, frag analyzer.Fragment) []string {
	return append([]string(nil), state.VariableNames()...)
}

// mutPrefix always binds restored variables as mutable; the composer
// doesn't track per-binding mutability precisely enough to omit it
// safely, and an unused "mut" is a warning, not a rejected build.
func mutPrefix(vs VariableState) string {
	return "mut "
}

// copyPrimitiveTypes are the HL builtin scalar types whose values are
// implicitly copied rather than moved, without needing the compiler's
// own inferred-types report to know it. A binding whose declared type
// isn't in this set is treated as move-only unless a future build
// reports otherwise, matching the "don't guess" policy for anything the
// analyzer can't be sure of from the type name alone.
var copyPrimitiveTypes = map[string]bool{
	"i8": true, "i16": true, "i32": true, "i64": true, "i128": true, "isize": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true, "usize": true,
	"f32": true, "f64": true, "bool": true, "char": true,
}

func isKnownCopyType(typeName string) bool {
	return copyPrimitiveTypes[typeName]
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
