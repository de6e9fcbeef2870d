// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package main

import (
	"fmt"
	"os"

	"github.com/hlrepl/hlrepl/pkg/hlrepl"
)

// printOutcome renders one Eval outcome to stdout/stderr the way a
// terminal front-end would: plain output on success, one line per
// diagnostic (with its hint, if any) on failure.
func printOutcome(outcome hlrepl.Outcome) {
	switch outcome.Kind {
	case hlrepl.OutcomeOK, hlrepl.OutcomeDirectiveResult:
		if outcome.Output != "" {
			fmt.Println(outcome.Output)
		}
	case hlrepl.OutcomeFragmentIncomplete:
		fmt.Fprintln(os.Stderr, "fragment is incomplete")
	case hlrepl.OutcomeParseError:
		fmt.Fprintf(os.Stderr, "parse error: %s\n", outcome.Output)
	case hlrepl.OutcomeBuildError, hlrepl.OutcomeTypeAnnotationRequired:
		printDiagnostics(outcome.Diagnostics)
	case hlrepl.OutcomeChildPanic:
		fmt.Fprintln(os.Stderr, "child process panicked")
		if outcome.Output != "" {
			fmt.Print(outcome.Output)
		}
	case hlrepl.OutcomeChildCrashed:
		fmt.Fprintf(os.Stderr, "child process crashed: %s\n", outcome.Output)
	case hlrepl.OutcomeDirectiveError:
		fmt.Fprintf(os.Stderr, "error: %s\n", outcome.Output)
	case hlrepl.OutcomeCancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
	}
}

func printDiagnostics(diags []hlrepl.Diagnostic) {
	for _, d := range diags {
		if d.Rendered != "" {
			fmt.Fprint(os.Stderr, d.Rendered)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", d.Severity, d.Message)
		}
		if d.Hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", d.Hint)
		}
	}
}
