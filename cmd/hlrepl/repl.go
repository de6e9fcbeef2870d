// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/hlrepl/hlrepl/internal/hlconfig"
	"github.com/hlrepl/hlrepl/pkg/hlrepl"
)

// runStartupFragment evaluates one optional config file (prelude.hl
// or init.hl) if it exists and is non-empty, reporting but not
// treating a failure as fatal: a broken init.hl shouldn't prevent the
// REPL from starting.
func runStartupFragment(ctx context.Context, rt *hlrepl.Runtime, path string) {
	src, err := hlconfig.ReadFragmentFile(path)
	if err != nil || src == "" {
		return
	}
	outcome, err := rt.Eval(ctx, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running %s: %v\n", path, err)
		return
	}
	printOutcome(outcome)
}

func printBanner() {
	fmt.Println("hlrepl (Ctrl+D to exit)")
	fmt.Println("type an expression, an item, or a directive starting with ':' (':help' for a list)")
	fmt.Println()
}

// runREPL runs init.hl (if present) then drops into an interactive
// loop, using raw-mode line editing on a real terminal and falling
// back to line-buffered input otherwise.
func runREPL(ctx context.Context, rt *hlrepl.Runtime, paths hlconfig.Paths) {
	runStartupFragment(ctx, rt, paths.PreludeFile)
	runStartupFragment(ctx, rt, paths.InitFile)

	printBanner()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		runBasicREPL(ctx, rt)
		return
	}
	runRawREPL(ctx, rt, fd)
}

// runBasicREPL handles non-TTY but still interactive input (e.g. a
// pty without raw-mode support). Multi-line fragments are driven by
// the orchestrator reporting OutcomeFragmentIncomplete, not by a
// trailing continuation character.
func runBasicREPL(ctx context.Context, rt *hlrepl.Runtime) {
	reader := bufio.NewReader(os.Stdin)
	var buf strings.Builder

	for {
		if buf.Len() > 0 {
			fmt.Print("... ")
		} else {
			fmt.Print(">>> ")
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}

		buf.WriteString(line)
		evalOrContinue(ctx, rt, &buf)
	}
}

// evalOrContinue evaluates the accumulated buffer; on
// OutcomeFragmentIncomplete it leaves buf untouched so the caller
// appends the next line, otherwise it prints the outcome and resets
// buf for the next fragment.
func evalOrContinue(ctx context.Context, rt *hlrepl.Runtime, buf *strings.Builder) {
	outcome, err := rt.Eval(ctx, buf.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		buf.Reset()
		return
	}
	if outcome.Kind == hlrepl.OutcomeFragmentIncomplete {
		return
	}
	printOutcome(outcome)
	buf.Reset()
	if outcome.Quit {
		os.Exit(0)
	}
}

// runRawREPL handles TTY input with cursor-aware line editing: arrow
// keys, Ctrl+A/E/K/U, and backspace/delete all work mid-line.
func runRawREPL(ctx context.Context, rt *hlrepl.Runtime, fd int) {
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set raw mode: %v\n", err)
		runBasicREPL(ctx, rt)
		return
	}
	defer term.Restore(fd, oldState)

	var buf strings.Builder

	for {
		if buf.Len() > 0 {
			fmt.Print("... ")
		} else {
			fmt.Print(">>> ")
		}

		line, eof := readLineRaw(fd)
		if eof {
			fmt.Print("\r\n")
			return
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if quit := evalOrContinueRaw(ctx, rt, &buf); quit {
			term.Restore(fd, oldState)
			os.Exit(0)
		}
	}
}

func evalOrContinueRaw(ctx context.Context, rt *hlrepl.Runtime, buf *strings.Builder) bool {
	outcome, err := rt.Eval(ctx, buf.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\r\n", err)
		buf.Reset()
		return false
	}
	if outcome.Kind == hlrepl.OutcomeFragmentIncomplete {
		return false
	}
	if outcome.Output != "" {
		fmt.Print(strings.ReplaceAll(outcome.Output, "\n", "\r\n"))
		fmt.Print("\r\n")
	}
	if outcome.Kind != hlrepl.OutcomeOK && outcome.Kind != hlrepl.OutcomeDirectiveResult {
		printOutcomeRaw(outcome)
	}
	buf.Reset()
	return outcome.Quit
}

func printOutcomeRaw(outcome hlrepl.Outcome) {
	var b strings.Builder
	switch outcome.Kind {
	case hlrepl.OutcomeParseError:
		fmt.Fprintf(&b, "parse error: %s\n", outcome.Output)
	case hlrepl.OutcomeBuildError, hlrepl.OutcomeTypeAnnotationRequired:
		for _, d := range outcome.Diagnostics {
			if d.Rendered != "" {
				b.WriteString(d.Rendered)
			} else {
				fmt.Fprintf(&b, "%s: %s\n", d.Severity, d.Message)
			}
			if d.Hint != "" {
				fmt.Fprintf(&b, "hint: %s\n", d.Hint)
			}
		}
	case hlrepl.OutcomeChildPanic:
		b.WriteString("child process panicked\n")
	case hlrepl.OutcomeChildCrashed:
		fmt.Fprintf(&b, "child process crashed: %s\n", outcome.Output)
	case hlrepl.OutcomeDirectiveError:
		fmt.Fprintf(&b, "error: %s\n", outcome.Output)
	}
	os.Stderr.WriteString(strings.ReplaceAll(b.String(), "\n", "\r\n"))
}

// readLineRaw reads one line in raw mode, supporting left/right arrow
// navigation, backspace/delete, and a handful of Emacs-style Ctrl-key
// bindings. Returns the line and whether EOF was seen.
func readLineRaw(fd int) (string, bool) {
	var line []rune
	cursor := 0
	buf := make([]byte, 1)

	redrawFromCursor := func() {
		fmt.Print("\x1b[K")
		for i := cursor; i < len(line); i++ {
			fmt.Print(string(line[i]))
		}
		if cursor < len(line) {
			fmt.Printf("\x1b[%dD", len(line)-cursor)
		}
	}

	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return string(line), true
		}
		b := buf[0]

		switch b {
		case 0x04: // Ctrl+D
			if len(line) == 0 {
				return "", true
			}
			if cursor < len(line) {
				line = append(line[:cursor], line[cursor+1:]...)
				redrawFromCursor()
			}

		case 0x03: // Ctrl+C
			fmt.Print("^C\r\n")
			return "", false

		case 0x0d, 0x0a: // Enter
			fmt.Print("\r\n")
			return string(line), false

		case 0x7f, 0x08: // Backspace
			if cursor > 0 {
				cursor--
				line = append(line[:cursor], line[cursor+1:]...)
				fmt.Print("\b")
				redrawFromCursor()
			}

		case 0x1b: // ESC: arrow-key sequence, otherwise ignored
			nextBuf := make([]byte, 1)
			n, err := os.Stdin.Read(nextBuf)
			if err != nil || n == 0 {
				continue
			}
			if nextBuf[0] != '[' {
				continue
			}
			arrowBuf := make([]byte, 1)
			n, err = os.Stdin.Read(arrowBuf)
			if err != nil || n == 0 {
				continue
			}
			switch arrowBuf[0] {
			case 'C': // Right
				if cursor < len(line) {
					cursor++
					fmt.Print("\x1b[C")
				}
			case 'D': // Left
				if cursor > 0 {
					cursor--
					fmt.Print("\x1b[D")
				}
			case '3': // Delete: ESC [ 3 ~
				delBuf := make([]byte, 1)
				os.Stdin.Read(delBuf)
				if delBuf[0] == '~' && cursor < len(line) {
					line = append(line[:cursor], line[cursor+1:]...)
					redrawFromCursor()
				}
			}

		case 0x01: // Ctrl+A
			if cursor > 0 {
				fmt.Printf("\x1b[%dD", cursor)
				cursor = 0
			}

		case 0x05: // Ctrl+E
			if cursor < len(line) {
				fmt.Printf("\x1b[%dC", len(line)-cursor)
				cursor = len(line)
			}

		case 0x0b: // Ctrl+K
			if cursor < len(line) {
				line = line[:cursor]
				fmt.Print("\x1b[K")
			}

		case 0x15: // Ctrl+U
			if cursor > 0 {
				fmt.Printf("\x1b[%dD", cursor)
				line = line[cursor:]
				cursor = 0
				redrawFromCursor()
			}

		default:
			if b >= 0x20 && b < 0x7f {
				r := rune(b)
				line = insertRune(line, cursor, r)
				cursor++
				fmt.Print(string(r))
				if cursor < len(line) {
					redrawFromCursor()
				}
			} else if b >= 0x80 {
				utfBuf := []byte{b}
				numBytes := 0
				switch {
				case b&0xE0 == 0xC0:
					numBytes = 1
				case b&0xF0 == 0xE0:
					numBytes = 2
				case b&0xF8 == 0xF0:
					numBytes = 3
				}
				for i := 0; i < numBytes; i++ {
					n, err := os.Stdin.Read(buf)
					if err != nil || n == 0 {
						break
					}
					utfBuf = append(utfBuf, buf[0])
				}
				r := []rune(string(utfBuf))[0]
				line = insertRune(line, cursor, r)
				cursor++
				fmt.Print(string(r))
				if cursor < len(line) {
					redrawFromCursor()
				}
			}
		}
	}
}

func insertRune(line []rune, at int, r rune) []rune {
	out := make([]rune, 0, len(line)+1)
	out = append(out, line[:at]...)
	out = append(out, r)
	out = append(out, line[at:]...)
	return out
}
