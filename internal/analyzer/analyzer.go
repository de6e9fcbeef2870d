// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package analyzer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Kind classifies a fragment the way spec.md's Fragment Analyzer does:
// a run of top-level items, a run of statements, a single trailing
// expression whose value the REPL should print, a directive line, or a
// mix of items and statements in one submission.
type Kind int

const (
	KindStatements Kind = iota
	KindItems
	KindTrailingExpression
	KindDirective
	KindMixed
)

func (k Kind) String() string {
	switch k {
	case KindStatements:
		return "statements"
	case KindItems:
		return "items"
	case KindTrailingExpression:
		return "trailing-expression"
	case KindDirective:
		return "directive"
	case KindMixed:
		return "mixed"
	}
	return "unknown"
}

// BindingShape describes one `let`-style binding introduced by a
// fragment, enough for the composer to register a VariableState without
// needing a real type checker.
type BindingShape struct {
	Name       string
	TypeHint   string // empty if no explicit ": Type" annotation
	IsMutable  bool
	ByteOffset int
}

// UsePath is one `use a::b::c;` path declared at the top level of a
// fragment.
type UsePath struct {
	Path string
}

// Fragment is the result of analyzing one raw REPL submission.
type Fragment struct {
	Kind     Kind
	Source   string
	Bindings []BindingShape
	Uses     []UsePath
	// CrateAttrs holds every top-level `#![...]` attribute found in the
	// fragment, in source order, for the composer to accumulate into
	// ComposerState.CrateAttrs.
	CrateAttrs []string
	// BareAssignments holds the target name of every top-level `name =
	// expr;` statement that isn't itself a `let` binding. The analyzer
	// cannot tell whether name is already declared (it has no view of
	// prior fragments), so it only reports candidates; the composer
	// rejects the ones that aren't already tracked variables.
	BareAssignments []string
	// TrailingExprStart/TrailingExprEnd are set only for
	// KindTrailingExpression and KindMixed, marking the sub-slice of
	// Source the composer should wrap in a print-and-store call.
	TrailingExprStart int
	TrailingExprEnd   int
}

// ErrFragmentIncomplete is returned when a fragment has unbalanced
// delimiters and the caller should keep reading more input before
// re-analyzing (e.g. a REPL continuation prompt).
var ErrFragmentIncomplete = errors.New("fragment incomplete: unbalanced delimiters")

// ErrParse is returned when a fragment is structurally unrecognizable
// (e.g. a lone closing delimiter with nothing open to close).
var ErrParse = errors.New("fragment parse error")

// DirectivePrefix is the default leading character marking a directive
// line, overridable via internal/hlconfig.
const DirectivePrefix = ':'

// Analyze classifies src. It never type-checks; it only looks at
// structural tokens (braces, parens, brackets, quotes, semicolons,
// leading keywords) to decide how the composer and orchestrator should
// treat the fragment.
func Analyze(src string) (Fragment, error) {
	trimmed := strings.TrimLeft(src, " \t\r\n")
	if strings.HasPrefix(trimmed, string(DirectivePrefix)) {
		return Fragment{Kind: KindDirective, Source: src}, nil
	}

	depth, err := checkBalance(src)
	if err != nil {
		return Fragment{}, err
	}
	if depth > 0 {
		return Fragment{}, ErrFragmentIncomplete
	}
	if depth < 0 {
		return Fragment{}, ErrParse
	}

	bindings, err := scanBindings(src)
	if err != nil {
		return Fragment{}, err
	}
	uses, err := scanUses(src)
	if err != nil {
		return Fragment{}, err
	}
	bareAssignments, err := scanBareAssignments(src)
	if err != nil {
		return Fragment{}, err
	}

	hasItem := fragmentHasItem(src)
	hasStatement := len(bindings) > 0 || hasBareStatement(src)
	trailingStart, trailingEnd, hasTrailing := trailingExpressionRange(src)

	frag := Fragment{
		Source:          src,
		Bindings:        bindings,
		Uses:            uses,
		CrateAttrs:      scanCrateAttrs(src),
		BareAssignments: bareAssignments,
	}

	switch {
	case hasItem && (hasStatement || hasTrailing):
		frag.Kind = KindMixed
	case hasItem:
		frag.Kind = KindItems
	case hasTrailing && !hasStatement:
		frag.Kind = KindTrailingExpression
	default:
		frag.Kind = KindStatements
	}

	if hasTrailing && (frag.Kind == KindTrailingExpression || frag.Kind == KindMixed) {
		frag.TrailingExprStart = trailingStart
		frag.TrailingExprEnd = trailingEnd
	}

	return frag, nil
}

// checkBalance walks src tracking brace/paren/bracket depth, ignoring
// delimiters inside strings, chars, and comments. It returns the final
// depth (0 = balanced, >0 = unclosed opens remain or a double-quoted
// string literal is left open, <0 = an unmatched close was seen).
func checkBalance(src string) (int, error) {
	sc := New(strings.NewReader(src))
	depth := 0
	var stack []Token
	for {
		item, err := sc.Next()
		if err != nil {
			return 0, errors.Wrap(err, "scan fragment")
		}
		if item.Token == EOF {
			break
		}
		if item.Token == STRING {
			v := item.Value
			backslashes := 0
			for i := len(v) - 2; i >= 0 && v[i] == '\\'; i-- {
				backslashes++
			}
			if len(v) < 2 || v[len(v)-1] != '"' || backslashes%2 == 1 {
				return depth + 1, nil
			}
		}
		if IsOpenDelimiter(item.Token) {
			stack = append(stack, item.Token)
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			if len(stack) == 0 {
				return -1, nil
			}
			open := stack[len(stack)-1]
			if !closeMatches(open, item.Token) {
				return -1, nil
			}
			stack = stack[:len(stack)-1]
			depth--
		}
	}
	return depth, nil
}

func closeMatches(open, close_ Token) bool {
	switch open {
	case LBRACE:
		return close_ == RBRACE
	case LPAREN:
		return close_ == RPAREN
	case LBRACKET:
		return close_ == RBRACKET
	}
	return false
}

// scanBindings finds top-level `let [mut] name [: Type] = ...;`
// statements. It does not descend into nested braces, matching
// spec.md's "top-level bindings only" contract — a `let` inside a
// nested block belongs to that block's own scope, not the fragment's.
//
// Scanner.Next merges an entire run of non-structural characters (a
// whole statement, up to the next brace/paren/bracket/semicolon/quote)
// into one TEXT item, so "let", the name, and any type annotation
// always arrive together in item.Value. Everything below works
// against that already-buffered word list rather than issuing further
// reads against sc — the underlying reader has already moved past the
// whole statement by the time the TEXT item is returned.
func scanBindings(src string) ([]BindingShape, error) {
	var out []BindingShape
	sc := New(strings.NewReader(src))
	depth := 0
	for {
		item, err := sc.Next()
		if err != nil {
			return nil, err
		}
		if item.Token == EOF {
			break
		}
		if IsOpenDelimiter(item.Token) {
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			depth--
			continue
		}
		if depth != 0 || item.Token != TEXT {
			continue
		}
		out = append(out, bindingsInWords(strings.Fields(item.Value))...)
	}
	return out, nil
}

// bindingsInWords scans a single already-tokenized run of non-structural
// text for `let [mut] name [: Type]` shapes.
func bindingsInWords(words []string) []BindingShape {
	var out []BindingShape
	for i := 0; i < len(words); i++ {
		if words[i] != "let" {
			continue
		}
		i++
		mutable := false
		if i < len(words) && words[i] == "mut" {
			mutable = true
			i++
		}
		if i >= len(words) {
			break
		}
		nameWord := words[i]
		name, typeHint, colonAttached := splitNameAndType(nameWord)
		if name == "" {
			continue
		}
		if typeHint == "" {
			if colonAttached && i+1 < len(words) {
				typeHint = strings.TrimRight(words[i+1], ",;")
			} else if !colonAttached && i+2 < len(words) && words[i+1] == ":" {
				typeHint = strings.TrimRight(words[i+2], ",;")
			}
		}
		out = append(out, BindingShape{Name: name, IsMutable: mutable, TypeHint: typeHint})
	}
	return out
}

// splitNameAndType splits a word like "count:" or "count:u32" into a
// name and an inline type hint attached by a colon with no space, and
// reports whether a colon was present in the word at all — the caller
// then knows to look at the following word for the type when the
// colon had nothing after it, e.g. "count: u32".
func splitNameAndType(word string) (name, typeHint string, colonAttached bool) {
	before, after, found := strings.Cut(word, ":")
	if !found {
		if !isIdentifierWord(word) {
			return "", "", false
		}
		return word, "", false
	}
	if !isIdentifierWord(before) {
		return "", "", false
	}
	return before, strings.TrimRight(after, ",;"), true
}

func isIdentifierWord(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return false
		}
		if i > 0 && !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// scanUses finds top-level `use a::b::c;` declarations. Same caveat as
// scanBindings: the whole path lands in the same TEXT item as "use"
// since "::" contains no structural characters.
func scanUses(src string) ([]UsePath, error) {
	var out []UsePath
	sc := New(strings.NewReader(src))
	depth := 0
	for {
		item, err := sc.Next()
		if err != nil {
			return nil, err
		}
		if item.Token == EOF {
			break
		}
		if IsOpenDelimiter(item.Token) {
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			depth--
			continue
		}
		if depth != 0 || item.Token != TEXT {
			continue
		}
		out = append(out, usesInWords(strings.Fields(item.Value))...)
	}
	return out, nil
}

func usesInWords(words []string) []UsePath {
	var out []UsePath
	for i := 0; i < len(words); i++ {
		if words[i] != "use" {
			continue
		}
		if i+1 >= len(words) {
			break
		}
		path := strings.TrimRight(words[i+1], ",;")
		if path != "" {
			out = append(out, UsePath{Path: path})
		}
		i++
	}
	return out
}

// crateAttrPattern matches a top-level inner attribute like
// `#![allow(non_ascii_idents)]`. Matched against raw src rather than
// scanner tokens: '#' and '!' aren't structural runes, so the scanner
// would split an attribute across a TEXT item and bracket tokens,
// which is more awkward to reassemble than a direct regex pass.
var crateAttrPattern = regexp.MustCompile(`#!\[[^\]]*\]`)

// scanCrateAttrs finds every `#![...]` attribute in src, in source
// order. It leaves src untouched — an inner attribute is valid stable
// syntax at the top of a generated function body too, so the composer
// can safely emit the fragment's source verbatim alongside the
// deduplicated attribute list, the same way it treats inline `use`
// paths.
func scanCrateAttrs(src string) []string {
	return crateAttrPattern.FindAllString(src, -1)
}

// scanBareAssignments finds top-level `name = expr;` statements that
// aren't part of a `let` binding, so the composer can reject
// assignment to a name it never saw declared.
func scanBareAssignments(src string) ([]string, error) {
	var out []string
	sc := New(strings.NewReader(src))
	depth := 0
	for {
		item, err := sc.Next()
		if err != nil {
			return nil, err
		}
		if item.Token == EOF {
			break
		}
		if IsOpenDelimiter(item.Token) {
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			depth--
			continue
		}
		if depth != 0 || item.Token != TEXT {
			continue
		}
		out = append(out, bareAssignmentsInWords(strings.Fields(item.Value))...)
	}
	return out, nil
}

// bareAssignmentsInWords looks for a lone "=" preceded by an
// identifier word. A chunk containing "let" anywhere is skipped
// entirely — a let-binding and a bare assignment never share one
// scanner-buffered chunk, since both are bounded by the same
// structural delimiters, and this also sidesteps a `let` statement's
// own "= 0" tail being misread as a bare assignment to its type
// annotation. Compound (`+=`) and comparison (`==`) operators merge
// into their own single word under the scanner and never match the
// exact "=" check.
func bareAssignmentsInWords(words []string) []string {
	for _, w := range words {
		if w == "let" {
			return nil
		}
	}
	var out []string
	for i := 1; i < len(words); i++ {
		if words[i] != "=" {
			continue
		}
		target := words[i-1]
		if isIdentifierWord(target) {
			out = append(out, target)
		}
	}
	return out
}

// fragmentHasItem reports whether src contains a top-level item
// keyword (fn/struct/enum/trait/impl/type/const/static/mod).
func fragmentHasItem(src string) bool {
	sc := New(strings.NewReader(src))
	depth := 0
	for {
		item, err := sc.Next()
		if err != nil || item.Token == EOF {
			return false
		}
		if IsOpenDelimiter(item.Token) {
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			depth--
			continue
		}
		if depth != 0 || item.Token != TEXT {
			continue
		}
		for _, word := range strings.Fields(item.Value) {
			if IsItemKeyword(word) {
				return true
			}
		}
	}
}

// hasBareStatement reports whether src contains a top-level semicolon
// outside of nested braces — evidence of at least one statement that
// isn't captured as a binding.
func hasBareStatement(src string) bool {
	sc := New(strings.NewReader(src))
	depth := 0
	for {
		item, err := sc.Next()
		if err != nil || item.Token == EOF {
			return false
		}
		if IsOpenDelimiter(item.Token) {
			depth++
			continue
		}
		if IsCloseDelimiter(item.Token) {
			depth--
			continue
		}
		if depth == 0 && item.Token == SEMICOLON {
			return true
		}
	}
}

// trailingExpressionRange reports the byte range of src after the last
// top-level semicolon, if that remainder is non-empty and not itself an
// item. That's the value the REPL should evaluate and print.
func trailingExpressionRange(src string) (start, end int, ok bool) {
	trimmedEnd := strings.TrimRight(src, " \t\r\n")
	if trimmedEnd == "" {
		return 0, 0, false
	}

	sc := New(strings.NewReader(src))
	depth := 0
	lastSemi := -1
	byteOffset := 0
	for {
		item, err := sc.Next()
		if err != nil || item.Token == EOF {
			break
		}
		if IsOpenDelimiter(item.Token) {
			depth++
		} else if IsCloseDelimiter(item.Token) {
			depth--
		} else if depth == 0 && item.Token == SEMICOLON {
			lastSemi = byteOffset
		}
		byteOffset += len(item.Value)
	}

	start = lastSemi + 1
	if start < 0 {
		start = 0
	}
	for start < len(trimmedEnd) && isSpaceByte(trimmedEnd[start]) {
		start++
	}
	if start >= len(trimmedEnd) {
		return 0, 0, false
	}
	if fragmentHasItem(trimmedEnd[start:]) {
		return 0, 0, false
	}
	return start, len(trimmedEnd), true
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
