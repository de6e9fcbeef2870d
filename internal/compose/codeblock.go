// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package compose

// CodeOrigin tags one Segment of generated source with where it came
// from, so a compiler diagnostic pointing at a generated byte offset
// can be remapped back to the offset in the user's original fragment
// (or dropped, for segments the composer generated itself).
type CodeOrigin int

const (
	// OriginUnknown is the zero value; never produced deliberately.
	OriginUnknown CodeOrigin = iota
	// OriginUserFragment marks text copied verbatim from the fragment
	// the caller submitted.
	OriginUserFragment
	// OriginVariableRestore marks the generated "let x = ...take..."
	// preamble that pulls a value back out of the variable store.
	OriginVariableRestore
	// OriginVariableStore marks the generated "...put(x)..." epilogue
	// that pushes a value back into the variable store.
	OriginVariableStore
	// OriginPanicGuard marks the generated catch/unwind wrapper.
	OriginPanicGuard
	// OriginOtherGenerated marks any other composer-synthesized text
	// (entry function signature, module boilerplate, etc).
	OriginOtherGenerated
)

// UserRange is a byte range within the original fragment a caller
// submitted, used to remap diagnostics.
type UserRange struct {
	Start, End int
}

// Segment is one contiguous run of generated source text, tagged with
// where it came from.
type Segment struct {
	Origin CodeOrigin
	Text   string
	// UserRange is only meaningful when Origin == OriginUserFragment.
	UserRange UserRange
}

// CodeBlock is an ordered sequence of Segments that together form one
// generated source file (or one function body within it). It tracks
// byte offsets in the *generated* output so a later diagnostic lookup
// by offset is a binary search rather than a linear rescan.
type CodeBlock struct {
	segments []Segment
	offsets  []int // offsets[i] = starting generated byte offset of segments[i]
	total    int
}

// NewCodeBlock returns an empty CodeBlock.
func NewCodeBlock() *CodeBlock {
	return &CodeBlock{}
}

// Push appends a segment and returns the CodeBlock for chaining.
func (b *CodeBlock) Push(origin CodeOrigin, text string) *CodeBlock {
	b.offsets = append(b.offsets, b.total)
	b.segments = append(b.segments, Segment{Origin: origin, Text: text})
	b.total += len(text)
	return b
}

// PushUser appends a segment copied from the user's fragment, recording
// the byte range within that fragment so diagnostics can be remapped.
func (b *CodeBlock) PushUser(text string, fragmentStart, fragmentEnd int) *CodeBlock {
	b.offsets = append(b.offsets, b.total)
	b.segments = append(b.segments, Segment{
		Origin:    OriginUserFragment,
		Text:      text,
		UserRange: UserRange{Start: fragmentStart, End: fragmentEnd},
	})
	b.total += len(text)
	return b
}

// String concatenates all segments into the final generated source.
func (b *CodeBlock) String() string {
	var total int
	for _, s := range b.segments {
		total += len(s.Text)
	}
	buf := make([]byte, 0, total)
	for _, s := range b.segments {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// Len returns the total byte length of the generated source.
func (b *CodeBlock) Len() int {
	return b.total
}

// OriginAt returns the segment covering generatedOffset, and true if
// one was found (false only if generatedOffset is out of range).
func (b *CodeBlock) OriginAt(generatedOffset int) (Segment, bool) {
	if len(b.segments) == 0 || generatedOffset < 0 || generatedOffset >= b.total {
		return Segment{}, false
	}
	// Linear scan: generated files are small (one eval's worth of
	// code), and this keeps the mapping logic easy to verify against
	// exhaustive span tests.
	for i, off := range b.offsets {
		end := off + len(b.segments[i].Text)
		if generatedOffset >= off && generatedOffset < end {
			return b.segments[i], true
		}
	}
	return Segment{}, false
}

// RemapToUser translates a byte offset in the generated source back to
// a byte offset in the original user fragment. ok is false when the
// offset falls inside composer-generated text, meaning the diagnostic
// should be attributed to the composer itself rather than shown to the
// user as a fragment-relative position.
func (b *CodeBlock) RemapToUser(generatedOffset int) (userOffset int, ok bool) {
	seg, found := b.OriginAt(generatedOffset)
	if !found || seg.Origin != OriginUserFragment {
		return 0, false
	}
	// Find the segment's starting generated offset again to compute
	// the within-segment delta.
	for i, off := range b.offsets {
		if off <= generatedOffset && generatedOffset < off+len(b.segments[i].Text) {
			delta := generatedOffset - off
			return seg.UserRange.Start + delta, true
		}
	}
	return 0, false
}
