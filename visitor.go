package bibtex

import "github.com/jschaf/bibtexcore/macro"

// EntryKind identifies which of the four entry grammars a Sink chose for
// an entry, or that it should be ignored (spec §3 "Entry").
type EntryKind int

const (
	// KindIgnore skips the entry. The decoder still validates brackets and
	// balanced braces but allocates no owned buffers and performs no macro
	// resolution (spec §4.6 "Skipping policy"). The exception is an
	// "@string" entry, whose value is still resolved and committed to the
	// macro table.
	KindIgnore EntryKind = iota
	// KindRegular is any entry whose folded kind is not "string",
	// "preamble", or "comment".
	KindRegular
	// KindMacro is an "@string" entry.
	KindMacro
	// KindPreamble is an "@preamble" entry.
	KindPreamble
	// KindComment is an "@comment" entry.
	KindComment
)

// Sink is the entry point of the visitor protocol (spec §4.6, §6). The
// decoder calls SelectEntry once per entry with the entry's kind
// identifier — original case for a regular entry, ASCII-lowercase-folded
// for "string"/"preamble"/"comment" — and dispatches the entry body
// according to the returned EntryKind.
//
// After SelectEntry returns KindRegular, KindMacro, KindPreamble, or
// KindComment, the decoder type-asserts sink against RegularVisitor,
// MacroVisitor, PreambleVisitor, or CommentVisitor respectively and calls
// the matching method if implemented. PreambleVisitor and CommentVisitor
// are only consulted when the Decoder was built with WithPreamble(true) or
// WithComments(true) respectively. A Sink that does not implement the
// corresponding optional interface is treated as if it had returned
// KindIgnore for that part of the entry: the body is still validated, but
// nothing is reported to the caller.
type Sink interface {
	SelectEntry(kind []byte) EntryKind
}

// RegularVisitor is implemented by a Sink that wants to bind regular
// entries (spec §6 "take entry key", "take next field").
type RegularVisitor interface {
	Sink

	// VisitKey receives the entry's citation key.
	VisitKey(key []byte) error

	// VisitField receives the next field's key and a FieldReader that
	// offers Raw or Resolved projection, or Skip to discard the value
	// without allocating. VisitField is called once per field, in input
	// order, including once per duplicate key if WithDuplicateFields(true)
	// is set (the default).
	VisitField(key []byte, fr *FieldReader) error
}

// MacroVisitor is implemented by a Sink that wants to observe "@string"
// bindings as they commit, in addition to (or instead of) relying on the
// Decoder's own macro table for later Resolved lookups.
type MacroVisitor interface {
	Sink

	// VisitMacro receives the bound variable name and its Resolved value.
	// It is called after the binding has already been committed to the
	// Decoder's macro table.
	VisitMacro(name []byte, value Value) error
}

// PreambleVisitor is implemented by a Sink that wants "@preamble" bodies,
// which are otherwise discarded (spec §3 "Preamble").
type PreambleVisitor interface {
	Sink

	VisitPreamble(value Value) error
}

// CommentVisitor is implemented by a Sink that wants "@comment" bodies,
// which are otherwise discarded (spec §3 "Comment").
type CommentVisitor interface {
	Sink

	VisitComment(body []byte) error
}

// FieldMode selects how a FieldReader projects its field's value.
type FieldMode int

const (
	// Raw emits the token sequence unchanged: no macro lookups, no
	// concatenation. An undefined Variable passes through verbatim.
	Raw FieldMode = iota
	// Resolved concatenates the tokens into a single Value, expanding
	// macro references. An undefined Variable is an UnknownMacro error.
	Resolved
)

// FieldReader offers a single field's already-tokenized value to a
// RegularVisitor, which chooses exactly one of Raw, Resolved, or Skip
// (spec §4.5, §4.6 "value projector").
type FieldReader struct {
	tokens  []FieldToken
	macros  *macro.Table
	skipped bool
}

// Raw returns the field's token sequence unresolved. The returned slice
// aliases the FieldReader's internal buffer and must not be retained past
// the current VisitField call.
func (fr *FieldReader) Raw() []FieldToken {
	return fr.tokens
}

// Resolved concatenates the field's tokens, expanding macro references
// against the decoder's macro table, and returns an UnknownMacro error
// (via the returned error) if a referenced variable is undefined.
func (fr *FieldReader) Resolved() (Value, error) {
	return assembleResolved(fr.tokens, fr.macros)
}

// Skip marks the field as intentionally ignored. Calling Skip is optional:
// a VisitField that returns without calling Raw, Resolved, or Skip is
// treated the same way — the decoder always advances past the value
// regardless of whether the visitor consumed it.
func (fr *FieldReader) Skip() {
	fr.skipped = true
}
