package bibtex

import (
	"bytes"

	"github.com/jschaf/bibtexcore/macro"
	"github.com/jschaf/bibtexcore/token"
)

// FieldToken is one component of a field or macro value in Raw mode: its
// lexical kind (token.Number, token.Curly, token.Quoted, or token.Ident —
// the latter denoting a macro Variable reference, emitted verbatim even if
// the name is undefined) and its byte slice, borrowed from the Decoder's
// source buffer (spec §3 "Token", §4.5 "Raw").
type FieldToken struct {
	Kind   token.Token
	Data   []byte
	Offset int
}

// Value is the result of Resolved-mode assembly: an immutable byte
// sequence that is either borrowed from the input buffer or a freshly
// materialized owned buffer (spec §4.5, §9 "Borrowed-vs-owned values").
// A Value that traverses exactly one Curly, Quoted, or Number token is
// Borrowed; a Value that is a single macro reference carries the owned flag
// of that macro's binding; anything requiring concatenation is Owned.
type Value struct {
	data  []byte
	owned bool
}

// Bytes returns the resolved value's bytes.
func (v Value) Bytes() []byte { return v.data }

// IsBorrowed reports whether Bytes aliases the original input buffer
// rather than a freshly allocated copy.
func (v Value) IsBorrowed() bool { return !v.owned }

// String returns the resolved value converted to a string.
func (v Value) String() string { return string(v.data) }

// assembleResolved concatenates tokens into a single Value, expanding
// token.Ident tokens against macros. Interior whitespace in the source
// between tokens joined by '#' is not part of any token and so is already
// absent from the concatenation. If the value is a single Curly, Quoted, or
// Number token, the result aliases the input; if it is a single Ident, the
// result is the bound bytes themselves, not a copy; otherwise bytes are
// copied into a freshly allocated buffer (spec §4.5).
//
// A variable reference whose own binding was itself produced by a Resolved
// assembly costs only the map lookup in macro.Table.Lookup — the table
// stores fully resolved bytes, so there is nothing left to re-expand. The
// single-token Ident case tags its Value with the table's own owned bit
// rather than always claiming Borrowed, since the bound bytes may
// themselves be a previously materialized buffer rather than a slice of
// any Decoder's source (spec §9 "Borrowed-vs-owned values").
func assembleResolved(tokens []FieldToken, macros *macro.Table) (Value, error) {
	if len(tokens) == 1 {
		t := tokens[0]
		switch t.Kind {
		case token.Curly, token.Quoted:
			return Value{data: t.Data}, nil
		case token.Number:
			return Value{data: t.Data}, nil
		case token.Ident:
			resolved, owned, ok := macros.Lookup(t.Data)
			if !ok {
				return Value{}, token.NewUnknownMacro(t.Offset, string(t.Data))
			}
			return Value{data: resolved, owned: owned}, nil
		}
	}

	var buf bytes.Buffer
	for _, t := range tokens {
		switch t.Kind {
		case token.Number, token.Curly, token.Quoted:
			buf.Write(t.Data)
		case token.Ident:
			resolved, _, ok := macros.Lookup(t.Data)
			if !ok {
				return Value{}, token.NewUnknownMacro(t.Offset, string(t.Data))
			}
			buf.Write(resolved)
		}
	}
	return Value{data: buf.Bytes(), owned: true}, nil
}
