// Package bibtex implements a zero-copy, pull-style decoder for BibTeX
// source bytes and a visitor-driven binding layer that projects parsed
// entries into caller-defined shapes. See Decoder for the entry point.
package bibtex

import (
	"unicode/utf8"

	"github.com/jschaf/bibtexcore/macro"
	"github.com/jschaf/bibtexcore/scanner"
	"github.com/jschaf/bibtexcore/token"
)

// Decoder drives the scanner through the four entry-kind grammars and
// offers each entry to a Sink. It is single-threaded and synchronous: one
// call to Next runs straight through to completion (or error) before
// returning (spec §5). A Decoder owns its macro table exclusively; it is
// not safe for concurrent use, though distinct Decoders over distinct
// inputs may run on separate goroutines with no coordination.
type Decoder struct {
	src []byte
	sc  *scanner.Scanner

	macros *macro.Table

	surfacePreamble      bool
	surfaceComments      bool
	allowDuplicateFields bool
	validateUTF8         bool
	utf8Checked          bool
}

// Option configures a Decoder at construction time.
type Option func(*Decoder)

// WithMacros seeds the decoder's macro table with the given bindings, as
// if each had been declared by an "@string" entry before decoding begins.
// macro.Months is the canonical seed for the twelve month abbreviations.
func WithMacros(seed map[string][]byte) Option {
	return func(d *Decoder) {
		for name, value := range seed {
			d.macros.Set([]byte(name), value, true)
		}
	}
}

// WithPreamble controls whether "@preamble" bodies are surfaced to a
// PreambleVisitor (true) or always discarded (false, the default).
func WithPreamble(surface bool) Option {
	return func(d *Decoder) { d.surfacePreamble = surface }
}

// WithComments controls whether "@comment" bodies are surfaced to a
// CommentVisitor (true) or always discarded (false, the default).
func WithComments(surface bool) Option {
	return func(d *Decoder) { d.surfaceComments = surface }
}

// WithDuplicateFields controls whether duplicate field keys within one
// regular entry are retained in order (true, the default) or rejected with
// a Syntax error (false).
func WithDuplicateFields(allow bool) Option {
	return func(d *Decoder) { d.allowDuplicateFields = allow }
}

// WithUTF8Validation enables a one-time boundary check (unicode/utf8.Valid)
// of the whole source buffer, surfaced as an InvalidUTF8 error on the
// first call to Next. Validation is deferred (disabled) by default, per
// spec §1 ("UTF-8 validation policy... the core operates on bytes and
// defers validation to the binding layer").
func WithUTF8Validation(enforce bool) Option {
	return func(d *Decoder) { d.validateUTF8 = enforce }
}

// NewDecoder returns a Decoder over src, configured by opts.
func NewDecoder(src []byte, opts ...Option) *Decoder {
	d := &Decoder{
		src:                  src,
		sc:                   scanner.New(src),
		macros:               macro.New(),
		allowDuplicateFields: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reset rebinds the decoder to new source bytes, resetting the scan cursor
// but keeping the decoder's configured options and macro table, mirroring
// the re-use contract of the scanner it wraps (spec §5 "Cancellation").
// Callers that want a fresh macro table should construct a new Decoder
// instead.
func (d *Decoder) Reset(src []byte) {
	d.src = src
	d.sc.Reset(src)
	d.utf8Checked = false
}

// Macros returns the decoder's macro table, letting a caller inspect
// bindings accumulated so far or seed additional ones mid-stream.
func (d *Decoder) Macros() *macro.Table { return d.macros }

// Next drives the parser through exactly one entry-shaped step and reports
// the outcome to sink. It returns more == true if the caller should call
// Next again, and a non-nil err describing anything that went wrong with
// this step.
//
// Per the error-tolerant iterator contract (spec §4.6, §7): a Syntax or
// UnknownMacro error resynchronizes to the next '@' and more is true — the
// caller may keep iterating past the bad entry. An UnexpectedEOF error
// means the source ended inside a value or body; more is false, since
// there is nothing left to resynchronize to. InvalidUTF8 and Visitor
// errors are returned without resync; more reflects whether scanning can
// continue. When the input is exhausted cleanly, Next returns
// (false, nil).
func (d *Decoder) Next(sink Sink) (more bool, err error) {
	if d.validateUTF8 && !d.utf8Checked {
		d.utf8Checked = true
		if !utf8.Valid(d.src) {
			return true, (&token.Error{Kind: token.InvalidUTF8, Offset: 0, Msg: "source is not valid UTF-8"}).WithSource(d.src)
		}
	}

	d.sc.SkipOuterJunk()
	if d.sc.AtEOF() {
		return false, nil
	}

	kindLit, _, ok := d.sc.ScanKind()
	if !ok {
		// Unreachable in practice: SkipOuterJunk only stops at '@' or EOF.
		e := token.NewSyntaxError(d.sc.Pos(), "expected '@'").WithSource(d.src)
		d.resync()
		return true, e
	}

	switch macro.Fold(kindLit) {
	case "comment":
		return d.parseComment(sink)
	case "preamble":
		return d.parsePreamble(sink)
	case "string":
		return d.parseMacro(sink)
	default:
		return d.parseRegular(sink, kindLit)
	}
}

// resync discards bytes until the next '@' or EOF (spec §4.6
// "Error-tolerant iterator contract").
func (d *Decoder) resync() {
	d.sc.SkipOuterJunk()
}

func (d *Decoder) bind(err *token.Error) *token.Error {
	return err.WithSource(d.src)
}

// failSyntax reports a Syntax/UnknownMacro-class error and resyncs,
// keeping the iterator alive.
func (d *Decoder) failSyntax(err *token.Error) (bool, error) {
	d.resync()
	return true, d.bind(err)
}

// failEOF reports an UnexpectedEOF error, which terminates the iterator.
func (d *Decoder) failEOF(err *token.Error) (bool, error) {
	return false, d.bind(err)
}

// failAny classifies err (which is always a *token.Error produced by the
// scanner) and applies the matching recovery policy.
func (d *Decoder) failAny(err error) (bool, error) {
	te, ok := err.(*token.Error)
	if !ok {
		d.resync()
		return true, err
	}
	if te.Kind == token.UnexpectedEOF {
		return d.failEOF(te)
	}
	return d.failSyntax(te)
}

// failVisitor reports an error returned by caller-supplied visitor code.
// Per spec §7, a visitor error is propagated verbatim (wrapped, not
// resynced) and no resync occurs.
func (d *Decoder) failVisitor(offset int, err error) (bool, error) {
	return true, d.bind(token.NewVisitorError(offset, err))
}

// failField classifies an error returned from VisitField. Because
// FieldReader.Resolved is invoked by visitor code rather than the decoder
// itself, an UnknownMacro error only reaches the decoder by being returned
// from VisitField — but it must still follow the UnknownMacro recovery
// policy (resync), not the Visitor policy (no resync), per the failure
// table in spec §7. Any error that isn't one of this package's own
// *token.Error values is assumed to be genuine visitor-domain failure and
// is wrapped as Visitor.
func (d *Decoder) failField(offset int, err error) (bool, error) {
	if te, ok := err.(*token.Error); ok {
		switch te.Kind {
		case token.UnexpectedEOF:
			return d.failEOF(te)
		case token.Syntax, token.UnknownMacro:
			return d.failSyntax(te)
		}
	}
	return d.failVisitor(offset, err)
}

// expectBracketClose consumes optional insignificant bytes and the closer
// byte, reporting a Syntax error if it isn't there.
func (d *Decoder) expectBracketClose(closer byte) error {
	d.sc.SkipInsignificant()
	offset := d.sc.Pos()
	if !d.sc.ExpectByte(closer) {
		return token.NewSyntaxError(offset, "expected closing '"+string(closer)+"'")
	}
	return nil
}

// scanValue scans a value: one or more tokens joined by '#' (spec §3
// "Value", §4.3 grammar).
func (d *Decoder) scanValue() ([]FieldToken, error) {
	var toks []FieldToken
	for {
		tok, data, offset, err := d.sc.ScanValueToken()
		if err != nil {
			return nil, err
		}
		toks = append(toks, FieldToken{Kind: tok, Data: data, Offset: offset})

		d.sc.SkipInsignificant()
		b, has := d.sc.Peek()
		if !has || b != '#' {
			return toks, nil
		}
		d.sc.Bump()
	}
}

// ----------------------------------------------------------------------------
// @string

func (d *Decoder) parseMacro(sink Sink) (bool, error) {
	ek := sink.SelectEntry([]byte("string"))
	var mv MacroVisitor
	if ek == KindMacro {
		mv, _ = sink.(MacroVisitor)
	}

	d.sc.SkipInsignificant()
	closer, _, err := d.sc.ScanBracketOpen()
	if err != nil {
		return d.failAny(err)
	}
	d.sc.SkipInsignificant()

	b, has := d.sc.Peek()
	if has && b == closer {
		d.sc.Bump()
		return true, nil // empty body: legal no-op (spec §4.3)
	}

	name, _, err := d.sc.ScanIdent()
	if err != nil {
		return d.failAny(err)
	}

	d.sc.SkipInsignificant()
	if !d.sc.ExpectByte('=') {
		return d.failAny(token.NewSyntaxError(d.sc.Pos(), "expected '=' in @string"))
	}

	toks, err := d.scanValue()
	if err != nil {
		return d.failAny(err)
	}

	resolved, err := assembleResolved(toks, d.macros)
	if err != nil {
		return d.failAny(err)
	}

	// Trailing comma is optional.
	d.sc.SkipInsignificant()
	if b, has := d.sc.Peek(); has && b == ',' {
		d.sc.Bump()
	}

	if err := d.expectBracketClose(closer); err != nil {
		return d.failAny(err)
	}

	// Commit to the macro table only now that the whole body parsed
	// successfully — a partially parsed macro never commits (spec §4.6,
	// §8 "Macro-table isolation on failure").
	d.macros.Set(name, resolved.Bytes(), !resolved.IsBorrowed())

	if mv != nil {
		if err := mv.VisitMacro(name, resolved); err != nil {
			return d.failVisitor(d.sc.Pos(), err)
		}
	}
	return true, nil
}

// ----------------------------------------------------------------------------
// @preamble

func (d *Decoder) parsePreamble(sink Sink) (bool, error) {
	ek := sink.SelectEntry([]byte("preamble"))
	var pv PreambleVisitor
	if ek == KindPreamble && d.surfacePreamble {
		pv, _ = sink.(PreambleVisitor)
	}

	d.sc.SkipInsignificant()
	closer, _, err := d.sc.ScanBracketOpen()
	if err != nil {
		return d.failAny(err)
	}

	toks, err := d.scanValue()
	if err != nil {
		return d.failAny(err)
	}

	var resolved Value
	if pv != nil {
		resolved, err = assembleResolved(toks, d.macros)
		if err != nil {
			return d.failAny(err)
		}
	}

	if err := d.expectBracketClose(closer); err != nil {
		return d.failAny(err)
	}

	if pv != nil {
		if err := pv.VisitPreamble(resolved); err != nil {
			return d.failVisitor(d.sc.Pos(), err)
		}
	}
	return true, nil
}

// ----------------------------------------------------------------------------
// @comment

func (d *Decoder) parseComment(sink Sink) (bool, error) {
	ek := sink.SelectEntry([]byte("comment"))
	var cv CommentVisitor
	if ek == KindComment && d.surfaceComments {
		cv, _ = sink.(CommentVisitor)
	}

	d.sc.SkipInsignificant()
	closer, _, err := d.sc.ScanBracketOpen()
	if err != nil {
		return d.failAny(err)
	}

	body, err := d.sc.ScanCommentBody(closer)
	if err != nil {
		return d.failAny(err)
	}

	if cv != nil {
		if err := cv.VisitComment(body); err != nil {
			return d.failVisitor(d.sc.Pos(), err)
		}
	}
	return true, nil
}

// ----------------------------------------------------------------------------
// Regular entries

func (d *Decoder) parseRegular(sink Sink, kindLit []byte) (bool, error) {
	ek := sink.SelectEntry(kindLit)
	var rv RegularVisitor
	ignore := ek != KindRegular
	if !ignore {
		rv, _ = sink.(RegularVisitor)
		if rv == nil {
			ignore = true
		}
	}

	d.sc.SkipInsignificant()
	closer, _, err := d.sc.ScanBracketOpen()
	if err != nil {
		return d.failAny(err)
	}
	d.sc.SkipInsignificant()

	keyLit, keyOffset, err := d.sc.ScanIdent()
	if err != nil {
		return d.failAny(err)
	}

	if !ignore {
		if err := rv.VisitKey(keyLit); err != nil {
			return d.failVisitor(keyOffset, err)
		}
	}

	var seen map[string]bool
	if !d.allowDuplicateFields {
		seen = make(map[string]bool, 8)
	}

	for {
		d.sc.SkipInsignificant()
		b, has := d.sc.Peek()
		if !has {
			return d.failAny(token.NewUnexpectedEOF(d.sc.Pos(), "unterminated entry"))
		}
		if b == closer {
			d.sc.Bump()
			return true, nil
		}
		if b != ',' {
			return d.failAny(token.NewSyntaxError(d.sc.Pos(), "expected ',' or closing bracket"))
		}
		d.sc.Bump()

		d.sc.SkipInsignificant()
		b, has = d.sc.Peek()
		if !has {
			return d.failAny(token.NewUnexpectedEOF(d.sc.Pos(), "unterminated entry"))
		}
		if b == closer {
			// Trailing comma before the close.
			d.sc.Bump()
			return true, nil
		}

		fieldLit, fieldOffset, err := d.sc.ScanIdent()
		if err != nil {
			return d.failAny(err)
		}
		if seen != nil {
			key := string(fieldLit)
			if seen[key] {
				return d.failAny(token.NewSyntaxError(fieldOffset, "duplicate field key "+key))
			}
			seen[key] = true
		}

		d.sc.SkipInsignificant()
		if !d.sc.ExpectByte('=') {
			return d.failAny(token.NewSyntaxError(d.sc.Pos(), "expected '=' after field key"))
		}

		toks, err := d.scanValue()
		if err != nil {
			return d.failAny(err)
		}

		if !ignore {
			fr := &FieldReader{tokens: toks, macros: d.macros}
			if err := rv.VisitField(fieldLit, fr); err != nil {
				return d.failField(fieldOffset, err)
			}
		}
	}
}
