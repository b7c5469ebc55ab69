package bibtex

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jschaf/bibtexcore/macro"
	"github.com/jschaf/bibtexcore/token"
)

// fieldCall records one VisitField invocation: the resolved value's string
// form, or whether Resolved returned an error.
type fieldCall struct {
	Key      string
	Resolved string
	Err      bool
}

// recorder is a Sink implementing every optional visitor interface, used
// across the scenarios below to capture exactly what the decoder reports.
type recorder struct {
	keys      []string
	fields    []fieldCall
	macros    []string
	preambles []string
	comments  []string
	rawMode   bool
	raws      [][]FieldToken
}

func (r *recorder) SelectEntry(kind []byte) EntryKind {
	switch string(kind) {
	case "string":
		return KindMacro
	case "preamble":
		return KindPreamble
	case "comment":
		return KindComment
	default:
		return KindRegular
	}
}

func (r *recorder) VisitKey(key []byte) error {
	r.keys = append(r.keys, string(key))
	return nil
}

func (r *recorder) VisitField(key []byte, fr *FieldReader) error {
	if r.rawMode {
		toks := append([]FieldToken(nil), fr.Raw()...)
		r.raws = append(r.raws, toks)
		return nil
	}
	v, err := fr.Resolved()
	if err != nil {
		r.fields = append(r.fields, fieldCall{Key: string(key), Err: true})
		return err
	}
	r.fields = append(r.fields, fieldCall{Key: string(key), Resolved: v.String()})
	return nil
}

func (r *recorder) VisitMacro(name []byte, value Value) error {
	r.macros = append(r.macros, string(name)+"="+value.String())
	return nil
}

func (r *recorder) VisitPreamble(value Value) error {
	r.preambles = append(r.preambles, value.String())
	return nil
}

func (r *recorder) VisitComment(body []byte) error {
	r.comments = append(r.comments, string(body))
	return nil
}

// drain calls Next until it reports more == false, collecting every error
// seen along the way so tests can assert on mid-stream recovery.
func drain(t *testing.T, d *Decoder, sink Sink) []error {
	t.Helper()
	var errs []error
	for {
		more, err := d.Next(sink)
		if err != nil {
			errs = append(errs, err)
		}
		if !more {
			return errs
		}
	}
}

// Scenario 1: macro references joined by '#' resolve to the concatenation
// of their bindings.
func TestDecodeMacroConcatenation(t *testing.T) {
	src := `
@string{x = {x}}
@string{y = {y}}
@article{key, field = x # y}
`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []fieldCall{{Key: "field", Resolved: "xy"}}
	if diff := cmp.Diff(want, r.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 2: a comment and a discarded preamble produce no visitor calls,
// and whitespace between '@' and the kind, and between the kind and the
// opening bracket, does not disturb the regular entry that follows.
func TestDecodeCommentAndDiscardedPreambleProduceNoCalls(t *testing.T) {
	src := `@ comMENT {discard me} @preamble{"p"} @a{k}`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if len(r.comments) != 0 {
		t.Errorf("comments = %v, want none (CommentVisitor not opted in)", r.comments)
	}
	if len(r.preambles) != 0 {
		t.Errorf("preambles = %v, want none (preamble discarded by default)", r.preambles)
	}
	if diff := cmp.Diff([]string{"k"}, r.keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if len(r.fields) != 0 {
		t.Errorf("fields = %v, want none", r.fields)
	}
}

// Scenario 4: paren- and brace-flavored entries parse identically.
func TestDecodeBracketFlavorEquivalence(t *testing.T) {
	runOne := func(src string) []fieldCall {
		d := NewDecoder([]byte(src))
		r := &recorder{}
		if errs := drain(t, d, r); len(errs) != 0 {
			t.Fatalf("unexpected errors for %q: %v", src, errs)
		}
		return r.fields
	}

	braceFields := runOne(`@article{key, title = {A Title}}`)
	parenFields := runOne(`@article(key, title = {A Title})`)

	if diff := cmp.Diff(braceFields, parenFields); diff != "" {
		t.Errorf("brace vs paren mismatch (-brace +paren):\n%s", diff)
	}
}

// Scenario 5: an UnknownMacro error resyncs without losing later entries.
func TestDecodeResyncAfterUnknownMacro(t *testing.T) {
	src := `
@article{bad, field = undefined}
@article{good, field = {ok}}
`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	errs := drain(t, d, r)

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	te, ok := errs[0].(*token.Error)
	if !ok || te.Kind != token.UnknownMacro {
		t.Fatalf("error = %v, want an UnknownMacro *token.Error", errs[0])
	}

	wantKeys := []string{"bad", "good"}
	if diff := cmp.Diff(wantKeys, r.keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	wantFields := []fieldCall{
		{Key: "field", Err: true},
		{Key: "field", Resolved: "ok"},
	}
	if diff := cmp.Diff(wantFields, r.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

// Scenario 6: macro names fold ASCII case-insensitively, and a later
// @string binding overrides an earlier one under the same folded name.
func TestDecodeCaseInsensitiveMacroOverride(t *testing.T) {
	src := `
@STRING{FOO = {first}}
@string{foo = {second}}
@ARTICLE{key, field = FOO}
`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []fieldCall{{Key: "field", Resolved: "second"}}
	if diff := cmp.Diff(want, r.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	wantMacros := []string{"FOO=first", "foo=second"}
	if diff := cmp.Diff(wantMacros, r.macros); diff != "" {
		t.Errorf("macros mismatch (-want +got):\n%s", diff)
	}
}

// Macro-table isolation: a @string entry that fails partway through never
// commits a binding, so a later reference to the same name is still
// unknown.
func TestDecodeMacroTableIsolationOnFailure(t *testing.T) {
	src := `
@string{x = {unterminated}
@article{key, field = x}
`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	errs := drain(t, d, r)

	if len(errs) == 0 {
		t.Fatal("expected at least one error from the malformed @string")
	}
	if d.Macros().Len() != 0 {
		t.Errorf("Macros().Len() = %d, want 0 (failed macro must not commit)", d.Macros().Len())
	}

	foundUnknown := false
	for _, e := range errs {
		if te, ok := e.(*token.Error); ok && te.Kind == token.UnknownMacro {
			foundUnknown = true
		}
	}
	if !foundUnknown {
		t.Errorf("expected an UnknownMacro error for the later reference to x, got %v", errs)
	}
}

// Decoder.Reset lets a caller reuse the scanning machinery across inputs
// while keeping the macro table, producing identical results to a fresh
// Decoder fed the same source directly.
func TestDecodeReset(t *testing.T) {
	first := `@article{a, title = {A}}`
	second := `@article{b, title = {B}}`

	d := NewDecoder([]byte(first))
	r1 := &recorder{}
	drain(t, d, r1)

	d.Reset([]byte(second))
	r2 := &recorder{}
	drain(t, d, r2)

	fresh := NewDecoder([]byte(second))
	rFresh := &recorder{}
	drain(t, fresh, rFresh)

	if diff := cmp.Diff(rFresh.fields, r2.fields); diff != "" {
		t.Errorf("Reset produced different fields than a fresh Decoder (-fresh +reset):\n%s", diff)
	}
	if diff := cmp.Diff(rFresh.keys, r2.keys); diff != "" {
		t.Errorf("Reset produced different keys than a fresh Decoder (-fresh +reset):\n%s", diff)
	}
}

func TestDecodeRawModePassesThroughUndefinedMacro(t *testing.T) {
	src := `@article{key, field = undefined}`
	d := NewDecoder([]byte(src))
	r := &recorder{rawMode: true}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors in raw mode: %v", errs)
	}

	want := [][]FieldToken{{{Kind: token.Ident, Data: []byte("undefined"), Offset: 22}}}
	if diff := cmp.Diff(want, r.raws); diff != "" {
		t.Errorf("raw tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePreambleAndComment(t *testing.T) {
	src := `
@preamble{"\newcommand"}
@comment{ignored text (with parens) inside}
`
	d := NewDecoder([]byte(src), WithPreamble(true), WithComments(true))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	if diff := cmp.Diff([]string{`\newcommand`}, r.preambles); diff != "" {
		t.Errorf("preambles mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ignored text (with parens) inside"}, r.comments); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePreambleDiscardedByDefault(t *testing.T) {
	src := `@preamble{"x"}`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(r.preambles) != 0 {
		t.Errorf("preambles = %v, want none (not opted in)", r.preambles)
	}
}

func TestDecodeDuplicateFieldsRejected(t *testing.T) {
	src := `@article{key, title = {A}, title = {B}}`
	d := NewDecoder([]byte(src), WithDuplicateFields(false))
	r := &recorder{}
	errs := drain(t, d, r)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if te, ok := errs[0].(*token.Error); !ok || te.Kind != token.Syntax {
		t.Errorf("error = %v, want a Syntax *token.Error", errs[0])
	}
}

func TestDecodeDuplicateFieldsAllowedByDefault(t *testing.T) {
	src := `@article{key, title = {A}, title = {B}}`
	d := NewDecoder([]byte(src))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []fieldCall{{Key: "title", Resolved: "A"}, {Key: "title", Resolved: "B"}}
	if diff := cmp.Diff(want, r.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWithMacrosSeed(t *testing.T) {
	d := NewDecoder([]byte(`@article{key, month = jan}`), WithMacros(macro.Months()))
	r := &recorder{}
	if errs := drain(t, d, r); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []fieldCall{{Key: "month", Resolved: "jan"}}
	if diff := cmp.Diff(want, r.fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUTF8ValidationOptIn(t *testing.T) {
	invalid := []byte{'@', 'a', 0xff, 0xfe}
	d := NewDecoder(invalid, WithUTF8Validation(true))
	_, err := d.Next(&recorder{})
	if err == nil {
		t.Fatal("expected an InvalidUTF8 error")
	}
	te, ok := err.(*token.Error)
	if !ok || te.Kind != token.InvalidUTF8 {
		t.Fatalf("error = %v, want an InvalidUTF8 *token.Error", err)
	}
}

func TestDecodeEntryIgnoredWhenSinkDeclines(t *testing.T) {
	src := `@article{key, title = {A}}`
	d := NewDecoder([]byte(src))
	sink := ignoringSink{}
	more, err := d.Next(sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !more {
		t.Fatal("expected more == true after a single entry")
	}
}

// ignoringSink always declines, exercising the "skip without allocating"
// path: the entry must still be fully consumed so the cursor lands past it.
type ignoringSink struct{}

func (ignoringSink) SelectEntry(kind []byte) EntryKind { return KindIgnore }

func TestDecodeVisitorErrorWrapped(t *testing.T) {
	src := `@article{key, title = {A}}`
	d := NewDecoder([]byte(src))
	sink := &failingVisitorSink{}
	more, err := d.Next(sink)
	if err == nil {
		t.Fatal("expected a wrapped visitor error")
	}
	te, ok := err.(*token.Error)
	if !ok || te.Kind != token.Visitor {
		t.Fatalf("error = %v, want a Visitor *token.Error", err)
	}
	if !errors.Is(te, errBoom) {
		t.Errorf("Unwrap chain does not reach the original error: %v", te.Unwrap())
	}
	if !more {
		t.Fatal("a Visitor-kind error does not trigger resync, but more should still be true")
	}
}

var errBoom = errors.New("boom")

type failingVisitorSink struct{}

func (failingVisitorSink) SelectEntry(kind []byte) EntryKind { return KindRegular }
func (failingVisitorSink) VisitKey(key []byte) error         { return errBoom }
func (failingVisitorSink) VisitField(key []byte, fr *FieldReader) error {
	return nil
}
