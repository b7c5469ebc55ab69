package token

import "fmt"

// ErrorKind categorizes the failures a Decoder can report, per spec §7.
type ErrorKind int

const (
	// Syntax covers an unexpected byte or a mismatched bracket flavor.
	// Triggers a resync to the next '@'.
	Syntax ErrorKind = iota
	// UnexpectedEOF is raised when the source ends inside a value or body,
	// including an unterminated brace group or quoted string. Terminates
	// the iterator; there is nothing left to resync to.
	UnexpectedEOF
	// UnknownMacro is raised in Resolved mode when a value references an
	// undefined abbreviation. Triggers a resync to the next '@'.
	UnknownMacro
	// InvalidUTF8 is raised only when WithUTF8Validation is enabled.
	// Surfaced without resync; the caller decides how to proceed.
	InvalidUTF8
	// Visitor wraps an error returned by caller-supplied visitor code.
	// Surfaced without resync.
	Visitor
)

func (k ErrorKind) String() string {
	switch k {
	case Syntax:
		return "syntax error"
	case UnexpectedEOF:
		return "unexpected EOF"
	case UnknownMacro:
		return "unknown macro"
	case InvalidUTF8:
		return "invalid UTF-8"
	case Visitor:
		return "visitor error"
	default:
		return "unknown error"
	}
}

// Error is the single error type produced by this module. It carries a byte
// offset and, for UnknownMacro, the offending variable name. Position() is
// computed lazily from the offset and a source buffer, never eagerly.
type Error struct {
	Kind   ErrorKind
	Offset int
	Msg    string
	Macro  string // set only when Kind == UnknownMacro
	Err    error  // wrapped cause; set only when Kind == Visitor

	src []byte // source buffer for lazy Position(); may be nil
}

func (e *Error) Error() string {
	if e.Kind == UnknownMacro {
		return fmt.Sprintf("bibtex: %s %q at offset %d", e.Kind, e.Macro, e.Offset)
	}
	if e.Err != nil {
		return fmt.Sprintf("bibtex: %s at offset %d: %s", e.Kind, e.Offset, e.Err)
	}
	return fmt.Sprintf("bibtex: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

// Unwrap exposes the wrapped visitor error, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Position computes the line/column of the error within src. It returns the
// zero Position if the error was not bound to a source buffer.
func (e *Error) Position() Position {
	if e.src == nil {
		return Position{}
	}
	return PositionFor(e.src, e.Offset)
}

// WithSource binds src to e so that Position can be computed lazily. It
// returns e for chaining and is a no-op if src is nil.
func (e *Error) WithSource(src []byte) *Error {
	if e == nil || src == nil {
		return e
	}
	e.src = src
	return e
}

// NewSyntaxError constructs a Syntax error at offset with the given message.
func NewSyntaxError(offset int, msg string) *Error {
	return &Error{Kind: Syntax, Offset: offset, Msg: msg}
}

// NewUnexpectedEOF constructs an UnexpectedEOF error at offset.
func NewUnexpectedEOF(offset int, msg string) *Error {
	return &Error{Kind: UnexpectedEOF, Offset: offset, Msg: msg}
}

// NewUnknownMacro constructs an UnknownMacro error for the given variable
// name at offset.
func NewUnknownMacro(offset int, name string) *Error {
	return &Error{Kind: UnknownMacro, Offset: offset, Macro: name}
}

// NewVisitorError wraps err, returned by caller-supplied visitor code, at
// offset.
func NewVisitorError(offset int, err error) *Error {
	return &Error{Kind: Visitor, Offset: offset, Err: err}
}
