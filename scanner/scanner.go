// Package scanner implements a byte-oriented, resumable cursor over BibTeX
// source bytes (spec §4.1) and the token recognizer built on top of it
// (spec §4.2). Every returned literal is a slice borrowed from the caller's
// source buffer; the scanner never copies.
package scanner

import "github.com/jschaf/bibtexcore/token"

// Scanner is a cursor over an immutable source buffer. The zero value is
// not usable; construct one with New.
//
// Scanner tracks only a byte offset during scanning. Line/column
// information is never computed here — callers derive it from an offset
// via token.PositionFor only when reporting an error (spec §4.1).
type Scanner struct {
	src []byte
	pos int
}

// New returns a Scanner positioned at the start of src.
func New(src []byte) *Scanner {
	return &Scanner{src: src}
}

// Pos returns the current byte offset.
func (s *Scanner) Pos() int { return s.pos }

// Src returns the full source buffer the scanner was constructed with.
func (s *Scanner) Src() []byte { return s.src }

// AtEOF reports whether the scanner has consumed the entire buffer.
func (s *Scanner) AtEOF() bool { return s.pos >= len(s.src) }

// Reset rebinds the scanner to src and returns the cursor to its start,
// mirroring the re-use contract of go/scanner's Scanner.Init.
func (s *Scanner) Reset(src []byte) {
	s.src = src
	s.pos = 0
}

func (s *Scanner) peek() (byte, bool) {
	if s.pos >= len(s.src) {
		return 0, false
	}
	return s.src[s.pos], true
}

func (s *Scanner) bump() {
	if s.pos < len(s.src) {
		s.pos++
	}
}

// Peek returns the byte at the cursor without advancing, and false if the
// scanner is at EOF.
func (s *Scanner) Peek() (byte, bool) { return s.peek() }

// Bump advances the cursor by one byte. It is a no-op at EOF.
func (s *Scanner) Bump() { s.bump() }

// ExpectByte consumes the current byte and reports true if it equals want;
// otherwise it leaves the cursor untouched and reports false.
func (s *Scanner) ExpectByte(want byte) bool {
	b, ok := s.peek()
	if !ok || b != want {
		return false
	}
	s.bump()
	return true
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

// isIdentByte reports whether b may appear in an entry kind, entry key,
// field key, or macro variable reference: any byte outside the reserved
// set "{ } ( ) , = \ # % \"" and outside ASCII control/DEL (spec §3
// "Identifier"). Because '(' and ')' are already excluded here, an entry
// key can never contain a round bracket — the grammar forbids it directly
// rather than needing a special case in the entry parser.
func isIdentByte(b byte) bool {
	switch b {
	case '{', '}', '(', ')', ',', '=', '\\', '#', '%', '"':
		return false
	}
	return b > 0x20 && b != 0x7f
}

// SkipInsignificant discards ASCII whitespace and TeX line comments
// ('%' to the next '\n', inclusive) until it reaches a meaningful byte or
// EOF (spec §4.1).
func (s *Scanner) SkipInsignificant() {
	for {
		b, ok := s.peek()
		if !ok {
			return
		}
		switch {
		case isSpace(b):
			s.bump()
		case b == '%':
			s.skipLineComment()
		default:
			return
		}
	}
}

func (s *Scanner) skipLineComment() {
	for {
		b, ok := s.peek()
		if !ok || b == '\n' {
			return
		}
		s.bump()
	}
}

// SkipOuterJunk discards bytes outside of any entry per the outer-junk
// rule (spec §4.1): any byte that is not '@' is silently dropped, and '%'
// still introduces a TeX line comment. It leaves the cursor at the next
// '@' or at EOF.
func (s *Scanner) SkipOuterJunk() {
	for {
		b, ok := s.peek()
		if !ok || b == '@' {
			return
		}
		if b == '%' {
			s.skipLineComment()
			continue
		}
		s.bump()
	}
}

// ScanKind consumes a leading '@' and the command identifier that follows
// it, returning the identifier in its original case and the offset of the
// '@'. Insignificant bytes between '@' and the identifier are skipped
// first, matching the rest of the grammar's tolerance for whitespace and
// comments between lexical units (spec §4.3's "ws?" between productions).
// The identifier shares the general Identifier lexical class (spec §3),
// not a letters-only run, so an entry kind may contain digits or other
// allowed identifier bytes (e.g. "misc2024"). ok is false if the scanner
// is not positioned at '@'.
func (s *Scanner) ScanKind() (lit []byte, offset int, ok bool) {
	offset = s.pos
	b, has := s.peek()
	if !has || b != '@' {
		return nil, offset, false
	}
	s.bump()
	s.SkipInsignificant()
	start := s.pos
	for {
		c, has := s.peek()
		if !has || !isIdentByte(c) {
			break
		}
		s.bump()
	}
	return s.src[start:s.pos], offset, true
}

// ScanIdent scans a run of identifier bytes — an entry key, field key, or
// macro variable reference — and returns the borrowed slice. It fails with
// a Syntax error if the run is empty.
func (s *Scanner) ScanIdent() (lit []byte, offset int, err error) {
	offset = s.pos
	start := s.pos
	for {
		b, has := s.peek()
		if !has || !isIdentByte(b) {
			break
		}
		s.bump()
	}
	if s.pos == start {
		return nil, offset, token.NewSyntaxError(offset, "expected an identifier")
	}
	return s.src[start:s.pos], offset, nil
}

// ScanBracketOpen requires the next byte to be '{' or '(' and returns the
// matching closer, per the bracket-flavor rule in spec §4.3.
func (s *Scanner) ScanBracketOpen() (closer byte, offset int, err error) {
	offset = s.pos
	b, has := s.peek()
	if !has {
		return 0, offset, token.NewUnexpectedEOF(offset, "expected '{' or '(' before EOF")
	}
	switch b {
	case '{':
		s.bump()
		return '}', offset, nil
	case '(':
		s.bump()
		return ')', offset, nil
	default:
		return 0, offset, token.NewSyntaxError(offset, "expected '{' or '('")
	}
}

// ScanValueToken scans the next token of a field or macro value, skipping
// leading insignificant bytes first, per the lookahead table in spec §4.2:
// an ASCII digit starts a Number, '{' starts a Curly group, '"' starts a
// Quoted string, and any other identifier byte starts an Ident (a macro
// Variable reference in this context).
func (s *Scanner) ScanValueToken() (tok token.Token, data []byte, offset int, err error) {
	s.SkipInsignificant()
	offset = s.pos
	b, has := s.peek()
	if !has {
		return token.Illegal, nil, offset, token.NewUnexpectedEOF(offset, "expected a value")
	}
	switch {
	case isDigit(b):
		start := s.pos
		for {
			c, has := s.peek()
			if !has || !isDigit(c) {
				break
			}
			s.bump()
		}
		return token.Number, s.src[start:s.pos], offset, nil

	case b == '{':
		s.bump()
		body, err := s.scanBraceClosed('}')
		if err != nil {
			return token.Illegal, nil, offset, err
		}
		return token.Curly, body, offset, nil

	case b == '"':
		s.bump()
		body, err := s.scanQuoted()
		if err != nil {
			return token.Illegal, nil, offset, err
		}
		return token.Quoted, body, offset, nil

	case isIdentByte(b):
		lit, _, err := s.ScanIdent()
		if err != nil {
			return token.Illegal, nil, offset, err
		}
		return token.Ident, lit, offset, nil

	default:
		return token.Illegal, nil, offset, token.NewSyntaxError(offset, "unexpected byte in value")
	}
}

// scanBraceClosed consumes bytes (the opening brace already consumed by the
// caller) up to, but excluding, the closer byte that balances it, treating
// '{'/'}' as nesting regardless of what closer terminates the scan. This
// implements both ordinary Curly-token scanning (closer == '}') and the
// brace-balanced @comment body rule (closer == '}' or ')'), per spec §4.3.
func (s *Scanner) scanBraceClosed(closer byte) ([]byte, error) {
	start := s.pos
	depth := 0
	for {
		b, has := s.peek()
		if !has {
			return nil, token.NewUnexpectedEOF(start, "unterminated brace group")
		}
		switch {
		case b == closer && depth == 0:
			body := s.src[start:s.pos]
			s.bump()
			return body, nil
		case b == '{':
			depth++
			s.bump()
		case b == '}' && depth > 0:
			depth--
			s.bump()
		default:
			s.bump()
		}
	}
}

// scanQuoted consumes a double-quoted string (the opening '"' already
// consumed by the caller). A '{' opens a balanced subspan inside which a
// bare '"' is literal; the closing '"' at brace depth 0 terminates the
// token (spec §4.2).
func (s *Scanner) scanQuoted() ([]byte, error) {
	start := s.pos
	depth := 0
	for {
		b, has := s.peek()
		if !has {
			return nil, token.NewUnexpectedEOF(start, "unterminated quoted string")
		}
		switch {
		case b == '"' && depth == 0:
			body := s.src[start:s.pos]
			s.bump()
			return body, nil
		case b == '{':
			depth++
			s.bump()
		case b == '}' && depth > 0:
			depth--
			s.bump()
		default:
			s.bump()
		}
	}
}

// ScanCommentBody reads the opaque, brace-balanced payload of an @comment
// body up to the matching closer ('}' or ')'), without interpreting its
// contents (spec §4.3). An @preamble body is scanned as a value instead.
func (s *Scanner) ScanCommentBody(closer byte) ([]byte, error) {
	return s.scanBraceClosed(closer)
}
