package expr

import "fmt"

type tokenType int

const (
	tokEOF tokenType = iota
	tokIllegal
	tokIdent
	tokNumber
	tokString

	tokPlus     // +
	tokMinus    // -
	tokStar     // *
	tokSlash    // /
	tokPercent  // %
	tokBang     // !
	tokLT       // <
	tokGT       // >
	tokLTE      // <=
	tokGTE      // >=
	tokEq       // ==
	tokNotEq    // !=
	tokStrictEq // ===
	tokStrictNE // !==
	tokAnd      // &&
	tokOr       // ||
	tokAssign   // =
	tokQuestion // ?
	tokColon    // :
	tokDot      // .
	tokComma    // ,
	tokLParen   // (
	tokRParen   // )
	tokLBracket // [
	tokRBracket // ]

	tokTrue
	tokFalse
	tokNull
	tokUndefined
)

type token struct {
	typ tokenType
	lit string
	pos int
}

var keywords = map[string]tokenType{
	"true":      tokTrue,
	"false":     tokFalse,
	"null":      tokNull,
	"undefined": tokUndefined,
}

// lexer scans an expression string into tokens. String literals accept
// single, double and backtick quoting with backslash escapes; newlines are
// ordinary whitespace so expressions may span multiple lines.
type lexer struct {
	input string
	pos   int
	err   error
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) errorf(pos int, format string, args ...interface{}) token {
	if l.err == nil {
		l.err = fmt.Errorf("char %d: %s", pos, fmt.Sprintf(format, args...))
	}
	return token{typ: tokIllegal, pos: pos}
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) next() token {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.input) {
		return token{typ: tokEOF, pos: start}
	}
	c := l.input[l.pos]

	switch {
	case isIdentStart(c):
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		lit := l.input[start:l.pos]
		if kw, ok := keywords[lit]; ok {
			return token{typ: kw, lit: lit, pos: start}
		}
		return token{typ: tokIdent, lit: lit, pos: start}

	case isDigit(c) || (c == '.' && isDigit(l.peekAt(1))):
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
		if l.peek() == '.' && isDigit(l.peekAt(1)) {
			l.pos++
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
		if l.peek() == 'e' || l.peek() == 'E' {
			save := l.pos
			l.pos++
			if l.peek() == '+' || l.peek() == '-' {
				l.pos++
			}
			if isDigit(l.peek()) {
				for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
					l.pos++
				}
			} else {
				l.pos = save
			}
		}
		return token{typ: tokNumber, lit: l.input[start:l.pos], pos: start}

	case c == '\'' || c == '"' || c == '`':
		quote := c
		l.pos++
		var out []byte
		for l.pos < len(l.input) {
			ch := l.input[l.pos]
			if ch == '\\' && l.pos+1 < len(l.input) {
				esc := l.input[l.pos+1]
				switch esc {
				case 'n':
					out = append(out, '\n')
				case 't':
					out = append(out, '\t')
				case 'r':
					out = append(out, '\r')
				default:
					out = append(out, esc)
				}
				l.pos += 2
				continue
			}
			if ch == quote {
				l.pos++
				return token{typ: tokString, lit: string(out), pos: start}
			}
			out = append(out, ch)
			l.pos++
		}
		return l.errorf(start, "unterminated string")
	}

	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	three := ""
	if l.pos+2 < len(l.input) {
		three = l.input[l.pos : l.pos+3]
	}

	switch three {
	case "===":
		l.pos += 3
		return token{typ: tokStrictEq, lit: three, pos: start}
	case "!==":
		l.pos += 3
		return token{typ: tokStrictNE, lit: three, pos: start}
	}
	switch two {
	case "==":
		l.pos += 2
		return token{typ: tokEq, lit: two, pos: start}
	case "!=":
		l.pos += 2
		return token{typ: tokNotEq, lit: two, pos: start}
	case "<=":
		l.pos += 2
		return token{typ: tokLTE, lit: two, pos: start}
	case ">=":
		l.pos += 2
		return token{typ: tokGTE, lit: two, pos: start}
	case "&&":
		l.pos += 2
		return token{typ: tokAnd, lit: two, pos: start}
	case "||":
		l.pos += 2
		return token{typ: tokOr, lit: two, pos: start}
	}

	l.pos++
	var typ tokenType
	switch c {
	case '+':
		typ = tokPlus
	case '-':
		typ = tokMinus
	case '*':
		typ = tokStar
	case '/':
		typ = tokSlash
	case '%':
		typ = tokPercent
	case '!':
		typ = tokBang
	case '<':
		typ = tokLT
	case '>':
		typ = tokGT
	case '=':
		typ = tokAssign
	case '?':
		typ = tokQuestion
	case ':':
		typ = tokColon
	case '.':
		typ = tokDot
	case ',':
		typ = tokComma
	case '(':
		typ = tokLParen
	case ')':
		typ = tokRParen
	case '[':
		typ = tokLBracket
	case ']':
		typ = tokRBracket
	default:
		return l.errorf(start, "unexpected character %q", c)
	}
	return token{typ: typ, lit: string(c), pos: start}
}
