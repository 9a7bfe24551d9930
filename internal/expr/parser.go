package expr

import (
	"fmt"
	"strconv"
)

// Node is an expression AST node.
type Node interface {
	node()
}

type identNode struct{ name string }
type numberNode struct{ value float64 }
type stringNode struct{ value string }
type boolNode struct{ value bool }
type nullNode struct{}
type undefinedNode struct{}
type prefixNode struct {
	op    tokenType
	right Node
}
type infixNode struct {
	op          tokenType
	left, right Node
}
type ternaryNode struct{ cond, then, alt Node }
type assignNode struct{ target, value Node }
type memberNode struct {
	object Node
	name   string
}
type indexNode struct{ object, index Node }
type callNode struct {
	callee Node
	args   []Node
}

func (identNode) node()     {}
func (numberNode) node()    {}
func (stringNode) node()    {}
func (boolNode) node()      {}
func (nullNode) node()      {}
func (undefinedNode) node() {}
func (prefixNode) node()    {}
func (infixNode) node()     {}
func (ternaryNode) node()   {}
func (assignNode) node()    {}
func (memberNode) node()    {}
func (indexNode) node()     {}
func (callNode) node()      {}

// Binding powers, lowest first. Assignment and ternary are right
// associative, everything else binds left.
const (
	precLowest = iota
	precAssign
	precTernary
	precOr
	precAnd
	precEquality
	precCompare
	precSum
	precProduct
	precPrefix
	precPostfix
)

func precedenceOf(t tokenType) int {
	switch t {
	case tokAssign:
		return precAssign
	case tokQuestion:
		return precTernary
	case tokOr:
		return precOr
	case tokAnd:
		return precAnd
	case tokEq, tokNotEq, tokStrictEq, tokStrictNE:
		return precEquality
	case tokLT, tokGT, tokLTE, tokGTE:
		return precCompare
	case tokPlus, tokMinus:
		return precSum
	case tokStar, tokSlash, tokPercent:
		return precProduct
	case tokLParen, tokLBracket, tokDot:
		return precPostfix
	default:
		return precLowest
	}
}

type parser struct {
	lex  *lexer
	cur  token
	peek token
	err  error
}

// Parse compiles an expression string into an AST. The returned error
// carries the offending position for diagnostics.
func Parse(input string) (Node, error) {
	p := &parser{lex: newLexer(input)}
	p.cur = p.lex.next()
	p.peek = p.lex.next()
	n := p.parseExpr(precLowest)
	if p.lex.err != nil {
		// a lexical error is the root cause of whatever the parser hit
		p.err = p.lex.err
	}
	if p.err == nil && p.cur.typ != tokEOF {
		p.errorf(p.cur.pos, "unexpected %q after expression", p.cur.lit)
	}
	if p.err != nil {
		return nil, fmt.Errorf("parse %q: %w", input, p.err)
	}
	return n, nil
}

func (p *parser) errorf(pos int, format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf("char %d: %s", pos, fmt.Sprintf(format, args...))
	}
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.next()
}

func (p *parser) expect(t tokenType, what string) bool {
	if p.cur.typ != t {
		p.errorf(p.cur.pos, "expected %s, found %q", what, p.cur.lit)
		return false
	}
	p.advance()
	return true
}

func (p *parser) parseExpr(minPrec int) Node {
	if p.err != nil {
		return nil
	}
	left := p.parsePrefix()
	for p.err == nil {
		prec := precedenceOf(p.cur.typ)
		if prec <= minPrec && !(prec == minPrec && rightAssoc(p.cur.typ)) {
			break
		}
		left = p.parseInfix(left)
	}
	return left
}

func rightAssoc(t tokenType) bool {
	return t == tokAssign || t == tokQuestion
}

func (p *parser) parsePrefix() Node {
	tok := p.cur
	switch tok.typ {
	case tokNumber:
		p.advance()
		f, err := strconv.ParseFloat(tok.lit, 64)
		if err != nil {
			p.errorf(tok.pos, "bad number %q", tok.lit)
			return nil
		}
		return numberNode{value: f}
	case tokString:
		p.advance()
		return stringNode{value: tok.lit}
	case tokTrue:
		p.advance()
		return boolNode{value: true}
	case tokFalse:
		p.advance()
		return boolNode{value: false}
	case tokNull:
		p.advance()
		return nullNode{}
	case tokUndefined:
		p.advance()
		return undefinedNode{}
	case tokIdent:
		p.advance()
		return identNode{name: tok.lit}
	case tokBang, tokMinus:
		p.advance()
		right := p.parseExpr(precPrefix - 1)
		return prefixNode{op: tok.typ, right: right}
	case tokLParen:
		p.advance()
		inner := p.parseExpr(precLowest)
		p.expect(tokRParen, ")")
		return inner
	default:
		p.errorf(tok.pos, "unexpected %q", tok.lit)
		return nil
	}
}

func (p *parser) parseInfix(left Node) Node {
	tok := p.cur
	switch tok.typ {
	case tokDot:
		p.advance()
		name := p.cur
		// keywords are fine as member names
		_, isKeyword := keywords[name.lit]
		if name.typ != tokIdent && !isKeyword {
			p.errorf(name.pos, "expected member name, found %q", name.lit)
			return nil
		}
		p.advance()
		return memberNode{object: left, name: name.lit}
	case tokLBracket:
		p.advance()
		idx := p.parseExpr(precLowest)
		p.expect(tokRBracket, "]")
		return indexNode{object: left, index: idx}
	case tokLParen:
		p.advance()
		var args []Node
		for p.cur.typ != tokRParen && p.cur.typ != tokEOF && p.err == nil {
			args = append(args, p.parseExpr(precLowest))
			if p.cur.typ == tokComma {
				p.advance()
			}
		}
		p.expect(tokRParen, ")")
		return callNode{callee: left, args: args}
	case tokQuestion:
		p.advance()
		then := p.parseExpr(precLowest)
		p.expect(tokColon, ":")
		alt := p.parseExpr(precTernary - 1)
		return ternaryNode{cond: left, then: then, alt: alt}
	case tokAssign:
		switch left.(type) {
		case identNode, memberNode, indexNode:
		default:
			p.errorf(tok.pos, "invalid assignment target")
			return nil
		}
		p.advance()
		value := p.parseExpr(precAssign - 1)
		return assignNode{target: left, value: value}
	default:
		p.advance()
		right := p.parseExpr(precedenceOf(tok.typ))
		return infixNode{op: tok.typ, left: left, right: right}
	}
}
