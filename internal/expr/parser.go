package expr

import (
	"fmt"
	"strconv"
)

// Operator precedence, lowest first.
const (
	precedenceNone = iota
	precedenceOr
	precedenceAnd
	precedenceNot
	precedenceComparison
	precedenceAddition
	precedenceMultiply
	precedenceUnary
)

// Parser is a Pratt parser for boolean and arithmetic expressions.
type Parser struct {
	lexer *Lexer
	token Token // current token
	peek  Token // next token
	err   *ParseError
}

// NewParser creates a parser over input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.lexer.NextToken()
}

// fail records the first error; later errors are usually knock-on effects.
func (p *Parser) fail(pos Position, format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
	}
}

// ParseExpr parses a complete expression.
func ParseExpr(input string) (Node, error) {
	p := NewParser(input)
	n := p.parseExpression(precedenceOr)
	if p.err == nil && p.token.Type != TOKEN_EOF {
		p.fail(p.token.Pos, errUnexpectedToken, p.token.Type, p.token.Literal, "operator or end of expression")
	}
	if p.err != nil {
		return nil, p.err
	}
	return n, nil
}

func (p *Parser) parseExpression(minPrecedence int) Node {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}
	for {
		prec := infixPrecedence(p.token.Type)
		if prec == precedenceNone || prec < minPrecedence {
			return left
		}
		op := p.token.Type
		p.nextToken()
		// Left-associative: the right operand binds strictly tighter.
		right := p.parseExpression(prec + 1)
		if right == nil {
			return nil
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parsePrefix() Node {
	tok := p.token
	switch tok.Type {
	case TOKEN_NOT:
		p.nextToken()
		x := p.parseExpression(precedenceNot)
		if x == nil {
			return nil
		}
		return &UnaryExpr{Op: TOKEN_NOT, X: x}

	case TOKEN_MINUS:
		p.nextToken()
		x := p.parseExpression(precedenceUnary)
		if x == nil {
			return nil
		}
		if num, ok := x.(*NumberLit); ok {
			return &NumberLit{Value: -num.Value}
		}
		return &UnaryExpr{Op: TOKEN_MINUS, X: x}

	case TOKEN_LPAREN:
		p.nextToken()
		x := p.parseExpression(precedenceOr)
		if x == nil {
			return nil
		}
		if p.token.Type != TOKEN_RPAREN {
			p.fail(p.token.Pos, errUnexpectedToken, p.token.Type, p.token.Literal, ")")
			return nil
		}
		p.nextToken()
		return x

	case TOKEN_IDENT:
		p.nextToken()
		return &Ident{Name: tok.Literal, Pos: tok.Pos}

	case TOKEN_NUMBER:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.fail(tok.Pos, errInvalidNumber, tok.Literal)
			return nil
		}
		return &NumberLit{Value: v}

	case TOKEN_STRING:
		p.nextToken()
		return &StringLit{Value: tok.Literal}

	case TOKEN_TRUE, TOKEN_FALSE:
		p.nextToken()
		return &BoolLit{Value: tok.Type == TOKEN_TRUE}

	case TOKEN_ILLEGAL:
		if len(tok.Literal) > 0 && (tok.Literal[0] == '\'' || tok.Literal[0] == '"') {
			p.fail(tok.Pos, errUnterminatedString)
			return nil
		}
		p.fail(tok.Pos, "unexpected character %q", tok.Literal)
		return nil

	default:
		p.fail(tok.Pos, errUnexpectedToken, tok.Type, tok.Literal, "operand")
		return nil
	}
}

func infixPrecedence(t TokenType) int {
	switch t {
	case TOKEN_OR:
		return precedenceOr
	case TOKEN_AND:
		return precedenceAnd
	case TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE:
		return precedenceComparison
	case TOKEN_PLUS, TOKEN_MINUS:
		return precedenceAddition
	case TOKEN_STAR, TOKEN_SLASH:
		return precedenceMultiply
	default:
		return precedenceNone
	}
}
