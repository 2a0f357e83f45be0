package expr

import "fmt"

// ParseError reports malformed expression source.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// TypeError reports operands whose kinds cannot be combined, found when
// an expression is checked against the kinds of the variables it names.
type TypeError struct {
	Expr    string
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error in %s: %s", e.Expr, e.Message)
}

const (
	errUnexpectedToken    = "unexpected %s %q, expected %s"
	errUnterminatedString = "unterminated string literal"
	errInvalidNumber      = "invalid number literal %q"
)
