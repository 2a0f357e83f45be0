package expr

import (
	"fmt"
	"strings"
)

// TokenType identifies a lexical token.
type TokenType int

// Token types.
const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	TOKEN_IDENT
	TOKEN_NUMBER
	TOKEN_STRING

	TOKEN_AND
	TOKEN_OR
	TOKEN_NOT
	TOKEN_TRUE
	TOKEN_FALSE

	TOKEN_EQ // =
	TOKEN_NE // != or <>
	TOKEN_LT // <
	TOKEN_GT // >
	TOKEN_LE // <=
	TOKEN_GE // >=

	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_SLASH

	TOKEN_LPAREN
	TOKEN_RPAREN
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL: "ILLEGAL",
	TOKEN_EOF:     "end of expression",
	TOKEN_IDENT:   "identifier",
	TOKEN_NUMBER:  "number",
	TOKEN_STRING:  "string",
	TOKEN_AND:     "AND",
	TOKEN_OR:      "OR",
	TOKEN_NOT:     "NOT",
	TOKEN_TRUE:    "TRUE",
	TOKEN_FALSE:   "FALSE",
	TOKEN_EQ:      "=",
	TOKEN_NE:      "!=",
	TOKEN_LT:      "<",
	TOKEN_GT:      ">",
	TOKEN_LE:      "<=",
	TOKEN_GE:      ">=",
	TOKEN_PLUS:    "+",
	TOKEN_MINUS:   "-",
	TOKEN_STAR:    "*",
	TOKEN_SLASH:   "/",
	TOKEN_LPAREN:  "(",
	TOKEN_RPAREN:  ")",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

var keywords = map[string]TokenType{
	"and":   TOKEN_AND,
	"or":    TOKEN_OR,
	"not":   TOKEN_NOT,
	"true":  TOKEN_TRUE,
	"false": TOKEN_FALSE,
}

// lookupIdent returns the keyword token for ident, or TOKEN_IDENT.
func lookupIdent(ident string) TokenType {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return TOKEN_IDENT
}

// Position is a location in the expression source. Column is 1-based.
type Position struct {
	Line   int
	Column int
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}
