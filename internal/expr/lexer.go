package expr

// Lexer tokenizes expression source.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int
	col     int
}

// NewLexer creates a Lexer for input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) newToken(t TokenType, lit string, pos Position) Token {
	return Token{Type: t, Literal: lit, Pos: pos}
}

// NextToken returns the next token. Unknown characters and unterminated
// strings yield TOKEN_ILLEGAL; the parser turns those into errors.
func (l *Lexer) NextToken() Token {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}

	pos := Position{Line: l.line, Column: l.col}
	var tok Token

	switch l.ch {
	case 0:
		return l.newToken(TOKEN_EOF, "", pos)
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.newToken(TOKEN_EQ, "==", pos)
		} else {
			tok = l.newToken(TOKEN_EQ, "=", pos)
		}
	case '!':
		if l.peekChar() != '=' {
			tok = l.newToken(TOKEN_ILLEGAL, "!", pos)
			break
		}
		l.readChar()
		tok = l.newToken(TOKEN_NE, "!=", pos)
	case '<':
		switch l.peekChar() {
		case '=':
			l.readChar()
			tok = l.newToken(TOKEN_LE, "<=", pos)
		case '>':
			l.readChar()
			tok = l.newToken(TOKEN_NE, "<>", pos)
		default:
			tok = l.newToken(TOKEN_LT, "<", pos)
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = l.newToken(TOKEN_GE, ">=", pos)
		} else {
			tok = l.newToken(TOKEN_GT, ">", pos)
		}
	case '+':
		tok = l.newToken(TOKEN_PLUS, "+", pos)
	case '-':
		tok = l.newToken(TOKEN_MINUS, "-", pos)
	case '*':
		tok = l.newToken(TOKEN_STAR, "*", pos)
	case '/':
		tok = l.newToken(TOKEN_SLASH, "/", pos)
	case '(':
		tok = l.newToken(TOKEN_LPAREN, "(", pos)
	case ')':
		tok = l.newToken(TOKEN_RPAREN, ")", pos)
	case '\'', '"':
		quote := l.ch
		lit, ok := l.readString(quote)
		if !ok {
			return l.newToken(TOKEN_ILLEGAL, string(quote)+lit, pos)
		}
		return l.newToken(TOKEN_STRING, lit, pos)
	default:
		switch {
		case isLetter(l.ch):
			lit := l.readIdentifier()
			return l.newToken(lookupIdent(lit), lit, pos)
		case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
			return l.newToken(TOKEN_NUMBER, l.readNumber(), pos)
		default:
			tok = l.newToken(TOKEN_ILLEGAL, string(l.ch), pos)
		}
	}

	l.readChar()
	return tok
}

// readString reads a quoted string. A doubled quote inside the string is a
// literal quote character.
func (l *Lexer) readString(quote byte) (string, bool) {
	var out []byte
	for {
		l.readChar()
		switch {
		case l.ch == 0:
			return string(out), false
		case l.ch == quote && l.peekChar() == quote:
			out = append(out, quote)
			l.readChar()
		case l.ch == quote:
			l.readChar()
			return string(out), true
		default:
			out = append(out, l.ch)
		}
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
