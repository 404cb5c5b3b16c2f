package security

import "strings"

// TokenType classifies a lexical token of a generated query
type TokenType int

const (
	TokenEOF     TokenType = iota // end of input
	TokenIllegal                  // unterminated literal or stray byte

	TokenIdent       // bare identifier or keyword
	TokenQuotedIdent // "identifier"
	TokenString      // 'literal'
	TokenNumber      // 12, 3.5, 1e9
	TokenComment     // -- line or /* block */
	TokenSemicolon   // ;
	TokenDot         // .
	TokenComma       // ,
	TokenLParen      // (
	TokenRParen      // )
	TokenOperator    // anything else
)

// Token is a single lexical token. Literal holds the unquoted value for
// strings and quoted identifiers.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

// Is reports whether t is the bare keyword kw, ignoring case
func (t Token) Is(kw string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Literal, kw)
}

// Lexer tokenizes the read-only SQL subset produced by the generator
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()

	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}

	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}

	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() Token {
	for isSpace(l.ch) {
		l.readChar()
	}

	start := l.pos

	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}
	}

	var tok Token

	switch {
	case l.ch == '-' && l.peekChar() == '-':
		for !l.atEOF() && l.ch != '\n' {
			l.readChar()
		}

		return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: start}
	case l.ch == '/' && l.peekChar() == '*':
		l.readChar()
		l.readChar()

		for !l.atEOF() && (l.ch != '*' || l.peekChar() != '/') {
			l.readChar()
		}

		if !l.atEOF() {
			l.readChar()
			l.readChar()
		}

		return Token{Type: TokenComment, Literal: l.input[start:l.pos], Pos: start}
	case l.ch == '\'':
		return l.readQuoted('\'', TokenString, start)
	case l.ch == '"':
		return l.readQuoted('"', TokenQuotedIdent, start)
	case isIdentStart(l.ch):
		for isIdentPart(l.ch) {
			l.readChar()
		}

		return Token{Type: TokenIdent, Literal: l.input[start:l.pos], Pos: start}
	case isDigit(l.ch):
		return l.readNumber(start)
	case l.ch == ';':
		tok = Token{Type: TokenSemicolon, Literal: ";"}
	case l.ch == '.':
		if isDigit(l.peekChar()) {
			return l.readNumber(start)
		}

		tok = Token{Type: TokenDot, Literal: "."}
	case l.ch == ',':
		tok = Token{Type: TokenComma, Literal: ","}
	case l.ch == '(':
		tok = Token{Type: TokenLParen, Literal: "("}
	case l.ch == ')':
		tok = Token{Type: TokenRParen, Literal: ")"}
	case l.ch < 0x20 || l.ch == 0x7f:
		tok = Token{Type: TokenIllegal, Literal: string(l.ch)}
	default:
		tok = Token{Type: TokenOperator, Literal: string(l.ch)}
	}

	tok.Pos = start
	l.readChar()

	return tok
}

// readQuoted reads a quoted run where a doubled quote stands for one quote character
func (l *Lexer) readQuoted(quote byte, typ TokenType, start int) Token {
	var sb strings.Builder

	l.readChar()

	for {
		if l.atEOF() {
			return Token{Type: TokenIllegal, Literal: l.input[start:], Pos: start}
		}

		if l.ch == quote {
			if l.peekChar() == quote {
				sb.WriteByte(quote)
				l.readChar()
				l.readChar()

				continue
			}

			l.readChar()

			return Token{Type: typ, Literal: sb.String(), Pos: start}
		}

		sb.WriteByte(l.ch)
		l.readChar()
	}
}

func (l *Lexer) readNumber(start int) Token {
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}

	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()

		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}

		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

// Tokenize returns every token up to, not including, EOF
func Tokenize(input string) []Token {
	l := NewLexer(input)

	var tokens []Token

	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return tokens
		}

		tokens = append(tokens, tok)
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
