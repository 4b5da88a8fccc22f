// Package sqlparse provides a DuckDB-dialect lexer and a structural parser.
//
// The parser does not build a full AST. It recovers exactly the structure the
// query gate needs: statement boundaries, the statement verb, table references
// with their byte offsets, CTE names, function calls and the top-level LIMIT.
// Offsets let callers splice the original text without re-serializing it.
package sqlparse

import (
	"strings"
	"unicode"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenEOF     TokenKind = iota // end of input
	TokenIllegal                  // malformed input; Value holds the reason
	TokenWord                     // unquoted identifier or keyword
	TokenQuoted                   // "quoted identifier"
	TokenNumber                   // 123, 4.5, 1e10
	TokenString                   // 'text' or $$text$$
	TokenParam                    // $1, ?
	TokenOp                       // operators and punctuation
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "EOF"
	case TokenIllegal:
		return "ILLEGAL"
	case TokenWord:
		return "WORD"
	case TokenQuoted:
		return "QUOTED"
	case TokenNumber:
		return "NUMBER"
	case TokenString:
		return "STRING"
	case TokenParam:
		return "PARAM"
	case TokenOp:
		return "OP"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexical unit. Text is the raw source slice [Pos, End); Value is
// the decoded content for strings and quoted identifiers.
type Token struct {
	Kind  TokenKind
	Text  string
	Value string
	Pos   int
	End   int
}

// Keyword returns the upper-cased text of an unquoted word, or "".
func (t Token) Keyword() string {
	if t.Kind != TokenWord {
		return ""
	}
	return strings.ToUpper(t.Text)
}

// IsKeyword reports whether t is an unquoted word matching any of kws.
func (t Token) IsKeyword(kws ...string) bool {
	if t.Kind != TokenWord {
		return false
	}
	for _, kw := range kws {
		if strings.EqualFold(t.Text, kw) {
			return true
		}
	}
	return false
}

// IsOp reports whether t is the operator op.
func (t Token) IsOp(op string) bool {
	return t.Kind == TokenOp && t.Text == op
}

// Ident returns the identifier name of a word or quoted identifier.
func (t Token) Ident() string {
	if t.Kind == TokenQuoted {
		return t.Value
	}
	return t.Text
}

// twoCharOps are the multi-byte operators DuckDB accepts.
var twoCharOps = map[string]bool{
	"::": true, "->": true, "||": true, "<=": true, ">=": true, "<>": true,
	"!=": true, "==": true, "**": true, "//": true, "<<": true, ">>": true,
	":=": true, "=>": true, "@>": true, "<@": true, "~~": true, "!~": true,
}

const singleOps = "+-*/%=<>!|&^~@#.,;()[]{}:?"

// Lexer tokenizes DuckDB SQL.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
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

func (l *Lexer) eof() bool { return l.pos >= len(l.input) }

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	if bad, ok := l.skipWhitespaceAndComments(); !ok {
		return bad
	}

	start := l.pos
	if l.eof() {
		return Token{Kind: TokenEOF, Pos: start, End: start}
	}

	switch {
	case l.ch == '\'':
		val, ok := l.readQuoted('\'')
		if !ok {
			return l.illegal(start, "unterminated string literal")
		}
		return l.token(TokenString, start, val)
	case l.ch == '"':
		val, ok := l.readQuoted('"')
		if !ok {
			return l.illegal(start, "unterminated quoted identifier")
		}
		if val == "" {
			return l.illegal(start, "zero-length quoted identifier")
		}
		return l.token(TokenQuoted, start, val)
	case l.ch == '$':
		return l.readDollar(start)
	case l.ch == '?':
		l.readChar()
		return l.token(TokenParam, start, "")
	case isLetter(l.ch) || l.ch == '_':
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
			l.readChar()
		}
		return l.token(TokenWord, start, "")
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		l.readNumber()
		return l.token(TokenNumber, start, "")
	case strings.IndexByte(singleOps, l.ch) >= 0:
		if l.readPos < len(l.input) && twoCharOps[l.input[l.pos:l.readPos+1]] {
			l.readChar()
		}
		l.readChar()
		return l.token(TokenOp, start, "")
	default:
		l.readChar()
		return l.illegal(start, "unexpected character "+l.input[start:l.pos])
	}
}

// Tokenize lexes the whole input. The final token is EOF or the first
// illegal token.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Kind == TokenEOF || tok.Kind == TokenIllegal {
			return toks
		}
	}
}

func (l *Lexer) token(kind TokenKind, start int, value string) Token {
	return Token{Kind: kind, Text: l.input[start:l.pos], Value: value, Pos: start, End: l.pos}
}

func (l *Lexer) illegal(start int, reason string) Token {
	return Token{Kind: TokenIllegal, Text: l.input[start:l.pos], Value: reason, Pos: start, End: l.pos}
}

// skipWhitespaceAndComments skips whitespace, -- and /* */ comments. It
// reports an illegal token for an unterminated block comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for !l.eof() && l.ch != '\n' {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			start := l.pos
			l.readChar()
			l.readChar()
			closed := false
			for !l.eof() {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					closed = true
					break
				}
				l.readChar()
			}
			if !closed {
				return l.illegal(start, "unterminated block comment"), false
			}
			continue
		}
		return Token{}, true
	}
}

// readQuoted reads a quote-delimited literal where a doubled quote escapes.
func (l *Lexer) readQuoted(q byte) (string, bool) {
	l.readChar() // opening quote
	var b strings.Builder
	for !l.eof() {
		if l.ch == q {
			if l.peekChar() == q {
				b.WriteByte(q)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return b.String(), true
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return "", false
}

// readDollar reads $1 style parameters and $tag$ ... $tag$ strings.
func (l *Lexer) readDollar(start int) Token {
	l.readChar()
	if isDigit(l.ch) {
		for isDigit(l.ch) {
			l.readChar()
		}
		return l.token(TokenParam, start, "")
	}
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch != '$' {
		return l.token(TokenParam, start, "")
	}
	l.readChar()
	tag := l.input[start:l.pos]
	end := strings.Index(l.input[l.pos:], tag)
	if end < 0 {
		for !l.eof() {
			l.readChar()
		}
		return l.illegal(start, "unterminated dollar-quoted string")
	}
	body := l.input[l.pos : l.pos+end]
	for i := 0; i < end+len(tag); i++ {
		l.readChar()
	}
	return l.token(TokenString, start, body)
}

func (l *Lexer) readNumber() {
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
