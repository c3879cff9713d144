package sqlscript

import (
	"fmt"
	"strings"
)

type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenQuotedIdentifier
	TokenString
	TokenNumber
	TokenParameter
	TokenPunctuation
)

type Token struct {
	Kind TokenKind
	Text string
	Line int

	start int
	end   int
}

// Upper returns the token text in upper case, which is how keywords are compared.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

func (t Token) IsKeyword(keyword string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, keyword)
}

func (t Token) IsPunctuation(text string) bool {
	return t.Kind == TokenPunctuation && t.Text == text
}

// SyntaxError is returned when a script contains a construct that never
// terminates, such as an unclosed string literal or block comment.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

func tokenize(input string) ([]Token, error) {
	l := &lexer{input: input, line: 1}
	if err := l.run(); err != nil {
		return nil, err
	}

	return l.tokens, nil
}

func (l *lexer) run() error {
	for l.pos < len(l.input) {
		c := l.input[l.pos]

		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case c == '-' && l.peek(1) == '-':
			l.skipLineComment()
		case c == '/' && l.peek(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		case c == '\'':
			if err := l.scanString(l.pos, l.isEscapeStringPrefix()); err != nil {
				return err
			}
		case c == '"':
			if err := l.scanQuotedIdentifier(); err != nil {
				return err
			}
		case c == '$':
			if err := l.scanDollar(); err != nil {
				return err
			}
		case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
			l.scanNumber()
		case isIdentifierStart(c):
			l.scanWord()
		default:
			l.emit(TokenPunctuation, l.pos, l.pos+1, l.input[l.pos:l.pos+1])
			l.pos++
		}
	}

	return nil
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}

	return 0
}

func (l *lexer) emit(kind TokenKind, start int, end int, text string) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Line: l.line, start: start, end: end})
}

func (l *lexer) skipLineComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.pos++
	}
}

// Block comments nest in PostgreSQL.
func (l *lexer) skipBlockComment() error {
	startLine := l.line
	depth := 0

	for l.pos < len(l.input) {
		switch {
		case l.input[l.pos] == '/' && l.peek(1) == '*':
			depth++
			l.pos += 2
		case l.input[l.pos] == '*' && l.peek(1) == '/':
			depth--
			l.pos += 2
			if depth == 0 {
				return nil
			}
		default:
			if l.input[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
	}

	return &SyntaxError{Line: startLine, Message: "unterminated block comment"}
}

// A quote preceded by a lone E (E'...') starts an escape string where
// backslash escapes the next character.
func (l *lexer) isEscapeStringPrefix() bool {
	count := len(l.tokens)
	if count == 0 {
		return false
	}

	last := l.tokens[count-1]
	return last.end == l.pos && last.Kind == TokenWord && strings.EqualFold(last.Text, "E")
}

func (l *lexer) scanString(start int, backslashEscapes bool) error {
	startLine := l.line
	var value strings.Builder
	l.pos++

	if backslashEscapes {
		l.tokens = l.tokens[:len(l.tokens)-1]
		start--
	}

	for l.pos < len(l.input) {
		c := l.input[l.pos]

		switch {
		case c == '\\' && backslashEscapes && l.pos+1 < len(l.input):
			value.WriteByte(l.input[l.pos+1])
			if l.input[l.pos+1] == '\n' {
				l.line++
			}
			l.pos += 2
		case c == '\'' && l.peek(1) == '\'':
			value.WriteByte('\'')
			l.pos += 2
		case c == '\'':
			l.pos++
			l.tokens = append(l.tokens, Token{Kind: TokenString, Text: value.String(), Line: startLine, start: start, end: l.pos})
			return nil
		default:
			if c == '\n' {
				l.line++
			}
			value.WriteByte(c)
			l.pos++
		}
	}

	return &SyntaxError{Line: startLine, Message: "unterminated string literal"}
}

func (l *lexer) scanQuotedIdentifier() error {
	startLine := l.line
	start := l.pos
	var value strings.Builder
	l.pos++

	for l.pos < len(l.input) {
		c := l.input[l.pos]

		switch {
		case c == '"' && l.peek(1) == '"':
			value.WriteByte('"')
			l.pos += 2
		case c == '"':
			l.pos++
			l.tokens = append(l.tokens, Token{Kind: TokenQuotedIdentifier, Text: value.String(), Line: startLine, start: start, end: l.pos})
			return nil
		default:
			if c == '\n' {
				l.line++
			}
			value.WriteByte(c)
			l.pos++
		}
	}

	return &SyntaxError{Line: startLine, Message: "unterminated quoted identifier"}
}

// scanDollar handles both positional parameters ($1) and dollar-quoted
// bodies ($$...$$ or $tag$...$tag$).
func (l *lexer) scanDollar() error {
	start := l.pos

	if isDigit(l.peek(1)) {
		end := l.pos + 1
		for end < len(l.input) && isDigit(l.input[end]) {
			end++
		}
		l.emit(TokenParameter, start, end, l.input[start:end])
		l.pos = end
		return nil
	}

	end := l.pos + 1
	for end < len(l.input) && isIdentifierPart(l.input[end]) && l.input[end] != '$' {
		end++
	}
	if end >= len(l.input) || l.input[end] != '$' {
		l.emit(TokenPunctuation, start, start+1, "$")
		l.pos++
		return nil
	}

	tag := l.input[start : end+1]
	startLine := l.line
	bodyStart := end + 1
	closing := strings.Index(l.input[bodyStart:], tag)
	if closing < 0 {
		return &SyntaxError{Line: startLine, Message: "unterminated dollar-quoted string " + tag}
	}

	body := l.input[bodyStart : bodyStart+closing]
	l.pos = bodyStart + closing + len(tag)
	l.tokens = append(l.tokens, Token{Kind: TokenString, Text: body, Line: startLine, start: start, end: l.pos})
	l.line += strings.Count(body, "\n")

	return nil
}

func (l *lexer) scanNumber() {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if isDigit(c) || c == '.' || c == '_' {
			l.pos++
		} else if (c == 'e' || c == 'E') && (isDigit(l.peek(1)) || ((l.peek(1) == '+' || l.peek(1) == '-') && isDigit(l.peek(2)))) {
			l.pos += 2
		} else {
			break
		}
	}
	l.emit(TokenNumber, start, l.pos, l.input[start:l.pos])
}

func (l *lexer) scanWord() {
	start := l.pos
	for l.pos < len(l.input) && isIdentifierPart(l.input[l.pos]) {
		l.pos++
	}
	l.emit(TokenWord, start, l.pos, l.input[start:l.pos])
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// Bytes >= 0x80 belong to multi-byte UTF-8 sequences, which PostgreSQL
// accepts inside unquoted identifiers.
func isIdentifierStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentifierPart(c byte) bool {
	return isIdentifierStart(c) || isDigit(c) || c == '$'
}
