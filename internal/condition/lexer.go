package condition

import (
	"strconv"
	"strings"
	"unicode"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokUndefined
	tokOp     // operators, see operators below
	tokLParen // (
	tokRParen // )
)

type token struct {
	kind tokenKind
	text string // operator text, or raw literal
	num  float64
	str  string
	pos  int
}

// operators in longest-first order.
var operators = []string{"===", "!==", "&&", "||", ">=", "<=", ">", "<", "+", "-", "*", "/", "%", "!"}

// forbiddenWords are rejected with a dedicated error.
var forbiddenWords = map[string]bool{
	"function": true, "return": true, "for": true, "while": true, "do": true,
	"if": true, "else": true, "switch": true, "case": true, "break": true,
	"continue": true, "new": true, "delete": true, "this": true, "eval": true,
	"import": true, "export": true, "require": true, "constructor": true,
	"__proto__": true, "prototype": true, "var": true, "let": true,
	"const": true, "class": true, "async": true, "await": true, "yield": true,
	"typeof": true, "instanceof": true, "in": true, "of": true, "void": true,
	"with": true, "throw": true, "try": true, "catch": true, "globalThis": true,
	"window": true, "process": true,
}

// forbiddenTokens are rejected with a dedicated error. They cover member
// access, indexing, assignment, blocks, statements and arrow functions.
var forbiddenTokens = []string{"=>", "==", "!=", "=", ".", "[", "]", ";", "{", "}", "`", ",", "?", ":", "&", "|", "^", "~"}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.toks = append(l.toks, token{kind: tokEOF, pos: l.pos})
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && strings.ContainsRune(" \t\r\n", rune(l.src[l.pos])) {
		l.pos++
	}
}

func (l *lexer) next() error {
	c := l.src[l.pos]
	rest := l.src[l.pos:]

	switch {
	case c == '(':
		l.emit(token{kind: tokLParen, text: "("})
		l.pos++
		return nil
	case c == ')':
		l.emit(token{kind: tokRParen, text: ")"})
		l.pos++
		return nil
	case c == '"' || c == '\'':
		return l.lexString(c)
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.lexNumber()
	case isIdentStart(rune(c)):
		return l.lexWord()
	}

	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			// "!=" is a loose comparison; only === and !== exist.
			if op == "!" && strings.HasPrefix(rest, "!=") {
				break
			}
			l.emit(token{kind: tokOp, text: op})
			l.pos += len(op)
			return nil
		}
	}
	for _, ft := range forbiddenTokens {
		if strings.HasPrefix(rest, ft) {
			return flowerrors.ConditionForbidden(l.src, ft).WithDetail("offset", l.pos)
		}
	}
	return flowerrors.ConditionSyntax(l.src, l.pos, "unexpected character "+strconv.QuoteRune(rune(c)))
}

func (l *lexer) emit(t token) {
	t.pos = l.pos
	l.toks = append(l.toks, t)
}

func (l *lexer) lexString(quoteChar byte) error {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quoteChar:
			l.pos++
			l.toks = append(l.toks, token{kind: tokString, str: b.String(), text: l.src[start:l.pos], pos: start})
			return nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return flowerrors.ConditionSyntax(l.src, l.pos, "unterminated escape")
			}
			l.pos++
			switch e := l.src[l.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(e)
			}
			l.pos++
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return flowerrors.ConditionSyntax(l.src, start, "unterminated string literal")
}

func (l *lexer) lexNumber() error {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return flowerrors.ConditionForbidden(l.src, ".").WithDetail("offset", l.pos-1)
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		p := l.pos + 1
		if p < len(l.src) && (l.src[p] == '+' || l.src[p] == '-') {
			p++
		}
		if p < len(l.src) && isDigit(l.src[p]) {
			l.pos = p
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
	text := l.src[start:l.pos]
	if l.pos < len(l.src) && isIdentStart(rune(l.src[l.pos])) {
		return flowerrors.ConditionSyntax(l.src, l.pos, "identifier directly after number "+text)
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return flowerrors.ConditionSyntax(l.src, start, "invalid number "+text)
	}
	l.toks = append(l.toks, token{kind: tokNumber, num: n, text: text, pos: start})
	return nil
}

func (l *lexer) lexWord() error {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	word := l.src[start:l.pos]
	t := token{text: word, pos: start}
	switch word {
	case "true":
		t.kind = tokTrue
	case "false":
		t.kind = tokFalse
	case "null":
		t.kind = tokNull
	case "undefined":
		t.kind = tokUndefined
	default:
		if forbiddenWords[word] {
			return flowerrors.ConditionForbidden(l.src, word).WithDetail("offset", start)
		}
		return flowerrors.ConditionSyntax(l.src, start, "unknown identifier "+strconv.Quote(word)+
			" (reference variables as ${name})")
	}
	l.toks = append(l.toks, t)
	return nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
