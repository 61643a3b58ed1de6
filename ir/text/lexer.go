package text

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind uint8

const (
	tokenLeftParen tokenKind = iota
	tokenRightParen
	tokenAtom
	tokenString
	tokenEOF
)

type token struct {
	kind   tokenKind
	text   string
	line   int
	column int
}

// lexer splits S-expression source into parentheses, atoms and string
// literals. ';' starts a comment that runs to the end of the line.
type lexer struct {
	source string
	pos    int
	line   int
	column int
	tokens []token
}

func newLexer(source string) *lexer {
	return &lexer{
		source: source,
		line:   1,
		column: 1,
		tokens: make([]token, 0, len(source)/4+8),
	}
}

func (l *lexer) tokenize() ([]token, error) {
	for {
		l.skipSpace()
		if l.pos >= len(l.source) {
			break
		}
		line, col := l.line, l.column
		switch r := l.peek(); r {
		case '(':
			l.advance()
			l.tokens = append(l.tokens, token{kind: tokenLeftParen, text: "(", line: line, column: col})
		case ')':
			l.advance()
			l.tokens = append(l.tokens, token{kind: tokenRightParen, text: ")", line: line, column: col})
		case '"':
			s, err := l.scanString()
			if err != nil {
				return nil, err
			}
			l.tokens = append(l.tokens, token{kind: tokenString, text: s, line: line, column: col})
		default:
			start := l.pos
			for l.pos < len(l.source) {
				r := l.peek()
				if r == '(' || r == ')' || r == '"' || r == ';' || unicode.IsSpace(r) {
					break
				}
				l.advance()
			}
			l.tokens = append(l.tokens, token{kind: tokenAtom, text: l.source[start:l.pos], line: line, column: col})
		}
	}
	l.tokens = append(l.tokens, token{kind: tokenEOF, line: l.line, column: l.column})
	return l.tokens, nil
}

func (l *lexer) peek() rune {
	r, _ := utf8.DecodeRuneInString(l.source[l.pos:])
	return r
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.source[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return r
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.source) {
		r := l.peek()
		switch {
		case r == ';':
			for l.pos < len(l.source) && l.peek() != '\n' {
				l.advance()
			}
		case unicode.IsSpace(r):
			l.advance()
		default:
			return
		}
	}
}

func (l *lexer) scanString() (string, error) {
	line, col := l.line, l.column
	start := l.pos
	l.advance()
	for l.pos < len(l.source) {
		switch l.advance() {
		case '\\':
			if l.pos < len(l.source) {
				l.advance()
			}
		case '"':
			s, err := strconv.Unquote(l.source[start:l.pos])
			if err != nil {
				return "", &SyntaxError{Line: line, Col: col, Msg: "invalid string literal", Source: l.source}
			}
			return s, nil
		case '\n':
			return "", &SyntaxError{Line: line, Col: col, Msg: "newline in string literal", Source: l.source}
		}
	}
	return "", &SyntaxError{Line: line, Col: col, Msg: "unterminated string literal", Source: l.source}
}

// node is a parsed S-expression: an atom, a string, or a list.
type node struct {
	atom   string
	str    bool
	list   []node
	isList bool
	line   int
	column int
}

func (n node) String() string {
	if !n.isList {
		if n.str {
			return strconv.Quote(n.atom)
		}
		return n.atom
	}
	parts := make([]string, len(n.list))
	for i, c := range n.list {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func parseNodes(source string) ([]node, error) {
	tokens, err := newLexer(source).tokenize()
	if err != nil {
		return nil, err
	}
	p := &nodeParser{tokens: tokens, source: source}
	var out []node
	for p.tokens[p.pos].kind != tokenEOF {
		n, err := p.parse()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

type nodeParser struct {
	tokens []token
	pos    int
	source string
}

func (p *nodeParser) parse() (node, error) {
	tok := p.tokens[p.pos]
	p.pos++
	switch tok.kind {
	case tokenAtom:
		return node{atom: tok.text, line: tok.line, column: tok.column}, nil
	case tokenString:
		return node{atom: tok.text, str: true, line: tok.line, column: tok.column}, nil
	case tokenLeftParen:
		n := node{isList: true, line: tok.line, column: tok.column}
		for {
			next := p.tokens[p.pos]
			if next.kind == tokenRightParen {
				p.pos++
				return n, nil
			}
			if next.kind == tokenEOF {
				return node{}, &SyntaxError{Line: tok.line, Col: tok.column, Msg: "unclosed '('", Source: p.source}
			}
			child, err := p.parse()
			if err != nil {
				return node{}, err
			}
			n.list = append(n.list, child)
		}
	case tokenRightParen:
		return node{}, &SyntaxError{Line: tok.line, Col: tok.column, Msg: "unexpected ')'", Source: p.source}
	default:
		return node{}, &SyntaxError{Line: tok.line, Col: tok.column, Msg: "unexpected end of input", Source: p.source}
	}
}
