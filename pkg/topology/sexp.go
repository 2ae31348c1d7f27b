package topology

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Expr is an s-expression node, either an Atom or a *List.
type Expr interface {
	String() string
	isExpr()
}

// Atom is a symbol, number or quoted string.
type Atom string

func (a Atom) String() string { return string(a) }
func (Atom) isExpr()          {}

// List is a parenthesized list.
type List struct {
	Items []Expr
	Line  int // line of the opening parenthesis
}

func (*List) isExpr() {}

func (l *List) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, e := range l.Items {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Head returns the leading atom of the list, or "".
func (l *List) Head() string {
	if len(l.Items) == 0 {
		return ""
	}
	if a, ok := l.Items[0].(Atom); ok {
		return string(a)
	}
	return ""
}

// Atoms returns the atoms after the head. Nested lists are skipped.
func (l *List) Atoms() []string {
	var out []string
	for _, e := range l.Items[min(1, len(l.Items)):] {
		if a, ok := e.(Atom); ok {
			out = append(out, string(a))
		}
	}
	return out
}

// Lists returns the nested lists after the head.
func (l *List) Lists() []*List {
	var out []*List
	for _, e := range l.Items {
		if sub, ok := e.(*List); ok {
			out = append(out, sub)
		}
	}
	return out
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokOpen
	tokClose
	tokAtom
)

type token struct {
	typ   tokenType
	value string
	line  int
}

// lexer tokenizes s-expressions. Comments run from ';' to end of line.
type lexer struct {
	r      *bufio.Reader
	line   int
	peeked *rune
}

func newLexer(r io.Reader) *lexer {
	return &lexer{r: bufio.NewReader(r), line: 1}
}

func (l *lexer) peek() (rune, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	ch, _, err := l.r.ReadRune()
	if err != nil {
		return 0, err
	}
	l.peeked = &ch
	return ch, nil
}

func (l *lexer) read() (rune, error) {
	var ch rune
	if l.peeked != nil {
		ch = *l.peeked
		l.peeked = nil
	} else {
		var err error
		ch, _, err = l.r.ReadRune()
		if err != nil {
			return 0, err
		}
	}
	if ch == '\n' {
		l.line++
	}
	return ch, nil
}

func (l *lexer) next() (token, error) {
	for {
		ch, err := l.peek()
		if err == io.EOF {
			return token{typ: tokEOF, line: l.line}, nil
		}
		if err != nil {
			return token{}, err
		}
		switch {
		case unicode.IsSpace(ch):
			l.read()
			continue
		case ch == ';':
			for {
				c, err := l.read()
				if err != nil || c == '\n' {
					break
				}
			}
			continue
		}
		break
	}

	ch, _ := l.peek()
	line := l.line
	switch ch {
	case '(':
		l.read()
		return token{typ: tokOpen, line: line}, nil
	case ')':
		l.read()
		return token{typ: tokClose, line: line}, nil
	case '"':
		s, err := l.quoted()
		return token{typ: tokAtom, value: s, line: line}, err
	}

	var sb strings.Builder
	for {
		ch, err := l.peek()
		if err != nil || unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '"' || ch == ';' {
			break
		}
		l.read()
		sb.WriteRune(ch)
	}
	return token{typ: tokAtom, value: sb.String(), line: line}, nil
}

func (l *lexer) quoted() (string, error) {
	l.read()
	var sb strings.Builder
	for {
		ch, err := l.read()
		if err != nil {
			return "", fmt.Errorf("line %d: unterminated string", l.line)
		}
		switch ch {
		case '"':
			return sb.String(), nil
		case '\\':
			next, err := l.read()
			if err != nil {
				return "", fmt.Errorf("line %d: unterminated string", l.line)
			}
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteRune(next)
			}
		default:
			sb.WriteRune(ch)
		}
	}
}

// ReadExprs parses every top-level expression in r.
func ReadExprs(r io.Reader) ([]Expr, error) {
	lx := newLexer(r)
	var out []Expr
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		if tok.typ == tokEOF {
			return out, nil
		}
		e, err := parseExpr(lx, tok)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func parseExpr(lx *lexer, tok token) (Expr, error) {
	switch tok.typ {
	case tokAtom:
		return Atom(tok.value), nil
	case tokClose:
		return nil, fmt.Errorf("line %d: unexpected ')'", tok.line)
	case tokEOF:
		return nil, fmt.Errorf("line %d: unexpected EOF", tok.line)
	}

	l := &List{Line: tok.line}
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		switch t.typ {
		case tokClose:
			return l, nil
		case tokEOF:
			return nil, fmt.Errorf("line %d: unclosed list", tok.line)
		}
		e, err := parseExpr(lx, t)
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, e)
	}
}
