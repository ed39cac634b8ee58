// Package css parses stylesheets into a mutable tree which can be written back
// without losing a single byte of the original text.
package css

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Diagnostic describes a single syntax problem.
type Diagnostic struct {
	Offset  int
	Line    int
	Column  int
	Message string
	Context string // source line with position marker
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
}

// ParseError is returned when stylesheet has syntax errors. It always carries
// at least one diagnostic.
type ParseError struct {
	Source      string
	Diagnostics []Diagnostic
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("unable to parse stylesheet %s: %s", e.Source, e.Diagnostics[0])
	if n := len(e.Diagnostics); n > 1 {
		msg += fmt.Sprintf(" (and %d more)", n-1)
	}
	return msg
}

type token struct {
	typ  css.TokenType
	data string
	off  int
}

// Parser builds stylesheet trees.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a new CSS parser.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("css-parser")}
}

// Parse parses CSS text into a Stylesheet. Source identifies what is being
// parsed for diagnostics. Any syntax problem results in *ParseError.
func (p *Parser) Parse(data []byte, source string) (*Stylesheet, error) {
	p.log.Debug("Parsing CSS", zap.String("source", source), zap.Int("bytes", len(data)))

	st := &state{src: data}
	st.tokenize()

	sheet := &Stylesheet{Source: source, Nodes: st.ruleList()}
	if len(st.diags) > 0 {
		for i := range st.diags {
			d := &st.diags[i]
			d.Line, d.Column, d.Context = parse.Position(bytes.NewReader(data), d.Offset)
		}
		return nil, &ParseError{Source: source, Diagnostics: st.diags}
	}
	return sheet, nil
}

// Parse is a convenience wrapper for callers which do not need logging.
func Parse(data []byte, source string) (*Stylesheet, error) {
	return NewParser(nil).Parse(data, source)
}

type state struct {
	src   []byte
	toks  []token
	pos   int
	diags []Diagnostic
}

func (st *state) tokenize() {
	lexer := css.NewLexer(parse.NewInput(bytes.NewReader(st.src)))
	off := 0
	for {
		tt, data := lexer.Next()
		if tt == css.ErrorToken {
			if err := lexer.Err(); err != nil && !errors.Is(err, io.EOF) {
				st.errorf(off, "%v", err)
			} else if off < len(st.src) {
				st.errorf(off, "unexpected character")
			}
			break
		}
		st.toks = append(st.toks, token{typ: tt, data: string(data), off: off})
		off += len(data)
	}
	if off < len(st.src) {
		// lexer stopped early, keep the tail so nothing is lost on output
		st.toks = append(st.toks, token{typ: css.DelimToken, data: string(st.src[off:]), off: off})
	}
}

func (st *state) errorf(off int, format string, args ...any) {
	st.diags = append(st.diags, Diagnostic{Offset: off, Message: fmt.Sprintf(format, args...)})
}

func (st *state) eof() bool {
	return st.pos >= len(st.toks)
}

func (st *state) peek() token {
	if st.eof() {
		return token{typ: css.ErrorToken, off: len(st.src)}
	}
	return st.toks[st.pos]
}

func (st *state) next() token {
	t := st.peek()
	st.pos++
	return t
}

func isTrivia(tt css.TokenType) bool {
	return tt == css.WhitespaceToken || tt == css.CommentToken
}

func verbatim(t token) Token {
	return Token{Type: t.typ, Data: t.data}
}

// ruleList consumes top level stylesheet content.
func (st *state) ruleList() []Node {
	var nodes []Node
	for !st.eof() {
		t := st.peek()
		switch {
		case isTrivia(t.typ), t.typ == css.CDOToken, t.typ == css.CDCToken:
			nodes = append(nodes, verbatim(st.next()))
		case t.typ == css.AtKeywordToken:
			nodes = append(nodes, st.atRule(false))
		case t.typ == css.RightBraceToken, t.typ == css.SemicolonToken:
			st.errorf(t.off, "unexpected %q", t.data)
			nodes = append(nodes, verbatim(st.next()))
		default:
			nodes = append(nodes, st.qualifiedRule(false))
		}
	}
	return nodes
}

// atRule consumes at-rule starting at current at-keyword token.
func (st *state) atRule(nested bool) *AtRule {
	kw := st.next()
	rule := &AtRule{Keyword: kw.data, Name: strings.ToLower(strings.TrimPrefix(kw.data, "@"))}
	for {
		t := st.peek()
		switch {
		case st.eof():
			return rule
		case t.typ == css.SemicolonToken:
			st.next()
			rule.Semicolon = true
			return rule
		case t.typ == css.LeftBraceToken:
			rule.Block = st.block()
			return rule
		case t.typ == css.RightBraceToken && nested:
			// enclosing block ends here
			return rule
		default:
			rule.Prelude = append(rule.Prelude, st.component())
		}
	}
}

// qualifiedRule consumes selector prelude and its block.
func (st *state) qualifiedRule(nested bool) *QualifiedRule {
	rule := &QualifiedRule{}
	start := st.peek().off
	for {
		t := st.peek()
		switch {
		case st.eof():
			st.errorf(start, "unexpected end of input, rule has no block")
			return rule
		case t.typ == css.LeftBraceToken:
			rule.Block = st.block()
			return rule
		case t.typ == css.RightBraceToken && nested:
			st.errorf(start, "rule has no block")
			return rule
		default:
			rule.Prelude = append(rule.Prelude, st.component())
		}
	}
}

// block consumes {} rule body. Body may contain declarations and nested rules.
func (st *state) block() *Block {
	open := st.next()
	b := &Block{}
	for {
		t := st.peek()
		switch {
		case st.eof():
			st.errorf(open.off, "unclosed block")
			return b
		case t.typ == css.RightBraceToken:
			st.next()
			b.Closed = true
			return b
		case isTrivia(t.typ), t.typ == css.SemicolonToken:
			b.Nodes = append(b.Nodes, verbatim(st.next()))
		case t.typ == css.AtKeywordToken:
			b.Nodes = append(b.Nodes, st.atRule(true))
		case st.startsNestedRule():
			b.Nodes = append(b.Nodes, st.qualifiedRule(true))
		case t.typ == css.IdentToken, t.typ == css.CustomPropertyNameToken:
			b.Nodes = append(b.Nodes, st.declaration()...)
		default:
			st.errorf(t.off, "unexpected %q in declaration list", t.data)
			b.Nodes = append(b.Nodes, st.skipDeclaration()...)
		}
	}
}

// startsNestedRule looks ahead to decide whether the upcoming item is a rule
// (reaches "{" before ";" or "}") rather than a declaration.
func (st *state) startsNestedRule() bool {
	depth := 0
	for i := st.pos; i < len(st.toks); i++ {
		switch st.toks[i].typ {
		case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		case css.LeftBraceToken:
			if depth == 0 {
				return true
			}
		case css.SemicolonToken, css.RightBraceToken:
			if depth == 0 {
				return false
			}
		}
	}
	return false
}

// declaration consumes "name : value ;". When colon is missing tokens are
// returned verbatim and diagnostic is recorded.
func (st *state) declaration() []Node {
	start := st.pos
	name := st.next()
	decl := &Declaration{Ident: name.data, Name: name.data}
	if name.typ == css.IdentToken {
		decl.Name = strings.ToLower(name.data)
	}
	for {
		t := st.peek()
		if isTrivia(t.typ) {
			decl.Before = append(decl.Before, verbatim(st.next()))
			continue
		}
		if t.typ == css.ColonToken {
			st.next()
			break
		}
		st.errorf(name.off, "expected ':' after property name %q", name.data)
		st.pos = start
		return st.skipDeclaration()
	}
	for {
		t := st.peek()
		switch {
		case st.eof(), t.typ == css.RightBraceToken:
			return []Node{decl}
		case t.typ == css.SemicolonToken:
			st.next()
			decl.Semicolon = true
			return []Node{decl}
		default:
			decl.Value = append(decl.Value, st.component())
		}
	}
}

// skipDeclaration consumes broken declaration up to ";" or "}" keeping tokens.
func (st *state) skipDeclaration() []Node {
	var nodes []Node
	for {
		t := st.peek()
		switch {
		case st.eof(), t.typ == css.RightBraceToken:
			return nodes
		case t.typ == css.SemicolonToken:
			return append(nodes, verbatim(st.next()))
		default:
			nodes = append(nodes, st.component())
		}
	}
}

// component consumes a single component value.
func (st *state) component() Node {
	t := st.next()
	switch t.typ {
	case css.URLToken:
		return st.url(t)
	case css.BadURLToken:
		st.errorf(t.off, "malformed url()")
	case css.BadStringToken:
		st.errorf(t.off, "unterminated string")
	case css.FunctionToken:
		return st.function(t)
	case css.LeftParenthesisToken, css.LeftBracketToken, css.LeftBraceToken:
		return st.simpleBlock(t)
	case css.RightParenthesisToken, css.RightBracketToken, css.RightBraceToken:
		st.errorf(t.off, "unexpected %q", t.data)
	}
	return verbatim(t)
}

func (st *state) function(open token) Node {
	f := &Function{Raw: open.data, Name: strings.ToLower(strings.TrimSuffix(open.data, "("))}
	for {
		t := st.peek()
		switch {
		case st.eof():
			st.errorf(open.off, "unclosed function %s", open.data)
			return f
		case t.typ == css.RightParenthesisToken:
			st.next()
			f.Closed = true
			if u := quotedURL(f); u != nil {
				return u
			}
			return f
		case t.typ == css.RightBraceToken || t.typ == css.SemicolonToken:
			// let enclosing construct deal with it
			st.errorf(open.off, "unclosed function %s", open.data)
			return f
		default:
			f.Args = append(f.Args, st.component())
		}
	}
}

func (st *state) simpleBlock(open token) Node {
	b := &SimpleBlock{Open: open.data[0]}
	closing := css.RightParenthesisToken
	switch open.typ {
	case css.LeftBracketToken:
		closing = css.RightBracketToken
	case css.LeftBraceToken:
		closing = css.RightBraceToken
	}
	for {
		t := st.peek()
		switch {
		case st.eof():
			st.errorf(open.off, "unclosed %q", open.data)
			return b
		case t.typ == closing:
			st.next()
			b.Closed = true
			return b
		case t.typ == css.RightBraceToken || t.typ == css.SemicolonToken && open.typ != css.LeftBraceToken:
			st.errorf(open.off, "unclosed %q", open.data)
			return b
		default:
			b.Nodes = append(b.Nodes, st.component())
		}
	}
}

// url decodes url() token payload.
func (st *state) url(t token) *URL {
	u := &URL{Raw: t.data}
	s := t.data
	if len(s) >= 4 && strings.EqualFold(s[:4], "url(") {
		s = s[4:]
	}
	s = strings.TrimSuffix(s, ")")
	s = strings.Trim(s, " \t\n\r\f")
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		u.Quote = s[0]
		s = s[1 : len(s)-1]
	}
	u.Value = unescape(s)
	return u
}

// quotedURL handles lexers which report url("...") as function with string
// argument.
func quotedURL(f *Function) *URL {
	if f.Name != "url" {
		return nil
	}
	var u *URL
	for _, a := range f.Args {
		t, ok := a.(Token)
		switch {
		case ok && isTrivia(t.Type):
		case ok && t.Type == css.StringToken && u == nil && len(t.Data) >= 2:
			u = &URL{Quote: t.Data[0], Value: unescape(t.Data[1 : len(t.Data)-1])}
		default:
			return nil
		}
	}
	if u == nil {
		return nil
	}
	var sb strings.Builder
	(&writer{w: &sb}).nodes([]Node{f})
	u.Raw = sb.String()
	return u
}

// unescape resolves CSS escape sequences.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		if s[i] == '\n' {
			// escaped newline is a line continuation
			continue
		}
		j := i
		for j < len(s) && j-i < 6 && isHex(s[j]) {
			j++
		}
		if j == i {
			b.WriteByte(s[i])
			continue
		}
		r, _ := strconv.ParseUint(s[i:j], 16, 32)
		if r == 0 || r > utf8.MaxRune {
			r = utf8.RuneError
		}
		b.WriteRune(rune(r))
		if j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
			j++
		}
		i = j - 1
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
