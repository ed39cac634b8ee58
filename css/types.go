package css

import (
	"io"
	"strings"

	"github.com/tdewolff/parse/v2/css"
)

// Node is a single element of the stylesheet tree. Every node knows how to
// write itself back, so unmodified trees reproduce their input exactly.
type Node interface {
	writeTo(w *writer)
}

// Token is a lexer token kept verbatim: whitespace, comments, punctuation,
// identifiers, numbers and everything else the tree does not need to model.
type Token struct {
	Type css.TokenType
	Data string
}

// URL is a url() reference.
type URL struct {
	Value string // decoded payload
	Raw   string // original token text, output as is when not empty
	Quote byte   // quote used in the original token, 0 for unquoted
}

// Function is a function call such as format("woff2") or local(Arial).
type Function struct {
	Name   string // lower case name without parenthesis
	Raw    string // original function token including "("
	Args   []Node
	Closed bool
}

// SimpleBlock is a (), [] or {} group inside a prelude or a value.
type SimpleBlock struct {
	Open   byte
	Nodes  []Node
	Closed bool
}

// Block is the {} body of a rule. It holds declarations, nested rules and
// trivia tokens.
type Block struct {
	Nodes  []Node
	Closed bool
}

// AtRule is @name prelude followed by either a block or a semicolon.
type AtRule struct {
	Name      string // lower case name without "@"
	Keyword   string // original at-keyword token
	Prelude   []Node
	Block     *Block
	Semicolon bool
}

// QualifiedRule is a style rule: selector prelude and declaration block.
type QualifiedRule struct {
	Prelude []Node
	Block   *Block
}

// Declaration is property: value, optionally terminated by a semicolon.
type Declaration struct {
	Name      string // normalized property name
	Ident     string // original property token
	Before    []Node // trivia between name and colon
	Value     []Node // everything after the colon
	Semicolon bool
}

// Stylesheet is the root of the tree.
type Stylesheet struct {
	Source string // what was parsed, used in diagnostics and logs
	Nodes  []Node
}

type writer struct {
	w   io.Writer
	n   int64
	err error
}

func (w *writer) str(s string) {
	if w.err != nil || len(s) == 0 {
		return
	}
	n, err := io.WriteString(w.w, s)
	w.n += int64(n)
	w.err = err
}

func (w *writer) nodes(nodes []Node) {
	for _, n := range nodes {
		n.writeTo(w)
	}
}

func (t Token) writeTo(w *writer) {
	w.str(t.Data)
}

func (u *URL) writeTo(w *writer) {
	if len(u.Raw) > 0 {
		w.str(u.Raw)
		return
	}
	w.str("url(")
	switch {
	case u.Quote != 0:
		w.str(string(u.Quote) + escapeQuoted(u.Value, u.Quote) + string(u.Quote))
	case needsQuotes(u.Value):
		w.str(`"` + escapeQuoted(u.Value, '"') + `"`)
	default:
		w.str(u.Value)
	}
	w.str(")")
}

func (f *Function) writeTo(w *writer) {
	w.str(f.Raw)
	w.nodes(f.Args)
	if f.Closed {
		w.str(")")
	}
}

func (b *SimpleBlock) writeTo(w *writer) {
	w.str(string(b.Open))
	w.nodes(b.Nodes)
	if b.Closed {
		w.str(string(mirror(b.Open)))
	}
}

func (b *Block) writeTo(w *writer) {
	w.str("{")
	w.nodes(b.Nodes)
	if b.Closed {
		w.str("}")
	}
}

func (r *AtRule) writeTo(w *writer) {
	w.str(r.Keyword)
	w.nodes(r.Prelude)
	if r.Block != nil {
		r.Block.writeTo(w)
	}
	if r.Semicolon {
		w.str(";")
	}
}

func (r *QualifiedRule) writeTo(w *writer) {
	w.nodes(r.Prelude)
	if r.Block != nil {
		r.Block.writeTo(w)
	}
}

func (d *Declaration) writeTo(w *writer) {
	w.str(d.Ident)
	w.nodes(d.Before)
	w.str(":")
	w.nodes(d.Value)
	if d.Semicolon {
		w.str(";")
	}
}

// WriteTo writes the stylesheet to w, implementing io.WriterTo.
func (s *Stylesheet) WriteTo(w io.Writer) (int64, error) {
	wr := &writer{w: w}
	wr.nodes(s.Nodes)
	return wr.n, wr.err
}

// String returns the CSS text of the stylesheet.
func (s *Stylesheet) String() string {
	var sb strings.Builder
	s.WriteTo(&sb) //nolint:errcheck
	return sb.String()
}

func mirror(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	default:
		return '}'
	}
}

// needsQuotes reports whether value cannot be written as an unquoted url().
func needsQuotes(s string) bool {
	if len(s) == 0 {
		return true
	}
	for _, r := range s {
		switch {
		case r <= ' ' || r == 0x7f:
			return true
		case r == '"' || r == '\'' || r == '(' || r == ')' || r == '\\':
			return true
		}
	}
	return false
}

// escapeQuoted escapes a string for use inside CSS quotes.
func escapeQuoted(s string, quote byte) string {
	// Fast path: nothing to escape.
	if !strings.ContainsAny(s, string(quote)+"\\\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
