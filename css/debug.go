package css

import (
	"strings"

	"github.com/tdewolff/parse/v2/css"

	"fontdl/utils/debug"
)

// Dump returns readable tree of the stylesheet. Whitespace and comments
// between nodes are not shown.
func (s *Stylesheet) Dump() string {
	tw := debug.NewTreeWriter()
	tw.Line(0, "Stylesheet %q (%d nodes)", s.Source, len(s.Nodes))
	dumpNodes(tw, 1, s.Nodes)
	return tw.String()
}

func dumpNodes(tw *debug.TreeWriter, depth int, nodes []Node) {
	for _, n := range nodes {
		dumpNode(tw, depth, n)
	}
}

func dumpNode(tw *debug.TreeWriter, depth int, n Node) {
	switch n := n.(type) {
	case Token:
		if n.Type == css.WhitespaceToken || n.Type == css.CommentToken {
			return
		}
		tw.Line(depth, "%s %q", n.Type, n.Data)
	case *URL:
		tw.Line(depth, "URL %q rewritten=%t", n.Value, len(n.Raw) == 0)
	case *Function:
		tw.Line(depth, "Function %s closed=%t", n.Name, n.Closed)
		dumpNodes(tw, depth+1, n.Args)
	case *SimpleBlock:
		tw.Line(depth, "Block %c%c closed=%t", n.Open, mirror(n.Open), n.Closed)
		dumpNodes(tw, depth+1, n.Nodes)
	case *AtRule:
		tw.Line(depth, "AtRule @%s", n.Name)
		tw.TextBlock(depth+1, "prelude", text(n.Prelude))
		if n.Block != nil {
			dumpBlock(tw, depth+1, n.Block)
		}
	case *QualifiedRule:
		tw.Line(depth, "QualifiedRule")
		tw.TextBlock(depth+1, "prelude", text(n.Prelude))
		if n.Block != nil {
			dumpBlock(tw, depth+1, n.Block)
		}
	case *Declaration:
		tw.Line(depth, "Declaration %s", n.Name)
		dumpNodes(tw, depth+1, n.Value)
	}
}

func dumpBlock(tw *debug.TreeWriter, depth int, b *Block) {
	tw.Line(depth, "Block closed=%t", b.Closed)
	dumpNodes(tw, depth+1, b.Nodes)
}

func text(nodes []Node) string {
	var sb strings.Builder
	w := &writer{w: &sb}
	w.nodes(nodes)
	return strings.TrimSpace(sb.String())
}
