// Package fonts finds remote fonts referenced by @font-face rules and points
// stylesheet at their future local copies.
package fonts

import (
	"net/url"

	"go.uber.org/zap"

	"fontdl/css"
)

// RemoteFont describes single font file to be downloaded: where from and
// where to, relative to the directory of the rewritten stylesheet.
type RemoteFont struct {
	Source      *url.URL
	Destination string // slash separated, see LocalPath
}

type scope int

const (
	outside scope = iota
	inFontFace
	inSrc
)

type rewriter struct {
	base  *url.URL
	log   *zap.Logger
	fonts []RemoteFont
}

// RewriteRemoteFonts walks the tree and replaces every remote url() found in
// "src" descriptor of @font-face rule with "./" + LocalPath of the (resolved)
// URL. Relative references are resolved against base when it is not nil.
// Returned fonts are in document order, one per rewritten reference, with no
// deduplication. Nodes which were not rewritten are left untouched.
func RewriteRemoteFonts(sheet *css.Stylesheet, base *url.URL, log *zap.Logger) []RemoteFont {
	if log == nil {
		log = zap.NewNop()
	}
	r := &rewriter{base: base, log: log.Named("fonts").With(zap.String("stylesheet", sheet.Source))}
	r.walk(sheet.Nodes, outside)
	return r.fonts
}

// walk carries current scope down the recursion, returning from the call
// restores the scope of enclosing construct.
func (r *rewriter) walk(nodes []css.Node, sc scope) {
	for _, n := range nodes {
		switch n := n.(type) {
		case *css.AtRule:
			inner := sc
			if n.Name == "font-face" {
				inner = inFontFace
			}
			r.walk(n.Prelude, sc)
			if n.Block != nil {
				r.walk(n.Block.Nodes, inner)
			}
		case *css.QualifiedRule:
			r.walk(n.Prelude, sc)
			if n.Block != nil {
				r.walk(n.Block.Nodes, sc)
			}
		case *css.Declaration:
			inner := sc
			if sc == inFontFace && n.Name == "src" {
				inner = inSrc
			}
			r.walk(n.Value, inner)
		case *css.Function:
			r.walk(n.Args, sc)
		case *css.SimpleBlock:
			r.walk(n.Nodes, sc)
		case *css.URL:
			if sc == inSrc {
				r.rewrite(n)
			}
		}
	}
}

// classify returns absolute http(s) URL the reference points to or nil if
// the reference should stay as is.
func (r *rewriter) classify(ref string) *url.URL {
	u, err := url.Parse(ref)
	if err != nil {
		r.log.Warn("Unable to parse font url", zap.String("url", ref), zap.Error(err))
		return nil
	}
	if !u.IsAbs() {
		if r.base == nil {
			r.log.Debug("Relative font url without base, skipping", zap.String("url", ref))
			return nil
		}
		// empty path refers to the stylesheet itself
		if len(u.Path) == 0 && len(u.Host) == 0 {
			r.log.Warn("Font url does not name a file, skipping", zap.String("url", ref))
			return nil
		}
		u = r.base.ResolveReference(u)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		r.log.Debug("Not a remote font, skipping", zap.String("url", ref), zap.String("scheme", u.Scheme))
		return nil
	}
	if !CanLocalize(u) {
		r.log.Warn("Font url cannot be mapped to a local file, skipping", zap.String("url", ref))
		return nil
	}
	return u
}

func (r *rewriter) rewrite(node *css.URL) {
	u := r.classify(node.Value)
	if u == nil {
		return
	}

	dst := LocalPath(u)
	node.Value = "./" + dst
	// force output to be generated from new value
	node.Raw = ""

	r.fonts = append(r.fonts, RemoteFont{Source: u, Destination: dst})
	r.log.Debug("Rewrote font url", zap.Stringer("from", u), zap.String("to", node.Value))
}
