package fonts

import (
	"net"
	"net/url"
	"strings"
)

// segments returns URL path segments which can be used as file names. Dot
// segments are resolved, ".." never climbs above the host.
func segments(u *url.URL) []string {
	var out []string
	for s := range strings.SplitSeq(u.EscapedPath(), "/") {
		switch s {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	return out
}

// CanLocalize reports whether LocalPath would produce a usable path for u:
// it needs a host usable as directory name (IPv6 literals are not) and a
// path naming a file, not a directory.
func CanLocalize(u *url.URL) bool {
	if u == nil || u.Hostname() == "" {
		return false
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.To4() == nil {
		return false
	}
	if p := u.EscapedPath(); strings.HasSuffix(p, "/") || strings.HasSuffix(p, "/.") || strings.HasSuffix(p, "/..") {
		return false
	}
	return len(segments(u)) > 0
}

// LocalPath maps absolute URL to a relative slash separated path: host
// followed by path segments. Query and fragment are ignored, so the same URL
// always lands in the same place regardless of the stylesheet it came from.
func LocalPath(u *url.URL) string {
	return strings.Join(append([]string{strings.ToLower(u.Hostname())}, segments(u)...), "/")
}
