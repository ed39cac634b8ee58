// Package source obtains stylesheet text for configured sources.
package source

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"fontdl/config"
	"fontdl/download"
)

// Stylesheet is source text ready for parsing.
type Stylesheet struct {
	// Name identifies source in diagnostics: URL or file path.
	Name string
	// Path is location of local file, empty for remote sources.
	Path string
	// Text is UTF-8 without byte order mark.
	Text []byte
	// Base is URL relative references are resolved against, nil when unknown.
	Base *url.URL
}

// Load returns text of the source. Remote sources are fetched with source user
// agent and headers, their final URL (after redirects) becomes the base. Local
// sources are read relative to baseDir and get base only when it is
// configured explicitly.
func Load(ctx context.Context, src *config.SourceConfig, baseDir string, fetcher download.Fetcher, log *zap.Logger) (*Stylesheet, error) {
	if src.IsRemote() {
		return loadRemote(ctx, src, fetcher, log)
	}
	return loadLocal(src, baseDir, log)
}

func loadRemote(ctx context.Context, src *config.SourceConfig, fetcher download.Fetcher, log *zap.Logger) (*Stylesheet, error) {
	u, err := url.Parse(src.From)
	if err != nil {
		return nil, fmt.Errorf("unable to parse source url %q: %w", src.From, err)
	}

	header := http.Header{}
	for k, v := range src.Headers {
		header.Set(k, string(v))
	}
	header.Set("User-Agent", src.Agent())

	log.Info("Fetching stylesheet", zap.Stringer("url", u))
	resp, err := fetcher.Fetch(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch stylesheet from %s: %w", u, err)
	}

	text, enc, err := decode(resp.Body, resp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("unable to decode stylesheet from %s: %w", u, err)
	}
	log.Debug("Stylesheet fetched",
		zap.Stringer("final", resp.URL),
		zap.String("content-type", resp.ContentType),
		zap.String("encoding", enc),
		zap.Int("bytes", len(text)))

	return &Stylesheet{Name: u.String(), Text: text, Base: resp.URL}, nil
}

func loadLocal(src *config.SourceConfig, baseDir string, log *zap.Logger) (*Stylesheet, error) {
	path := src.From
	if !filepath.IsAbs(path) && len(baseDir) > 0 {
		path = filepath.Join(baseDir, path)
	}

	var base *url.URL
	if len(src.BaseURL) > 0 {
		u, err := url.Parse(src.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to parse base url %q: %w", src.BaseURL, err)
		}
		base = u
	}

	log.Info("Reading stylesheet", zap.String("path", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read stylesheet: %w", err)
	}

	text, enc, err := decode(data, "")
	if err != nil {
		return nil, fmt.Errorf("unable to decode stylesheet %s: %w", path, err)
	}
	log.Debug("Stylesheet read", zap.String("encoding", enc), zap.Int("bytes", len(text)))

	return &Stylesheet{Name: path, Path: path, Text: text, Base: base}, nil
}

// decode converts data to UTF-8. Byte order mark wins, then charset
// parameter of content type. Without either valid UTF-8 is taken as is and
// anything else is left to charset detection.
func decode(data []byte, contentType string) ([]byte, string, error) {
	var (
		fallback encoding.Encoding = encoding.Nop
		name                       = "utf-8"
	)
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if label, ok := params["charset"]; ok {
			if enc, canonical := charset.Lookup(label); enc != nil {
				fallback, name = enc, canonical
			}
		}
	}
	if fallback == encoding.Nop && !utf8.Valid(data) {
		fallback, name, _ = charset.DetermineEncoding(data, contentType)
	}

	out, _, err := transform.Bytes(unicode.BOMOverride(fallback.NewDecoder()), data)
	if err != nil {
		return nil, "", err
	}
	return out, name, nil
}
