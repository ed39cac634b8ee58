// Package download fetches remote resources and stores them on disk with
// bounded concurrency.
package download

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"fontdl/misc"
)

// StatusError is returned when server responds with non-success status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s for %s", e.Status, e.URL)
}

// Response is what Fetcher returns for successful request.
type Response struct {
	URL         *url.URL // final location after redirects
	Body        []byte
	ContentType string
}

// Fetcher retrieves single resource. Header values are added to request.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, header http.Header) (*Response, error)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// HTTPFetcher implements Fetcher with http.Client.
type HTTPFetcher struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPFetcher constructs HTTP fetcher using the provided options.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 * 1024 * 1024
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFetcher{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Fetch downloads a single URL. Any non 2xx status is reported as *StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL, header http.Header) (*Response, error) {
	if u == nil {
		return nil, errors.New("request URL is nil")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request: %w", err)
	}

	req.Header.Set("User-Agent", misc.GetUserAgent())
	// setting it explicitly disables transparent gzip handling by transport
	req.Header.Set("Accept-Encoding", "gzip, br")
	for k, v := range header {
		if len(v) > 0 && k != "Accept-Encoding" {
			req.Header[k] = v
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so connection could be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return &Response{URL: final, Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}
