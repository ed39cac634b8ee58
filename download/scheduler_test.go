package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fontdl/fonts"
)

// slowFetcher records how many fetches run at the same time.
type slowFetcher struct {
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	fail     map[string]bool
}

func (f *slowFetcher) Fetch(ctx context.Context, u *url.URL, _ http.Header) (*Response, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.fail[u.String()] {
		return nil, &StatusError{URL: u.String(), StatusCode: http.StatusNotFound, Status: "404 Not Found"}
	}
	return &Response{URL: u, Body: []byte("font:" + u.Path)}, nil
}

// bodyFetcher serves fixed bodies by path.
type bodyFetcher map[string]string

func (f bodyFetcher) Fetch(_ context.Context, u *url.URL, _ http.Header) (*Response, error) {
	return &Response{URL: u, Body: []byte(f[u.Path])}, nil
}

func job(t *testing.T, dir, raw string) Job {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return Job{Font: fonts.RemoteFont{Source: u, Destination: fonts.LocalPath(u)}, Dir: dir}
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	dir := t.TempDir()
	f := &slowFetcher{delay: 30 * time.Millisecond}
	s := NewScheduler(2, f, WithLogger(zap.NewNop()))

	for i := range 5 {
		if err := s.Submit(context.Background(), job(t, dir, fmt.Sprintf("https://fonts.example/f%d.woff2", i))); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got := f.maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent fetches = %d, want <= 2", got)
	}
	if got := f.calls.Load(); got != 5 {
		t.Errorf("fetch calls = %d, want 5", got)
	}
	if ok, failed := s.Stats(); ok != 5 || failed != 0 {
		t.Errorf("Stats() = %d, %d; want 5, 0", ok, failed)
	}
	for i := range 5 {
		name := filepath.Join(dir, "fonts.example", fmt.Sprintf("f%d.woff2", i))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestScheduler_FailureIsolation(t *testing.T) {
	var mu sync.Mutex
	served := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/fonts/f2.woff2" {
			http.NotFound(w, r)
			return
		}
		time.Sleep(10 * time.Millisecond)
		fmt.Fprintf(w, "data for %s", r.URL.Path)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewScheduler(2, NewHTTPFetcher(Options{Timeout: 5 * time.Second}))

	var jobs []Job
	for i := range 5 {
		j := job(t, dir, fmt.Sprintf("%s/fonts/f%d.woff2", srv.URL, i))
		jobs = append(jobs, j)
		if err := s.Submit(context.Background(), j); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	err := s.Wait()
	if err == nil {
		t.Fatal("expected error from Wait()")
	}
	if errs := multierr.Errors(err); len(errs) != 1 {
		t.Errorf("expected 1 error, got %d: %v", len(errs), err)
	}
	if !strings.Contains(err.Error(), jobs[2].Font.Source.String()) {
		t.Errorf("error %q does not mention failing url", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound {
		t.Errorf("expected *StatusError with 404, got %v", err)
	}

	for i, j := range jobs {
		data, err := os.ReadFile(j.Path())
		if i == 2 {
			if !os.IsNotExist(err) {
				t.Errorf("failed download must not produce file, got err = %v", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("expected %s to be written: %v", j.Path(), err)
			continue
		}
		if want := "data for " + j.Font.Source.Path; string(data) != want {
			t.Errorf("content = %q, want %q", data, want)
		}
	}
	if ok, failed := s.Stats(); ok != 4 || failed != 1 {
		t.Errorf("Stats() = %d, %d; want 4, 1", ok, failed)
	}
}

func TestScheduler_CollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	f := &slowFetcher{
		delay: time.Millisecond,
		fail: map[string]bool{
			"https://a.example/1.woff": true,
			"https://b.example/2.woff": true,
		},
	}
	s := NewScheduler(3, f)
	for _, u := range []string{"https://a.example/1.woff", "https://a.example/ok.woff", "https://b.example/2.woff"} {
		if err := s.Submit(context.Background(), job(t, dir, u)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	err := s.Wait()
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), err)
	}
	msg := err.Error()
	for _, u := range []string{"https://a.example/1.woff", "https://b.example/2.woff"} {
		if !strings.Contains(msg, u) {
			t.Errorf("error %q does not mention %s", msg, u)
		}
	}
}

func TestScheduler_DuplicateDestinations(t *testing.T) {
	dir := t.TempDir()
	f := &slowFetcher{delay: 5 * time.Millisecond}
	s := NewScheduler(4, f)

	// same url is fetched once per occurrence
	for range 3 {
		if err := s.Submit(context.Background(), job(t, dir, "https://fonts.example/same.woff2")); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "fonts.example", "same.woff2"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "font:/same.woff2" {
		t.Errorf("content = %q", data)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "fonts.example"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only final file, got %d entries", len(entries))
	}
}

func TestScheduler_SubmitCanceled(t *testing.T) {
	dir := t.TempDir()
	f := &slowFetcher{delay: 200 * time.Millisecond}
	s := NewScheduler(1, f)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Submit(ctx, job(t, dir, "https://fonts.example/a.woff")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancel()

	// pool is exhausted, canceled context must not block
	if err := s.Submit(ctx, job(t, dir, "https://fonts.example/b.woff")); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
	if err := s.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want canceled in-flight download", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestScheduler_ZeroLimitDefaultsToOne(t *testing.T) {
	f := &slowFetcher{delay: 5 * time.Millisecond}
	s := NewScheduler(0, f)
	dir := t.TempDir()
	for i := range 3 {
		if err := s.Submit(context.Background(), job(t, dir, fmt.Sprintf("https://x.example/%d.woff", i))); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := f.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
}

func TestScheduler_WarnsOnNonFontBody(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := bodyFetcher{
		"/a.woff2": "wOF2\x00\x01\x00\x00 rest of font",
		"/b.woff2": "<!DOCTYPE html><html>blocked</html>",
	}
	s := NewScheduler(1, f, WithLogger(zap.New(core)))

	dir := t.TempDir()
	for _, raw := range []string{"https://fonts.example/a.woff2", "https://fonts.example/b.woff2"} {
		if err := s.Submit(context.Background(), job(t, dir, raw)); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	// suspicious content is stored anyway
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if ok, failed := s.Stats(); ok != 2 || failed != 0 {
		t.Errorf("Stats() = %d, %d; want 2, 0", ok, failed)
	}

	warned := logs.FilterMessage("Downloaded file does not look like a font").All()
	if len(warned) != 1 {
		t.Fatalf("expected 1 warning, got %v", logs.All())
	}
	if got := warned[0].ContextMap()["url"]; got != "https://fonts.example/b.woff2" {
		t.Errorf("warning url = %v", got)
	}
}
