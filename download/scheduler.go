package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/h2non/filetype"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"fontdl/fonts"
)

// Job is a single font to download. Font destination is relative to Dir,
// which is the directory rewritten stylesheet is written to.
type Job struct {
	Font   fonts.RemoteFont
	Dir    string
	Header http.Header
}

// Path returns location on disk job result is stored at.
func (j Job) Path() string {
	return filepath.Join(j.Dir, filepath.FromSlash(j.Font.Destination))
}

// Scheduler runs download jobs, no more than limit of them at the same time.
// Failure of one job does not affect others, all failures are reported by
// Wait after every submitted job is finished.
type Scheduler struct {
	sem     *semaphore.Weighted
	fetcher Fetcher
	limiter *HostLimiter
	log     *zap.Logger

	wg        sync.WaitGroup
	mu        sync.Mutex
	err       error
	succeeded int
	failed    int
}

// Option configures Scheduler.
type Option func(*Scheduler)

// WithLogger sets logger for scheduler.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log.Named("download")
		}
	}
}

// WithHostLimiter makes scheduler respect per host request rate.
func WithHostLimiter(l *HostLimiter) Option {
	return func(s *Scheduler) {
		s.limiter = l
	}
}

// NewScheduler creates scheduler with permit pool of the given size.
func NewScheduler(limit int, fetcher Fetcher, opts ...Option) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &Scheduler{
		sem:     semaphore.NewWeighted(int64(limit)),
		fetcher: fetcher,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit waits for a free permit and starts the job. Permit is released when
// job finishes regardless of the outcome. Error is returned only when ctx is
// done before permit could be acquired, in which case job is not started.
func (s *Scheduler) Submit(ctx context.Context, job Job) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("unable to schedule download of %s: %w", job.Font.Source, err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		err := s.run(ctx, job)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.failed++
			s.err = multierr.Append(s.err, err)
			s.log.Warn("Unable to download font", zap.Stringer("url", job.Font.Source), zap.Error(err))
			return
		}
		s.succeeded++
	}()
	return nil
}

// Wait blocks until all submitted jobs are finished and returns combination
// of all job errors (see multierr.Errors) or nil.
func (s *Scheduler) Wait() error {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns number of finished jobs by outcome.
func (s *Scheduler) Stats() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded, s.failed
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	src := job.Font.Source

	if err := s.limiter.Wait(ctx, src.Hostname()); err != nil {
		return fmt.Errorf("unable to download %s: %w", src, err)
	}

	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, src, job.Header)
	if err != nil {
		return fmt.Errorf("unable to download %s: %w", src, err)
	}

	dst := job.Path()
	if err := writeFile(dst, resp.Body); err != nil {
		return fmt.Errorf("unable to store %s: %w", src, err)
	}

	kind, _ := filetype.Match(resp.Body)
	s.log.Info("Downloaded font", zap.Stringer("url", src), zap.String("path", job.Font.Destination))
	if !filetype.IsFont(resp.Body) {
		// eot and svg fonts are not recognized, so only warn
		s.log.Warn("Downloaded file does not look like a font",
			zap.Stringer("url", src),
			zap.String("content-type", resp.ContentType),
			zap.String("detected", kind.MIME.Value))
	}
	s.log.Debug("Font details",
		zap.String("file", dst),
		zap.Int("bytes", len(resp.Body)),
		zap.String("content-type", resp.ContentType),
		zap.String("detected", kind.MIME.Value),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// writeFile stores data through temporary file so concurrent jobs with the
// same destination never leave partially written file behind.
func writeFile(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
