package download

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps requests to the same host under configured rate.
type HostLimiter struct {
	requests int
	window   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter returns nil (no limiting) when requests or window is not
// positive. Nil limiter is valid and never blocks.
func NewHostLimiter(requests int, window time.Duration) *HostLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &HostLimiter{requests: requests, window: window, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until request to host is allowed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		interval := h.window / time.Duration(h.requests)
		if interval <= 0 {
			interval = time.Millisecond
		}
		limiter = rate.NewLimiter(rate.Every(interval), h.requests)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
