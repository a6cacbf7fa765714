package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host. Each host gets its own
// token bucket of size one refilled every interval.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHostLimiter allows one request per interval per host. A zero interval
// disables limiting.
func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// WithClock replaces the time source and the sleep function.
func (h *HostLimiter) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *HostLimiter {
	h.now = now
	h.sleep = sleep
	return h
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.interval), 1)
		h.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to host may proceed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.interval <= 0 || host == "" {
		return nil
	}

	now := h.now()
	r := h.limiter(host).ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("host %s: reservation refused", host)
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	if err := h.sleep(ctx, d); err != nil {
		r.CancelAt(h.now())
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
