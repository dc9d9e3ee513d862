package html2pdf

import (
	"sync"
	"time"
)

// Rate limit defaults.
const (
	DefaultRateWindow      = time.Minute
	DefaultRateMaxRequests = 10
)

// Admitter decides whether a client may start another render.
type Admitter interface {
	Admit(clientID string) bool
}

var _ Admitter = (*RateLimiter)(nil)

// RateLimiter is a per-client sliding-window admission gate.
//
// Each client keeps the timestamps of its accepted requests in increasing
// order. Client entries are never evicted: the map grows with the number of
// distinct identifiers seen over the process lifetime.
type RateLimiter struct {
	window      time.Duration
	maxRequests int
	now         func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// NewRateLimiter creates a limiter accepting at most maxRequests per client
// within any trailing window. Non-positive arguments fall back to defaults.
func NewRateLimiter(window time.Duration, maxRequests int, opts ...RateLimiterOption) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultRateMaxRequests
	}
	l := &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		now:         time.Now,
		windows:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request for clientID and reports whether it is accepted.
// Rejected requests are not recorded. Prune, check and append happen under
// one lock so concurrent callers cannot overshoot the limit.
func (l *RateLimiter) Admit(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	stamps := l.windows[clientID]
	// Timestamps are increasing, so expired entries form a prefix.
	i := 0
	for i < len(stamps) && stamps[i].Before(windowStart) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= l.maxRequests {
		l.windows[clientID] = stamps
		return false
	}

	// Keep the sequence strictly increasing even if the clock stalls.
	if n := len(stamps); n > 0 && !now.After(stamps[n-1]) {
		now = stamps[n-1].Add(time.Nanosecond)
	}
	l.windows[clientID] = append(stamps, now)
	return true
}

// Clients returns the number of identifiers ever admitted or rejected.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Window returns the sliding window length.
func (l *RateLimiter) Window() time.Duration { return l.window }

// MaxRequests returns the per-window cap.
func (l *RateLimiter) MaxRequests() int { return l.maxRequests }
