package reassembly

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter caps how many pieces one source address may submit per
// window. Counters are reset when a window ends; windows follow the
// timestamps passed to Allow, so replayed captures behave like live ones.
type RateLimiter struct {
	mu           sync.Mutex
	current      map[netip.Addr]*atomic.Int64
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	rejected atomic.Int64
}

// RateLimiterConfig configures per-source rate limiting.
type RateLimiterConfig struct {
	MaxPerSource int           // 0 disables limiting
	Window       time.Duration // default 10s
}

// NewRateLimiter returns nil when limiting is disabled. A nil limiter allows
// everything.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxPerSource <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &RateLimiter{
		current:      make(map[netip.Addr]*atomic.Int64),
		windowSize:   cfg.Window,
		maxPerWindow: int64(cfg.MaxPerSource),
	}
}

// Allow counts one piece from src and reports whether it is within budget.
func (l *RateLimiter) Allow(src netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.windowSize {
		l.current = make(map[netip.Addr]*atomic.Int64)
		l.windowStart = now
	}
	counter, ok := l.current[src]
	if !ok {
		counter = &atomic.Int64{}
		l.current[src] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the number of refused pieces.
func (l *RateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// ActiveSources returns the number of sources seen in the current window.
func (l *RateLimiter) ActiveSources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
