// Package ratelimit admits or denies requests with a sliding-log limiter,
// one instance per named tier: a per-key map of timestamps guarded by a
// mutex, generalized from a single anonymous bucket set into named,
// independently configured tiers with a periodic sweep goroutine.
package ratelimit

import (
	"sync"
	"time"
)

// Tuple is a (window, max) admission budget for one limiter tier.
type Tuple struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of an admission check, carrying everything the
// pipeline needs to set response headers or build the 429 body.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	RetryAfter int
}

// Limiter is a single sliding-log bucket set for one tier.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	tuple   Tuple
	nowFunc func() time.Time
}

// NewLimiter constructs a Limiter enforcing tuple for every key it sees.
func NewLimiter(tuple Tuple) *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		tuple:   tuple,
		nowFunc: time.Now,
	}
}

// Allow runs the sliding-log algorithm for key: drop expired timestamps,
// deny without appending if the key is already at capacity, else admit and
// append.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	windowStart := now.Add(-l.tuple.Window)

	timestamps := l.windows[key]
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if !ts.Before(windowStart) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.tuple.Max {
		l.windows[key] = kept
		return Decision{
			Allowed:    false,
			Limit:      l.tuple.Max,
			Remaining:  0,
			RetryAfter: int(l.tuple.Window.Seconds()),
		}
	}

	kept = append(kept, now)
	l.windows[key] = kept

	return Decision{
		Allowed:   true,
		Limit:     l.tuple.Max,
		Remaining: l.tuple.Max - len(kept),
		Reset:     now.Add(l.tuple.Window),
	}
}

// Sweep evicts expired timestamps and empty keys across the whole key
// space, independent of any particular key being queried.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	windowStart := now.Add(-l.tuple.Window)

	for key, timestamps := range l.windows {
		kept := timestamps[:0:0]
		for _, ts := range timestamps {
			if !ts.Before(windowStart) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.windows, key)
			continue
		}
		l.windows[key] = kept
	}
}

// Tiers holds the gateway's two named limiters, ip and apiKey.
type Tiers struct {
	IP     *Limiter
	APIKey *Limiter
}

// DefaultTiers constructs the default tier budgets: ip = (60s, 100),
// apiKey = (60s, 1000).
func DefaultTiers() *Tiers {
	return &Tiers{
		IP:     NewLimiter(Tuple{Window: 60 * time.Second, Max: 100}),
		APIKey: NewLimiter(Tuple{Window: 60 * time.Second, Max: 1000}),
	}
}

// Select picks the apiKey limiter and key when apiKey is non-empty, else
// the ip limiter keyed by clientAddr.
func (t *Tiers) Select(apiKey, clientAddr string) (*Limiter, string) {
	if apiKey != "" {
		return t.APIKey, apiKey
	}
	return t.IP, clientAddr
}

// StartSweeper runs Sweep on both tiers every interval until stop is
// closed. The gateway entrypoint wires this to a 5-minute interval.
func (t *Tiers) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.IP.Sweep()
				t.APIKey.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
