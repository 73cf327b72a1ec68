package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// janitorInterval is how often idle buckets are swept.
const janitorInterval = 5 * time.Minute

// Memory is an in-process token bucket limiter.
//
// Each key gets a bucket of max tokens refilled at one token per
// window/max, so a client that waits a full window is back to max. Buckets
// live in a go-cache with idle expiry = window: a bucket untouched for a
// whole window would be full anyway, so dropping it loses nothing.
type Memory struct {
	buckets *gocache.Cache
	limit   rate.Limit
	burst   int
	window  time.Duration
}

var _ Limiter = (*Memory)(nil)

func NewMemory(max int, window time.Duration) *Memory {
	if max < 1 {
		max = 1
	}
	return &Memory{
		buckets: gocache.New(window, janitorInterval),
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		window:  window,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	lim := m.bucket(key)
	ok := lim.Allow()
	// Slide the idle expiry.
	m.buckets.Set(key, lim, m.window)
	return ok, nil
}

func (m *Memory) bucket(key string) *rate.Limiter {
	if v, found := m.buckets.Get(key); found {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(m.limit, m.burst)
	if err := m.buckets.Add(key, lim, m.window); err != nil {
		// Another request created it first.
		if v, found := m.buckets.Get(key); found {
			return v.(*rate.Limiter)
		}
	}
	return lim
}
