package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter limita la frecuencia de peticiones por clave (IP + ruta). Cuando
// rechaza, devuelve cuánto falta para que la clave vuelva a tener cupo.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

type memoryRateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	hits      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimiter crea un rate limiter en memoria de ventana deslizante.
func NewMemoryRateLimiter(window time.Duration, max int) RateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *memoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	l.sweepLocked(now, cutoff)

	kept := pruneHits(l.hits[key], cutoff)
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false, kept[0].Add(l.window).Sub(now)
	}
	l.hits[key] = append(kept, now)
	return true, 0
}

// sweepLocked descarta, como mucho una vez por ventana, las claves sin golpes vigentes.
func (l *memoryRateLimiter) sweepLocked(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, entries := range l.hits {
		if kept := pruneHits(entries, cutoff); len(kept) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = kept
		}
	}
}

func pruneHits(entries []time.Time, cutoff time.Time) []time.Time {
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
