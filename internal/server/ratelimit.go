package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lazypower/solace/internal/apierr"
)

const (
	limiterEntryTTL        = 15 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client address. Idle buckets are
// dropped on a later call once they have been unused for limiterEntryTTL.
type ipLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *ipLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= limiterCleanupInterval {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterEntryTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// rateLimit rejects requests over the per-address budget with 429. The
// address comes from r.RemoteAddr, which middleware.RealIP has already
// rewritten when a proxy header is present.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			s.metrics.IncRateLimited()
			w.Header().Set("Retry-After", "1")
			s.writeError(w, r, apierr.New(http.StatusTooManyRequests, apierr.CodeRateLimited, errRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}
