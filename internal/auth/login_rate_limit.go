package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// LoginRateLimiter throttles login submissions per client IP through the
// shared limit store, so the limit holds across instances.
type LoginRateLimiter struct {
	store   IPLimitStore
	maxHits int
	window  time.Duration
}

func NewLoginRateLimiter(store IPLimitStore, maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		store:   store,
		maxHits: maxHits,
		window:  window,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := l.store.AllowLoginIP(r.Context(), clientIP(r), l.maxHits, l.window, time.Now().UTC())
		if err != nil {
			// Fail open: a limiter outage must not lock every login out.
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			http.Error(w, "too many login attempts", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
