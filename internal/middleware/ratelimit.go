package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/shared-lists/internal/metrics"
)

// RateLimiter limits how many API requests one client IP may make.
//
// TOKEN BUCKETS:
// Each IP gets a rate.Limiter holding up to `limit` tokens that refills
// at limit/window tokens per second. A request takes one token; with an
// empty bucket it is refused with 429. A client can therefore burst
// `limit` requests and then continues at the average rate, rather than
// being locked out until a fixed window ends.
//
// Buckets of clients that have been quiet for a whole window are full
// again and are dropped by Cleanup.
type RateLimiter struct {
	limit   int
	window  time.Duration
	every   rate.Limit
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows limit requests per window for every client IP.
func NewRateLimiter(limit int, window time.Duration, logger *slog.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		every:   rate.Limit(float64(limit) / window.Seconds()),
		logger:  logger,
		metrics: m,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Allow reports whether ip may make one more request now.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.every, rl.limit)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Cleanup forgets clients that have not made a request for a full window
// and returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	cutoff := rl.now().Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup once per window until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	t := time.NewTicker(rl.window)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := rl.Cleanup(); n > 0 {
				rl.logger.Debug("rate limiter cleanup", slog.Int("removed", n))
			}
		case <-stop:
			return
		}
	}
}

// Handler is the middleware. It keys clients by r.RemoteAddr, which chi's
// RealIP middleware has already replaced with the forwarded client address.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			rl.metrics.RateLimited()
			rl.logger.Warn("rate limit exceeded", slog.String("ip", ip))

			retry := int(rl.window.Seconds()) / max(rl.limit, 1)
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests, please try again later.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
