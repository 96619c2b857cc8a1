package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	visitorSweepInterval = 5 * time.Minute
	visitorIdleTimeout   = 10 * time.Minute
)

// visitor tracks the rate limit state for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and
// burst size. Call Stop to end its background sweep.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(visitorSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.stop:
				return
			}
		}
	}()

	return rl
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", c.Path())
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorIdleTimeout)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
// Server errors log at error level, client errors at warn.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= 500:
				level = slog.LevelError
			case res.Status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_in", req.ContentLength,
				"bytes_out", res.Size,
			}
			if rng := req.Header.Get("Range"); rng != "" {
				attrs = append(attrs, "range", rng)
			}
			slog.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
