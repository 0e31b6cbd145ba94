package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitMiddleware provides sliding-window rate limiting keyed by client
type RateLimitMiddleware struct {
	requests map[string][]time.Time // key -> request times
	mu       sync.Mutex
	now      func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RateLimitBy allows maxRequests per window for each key. A non-positive
// maxRequests disables the limit.
func (m *RateLimitMiddleware) RateLimitBy(maxRequests int, window time.Duration, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxRequests <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Allow(key(r), maxRequests, window) {
				TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow records a request for key and reports whether it is within the
// limit. A non-positive maxRequests always allows.
func (m *RateLimitMiddleware) Allow(key string, maxRequests int, window time.Duration) bool {
	if maxRequests <= 0 {
		return true
	}
	now := m.now()
	windowStart := now.Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	valid := m.requests[key][:0]
	for _, ts := range m.requests[key] {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	if len(valid) >= maxRequests {
		m.requests[key] = valid
		return false
	}
	m.requests[key] = append(valid, now)
	return true
}

// TooManyRequests writes the 429 response.
func TooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
}

// IdentityKey scopes a limit to one identity from one client, so producers
// sharing an address do not share a budget.
func IdentityKey(r *http.Request, userID string) string {
	return ClientIP(r) + "|" + userID
}

// Sweep drops clients with no requests inside window.
func (m *RateLimitMiddleware) Sweep(window time.Duration) {
	windowStart := m.now().Add(-window)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, times := range m.requests {
		if len(times) == 0 || !times[len(times)-1].After(windowStart) {
			delete(m.requests, key)
		}
	}
}

// ClientIP extracts the client IP from the request
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}
