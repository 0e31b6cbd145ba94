// Package handlers exposes the presence store, the live subscription hub and
// the operator routes over HTTP and WebSocket.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/middleware"
)

// Counter reports live subscriptions for the health check.
type Counter interface {
	SubscriberCount() int
}

// LiveHub is the subscription registry as seen by the router.
type LiveHub interface {
	Subscriber
	Counter
}

// RouterConfig wires the handlers together. Metrics, Ping and Tokens are
// optional.
type RouterConfig struct {
	Store              PresenceService
	Hub                LiveHub
	Sweeper            Sweeper
	Auth               *middleware.AuthMiddleware
	Tokens             TokenIssuer
	RateLimiter        *middleware.RateLimitMiddleware
	RateLimitPerMinute int // per identity per client address
	Metrics            http.Handler
	Ping               func(ctx context.Context) error
}

// NewRouter builds the full route table.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = middleware.NewRateLimitMiddleware()
	}
	limiter, perMinute := cfg.RateLimiter, cfg.RateLimitPerMinute
	presenceHandler := NewPresenceHandler(cfg.Store, func(r *http.Request, userID string) bool {
		return limiter.Allow(middleware.IdentityKey(r, userID), perMinute, time.Minute)
	})
	inactiveLimit := limiter.RateLimitBy(perMinute, time.Minute, func(r *http.Request) string {
		userID, _ := identityParam(r)
		return middleware.IdentityKey(r, userID)
	})
	adminHandler := NewAdminHandler(cfg.Sweeper)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)

	r.Get("/health", healthHandler(cfg.Hub, cfg.Ping))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Handle("/ws/presence", NewWebSocketHandler(cfg.Hub))

	r.Route("/api", func(r chi.Router) {
		r.Route("/presence", func(r chi.Router) {
			r.Post("/", presenceHandler.Submit)
			r.Get("/", presenceHandler.ListAll)
			r.Get("/active", presenceHandler.ListActive)
			r.Get("/snapshot", presenceHandler.Snapshot)
			r.With(inactiveLimit).Post("/{id}/inactive", presenceHandler.MarkInactive)
			r.With(cfg.Auth.Authenticate, cfg.Auth.RequirePermission("view_history")).
				Get("/{id}/history", presenceHandler.History)
		})
		if cfg.Tokens != nil {
			authHandler := NewAuthHandler(cfg.Tokens)
			r.Route("/auth", func(r chi.Router) {
				r.Use(cfg.Auth.Authenticate)
				r.Get("/me", authHandler.Profile)
				r.Post("/refresh", authHandler.Refresh)
			})
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(cfg.Auth.Authenticate)
			r.With(cfg.Auth.RequirePermission("run_sweep")).Post("/sweep", adminHandler.Sweep)
		})
	})
	return r
}

func healthHandler(c Counter, ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":      "healthy",
			"subscribers": c.SubscriberCount(),
		}
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.WithError(err).Warn("Health check: store unreachable")
				status["status"] = "unhealthy"
				status["store"] = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}
