package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/auth"
	"github.com/ukydev/live-presence/internal/config"
	"github.com/ukydev/live-presence/internal/db"
	"github.com/ukydev/live-presence/internal/handlers"
	"github.com/ukydev/live-presence/internal/hub"
	"github.com/ukydev/live-presence/internal/logging"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/middleware"
	"github.com/ukydev/live-presence/internal/models"
	"github.com/ukydev/live-presence/internal/mqtt"
	"github.com/ukydev/live-presence/internal/presence"
	"github.com/ukydev/live-presence/internal/retention"
)

// app is the wired server plus the background loops it owns.
type app struct {
	handler http.Handler
	hub     *hub.Hub
	backend *db.Backend
	wg      sync.WaitGroup
	cleanup []func()
}

// newApp opens the store and starts the hub, sweeper and optional MQTT
// bridge. Everything stops when ctx is done; call wait afterwards.
func newApp(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*app, error) {
	m := metrics.New(reg)

	backend, err := db.Open(ctx, db.BackendConfig{
		Kind:     cfg.StoreBackend,
		MongoURI: cfg.MongoURI,
		MongoDB:  cfg.MongoDB,
		SQLDSN:   cfg.SQLDSN,
	})
	if err != nil {
		return nil, err
	}

	store := presence.NewStore(backend.Presence, backend.History, presence.WithMetrics(m))
	liveHub := hub.New(store, hub.WithRefreshInterval(cfg.RefreshInterval), hub.WithMetrics(m))
	store.AddListener(liveHub)

	sweeper := retention.NewSweeper(backend.Presence, backend.History, retention.Config{
		HistoryRetention:  cfg.HistoryRetention,
		PresenceRetention: cfg.PresenceRetention,
		Interval:          cfg.SweepInterval,
	}, liveHub, m)

	limiter := middleware.NewRateLimitMiddleware()
	tokens := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	a := &app{hub: liveHub, backend: backend}

	a.goRun(func() { liveHub.Run(ctx) })
	a.goRun(func() { sweeper.Run(ctx) })
	a.goRun(func() { sweepRateLimiter(ctx, limiter) })
	if backend.Watch != nil {
		a.goRun(func() {
			// Writes from other server processes refresh subscribers here.
			if err := backend.Watch(ctx, liveHub.Invalidate); err != nil {
				log.WithError(err).Warn("Store change feed stopped; remote writes show up on the refresh interval")
			}
		})
	}

	if cfg.MQTTBroker != "" {
		bridge, client, err := mqtt.Dial(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, store, m)
		if err != nil {
			// HTTP ingest still works without the broker.
			log.WithError(err).Error("MQTT bridge disabled")
		} else {
			sub := liveHub.Subscribe(models.QueryAll)
			a.goRun(func() { bridge.PublishSnapshots(ctx, sub.C) })
			a.cleanup = append(a.cleanup, func() {
				liveHub.Unsubscribe(sub)
				client.Disconnect(250)
			})
		}
	}

	a.handler = handlers.NewRouter(handlers.RouterConfig{
		Store:              store,
		Hub:                liveHub,
		Sweeper:            sweeper,
		Auth:               middleware.NewAuthMiddleware(tokens),
		Tokens:             tokens,
		RateLimiter:        limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ping:               backend.Ping,
	})
	return a, nil
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// wait blocks until the background loops have returned, then releases the
// broker connection and the store.
func (a *app) wait() {
	for _, fn := range a.cleanup {
		fn()
	}
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.backend.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}

func sweepRateLimiter(ctx context.Context, limiter *middleware.RateLimitMiddleware) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(time.Minute)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(ctx, cfg, reg)
	if err != nil {
		log.WithError(err).Fatal("Failed to start presence server")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(log.Fields{"port": cfg.Port, "store": cfg.StoreBackend}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	// Closing the hub ends every WebSocket stream before the server drains.
	<-a.hub.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown failed")
	}
	a.wait()
}
