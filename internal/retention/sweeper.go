// Package retention periodically removes old history entries and presence
// rows that have not been updated for a long time. It runs beside the
// presence store and does not change active-set semantics.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/db"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/models"
)

// Invalidator is told when presence rows were removed.
type Invalidator interface {
	Invalidate()
}

// Config sets the retention windows. A zero window disables that half of the
// sweep; a zero interval disables the periodic run.
type Config struct {
	HistoryRetention  time.Duration
	PresenceRetention time.Duration
	Interval          time.Duration
}

// Result reports what one sweep removed.
type Result struct {
	HistoryDeleted  int64 `json:"history_deleted"`
	PresenceDeleted int64 `json:"presence_deleted"`
}

// Sweeper runs retention sweeps.
type Sweeper struct {
	presence db.PresenceCollection
	history  db.HistoryCollection
	cfg      Config
	now      func() time.Time
	metrics  *metrics.Metrics
	notify   Invalidator

	mu sync.Mutex
}

// NewSweeper creates a sweeper. notify and m may be nil.
func NewSweeper(presence db.PresenceCollection, history db.HistoryCollection, cfg Config, notify Invalidator, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		presence: presence,
		history:  history,
		cfg:      cfg,
		now:      time.Now,
		metrics:  m,
		notify:   notify,
	}
}

// Sweep runs one pass. Concurrent calls are serialized.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	now := s.now()
	if s.cfg.HistoryRetention > 0 {
		cutoff := models.Millis(now.Add(-s.cfg.HistoryRetention))
		n, err := s.history.DeleteBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("sweep history: %w", err)
		}
		res.HistoryDeleted = n
		s.metrics.ObserveSweep(db.HistoryCollectionName, n)
	}
	if s.cfg.PresenceRetention > 0 {
		cutoff := models.Millis(now.Add(-s.cfg.PresenceRetention))
		n, err := s.presence.DeleteNotUpdatedSince(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("sweep presence: %w", err)
		}
		res.PresenceDeleted = n
		s.metrics.ObserveSweep(db.PresenceCollectionName, n)
		if n > 0 && s.notify != nil {
			s.notify.Invalidate()
		}
	}

	log.WithFields(log.Fields{
		"history_deleted":  res.HistoryDeleted,
		"presence_deleted": res.PresenceDeleted,
	}).Info("Retention sweep completed")
	return res, nil
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 || (s.cfg.HistoryRetention <= 0 && s.cfg.PresenceRetention <= 0) {
		log.Info("Retention sweep disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.WithError(err).Error("Retention sweep failed")
			}
		}
	}
}
