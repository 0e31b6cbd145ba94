// Package presence owns the authoritative presence table: one row per
// identity, upserted on every sample and flipped inactive on an explicit
// stop. Rows are never deleted here.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/db"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/models"
)

// ErrInvalidSample is returned for samples that fail boundary validation,
// e.g. coordinates out of range or a missing identity.
var ErrInvalidSample = errors.New("invalid position sample")

// Listener is told that the presence table changed.
type Listener interface {
	Invalidate()
}

// Store implements the mutation and query surface over a presence
// collection and a history collection.
type Store struct {
	presence db.PresenceCollection
	history  db.HistoryCollection
	validate *validator.Validate
	locks    *keyedMutex
	now      func() time.Time
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	listeners []Listener
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records store operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a presence store.
func NewStore(presence db.PresenceCollection, history db.HistoryCollection, opts ...Option) *Store {
	s := &Store{
		presence: presence,
		history:  history,
		validate: validator.New(),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddListener registers l to be invalidated after every successful write.
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Validate checks a sample at the store boundary.
func (s *Store) Validate(sample models.PositionSample) error {
	if err := s.validate.Struct(sample); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	return nil
}

// Upsert records a sample for its identity. The history entry is appended
// before the presence row is touched, so a failure in between leaves at
// worst an orphaned history entry and never a presence update without one.
func (s *Store) Upsert(ctx context.Context, sample models.PositionSample) error {
	if err := s.Validate(sample); err != nil {
		s.metrics.ObserveUpsert(err)
		return err
	}

	unlock := s.locks.Lock(sample.UserID)
	now := models.Millis(s.now())
	err := s.history.Insert(ctx, models.HistoryEntry{PositionSample: sample, Timestamp: now})
	if err != nil {
		unlock()
		s.metrics.ObserveUpsert(err)
		return fmt.Errorf("append history: %w", err)
	}
	s.metrics.ObserveHistoryAppend()

	err = s.writeRow(ctx, sample, now)
	unlock()
	s.metrics.ObserveUpsert(err)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}

	s.notify()
	return nil
}

func (s *Store) writeRow(ctx context.Context, sample models.PositionSample, now int64) error {
	patch := models.PresencePatch{Sample: &sample, IsActive: true, LastUpdated: now}
	row := models.PresenceRow{PositionSample: sample, IsActive: true, LastUpdated: now}

	_, err := s.presence.FindByUserID(ctx, sample.UserID)
	switch {
	case err == nil:
		err = s.presence.Patch(ctx, sample.UserID, patch)
		if errors.Is(err, db.ErrNotFound) {
			// Swept between lookup and patch.
			return s.presence.Insert(ctx, row)
		}
		return err
	case errors.Is(err, db.ErrNotFound):
		err = s.presence.Insert(ctx, row)
		if errors.Is(err, db.ErrDuplicate) {
			// Another process inserted first; last write wins.
			return s.presence.Patch(ctx, sample.UserID, patch)
		}
		return err
	default:
		return err
	}
}

// Deactivate flips the identity's row to inactive. An identity without a
// row is not an error.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	unlock := s.locks.Lock(userID)
	_, err := s.presence.FindByUserID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		unlock()
		s.metrics.ObserveDeactivate(nil)
		return nil
	}
	if err == nil {
		err = s.presence.Patch(ctx, userID, models.PresencePatch{
			IsActive:    false,
			LastUpdated: models.Millis(s.now()),
		})
	}
	unlock()

	if errors.Is(err, db.ErrNotFound) {
		s.metrics.ObserveDeactivate(nil)
		return nil
	}
	s.metrics.ObserveDeactivate(err)
	if err != nil {
		return fmt.Errorf("deactivate presence: %w", err)
	}

	s.notify()
	return nil
}

// ListAll returns the whole presence table.
func (s *Store) ListAll(ctx context.Context) ([]models.PresenceRow, error) {
	return s.presence.FindAll(ctx)
}

// ListActive returns the active set evaluated at the current time.
func (s *Store) ListActive(ctx context.Context) ([]models.PresenceRow, error) {
	rows, err := s.presence.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return ActiveSet(rows, s.now()), nil
}

// History returns up to limit history entries for one identity, newest first.
func (s *Store) History(ctx context.Context, userID string, limit int64) ([]models.HistoryEntry, error) {
	return s.history.FindByUserID(ctx, userID, limit)
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l.Invalidate()
	}
	log.Trace("presence table invalidated")
}
