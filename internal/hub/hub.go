// Package hub fans presence snapshots out to live subscriptions.
//
// Every subscription is keyed by its query shape and evaluated against the
// whole presence table. Any write invalidates the table and re-evaluates all
// subscriptions; a ticker re-evaluates them as well, because rows leave the
// active set purely by time passing.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/models"
	"github.com/ukydev/live-presence/internal/presence"
)

// DefaultRefreshInterval bounds how long an expired row can stay visible.
const DefaultRefreshInterval = 10 * time.Second

// Source is the table the hub evaluates subscriptions against.
type Source interface {
	ListAll(ctx context.Context) ([]models.PresenceRow, error)
	Now() time.Time
}

// Subscription is a live query. Snapshots arrive on C; a slow reader only
// ever sees the latest one. C is closed on Unsubscribe or hub shutdown.
type Subscription struct {
	ID    string
	Query models.Query
	C     <-chan models.Snapshot

	ch chan models.Snapshot
}

// Hub is the observer registry for the presence table.
type Hub struct {
	source  Source
	refresh time.Duration
	metrics *metrics.Metrics

	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	version uint64

	invalidate chan struct{}
	done       chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithRefreshInterval sets the time-driven refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.refresh = d
		}
	}
}

// WithMetrics records hub activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates a hub over source. Call Run to start delivering.
func New(source Source, opts ...Option) *Hub {
	h := &Hub{
		source:     source,
		refresh:    DefaultRefreshInterval,
		subs:       make(map[string]*Subscription),
		invalidate: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invalidate marks the table dirty. It never blocks; pending invalidations
// coalesce, and the next evaluation reads the table after this call.
func (h *Hub) Invalidate() {
	select {
	case h.invalidate <- struct{}{}:
	default:
	}
}

// Subscribe registers a live query. The first snapshot is delivered on the
// next evaluation, which Subscribe schedules immediately.
func (h *Hub) Subscribe(query models.Query) *Subscription {
	ch := make(chan models.Snapshot, 1)
	sub := &Subscription{
		ID:    uuid.New().String(),
		Query: query,
		C:     ch,
		ch:    ch,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	h.reportSubscribersLocked()
	total := len(h.subs)
	h.mu.Unlock()

	log.WithFields(log.Fields{
		"subscriber_id": sub.ID,
		"query":         query,
		"total":         total,
	}).Debug("Subscriber registered")
	h.Invalidate()
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		close(sub.ch)
		h.reportSubscribersLocked()
	}
	total := len(h.subs)
	h.mu.Unlock()

	log.WithFields(log.Fields{"subscriber_id": sub.ID, "total": total}).Debug("Subscriber unregistered")
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run evaluates subscriptions until ctx is done, then closes every
// subscription.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.refresh)
	defer func() {
		ticker.Stop()
		h.shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.invalidate:
			h.evaluate(ctx)
		case <-ticker.C:
			h.evaluate(ctx)
		}
	}
}

// Done is closed once Run has returned and all subscriptions are closed.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) evaluate(ctx context.Context) {
	h.mu.RLock()
	empty := len(h.subs) == 0
	h.mu.RUnlock()
	if empty {
		return
	}

	rows, err := h.source.ListAll(ctx)
	if err != nil {
		// Observers keep their last snapshot; the next tick retries.
		log.WithError(err).Error("Failed to read presence table")
		return
	}
	now := h.source.Now()
	snapshots := map[models.Query]models.Snapshot{}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.version++
	for _, sub := range h.subs {
		snap, ok := snapshots[sub.Query]
		if !ok {
			snap = presence.BuildSnapshot(rows, sub.Query, now)
			snap.Version = h.version
			snapshots[sub.Query] = snap
		}
		h.deliver(sub, snap)
	}
	if snap, ok := snapshots[models.QueryAll]; ok {
		h.metrics.SetRows(snap.ActiveCount, snap.TotalCount)
	} else if snap, ok := snapshots[models.QueryActive]; ok {
		h.metrics.SetRows(snap.ActiveCount, snap.TotalCount)
	}
}

// deliver replaces any unread snapshot with snap. Only the run loop sends,
// so after draining there is always room.
func (h *Hub) deliver(sub *Subscription, snap models.Snapshot) {
	superseded := false
	select {
	case <-sub.ch:
		superseded = true
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
	h.metrics.ObserveDelivery(superseded)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.reportSubscribersLocked()
	h.mu.Unlock()
	close(h.done)
	log.Info("Presence hub stopped")
}

func (h *Hub) reportSubscribersLocked() {
	counts := map[models.Query]int{models.QueryAll: 0, models.QueryActive: 0}
	for _, sub := range h.subs {
		counts[sub.Query]++
	}
	for q, n := range counts {
		h.metrics.SetSubscribers(string(q), n)
	}
}
