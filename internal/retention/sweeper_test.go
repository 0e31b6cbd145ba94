package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/live-presence/internal/db"
	"github.com/ukydev/live-presence/internal/metrics"
	"github.com/ukydev/live-presence/internal/models"
)

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

func seed(t *testing.T, presence db.PresenceCollection, history db.HistoryCollection) {
	t.Helper()
	ctx := context.Background()
	day := int64(24 * time.Hour / time.Millisecond)
	for i, id := range []string{"old", "recent"} {
		ts := int64(i) * 9 * day
		s := models.PositionSample{UserID: id, UserName: id, Color: "#00d4ff"}
		require.NoError(t, presence.Insert(ctx, models.PresenceRow{PositionSample: s, LastUpdated: ts, IsActive: true}))
		require.NoError(t, history.Insert(ctx, models.HistoryEntry{PositionSample: s, Timestamp: ts}))
		require.NoError(t, history.Insert(ctx, models.HistoryEntry{PositionSample: s, Timestamp: ts + day}))
	}
}

func TestSweeper_RemovesExpiredDocuments(t *testing.T) {
	presence := db.NewMemoryPresenceCollection()
	history := db.NewMemoryHistoryCollection()
	seed(t, presence, history)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	inv := &countingInvalidator{}
	s := NewSweeper(presence, history, Config{HistoryRetention: 7 * 24 * time.Hour, PresenceRetention: 7 * 24 * time.Hour}, inv, m)
	s.now = func() time.Time { return time.UnixMilli(int64(10 * 24 * time.Hour / time.Millisecond)) }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.HistoryDeleted)
	assert.Equal(t, int64(1), res.PresenceDeleted)
	assert.Equal(t, int32(1), inv.n.Load())

	rows, err := presence.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "recent", rows[0].UserID)

	n, err := history.CountByUserID(context.Background(), "recent")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepDeleted.WithLabelValues(db.HistoryCollectionName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepDeleted.WithLabelValues(db.PresenceCollectionName)))
}

func TestSweeper_ZeroWindowsDisable(t *testing.T) {
	presence := db.NewMemoryPresenceCollection()
	history := db.NewMemoryHistoryCollection()
	seed(t, presence, history)

	inv := &countingInvalidator{}
	s := NewSweeper(presence, history, Config{}, inv, nil)
	s.now = func() time.Time { return time.UnixMilli(1 << 50) }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.HistoryDeleted)
	assert.Zero(t, res.PresenceDeleted)
	assert.Zero(t, inv.n.Load())

	rows, _ := presence.FindAll(context.Background())
	assert.Len(t, rows, 2)
}

func TestSweeper_NoInvalidateWhenNothingRemoved(t *testing.T) {
	inv := &countingInvalidator{}
	s := NewSweeper(db.NewMemoryPresenceCollection(), db.NewMemoryHistoryCollection(), Config{PresenceRetention: time.Hour}, inv, nil)
	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, inv.n.Load())
}

type failingHistory struct{ db.HistoryCollection }

func (failingHistory) DeleteBefore(context.Context, int64) (int64, error) {
	return 0, errors.New("disk full")
}

func TestSweeper_PropagatesErrors(t *testing.T) {
	s := NewSweeper(db.NewMemoryPresenceCollection(), failingHistory{db.NewMemoryHistoryCollection()}, Config{HistoryRetention: time.Hour}, nil, nil)
	_, err := s.Sweep(context.Background())
	assert.ErrorContains(t, err, "sweep history")
}

func TestSweeper_RunDisabledReturnsImmediately(t *testing.T) {
	s := NewSweeper(db.NewMemoryPresenceCollection(), db.NewMemoryHistoryCollection(), Config{HistoryRetention: time.Hour}, nil, nil)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when the interval is zero")
	}
}

func TestSweeper_RunPeriodically(t *testing.T) {
	presence := db.NewMemoryPresenceCollection()
	history := db.NewMemoryHistoryCollection()
	inv := &countingInvalidator{}
	s := NewSweeper(presence, history, Config{PresenceRetention: time.Hour, Interval: 5 * time.Millisecond}, inv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	row := models.PresenceRow{PositionSample: models.PositionSample{UserID: "gone"}, LastUpdated: 0}
	require.NoError(t, presence.Insert(context.Background(), row))
	require.Eventually(t, func() bool {
		rows, _ := presence.FindAll(context.Background())
		return len(rows) == 0
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, inv.n.Load(), int32(1))
}
