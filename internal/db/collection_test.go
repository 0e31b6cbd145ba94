package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/live-presence/internal/models"
)

func sampleRow(id string, lastUpdated int64) models.PresenceRow {
	return models.PresenceRow{
		PositionSample: models.PositionSample{
			UserID:    id,
			UserName:  "User " + id,
			Latitude:  31.9,
			Longitude: 35.2,
			Accuracy:  models.Float(12),
			Speed:     models.Float(1.2),
			Color:     "#00d4ff",
		},
		LastUpdated: lastUpdated,
		IsActive:    true,
	}
}

func runPresenceContract(t *testing.T, coll PresenceCollection) {
	ctx := context.Background()

	_, err := coll.FindByUserID(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, coll.Insert(ctx, sampleRow("a", 1000)))
	assert.ErrorIs(t, coll.Insert(ctx, sampleRow("a", 1500)), ErrDuplicate)

	next := models.PositionSample{UserID: "a", UserName: "Ann", Latitude: -10, Longitude: 20, Color: "#ff6b6b"}
	require.NoError(t, coll.Patch(ctx, "a", models.PresencePatch{Sample: &next, IsActive: true, LastUpdated: 2000}))

	got, err := coll.FindByUserID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.UserName)
	assert.Equal(t, -10.0, got.Latitude)
	assert.Nil(t, got.Speed, "overwrite clears optional readings")
	assert.Nil(t, got.Accuracy)
	assert.Equal(t, int64(2000), got.LastUpdated)

	require.NoError(t, coll.Patch(ctx, "a", models.PresencePatch{IsActive: false, LastUpdated: 3000}))
	got, err = coll.FindByUserID(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Ann", got.UserName, "deactivation leaves other fields untouched")

	assert.ErrorIs(t, coll.Patch(ctx, "missing", models.PresencePatch{LastUpdated: 1}), ErrNotFound)

	require.NoError(t, coll.Insert(ctx, sampleRow("b", 500)))
	all, err := coll.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	deleted, err := coll.DeleteNotUpdatedSince(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	all, err = coll.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].UserID)
}

func runHistoryContract(t *testing.T, coll HistoryCollection) {
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, coll.Insert(ctx, models.HistoryEntry{
			PositionSample: sampleRow("a", 0).PositionSample,
			Timestamp:      i * 1000,
		}))
	}
	require.NoError(t, coll.Insert(ctx, models.HistoryEntry{PositionSample: sampleRow("b", 0).PositionSample, Timestamp: 1000}))

	count, err := coll.CountByUserID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	entries, err := coll.FindByUserID(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4000), entries[0].Timestamp)
	assert.Equal(t, int64(3000), entries[1].Timestamp)

	deleted, err := coll.DeleteBefore(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err = coll.CountByUserID(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryPresenceCollection(t *testing.T) {
	runPresenceContract(t, NewMemoryPresenceCollection())
}

func TestMemoryHistoryCollection(t *testing.T) {
	runHistoryContract(t, NewMemoryHistoryCollection())
}

func TestGormCollections_SQLite(t *testing.T) {
	gdb, err := OpenGorm("sqlite", filepath.Join(t.TempDir(), "presence.db"), 1, time.Millisecond)
	require.NoError(t, err)

	t.Run("presence", func(t *testing.T) {
		runPresenceContract(t, &GormPresenceCollection{DB: gdb})
	})
	t.Run("history", func(t *testing.T) {
		runHistoryContract(t, &GormHistoryCollection{DB: gdb})
	})
}

func TestOpenGorm_UnknownDriver(t *testing.T) {
	_, err := OpenGorm("oracle", "dsn", 1, time.Millisecond)
	assert.Error(t, err)
}
