package db

import (
	"context"
	"errors"

	"github.com/ukydev/live-presence/internal/models"
)

var (
	// ErrNotFound is returned when no presence row exists for an identity.
	ErrNotFound = errors.New("presence row not found")
	// ErrDuplicate is returned when an insert races another insert for the same identity.
	ErrDuplicate = errors.New("presence row already exists")
)

// PresenceCollection defines the interface for presence table operations.
// Implementations guarantee single-document atomicity only.
type PresenceCollection interface {
	FindByUserID(ctx context.Context, userID string) (*models.PresenceRow, error)
	Insert(ctx context.Context, row models.PresenceRow) error
	Patch(ctx context.Context, userID string, patch models.PresencePatch) error
	FindAll(ctx context.Context) ([]models.PresenceRow, error)
	DeleteNotUpdatedSince(ctx context.Context, cutoff int64) (int64, error)
}

// HistoryCollection defines the interface for the append-only history log.
type HistoryCollection interface {
	Insert(ctx context.Context, entry models.HistoryEntry) error
	FindByUserID(ctx context.Context, userID string, limit int64) ([]models.HistoryEntry, error)
	CountByUserID(ctx context.Context, userID string) (int64, error)
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}
