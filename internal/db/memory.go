package db

import (
	"context"
	"sort"
	"sync"

	"github.com/ukydev/live-presence/internal/models"
)

// MemoryPresenceCollection is an in-process presence table, used by tests and
// single-node deployments that do not need persistence.
type MemoryPresenceCollection struct {
	mu   sync.RWMutex
	rows map[string]models.PresenceRow
}

// NewMemoryPresenceCollection creates an empty in-memory presence table.
func NewMemoryPresenceCollection() *MemoryPresenceCollection {
	return &MemoryPresenceCollection{rows: make(map[string]models.PresenceRow)}
}

func (c *MemoryPresenceCollection) FindByUserID(_ context.Context, userID string) (*models.PresenceRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (c *MemoryPresenceCollection) Insert(_ context.Context, row models.PresenceRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[row.UserID]; ok {
		return ErrDuplicate
	}
	c.rows[row.UserID] = row
	return nil
}

func (c *MemoryPresenceCollection) Patch(_ context.Context, userID string, patch models.PresencePatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[userID]
	if !ok {
		return ErrNotFound
	}
	patch.Apply(&row)
	row.UserID = userID
	c.rows[userID] = row
	return nil
}

func (c *MemoryPresenceCollection) FindAll(_ context.Context) ([]models.PresenceRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := make([]models.PresenceRow, 0, len(c.rows))
	for _, row := range c.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *MemoryPresenceCollection) DeleteNotUpdatedSince(_ context.Context, cutoff int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var deleted int64
	for id, row := range c.rows {
		if row.LastUpdated < cutoff {
			delete(c.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryHistoryCollection is an in-process append-only history log.
type MemoryHistoryCollection struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
}

// NewMemoryHistoryCollection creates an empty in-memory history log.
func NewMemoryHistoryCollection() *MemoryHistoryCollection {
	return &MemoryHistoryCollection{}
}

func (c *MemoryHistoryCollection) Insert(_ context.Context, entry models.HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *MemoryHistoryCollection) FindByUserID(_ context.Context, userID string, limit int64) ([]models.HistoryEntry, error) {
	c.mu.RLock()
	out := []models.HistoryEntry{}
	for _, e := range c.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *MemoryHistoryCollection) CountByUserID(_ context.Context, userID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, e := range c.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (c *MemoryHistoryCollection) DeleteBefore(_ context.Context, cutoff int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	var deleted int64
	for _, e := range c.entries {
		if e.Timestamp < cutoff {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	return deleted, nil
}
