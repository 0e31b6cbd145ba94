package presence

import (
	"sort"
	"time"

	"github.com/ukydev/live-presence/internal/models"
)

// ActivityWindow is how long a row stays in the active set without a new
// sample. It is fixed and not configurable per call.
const ActivityWindow = 5 * time.Minute

var activityWindowMs = ActivityWindow.Milliseconds()

// IsActive reports whether row belongs to the active set at now.
func IsActive(row models.PresenceRow, now time.Time) bool {
	return row.IsActive && models.Millis(now)-row.LastUpdated < activityWindowMs
}

// ActiveSet returns the rows that are flagged active and were updated within
// the activity window before now. It must be evaluated on every read.
func ActiveSet(rows []models.PresenceRow, now time.Time) []models.PresenceRow {
	active := make([]models.PresenceRow, 0, len(rows))
	for _, row := range rows {
		if IsActive(row, now) {
			active = append(active, row)
		}
	}
	return active
}

// LivenessOf classifies an existing row. Unseen identities have no row and
// are never passed here.
func LivenessOf(row models.PresenceRow, now time.Time) models.Liveness {
	switch {
	case !row.IsActive:
		return models.LivenessInactive
	case IsActive(row, now):
		return models.LivenessActive
	default:
		return models.LivenessStale
	}
}

// BuildSnapshot evaluates query over the full table at now. Rows are ordered
// by user id so consecutive snapshots are stable.
func BuildSnapshot(rows []models.PresenceRow, query models.Query, now time.Time) models.Snapshot {
	nowMs := models.Millis(now)
	snap := models.Snapshot{
		Query:       query,
		Rows:        make([]models.PresenceView, 0, len(rows)),
		TotalCount:  len(rows),
		GeneratedAt: nowMs,
	}
	for _, row := range rows {
		liveness := LivenessOf(row, now)
		if liveness == models.LivenessActive {
			snap.ActiveCount++
		} else if query == models.QueryActive {
			continue
		}
		snap.Rows = append(snap.Rows, models.PresenceView{
			PresenceRow: row,
			Liveness:    liveness,
			AgeMs:       nowMs - row.LastUpdated,
		})
	}
	sort.Slice(snap.Rows, func(i, j int) bool { return snap.Rows[i].UserID < snap.Rows[j].UserID })
	return snap
}
