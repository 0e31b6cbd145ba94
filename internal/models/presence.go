package models

import "time"

// PresenceRow is the single current-state record for one identity.
type PresenceRow struct {
	PositionSample `bson:",inline"`
	LastUpdated    int64 `bson:"last_updated" json:"last_updated"` // ms since epoch
	IsActive       bool  `bson:"is_active" json:"is_active"`
}

// PresencePatch describes an in-place update of an existing row. A nil
// Sample leaves the position and metadata fields untouched.
type PresencePatch struct {
	Sample      *PositionSample
	IsActive    bool
	LastUpdated int64
}

// Apply writes the patch onto row.
func (p PresencePatch) Apply(row *PresenceRow) {
	if p.Sample != nil {
		row.PositionSample = *p.Sample
	}
	row.IsActive = p.IsActive
	row.LastUpdated = p.LastUpdated
}

// HistoryEntry is one accepted sample in the append-only history log.
type HistoryEntry struct {
	PositionSample `bson:",inline"`
	Timestamp      int64 `bson:"timestamp" json:"timestamp"` // ms since epoch
}

// Millis converts t to milliseconds since the Unix epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
