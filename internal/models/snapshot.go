package models

// Liveness is the observed state of a presence row at a point in time.
type Liveness string

const (
	LivenessActive   Liveness = "active"
	LivenessStale    Liveness = "stale"
	LivenessInactive Liveness = "inactive"
)

// Query names the logical shape of a presence subscription.
type Query string

const (
	QueryAll    Query = "all"
	QueryActive Query = "active"
)

// IsValidQuery checks if a query shape is known
func IsValidQuery(q Query) bool {
	switch q {
	case QueryAll, QueryActive:
		return true
	default:
		return false
	}
}

// PresenceView is a row as delivered to observers, annotated with its
// liveness and age at the time the snapshot was taken.
type PresenceView struct {
	PresenceRow
	Liveness Liveness `json:"liveness"`
	AgeMs    int64    `json:"age_ms"`
}

// Snapshot is what a subscriber receives on every refresh.
type Snapshot struct {
	Query       Query          `json:"query"`
	Rows        []PresenceView `json:"rows"`
	ActiveCount int            `json:"active_count"`
	TotalCount  int            `json:"total_count"`
	GeneratedAt int64          `json:"generated_at"`
	Version     uint64         `json:"version"`
}
