package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/middleware"
	"github.com/ukydev/live-presence/internal/models"
	"github.com/ukydev/live-presence/internal/presence"
)

const (
	maxSampleBytes      = 16 << 10
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// PresenceService is the store surface the REST handlers need.
type PresenceService interface {
	Upsert(ctx context.Context, sample models.PositionSample) error
	Deactivate(ctx context.Context, userID string) error
	ListAll(ctx context.Context) ([]models.PresenceRow, error)
	ListActive(ctx context.Context) ([]models.PresenceRow, error)
	History(ctx context.Context, userID string, limit int64) ([]models.HistoryEntry, error)
	Now() time.Time
}

// SubmitLimit reports whether one more sample from userID is allowed for r.
type SubmitLimit func(r *http.Request, userID string) bool

// PresenceHandler handles the producer and query routes
type PresenceHandler struct {
	store PresenceService
	limit SubmitLimit
}

// NewPresenceHandler creates a new presence handler. A nil limit accepts
// every sample.
func NewPresenceHandler(store PresenceService, limit SubmitLimit) *PresenceHandler {
	return &PresenceHandler{store: store, limit: limit}
}

// Submit records one position sample
// POST /api/presence
func (h *PresenceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSampleBytes)
	sample, err := presence.DecodeSample(r.Body)
	if errors.Is(err, presence.ErrInvalidSample) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if h.limit != nil && !h.limit(r, sample.UserID) {
		middleware.TooManyRequests(w)
		return
	}

	if err := h.store.Upsert(r.Context(), sample); err != nil {
		if errors.Is(err, presence.ErrInvalidSample) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.WithError(err).WithField("user_id", sample.UserID).Error("Failed to record location")
		http.Error(w, "Failed to record location", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MarkInactive flips the identity's row to inactive
// POST /api/presence/{id}/inactive
func (h *PresenceHandler) MarkInactive(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityParam(r)
	if !ok {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.store.Deactivate(r.Context(), userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to mark inactive")
		http.Error(w, "Failed to mark inactive", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAll returns every presence row
// GET /api/presence
func (h *PresenceHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListAll(r.Context())
	h.writeRows(w, rows, err)
}

// ListActive returns the rows in the active set
// GET /api/presence/active
func (h *PresenceHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListActive(r.Context())
	h.writeRows(w, rows, err)
}

func (h *PresenceHandler) writeRows(w http.ResponseWriter, rows []models.PresenceRow, err error) {
	if err != nil {
		log.WithError(err).Error("Failed to read presence table")
		http.Error(w, "Failed to read presence", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.PresenceRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Snapshot returns the same payload a live subscriber would receive
// GET /api/presence/snapshot?query=all|active
func (h *PresenceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	query, ok := parseQuery(r)
	if !ok {
		http.Error(w, "Invalid query", http.StatusBadRequest)
		return
	}
	rows, err := h.store.ListAll(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to read presence table")
		http.Error(w, "Failed to read presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, presence.BuildSnapshot(rows, query, h.store.Now()))
}

// History returns recent history entries for one identity, newest first
// GET /api/presence/{id}/history?limit=N
func (h *PresenceHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := identityParam(r)
	if !ok {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}
	limit := int64(defaultHistoryLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.store.History(r.Context(), userID, limit)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to read history")
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func identityParam(r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func parseQuery(r *http.Request) (models.Query, bool) {
	q := models.Query(r.URL.Query().Get("query"))
	if q == "" {
		return models.QueryAll, true
	}
	return q, models.IsValidQuery(q)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.WithError(err).Debug("Failed to write response")
		}
	}
}
