package handlers

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/middleware"
	"github.com/ukydev/live-presence/internal/retention"
)

// Sweeper runs one retention pass.
type Sweeper interface {
	Sweep(ctx context.Context) (retention.Result, error)
}

// AdminHandler serves operator-only routes
type AdminHandler struct {
	sweeper Sweeper
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(sweeper Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep runs retention on demand
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	fields := log.Fields{}
	if claims, ok := middleware.GetOperatorFromContext(r.Context()); ok {
		fields["operator"] = claims.Subject
	}

	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		log.WithError(err).WithFields(fields).Error("Manual retention sweep failed")
		http.Error(w, "Sweep failed", http.StatusInternalServerError)
		return
	}
	log.WithFields(fields).Info("Manual retention sweep run")
	writeJSON(w, http.StatusOK, res)
}
