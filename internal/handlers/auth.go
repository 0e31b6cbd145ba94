package handlers

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/middleware"
	"github.com/ukydev/live-presence/internal/models"
)

// TokenIssuer signs operator tokens.
type TokenIssuer interface {
	GenerateToken(subject string, role models.Role) (string, error)
}

// AuthHandler serves the operator's own token routes. Tokens are minted
// offline; these routes only inspect and renew them.
type AuthHandler struct {
	issuer TokenIssuer
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(issuer TokenIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

type profileResponse struct {
	Subject   string      `json:"subject"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type tokenResponse struct {
	Token   string          `json:"token"`
	Profile profileResponse `json:"profile"`
}

// Profile returns the calling operator's claims
// GET /api/auth/me
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		http.Error(w, "Operator context not found", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, profileOf(claims))
}

// Refresh issues a fresh token with the caller's subject and role
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		http.Error(w, "Operator context not found", http.StatusUnauthorized)
		return
	}

	token, err := h.issuer.GenerateToken(claims.Subject, claims.Role)
	if err != nil {
		log.WithError(err).WithField("operator", claims.Subject).Error("Failed to refresh token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	log.WithField("operator", claims.Subject).Info("Operator token refreshed")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, Profile: profileOf(claims)})
}

func profileOf(c *models.Claims) profileResponse {
	return profileResponse{Subject: c.Subject, Role: c.Role, ExpiresAt: time.Unix(c.Exp, 0).UTC()}
}
