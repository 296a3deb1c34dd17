package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/riskauth/internal/models"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	pkglogger "github.com/BradenHooton/riskauth/pkg/logger"
)

// ChallengeValidator verifies step-up tokens issued on mfa decisions
type ChallengeValidator interface {
	ValidateChallenge(token string) (*models.ChallengeClaims, error)
}

// ChallengeHandler lets the second-factor provider confirm a step-up token
type ChallengeHandler struct {
	validator   ChallengeValidator
	auditLogger *pkglogger.AuditLogger
	ipConfig    *pkghttp.IPConfig
}

// NewChallengeHandler creates a new ChallengeHandler. auditLogger may be nil.
func NewChallengeHandler(validator ChallengeValidator, auditLogger *pkglogger.AuditLogger, ipConfig *pkghttp.IPConfig) *ChallengeHandler {
	return &ChallengeHandler{
		validator:   validator,
		auditLogger: auditLogger,
		ipConfig:    ipConfig,
	}
}

// ValidateChallengeRequest represents the request body for challenge validation
type ValidateChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
}

// ValidateChallengeResponse describes the login a valid token was issued for
type ValidateChallengeResponse struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	AttemptID string    `json:"attempt_id"`
	Reason    string    `json:"reason"`
	Changes   []string  `json:"changes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks a step-up challenge token
// @Summary Validate step-up challenge
// @Accept json
// @Param request body ValidateChallengeRequest true "Challenge token"
// @Produce json
// @Success 200 {object} ValidateChallengeResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/challenge/validate [post]
func (h *ChallengeHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateChallengeRequest

	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	claims, err := h.validator.ValidateChallenge(req.ChallengeToken)
	if err != nil {
		if h.auditLogger != nil {
			h.auditLogger.LogChallengeValidation(r.Context(), "", ipAddress, false, "invalid_or_expired")
		}
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired challenge")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if h.auditLogger != nil {
		h.auditLogger.LogChallengeValidation(r.Context(), claims.Identity, ipAddress, true, "")
	}

	resp := ValidateChallengeResponse{
		Valid:     true,
		UserID:    claims.Identity,
		AttemptID: claims.AttemptID,
		Reason:    claims.Reason,
		Changes:   claims.Changes,
	}
	if resp.Changes == nil {
		resp.Changes = []string{}
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
