package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/services"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	pkglogger "github.com/BradenHooton/riskauth/pkg/logger"
)

// EvaluationServiceInterface defines the engine operations the login handler needs
type EvaluationServiceInterface interface {
	Evaluate(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error)
}

// LoginHandler turns login attempts into allow/mfa/block responses
type LoginHandler struct {
	service EvaluationServiceInterface
	logger  *slog.Logger
	env     string
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(service EvaluationServiceInterface, logger *slog.Logger, env string) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{
		service: service,
		logger:  logger,
		env:     env,
	}
}

// LoginRequest represents the request body for a login evaluation.
// Every field except user_id is optional; absent fields get engine defaults.
// timestamp is only used when it trails the server clock by less than the
// configured skew.
type LoginRequest struct {
	UserID      string     `json:"user_id" validate:"required,max=255"`
	IPAddress   string     `json:"ip_address" validate:"omitempty,ip"`
	Latitude    *float64   `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64   `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Timezone    string     `json:"timezone" validate:"omitempty,max=64"`
	DeviceInfo  string     `json:"device_info" validate:"omitempty,max=512"`
	TypingSpeed *float64   `json:"typing_speed"`
	MouseSpeed  *float64   `json:"mouse_speed"`
	Timestamp   *time.Time `json:"timestamp"`
}

// ToInput converts the request into the engine's input
func (r LoginRequest) ToInput() services.LoginInput {
	return services.LoginInput{
		Identity:          strings.TrimSpace(r.UserID),
		NetworkAddress:    strings.TrimSpace(r.IPAddress),
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Timezone:          strings.TrimSpace(r.Timezone),
		DeviceFingerprint: strings.TrimSpace(r.DeviceInfo),
		TypingSpeed:       r.TypingSpeed,
		PointerSpeed:      r.MouseSpeed,
		Timestamp:         r.Timestamp,
	}
}

// Login evaluates a login attempt
// @Summary Evaluate login risk
// @Accept json
// @Param request body LoginRequest true "Login attempt"
// @Produce json
// @Success 200 {object} models.DecisionResult "allow"
// @Failure 401 {object} models.DecisionResult "mfa"
// @Failure 403 {object} models.DecisionResult "block"
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /login [post]
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, pkghttp.ErrBodyTooLarge) {
			pkghttp.WriteRequestTooLarge(w, "Request body too large")
			return
		}
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Evaluate(r.Context(), req.ToInput())
	if err != nil && result == nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "user_id is required")
		case errors.Is(err, models.ErrModelUnavailable):
			pkghttp.WriteServiceUnavailable(w, "Risk model unavailable")
		case errors.Is(err, models.ErrLockUnavailable),
			errors.Is(err, models.ErrStorage):
			pkghttp.WriteServiceUnavailable(w, "Login history unavailable")
		default:
			h.logger.Error("login evaluation failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if err != nil {
		// Allowed, but the attempt was not written to history
		h.logger.Warn("allowed login not recorded",
			slog.String("attempt_id", result.AttemptID),
			pkglogger.RedactedAttr("user_id", req.UserID, h.env),
			slog.Any("error", err),
		)
	}

	pkghttp.WriteJSON(w, StatusForDecision(result.Decision), result)
}

// StatusForDecision maps a decision to its HTTP status
func StatusForDecision(d models.Decision) int {
	switch d {
	case models.DecisionAllow:
		return http.StatusOK
	case models.DecisionMFA:
		return http.StatusUnauthorized
	default:
		return http.StatusForbidden
	}
}
