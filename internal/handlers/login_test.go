package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/services"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_StatusByDecision(t *testing.T) {
	tests := []struct {
		decision models.Decision
		status   int
	}{
		{models.DecisionAllow, http.StatusOK},
		{models.DecisionMFA, http.StatusUnauthorized},
		{models.DecisionBlock, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			svc := &MockEvaluationService{
				EvaluateFunc: func(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error) {
					return resultWith(tt.decision), nil
				},
			}
			handler := NewLoginHandler(svc, nil, "development")

			w := httptest.NewRecorder()
			handler.Login(w, NewTestRequest(t, "POST", "/login", map[string]any{"user_id": "u1"}))

			var resp models.DecisionResult
			AssertJSONResponse(t, w, tt.status, &resp)
			assert.Equal(t, tt.decision, resp.Decision)
			assert.Equal(t, []string{}, resp.ContextualChanges)
		})
	}
}

func TestLogin_ResponseShape(t *testing.T) {
	svc := &MockEvaluationService{
		EvaluateFunc: func(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error) {
			return &models.DecisionResult{
				AttemptID:         "attempt-1",
				Decision:          models.DecisionMFA,
				Reason:            "Moderate anomaly detected",
				Regime:            models.RegimeContextual,
				TotalRiskScore:    3.2,
				ContextualChanges: []string{models.ChangeDevice},
				GeoVelocity:       12.5,
				Breakdown:         models.ScoreBreakdown{AnomalyError: 0.2, RuleBasedRisk: 3, Total: 3.2},
				ChallengeToken:    "token",
			}, nil
		},
	}
	handler := NewLoginHandler(svc, nil, "development")

	w := httptest.NewRecorder()
	handler.Login(w, NewTestRequest(t, "POST", "/login", map[string]any{"user_id": "u1"}))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{
		"attempt_id": "attempt-1",
		"status": "mfa",
		"reason": "Moderate anomaly detected",
		"regime": "contextual",
		"risk_score": 3.2,
		"changes": ["Device Info Changed"],
		"geo_velocity": 12.5,
		"breakdown": {"autoencoder_error": 0.2, "rule_based_risk": 3, "total_risk_score": 3.2},
		"challenge_token": "token",
		"history_recorded": false
	}`, w.Body.String())
}

func TestLogin_PassesFieldsToEngine(t *testing.T) {
	svc := &MockEvaluationService{}
	handler := NewLoginHandler(svc, nil, "development")

	body := map[string]any{
		"user_id":      " u1 ",
		"ip_address":   "203.0.113.10",
		"latitude":     37.77,
		"longitude":    -122.41,
		"timezone":     "America/Los_Angeles",
		"device_info":  "Chrome",
		"typing_speed": 80.5,
		"mouse_speed":  120.3,
		"timestamp":    "2024-03-01T12:00:00Z",
	}

	w := httptest.NewRecorder()
	handler.Login(w, NewTestRequest(t, "POST", "/login", body))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, svc.Calls, 1)
	in := svc.Calls[0]
	assert.Equal(t, "u1", in.Identity)
	assert.Equal(t, "203.0.113.10", in.NetworkAddress)
	require.NotNil(t, in.Latitude)
	assert.Equal(t, 37.77, *in.Latitude)
	assert.Equal(t, -122.41, *in.Longitude)
	assert.Equal(t, "America/Los_Angeles", in.Timezone)
	assert.Equal(t, "Chrome", in.DeviceFingerprint)
	assert.Equal(t, 80.5, *in.TypingSpeed)
	assert.Equal(t, 120.3, *in.PointerSpeed)
	require.NotNil(t, in.Timestamp)
	assert.True(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Equal(*in.Timestamp))
}

func TestLogin_OptionalFieldsStayAbsent(t *testing.T) {
	svc := &MockEvaluationService{}
	handler := NewLoginHandler(svc, nil, "development")

	w := httptest.NewRecorder()
	handler.Login(w, NewTestRequest(t, "POST", "/login", map[string]any{"user_id": "u1"}))
	require.Equal(t, http.StatusOK, w.Code)

	in := svc.Calls[0]
	assert.Empty(t, in.NetworkAddress)
	assert.Nil(t, in.Latitude)
	assert.Nil(t, in.TypingSpeed)
	assert.Nil(t, in.PointerSpeed)
	assert.Nil(t, in.Timestamp)
}

func TestLogin_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_id":`},
		{"missing user id", `{"ip_address":"203.0.113.10"}`},
		{"latitude out of range", `{"user_id":"u1","latitude":91}`},
		{"longitude out of range", `{"user_id":"u1","longitude":-180.5}`},
		{"invalid ip", `{"user_id":"u1","ip_address":"not-an-ip"}`},
		{"speed as string", `{"user_id":"u1","typing_speed":"fast"}`},
		{"invalid timestamp", `{"user_id":"u1","timestamp":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockEvaluationService{}
			handler := NewLoginHandler(svc, nil, "development")

			req := httptest.NewRequest("POST", "/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.Login(w, req)

			AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			assert.Empty(t, svc.Calls, "engine must not run on invalid input")
		})
	}
}

func TestLogin_BodyTooLarge(t *testing.T) {
	handler := NewLoginHandler(&MockEvaluationService{}, nil, "development")

	body := `{"user_id":"` + strings.Repeat("a", pkghttp.MaxRequestBodyBytes) + `"}`
	w := httptest.NewRecorder()
	handler.Login(w, httptest.NewRequest("POST", "/login", strings.NewReader(body)))

	AssertErrorResponse(t, w, http.StatusRequestEntityTooLarge, "request_too_large")
}

func TestLogin_EngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad request", fmt.Errorf("%w: user_id is required", models.ErrBadRequest), 400, "bad_request"},
		{"model unavailable", models.ErrModelUnavailable, 503, "service_unavailable"},
		{"lock unavailable", fmt.Errorf("%w: timed out", models.ErrLockUnavailable), 503, "service_unavailable"},
		{"history read", fmt.Errorf("%w: connection refused", models.ErrStorage), 503, "service_unavailable"},
		{"unknown", errors.New("boom"), 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockEvaluationService{
				EvaluateFunc: func(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error) {
					return nil, tt.err
				},
			}
			handler := NewLoginHandler(svc, nil, "development")

			w := httptest.NewRecorder()
			handler.Login(w, NewTestRequest(t, "POST", "/login", map[string]any{"user_id": "u1"}))

			AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestLogin_HistoryWriteFailureStillAllows(t *testing.T) {
	svc := &MockEvaluationService{
		EvaluateFunc: func(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error) {
			res := resultWith(models.DecisionAllow)
			res.HistoryError = models.ErrStorage.Error()
			return res, fmt.Errorf("%w: disk full", models.ErrStorage)
		},
	}
	handler := NewLoginHandler(svc, nil, "development")

	w := httptest.NewRecorder()
	handler.Login(w, NewTestRequest(t, "POST", "/login", map[string]any{"user_id": "u1"}))

	var resp models.DecisionResult
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, models.DecisionAllow, resp.Decision)
	assert.False(t, resp.HistoryRecorded)
	assert.Equal(t, models.ErrStorage.Error(), resp.HistoryError)
}
