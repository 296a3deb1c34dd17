package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/services"
	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockEvaluationService implements EvaluationServiceInterface for testing
type MockEvaluationService struct {
	EvaluateFunc func(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error)
	Calls        []services.LoginInput
}

func (m *MockEvaluationService) Evaluate(ctx context.Context, in services.LoginInput) (*models.DecisionResult, error) {
	m.Calls = append(m.Calls, in)
	if m.EvaluateFunc == nil {
		return &models.DecisionResult{
			Decision:          models.DecisionAllow,
			Reason:            "Normal login (behavioral anomaly within acceptable range)",
			Regime:            models.RegimeBehavioral,
			ContextualChanges: []string{},
			HistoryRecorded:   true,
		}, nil
	}
	return m.EvaluateFunc(ctx, in)
}

// MockChallengeValidator implements ChallengeValidator for testing
type MockChallengeValidator struct {
	ValidateChallengeFunc func(token string) (*models.ChallengeClaims, error)
}

func (m *MockChallengeValidator) ValidateChallenge(token string) (*models.ChallengeClaims, error) {
	if m.ValidateChallengeFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.ValidateChallengeFunc(token)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	HealthCheckFunc func(ctx context.Context) error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}

// MockModelStatus implements ModelStatus for testing
type MockModelStatus struct {
	NotReady bool
}

func (m *MockModelStatus) Ready() bool {
	return !m.NotReady
}

func resultWith(decision models.Decision) *models.DecisionResult {
	return &models.DecisionResult{
		AttemptID:         "attempt-1",
		Decision:          decision,
		Reason:            "reason",
		ContextualChanges: []string{},
	}
}
