package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const challengeIssuer = "riskauth"

// ChallengeManager issues and verifies the step-up tokens handed out on an mfa decision
type ChallengeManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewChallengeManager creates a new ChallengeManager
func NewChallengeManager(secret string, expiry time.Duration) *ChallengeManager {
	return &ChallengeManager{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// IssueChallenge creates a short-lived step-up token bound to one evaluation
func (cm *ChallengeManager) IssueChallenge(identity, attemptID, reason string, changes []string) (string, error) {
	now := cm.now()

	claims := &models.ChallengeClaims{
		Type:      models.ChallengeTokenType,
		Identity:  identity,
		AttemptID: attemptID,
		Reason:    reason,
		Changes:   changes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    challengeIssuer,
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(cm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(cm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge token: %w", err)
	}

	return tokenString, nil
}

// ValidateChallenge verifies a step-up token and returns its claims
func (cm *ChallengeManager) ValidateChallenge(tokenString string) (*models.ChallengeClaims, error) {
	claims := &models.ChallengeClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cm.secret, nil
	},
		jwt.WithIssuer(challengeIssuer),
		jwt.WithTimeFunc(cm.now),
	)
	if err != nil {
		return nil, errors.Join(models.ErrUnauthorized, fmt.Errorf("failed to parse challenge token: %w", err))
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.ChallengeTokenType {
		return nil, fmt.Errorf("%w: invalid token type", models.ErrUnauthorized)
	}
	if claims.Identity == "" || claims.AttemptID == "" {
		return nil, fmt.Errorf("%w: incomplete challenge token", models.ErrUnauthorized)
	}

	return claims, nil
}
