package models

import "github.com/golang-jwt/jwt/v5"

// ChallengeTokenType marks step-up tokens issued on an mfa decision
const ChallengeTokenType = "step_up"

// ChallengeClaims are carried by the step-up token handed to the second-factor provider
type ChallengeClaims struct {
	Type      string   `json:"type"`
	Identity  string   `json:"user_id"`
	AttemptID string   `json:"attempt_id"`
	Reason    string   `json:"reason"`
	Changes   []string `json:"changes,omitempty"`
	jwt.RegisteredClaims
}
