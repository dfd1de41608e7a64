package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/signdesk/signdesk/pkg/middleware"
)

// insecureToken exposes claims parsed from an unverified JWT.
type insecureToken struct {
	claims jwt.MapClaims
}

func (t *insecureToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// InsecureVerifier parses JWTs WITHOUT checking their signature. It exists
// for local development and integration tests and is enabled only through
// ALLOW_INSECURE_TOKEN. Expiry is still enforced.
type InsecureVerifier struct {
	parser *jwt.Parser
}

func NewInsecureVerifier() *InsecureVerifier {
	return &InsecureVerifier{parser: jwt.NewParser()}
}

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return nil, jwt.ErrTokenExpired
	}
	return &insecureToken{claims: claims}, nil
}
