package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates access from refresh tokens
type TokenType = string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenClaims is the claim-set of self-issued tokens
type TokenClaims struct {
	jwt.RegisteredClaims
	TokenType   TokenType   `json:"token_type,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	SessionData SessionData `json:"session_data"`
}

// JTI returns the token identifier
func (c *TokenClaims) JTI() string {
	return c.ID
}

// Expires returns the expiration time or the zero time
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Clone returns a deep enough copy to be re-signed safely
func (c *TokenClaims) Clone() *TokenClaims {
	if c == nil {
		return nil
	}
	out := *c
	if len(c.Audience) > 0 {
		out.Audience = make(jwt.ClaimStrings, len(c.Audience))
		copy(out.Audience, c.Audience)
	}
	return &out
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil {
		return
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
