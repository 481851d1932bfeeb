package auth

import (
	"context"

	"github.com/goliatone/go-errors"
)

// ClaimSet is a decoded token payload
type ClaimSet map[string]any

// String returns the claim as a string or ""
func (c ClaimSet) String(name string) string {
	v, _ := c[name].(string)
	return v
}

// TokenVerifier verifies a raw token for one token class.
type TokenVerifier interface {
	Name() string
	TokenType() string
	Verify(ctx context.Context, raw string) (ClaimSet, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc struct {
	ClassName string
	Type      string
	Fn        func(ctx context.Context, raw string) (ClaimSet, error)
}

func (f TokenVerifierFunc) Name() string      { return f.ClassName }
func (f TokenVerifierFunc) TokenType() string { return f.Type }

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(ctx context.Context, raw string) (ClaimSet, error) {
	if f.Fn == nil {
		return nil, NewTokenError(TokenMalformed, "Token is invalid")
	}
	return f.Fn(ctx, raw)
}

// ClassFailure describes why one token class rejected a token
type ClassFailure struct {
	TokenClass string `json:"token_class"`
	TokenType  string `json:"token_type"`
	Message    string `json:"message"`
}

// VerifierChain tries verifiers in order and returns the first success.
// When all fail it returns a single TokenNoClassMatched error carrying
// every per-class failure.
type VerifierChain struct {
	verifiers []TokenVerifier
}

// NewVerifierChain filters nil verifiers and returns a composite verifier.
func NewVerifierChain(verifiers ...TokenVerifier) *VerifierChain {
	filtered := make([]TokenVerifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &VerifierChain{verifiers: filtered}
}

// Verify returns the claims of the first verifier that accepts raw.
func (m *VerifierChain) Verify(ctx context.Context, raw string) (ClaimSet, TokenVerifier, error) {
	failures := make([]ClassFailure, 0, len(m.verifiers))
	for _, v := range m.verifiers {
		claims, err := v.Verify(ctx, raw)
		if err == nil {
			return claims, v, nil
		}
		failures = append(failures, ClassFailure{
			TokenClass: v.Name(),
			TokenType:  v.TokenType(),
			Message:    failureMessage(err),
		})
	}

	return nil, nil, NewTokenError(TokenNoClassMatched, "Given token not valid for any token type").
		WithMetadata(map[string]any{
			"messages": failures,
		})
}

func failureMessage(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}
