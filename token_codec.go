package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

const (
	DefaultAccessTokenLifetime  = 24 * time.Hour
	DefaultRefreshTokenLifetime = 7 * 24 * time.Hour
)

// BlacklistChecker answers whether a token id was revoked
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// TokenPair is the result of a login
type TokenPair struct {
	Access        string
	Refresh       string
	AccessClaims  *TokenClaims
	RefreshClaims *TokenClaims
}

// TokenCodec issues and decodes self-issued HS256 tokens
type TokenCodec struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	requireJTI bool
	blacklist  BlacklistChecker
	logger     Logger
	now        func() time.Time
}

// CodecOption configures a TokenCodec
type CodecOption func(*TokenCodec)

func WithCodecIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

func WithCodecAudience(aud ...string) CodecOption {
	return func(c *TokenCodec) {
		c.audience = append(jwt.ClaimStrings{}, aud...)
	}
}

func WithCodecLifetimes(access, refresh time.Duration) CodecOption {
	return func(c *TokenCodec) {
		if access > 0 {
			c.accessTTL = access
		}
		if refresh > 0 {
			c.refreshTTL = refresh
		}
	}
}

// WithCodecRequireTokenID rejects tokens without a jti claim
func WithCodecRequireTokenID(require bool) CodecOption {
	return func(c *TokenCodec) {
		c.requireJTI = require
	}
}

func WithCodecBlacklist(b BlacklistChecker) CodecOption {
	return func(c *TokenCodec) {
		c.blacklist = b
	}
}

func WithCodecLogger(l Logger) CodecOption {
	return func(c *TokenCodec) {
		c.logger = normalizeLogger(l)
	}
}

// WithCodecClock overrides the time source
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a codec signing with the given symmetric key
func NewTokenCodec(signingKey []byte, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		signingKey: signingKey,
		accessTTL:  DefaultAccessTokenLifetime,
		refreshTTL: DefaultRefreshTokenLifetime,
		requireJTI: true,
		logger:     defLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewTokenCodecFromConfig reads signing options from cfg
func NewTokenCodecFromConfig(cfg Config, opts ...CodecOption) *TokenCodec {
	base := []CodecOption{
		WithCodecIssuer(cfg.GetIssuer()),
		WithCodecLifetimes(cfg.GetAccessTokenLifetime(), cfg.GetRefreshTokenLifetime()),
		WithCodecRequireTokenID(cfg.GetRequireTokenID()),
	}
	if aud := cfg.GetAudience(); len(aud) > 0 {
		base = append(base, WithCodecAudience(aud...))
	}
	return NewTokenCodec([]byte(cfg.GetSigningKey()), append(base, opts...)...)
}

// AccessLifetime returns the configured access token lifetime
func (c *TokenCodec) AccessLifetime() time.Duration {
	return c.accessTTL
}

// Issue signs claims, setting iat, exp and jti. A zero lifetime keeps an
// exp already present in claims.
func (c *TokenCodec) Issue(claims *TokenClaims, lifetime time.Duration) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	now := c.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if lifetime > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))
	}
	if claims.Issuer == "" {
		claims.Issuer = c.issuer
	}
	if len(claims.Audience) == 0 && len(c.audience) > 0 {
		claims.Audience = append(jwt.ClaimStrings{}, c.audience...)
	}
	if claims.UserID == "" {
		claims.UserID = claims.SessionData.UserID
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// IssuePair creates a refresh token and the access token derived from it
func (c *TokenCodec) IssuePair(sd SessionData) (*TokenPair, error) {
	refreshClaims := &TokenClaims{
		TokenType:   TokenTypeRefresh,
		UserID:      sd.UserID,
		SessionData: sd,
	}

	refresh, err := c.Issue(refreshClaims, c.refreshTTL)
	if err != nil {
		return nil, err
	}

	accessClaims := c.AccessFromRefresh(refreshClaims)
	access, err := c.Issue(accessClaims, c.accessTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		Access:        access,
		Refresh:       refresh,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

// AccessFromRefresh copies the payload of a refresh token into fresh
// access claims with a new jti
func (c *TokenCodec) AccessFromRefresh(refresh *TokenClaims) *TokenClaims {
	out := refresh.Clone()
	out.TokenType = TokenTypeAccess
	out.ID = ""
	out.ExpiresAt = nil
	out.IssuedAt = nil
	return out
}

// Decode parses a signed token. With verify it checks signature, expiry,
// jti presence and the blacklist.
func (c *TokenCodec) Decode(ctx context.Context, raw string, verify bool) (*TokenClaims, error) {
	if !verify {
		claims := &TokenClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return nil, c.malformed(err)
		}
		return claims, nil
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(c.audience...))
	}

	token, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			c.logger.Error("TokenCodec decode unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewTokenError(TokenExpired, "Token is expired")
		}
		return nil, c.malformed(err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, NewTokenError(TokenMalformed, "Token is invalid")
	}

	if c.requireJTI && claims.ID == "" {
		return nil, NewTokenError(TokenMissingClaim, "Token has no id")
	}

	if claims.TokenType == "" {
		return nil, NewTokenError(TokenMissingClaim, "Token has no type")
	}

	if c.blacklist != nil && claims.ID != "" {
		revoked, err := c.blacklist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check token blacklist")
		}
		if revoked {
			return nil, NewTokenError(TokenRevoked, "Token is blacklisted")
		}
	}

	return claims, nil
}

// DecodeAs decodes with verification and requires the given token type
func (c *TokenCodec) DecodeAs(ctx context.Context, raw string, expected TokenType) (*TokenClaims, error) {
	claims, err := c.Decode(ctx, raw, true)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != expected {
		return nil, NewTokenError(TokenMalformed, "Token has wrong type")
	}
	return claims, nil
}

func (c *TokenCodec) malformed(err error) error {
	return errors.Wrap(err, errors.CategoryAuth, "Token is invalid").
		WithTextCode(string(TokenMalformed)).
		WithCode(errors.CodeUnauthorized)
}
