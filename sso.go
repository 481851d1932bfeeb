package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultSSOUserIDClaim is the claim used to find the local user
const DefaultSSOUserIDClaim = "email"

var defaultSSOAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256"}

// LoadPublicKey reads a PEM encoded public key (PKIX, PKCS1 or a
// certificate) from path.
func LoadPublicKey(path string) (crypto.PublicKey, error) {
	if path == "" {
		return nil, errors.New("sso public key path is empty", errors.CategoryConflict).
			WithTextCode("SSO_KEY_MISSING")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConflict, "unable to read sso public key").
			WithTextCode("SSO_KEY_UNREADABLE").
			WithMetadata(map[string]any{"path": path})
	}

	return ParsePublicKeyPEM(raw)
}

// ParsePublicKeyPEM decodes the first PEM block of raw into a public key
func ParsePublicKeyPEM(raw []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("sso public key is not PEM encoded", errors.CategoryConflict).
			WithTextCode("SSO_KEY_INVALID")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		return cert.PublicKey, nil
	}

	return nil, errors.New("unsupported sso public key format", errors.CategoryConflict).
		WithTextCode("SSO_KEY_INVALID").
		WithMetadata(map[string]any{"pem_type": block.Type})
}

// SSOVerifier validates asymmetric tokens issued by the SSO provider
type SSOVerifier struct {
	key        crypto.PublicKey
	keyID      string
	jwks       *keyfunc.JWKS
	algorithms []string
	userClaim  string
	tokenTypes []string
	blacklist  BlacklistChecker
	chain      *VerifierChain
	now        func() time.Time
}

// SSOOption configures an SSOVerifier
type SSOOption func(*SSOVerifier)

func WithSSOKeyID(kid string) SSOOption {
	return func(v *SSOVerifier) {
		v.keyID = kid
	}
}

func WithSSOAlgorithms(algs ...string) SSOOption {
	return func(v *SSOVerifier) {
		if len(algs) > 0 {
			v.algorithms = algs
		}
	}
}

func WithSSOUserClaim(claim string) SSOOption {
	return func(v *SSOVerifier) {
		if claim != "" {
			v.userClaim = claim
		}
	}
}

// WithSSOTokenTypes sets the accepted token classes, tried in order
func WithSSOTokenTypes(types ...string) SSOOption {
	return func(v *SSOVerifier) {
		if len(types) > 0 {
			v.tokenTypes = types
		}
	}
}

func WithSSOBlacklist(b BlacklistChecker) SSOOption {
	return func(v *SSOVerifier) {
		v.blacklist = b
	}
}

func WithSSOClock(now func() time.Time) SSOOption {
	return func(v *SSOVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewSSOVerifier loads the public key at keyPath. It fails when the key
// can not be loaded so callers can abort at startup.
func NewSSOVerifier(keyPath string, opts ...SSOOption) (*SSOVerifier, error) {
	key, err := LoadPublicKey(keyPath)
	if err != nil {
		return nil, err
	}
	return NewSSOVerifierWithKey(key, opts...)
}

// NewSSOVerifierWithKey builds a verifier around an already parsed key
func NewSSOVerifierWithKey(key crypto.PublicKey, opts ...SSOOption) (*SSOVerifier, error) {
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return nil, errors.New(fmt.Sprintf("unsupported sso public key type %T", key), errors.CategoryConflict).
			WithTextCode("SSO_KEY_INVALID")
	}

	v := &SSOVerifier{
		key:        key,
		algorithms: defaultSSOAlgorithms,
		userClaim:  DefaultSSOUserIDClaim,
		tokenTypes: []string{TokenTypeAccess},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	if v.keyID != "" {
		v.jwks = keyfunc.NewGiven(map[string]keyfunc.GivenKey{
			v.keyID: keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{}),
		})
	}

	verifiers := make([]TokenVerifier, 0, len(v.tokenTypes))
	for _, tokenType := range v.tokenTypes {
		verifiers = append(verifiers, v.classVerifier(tokenType))
	}
	v.chain = NewVerifierChain(verifiers...)

	return v, nil
}

// UserClaim is the claim holding the user identifier
func (v *SSOVerifier) UserClaim() string {
	return v.userClaim
}

// Verify runs the token through every accepted class and returns the
// claims of the first match plus the user identifier.
func (v *SSOVerifier) Verify(ctx context.Context, raw string) (ClaimSet, string, error) {
	claims, _, err := v.chain.Verify(ctx, raw)
	if err != nil {
		return nil, "", err
	}

	userID := claims.String(v.userClaim)
	if userID == "" {
		return nil, "", NewTokenError(TokenMissingClaim, "Token contained no recognizable user identification")
	}

	return claims, userID, nil
}

func (v *SSOVerifier) classVerifier(tokenType string) TokenVerifier {
	return TokenVerifierFunc{
		ClassName: classNameFor(tokenType),
		Type:      tokenType,
		Fn: func(ctx context.Context, raw string) (ClaimSet, error) {
			return v.verifyClass(ctx, raw, tokenType)
		},
	}
}

func (v *SSOVerifier) verifyClass(ctx context.Context, raw, tokenType string) (ClaimSet, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyfunc,
		jwt.WithValidMethods(v.algorithms),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewTokenError(TokenExpired, "Token is expired")
		}
		return nil, errors.Wrap(err, errors.CategoryAuth, "Token is invalid").
			WithTextCode(string(TokenMalformed)).
			WithCode(errors.CodeUnauthorized)
	}

	set := ClaimSet(claims)

	jti := set.String("jti")
	if jti == "" {
		return nil, NewTokenError(TokenMissingClaim, "Token has no id")
	}

	if got := set.String("token_type"); got != tokenType {
		return nil, NewTokenError(TokenMalformed, "Token has wrong type")
	}

	if v.blacklist != nil {
		revoked, err := v.blacklist.IsBlacklisted(ctx, jti)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check token blacklist")
		}
		if revoked {
			return nil, NewTokenError(TokenRevoked, "Token is blacklisted")
		}
	}

	return set, nil
}

func (v *SSOVerifier) keyfunc(t *jwt.Token) (any, error) {
	if v.jwks != nil {
		if _, ok := t.Header["kid"]; ok {
			return v.jwks.Keyfunc(t)
		}
	}

	switch t.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if _, ok := v.key.(*rsa.PublicKey); ok {
			return v.key, nil
		}
	case *jwt.SigningMethodECDSA:
		if _, ok := v.key.(*ecdsa.PublicKey); ok {
			return v.key, nil
		}
	case *jwt.SigningMethodEd25519:
		if _, ok := v.key.(ed25519.PublicKey); ok {
			return v.key, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
}

func classNameFor(tokenType string) string {
	switch tokenType {
	case TokenTypeAccess:
		return "AccessToken"
	case TokenTypeRefresh:
		return "RefreshToken"
	}
	return tokenType
}
