package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	ClientNonceHeader   = "Client-Nonce"
	ServerNonceHeader   = "Server-Nonce"
	HMACSignatureHeader = "HMAC-Signature"
)

// SSOStrategy authenticates SSO tokens bound to a handshake session
type SSOStrategy struct {
	verifier     *SSOVerifier
	repo         RepositoryManager
	handshake    *HandshakeService
	headerTypes  []string
	validateHMAC bool
	logger       Logger
}

type SSOStrategyOption func(*SSOStrategy)

func WithSSOHeaderTypes(types ...string) SSOStrategyOption {
	return func(s *SSOStrategy) {
		if len(types) > 0 {
			s.headerTypes = types
		}
	}
}

// WithHMACValidation turns on payload signatures for endpoints that
// opt in
func WithHMACValidation(enabled bool) SSOStrategyOption {
	return func(s *SSOStrategy) {
		s.validateHMAC = enabled
	}
}

func WithSSOLogger(lgr Logger) SSOStrategyOption {
	return func(s *SSOStrategy) {
		s.logger = normalizeLogger(lgr)
	}
}

func NewSSOStrategy(verifier *SSOVerifier, repo RepositoryManager, handshake *HandshakeService, opts ...SSOStrategyOption) *SSOStrategy {
	s := &SSOStrategy{
		verifier:    verifier,
		repo:        repo,
		handshake:   handshake,
		headerTypes: []string{"Bearer"},
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *SSOStrategy) Kind() StrategyKind {
	return StrategySSOJWT
}

func (s *SSOStrategy) Authenticate(ctx context.Context, req Request) (*Principal, error) {
	raw := bearerToken(req.Header("Authorization"), s.headerTypes)
	if raw == "" {
		return nil, nil
	}

	claims, userKey, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, translateTokenError(err)
	}

	user, err := s.findUser(ctx, userKey)
	if err != nil {
		return nil, err
	}

	session, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Kind:        StrategySSOJWT,
		Raw:         raw,
		SSOClaims:   claims,
		AuthSession: session,
	}

	if !req.Policy().ExcludeDeviceValidation {
		device, err := s.validateDevice(ctx, user, session.DeviceID)
		if err != nil {
			return nil, err
		}
		cred.Device = device
	}

	if m, err := defaultMembership(ctx, s.repo, user); err == nil {
		cred.Membership = m
	} else if !IsNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve entity")
	}

	return &Principal{
		User:        user,
		SessionData: NormalizeSessionData(StrategySSOJWT, user, cred),
		Credential:  cred,
	}, nil
}

// findUser resolves the user claim as an id, email or phone number
func (s *SSOStrategy) findUser(ctx context.Context, key string) (*User, error) {
	var (
		user *User
		err  error
	)
	if id, parseErr := uuid.Parse(key); parseErr == nil {
		user, err = s.repo.Users().FindByID(ctx, id)
	} else {
		user, err = s.repo.Users().FindByLoginKey(ctx, key)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, NewAuthenticationFailed("User not found", TextCodeUserNotFound)
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load user")
	}
	if !user.Active() {
		return nil, NewAuthenticationFailed("User is inactive", TextCodeUserInactive)
	}
	return user, nil
}

func (s *SSOStrategy) session(ctx context.Context, req Request) (*AuthSession, error) {
	clientNonce := req.Header(ClientNonceHeader)
	serverNonce := req.Header(ServerNonceHeader)
	if clientNonce == "" || serverNonce == "" {
		return nil, NewAuthenticationFailed("'Client-Nonce' and 'Server-Nonce' headers are required", TextCodeNonceRequired)
	}

	session, err := s.handshake.ResolveSession(ctx, clientNonce, serverNonce)
	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) && richErr.TextCode == TextCodeSessionNotFound {
			return nil, NewAuthenticationFailed("HMAC validation failed: No matching session found for the provided nonces.", TextCodeSessionNotFound)
		}
		return nil, err
	}

	if !s.validateHMAC || !req.Policy().ValidatePayloadSignature {
		return session, nil
	}
	if strings.EqualFold(req.Method(), http.MethodGet) {
		return session, nil
	}

	signature := req.Header(HMACSignatureHeader)
	if signature == "" {
		return nil, NewAuthenticationFailed("HMAC validation failed: 'HMAC-Signature' header required", TextCodeSignatureRequired)
	}
	if !VerifyHMACSignature(session.SessionToken, req.Body(), signature) {
		return nil, NewAuthenticationFailed("HMAC validation failed: Signature mismatch.", TextCodeSignatureMismatch)
	}
	return session, nil
}

func (s *SSOStrategy) validateDevice(ctx context.Context, user *User, deviceID string) (*Device, error) {
	device, err := s.repo.Devices().FindTx(ctx, s.repo.DB(), user.ID, deviceID)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Warn("device authentication failed for user %s with device ID %s", user.ID, deviceID)
			return nil, NewAuthenticationFailed("Device authentication failed", TextCodeDeviceNotFound)
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load device")
	}
	if !device.Active {
		return nil, NewAccessForbidden("Device deactivated login again.", TextCodeDeviceDeactivated)
	}
	return device, nil
}

// ComputeHMACSignature is the base64 HMAC-SHA256 of body keyed by the
// session token
func ComputeHMACSignature(sessionToken string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(sessionToken))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSignature compares in constant time
func VerifyHMACSignature(sessionToken string, body []byte, signature string) bool {
	expected := ComputeHMACSignature(sessionToken, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// defaultMembership returns the active membership in the user's default
// entity, or the first membership when no default is set
func defaultMembership(ctx context.Context, repo RepositoryManager, user *User) (*Membership, error) {
	if user.DefaultEntityID != nil {
		m, err := repo.Entities().ActiveMembershipTx(ctx, repo.DB(), user.ID, *user.DefaultEntityID)
		if err == nil || !IsNotFound(err) {
			return m, err
		}
	}
	return repo.Entities().FirstMembershipTx(ctx, repo.DB(), user.ID)
}
