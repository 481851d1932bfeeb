package auth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultAuthHeaderTypes are the accepted Authorization schemes
var DefaultAuthHeaderTypes = []string{"Bearer", "JWT"}

// JWTStrategy authenticates self-issued access tokens
type JWTStrategy struct {
	codec       *TokenCodec
	repo        RepositoryManager
	devices     *DeviceRegistry
	headerTypes []string
	logger      Logger
}

type JWTStrategyOption func(*JWTStrategy)

func WithJWTHeaderTypes(types ...string) JWTStrategyOption {
	return func(s *JWTStrategy) {
		if len(types) > 0 {
			s.headerTypes = types
		}
	}
}

func WithJWTLogger(lgr Logger) JWTStrategyOption {
	return func(s *JWTStrategy) {
		s.logger = normalizeLogger(lgr)
	}
}

func NewJWTStrategy(codec *TokenCodec, repo RepositoryManager, devices *DeviceRegistry, opts ...JWTStrategyOption) *JWTStrategy {
	s := &JWTStrategy{
		codec:       codec,
		repo:        repo,
		devices:     devices,
		headerTypes: DefaultAuthHeaderTypes,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *JWTStrategy) Kind() StrategyKind {
	return StrategySelfIssuedJWT
}

func (s *JWTStrategy) Authenticate(ctx context.Context, req Request) (*Principal, error) {
	raw := bearerToken(req.Header("Authorization"), s.headerTypes)
	if raw == "" {
		return nil, nil
	}

	claims, err := s.codec.DecodeAs(ctx, raw, TokenTypeAccess)
	if err != nil {
		return nil, translateTokenError(err)
	}

	userID, err := claimsUserID(claims)
	if err != nil {
		return nil, err
	}

	user, err := loadActiveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Kind:   StrategySelfIssuedJWT,
		Raw:    raw,
		Claims: claims,
	}

	// self issued tokens always carry their device, so the endpoint
	// device exclusion only applies to the SSO handshake path
	active, err := s.devices.IsActive(ctx, user.ID, claims.SessionData.Device)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check device")
	}
	if !active {
		return nil, NewAccessForbidden("Device deactivated login again.", TextCodeDeviceDeactivated)
	}

	return &Principal{
		User:        user,
		SessionData: NormalizeSessionData(StrategySelfIssuedJWT, user, cred),
		Credential:  cred,
	}, nil
}

func claimsUserID(claims *TokenClaims) (uuid.UUID, error) {
	raw := claims.SessionData.UserID
	if raw == "" {
		raw = claims.UserID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewAuthenticationFailed("Token contained no recognizable user identification", TextCodeTokenNotValid)
	}
	return id, nil
}

func loadActiveUser(ctx context.Context, repo RepositoryManager, id uuid.UUID) (*User, error) {
	user, err := repo.Users().FindByID(ctx, id)
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
