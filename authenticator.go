package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginResult is the body returned by a login. When IsGranted is false
// the token fields are blank.
type LoginResult struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	UserID    string `json:"user_id"`
	EntityID  string `json:"entity_id"`
	ExpiresIn int64  `json:"expires_in"`
	IsGranted bool   `json:"is_granted"`
}

// RefreshResult is the body returned by a refresh
type RefreshResult struct {
	Access         string     `json:"access"`
	Refresh        string     `json:"refresh"`
	UserID         string     `json:"user_id"`
	EntityID       string     `json:"entity_id"`
	ExpiresIn      int64      `json:"expires_in"`
	MemberType     MemberType `json:"member_type"`
	PolicyAccepted bool       `json:"policy_accepted"`
	CurrentPolicy  *string    `json:"current_policy"`
}

// Auther runs the token lifecycle: login, refresh, logout and the
// password gate
type Auther struct {
	repo      RepositoryManager
	codec     *TokenCodec
	ledger    *Ledger
	devices   *DeviceRegistry
	passwords PasswordAuthenticator
	tokens    *ValidationTokenService
	notifier  Notifier
	logger    Logger
	metrics   *Metrics
	activity  ActivitySink
	now       func() time.Time
}

// NewAuthenticator returns a new Auther
func NewAuthenticator(repo RepositoryManager, codec *TokenCodec, ledger *Ledger, devices *DeviceRegistry) *Auther {
	return &Auther{
		repo:      repo,
		codec:     codec,
		ledger:    ledger,
		devices:   devices,
		passwords: BcryptAuthenticator{},
		tokens:    NewValidationTokenService(repo),
		notifier:  noopNotifier{},
		logger:    defLogger{},
		activity:  noopActivitySink{},
		now:       time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithPasswordAuthenticator replaces the bcrypt password checks
func (s *Auther) WithPasswordAuthenticator(p PasswordAuthenticator) *Auther {
	if p != nil {
		s.passwords = p
	}
	return s
}

// WithValidationTokens sets the service used for reset and OTP tokens
func (s *Auther) WithValidationTokens(t *ValidationTokenService) *Auther {
	if t != nil {
		s.tokens = t
	}
	return s
}

// WithNotifier configures delivery of reset links and OTP codes
func (s *Auther) WithNotifier(n Notifier) *Auther {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

func (s *Auther) WithMetrics(m *Metrics) *Auther {
	s.metrics = m
	return s
}

func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// Codec returns the token codec used by this Auther
func (s *Auther) Codec() *TokenCodec {
	return s.codec
}

// Login verifies credentials, binds the device and issues a token pair.
// A login denied by the multi login policy still succeeds with blank
// tokens and IsGranted false.
func (s *Auther) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result, err := s.login(ctx, req)
	s.metrics.login(loginOutcome(result, err))
	if err != nil {
		s.logger.Debug("login failed for %s: %v", req.Username, err)
		emitActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Device:    req.DeviceID,
			Metadata: map[string]any{
				"identifier": req.Username,
				"code":       textCodeOf(err),
			},
		})
		return nil, err
	}

	event := ActivityEventLoginSuccess
	if !result.IsGranted {
		event = ActivityEventLoginNotGranted
	}
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: event,
		UserID:    result.UserID,
		EntityID:  result.EntityID,
		Device:    req.DeviceID,
	})
	return result, nil
}

func (s *Auther) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.DeviceID == "" {
		return nil, NewAuthenticationFailed("Device ID is required", TextCodeDeviceIDRequired)
	}

	if err := req.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	user, err := s.verifyCredentials(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	var (
		pair  *TokenPair
		bind  *BindResult
		ident SessionData
	)

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entity, err := s.defaultEntityTx(ctx, tx, user)
		if err != nil {
			return err
		}

		member, err := s.repo.Entities().ActiveMembershipTx(ctx, tx, user.ID, entity.ID)
		if err != nil {
			if IsNotFound(err) {
				return NewAuthenticationFailed("Invalid Entity or User does not have access.", TextCodeInvalidEntity)
			}
			return err
		}

		if err := s.repo.Users().MarkLoggedInTx(ctx, tx, user); err != nil {
			return err
		}

		ident = SessionData{
			UserID:     user.ID.String(),
			EntityID:   entity.ID.String(),
			MemberType: member.Type,
			Device:     req.DeviceID,
		}

		pair, err = s.codec.IssuePair(ident)
		if err != nil {
			return err
		}

		if err := s.ledger.RecordClaimsTx(ctx, tx, pair.RefreshClaims, pair.Refresh); err != nil {
			return err
		}
		if err := s.ledger.RecordClaimsTx(ctx, tx, pair.AccessClaims, pair.Access); err != nil {
			return err
		}

		bind, err = s.devices.BindTx(ctx, tx, user.ID, entity, req.DeviceID, req.ForceLogout, DeviceDetails{
			Name:    req.DeviceName,
			Loc:     req.DeviceLoc,
			Version: req.Version,
		})
		return err
	})
	if err != nil {
		return nil, wrapInternal(err, "login failed")
	}

	result := &LoginResult{
		Access:    pair.Access,
		Refresh:   pair.Refresh,
		UserID:    ident.UserID,
		EntityID:  ident.EntityID,
		ExpiresIn: s.expiresIn(pair.AccessClaims),
		IsGranted: bind.Granted,
	}
	if !bind.Granted {
		result.Access = ""
		result.Refresh = ""
	}
	return result, nil
}

// Refresh issues a new access token for the entity in req. The target
// entity may differ from the one in the refresh token, in which case it
// becomes the user's default entity.
func (s *Auther) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	result, err := s.refresh(ctx, req)
	s.metrics.refresh(outcomeOf(err))
	if err != nil {
		return nil, err
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		UserID:    result.UserID,
		EntityID:  result.EntityID,
	})
	return result, nil
}

func (s *Auther) refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	if err := req.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	entityID, err := parseUUID("entity", req.Entity)
	if err != nil {
		return nil, err
	}

	claims, err := s.codec.DecodeAs(ctx, req.Refresh, TokenTypeRefresh)
	if err != nil {
		return nil, translateTokenError(err)
	}

	userID, err := uuid.Parse(claims.SessionData.UserID)
	if err != nil {
		return nil, NewAuthenticationFailed("No active account found with the given credentials", TextCodeNoActiveAccount)
	}

	out := &RefreshResult{}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().FindByIDTx(ctx, tx, userID)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if user == nil || user.Status != UserStatusActive || user.ForceLogout || !user.IsActive {
			return NewAuthenticationFailed("No active account found with the given credentials", TextCodeNoActiveAccount)
		}

		member, err := s.repo.Entities().ActiveMembershipTx(ctx, tx, user.ID, entityID)
		if err != nil {
			if IsNotFound(err) {
				return NewAuthenticationFailed("Invalid Entity or User does not have access.", TextCodeInvalidEntity)
			}
			return err
		}

		refreshClaims := claims.Clone()
		refreshClaims.SessionData.EntityID = entityID.String()
		refreshClaims.SessionData.MemberType = member.Type

		refresh, err := s.codec.Issue(refreshClaims, 0)
		if err != nil {
			return err
		}

		accessClaims := s.codec.AccessFromRefresh(refreshClaims)
		access, err := s.codec.Issue(accessClaims, s.codec.AccessLifetime())
		if err != nil {
			return err
		}

		if err := s.ledger.RecordClaimsTx(ctx, tx, accessClaims, access); err != nil {
			return err
		}

		if err := s.repo.Users().SetDefaultEntityTx(ctx, tx, user, entityID); err != nil {
			return err
		}

		policy, err := s.repo.Entities().CurrentPolicyTx(ctx, tx)
		if err != nil {
			return err
		}

		out.Access = access
		out.Refresh = refresh
		out.UserID = user.ID.String()
		out.EntityID = entityID.String()
		out.ExpiresIn = s.expiresIn(accessClaims)
		out.MemberType = member.Type
		if policy != nil {
			id := policy.ID.String()
			out.CurrentPolicy = &id
			out.PolicyAccepted = user.AcceptedPolicyID != nil && *user.AcceptedPolicyID == policy.ID
		}
		return nil
	})
	if err != nil {
		return nil, wrapInternal(err, "refresh failed")
	}
	return out, nil
}

// Logout deactivates the current device and revokes the presented
// token. Revocation is best effort.
func (s *Auther) Logout(ctx context.Context) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.User == nil {
		return NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
	}

	device := principal.SessionData.Device
	if device != "" {
		if err := s.repo.Devices().DeactivateTx(ctx, s.repo.DB(), principal.User.ID, device); err != nil {
			return wrapInternal(err, "failed to deactivate device")
		}
	}

	if jti, exp := presentedToken(principal.Credential); jti != "" {
		if err := s.ledger.Blacklist(ctx, jti, exp); err != nil {
			s.logger.Error("logout could not blacklist token %s: %v", jti, err)
		}
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    principal.User.ID.String(),
		EntityID:  principal.SessionData.EntityID,
		Device:    device,
	})
	return nil
}

// CheckPassword compares password with the current user's hash. A wrong
// password is a NoValue failure.
func (s *Auther) CheckPassword(ctx context.Context, req CheckPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}

	user, ok := CurrentUser(ctx)
	if !ok {
		return NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
	}

	if user.PasswordHash == "" {
		return NewNoValue("Password is incorrect")
	}
	if err := s.passwords.ComparePasswordAndHash(req.Password, user.PasswordHash); err != nil {
		return NewNoValue("Password is incorrect")
	}
	return nil
}

// VerifyToken decodes raw with full verification
func (s *Auther) VerifyToken(ctx context.Context, req TokenVerifyRequest) error {
	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}
	if _, err := s.codec.Decode(ctx, req.Token, true); err != nil {
		return translateTokenError(err)
	}
	return nil
}

// DefaultEntity resolves and persists the acting entity for user
func (s *Auther) DefaultEntity(ctx context.Context, user *User) (*Entity, error) {
	var entity *Entity
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		entity, err = s.defaultEntityTx(ctx, tx, user)
		return err
	})
	return entity, err
}

// defaultEntityTx keeps the stored default when the user is still an
// active member there, otherwise it falls back to the oldest membership
func (s *Auther) defaultEntityTx(ctx context.Context, tx bun.IDB, user *User) (*Entity, error) {
	if user.DefaultEntityID != nil {
		m, err := s.repo.Entities().ActiveMembershipTx(ctx, tx, user.ID, *user.DefaultEntityID)
		if err == nil && m.Entity != nil {
			return m.Entity, nil
		}
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	m, err := s.repo.Entities().FirstMembershipTx(ctx, tx, user.ID)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewAuthenticationFailed("User does not have access any Entities", TextCodeNoEntity)
		}
		return nil, err
	}
	if m.Entity == nil {
		return nil, NewAuthenticationFailed("User does not have access any Entities", TextCodeNoEntity)
	}

	if err := s.repo.Users().SetDefaultEntityTx(ctx, tx, user, m.EntityID); err != nil {
		return nil, err
	}
	return m.Entity, nil
}

func (s *Auther) verifyCredentials(ctx context.Context, identifier, password string) (*User, error) {
	failed := NewAuthenticationFailed("No active account found with the given credentials", TextCodeNoActiveAccount)

	user, err := s.repo.Users().FindByLoginKey(ctx, identifier)
	if err != nil {
		if IsNotFound(err) {
			return nil, failed
		}
		return nil, wrapInternal(err, "failed to load user")
	}

	if !user.IsActive || user.PasswordHash == "" {
		return nil, failed
	}

	if err := s.passwords.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, failed
	}
	return user, nil
}

func (s *Auther) expiresIn(claims *TokenClaims) int64 {
	left := claims.Expires().Sub(s.now())
	if left < 0 {
		return 0
	}
	return int64(left / time.Second)
}

// presentedToken returns the id and expiry of the token that
// authenticated the request
func presentedToken(cred *Credential) (string, time.Time) {
	if cred == nil {
		return "", time.Time{}
	}
	if cred.Claims != nil {
		return cred.Claims.ID, cred.Claims.Expires()
	}
	if cred.SSOClaims != nil {
		set := ClaimSet(cred.SSOClaims)
		var exp time.Time
		if v, ok := cred.SSOClaims["exp"].(float64); ok {
			exp = time.Unix(int64(v), 0).UTC()
		}
		return set.String("jti"), exp
	}
	return "", time.Time{}
}

func loginOutcome(result *LoginResult, err error) string {
	if err != nil {
		return "failure"
	}
	if !result.IsGranted {
		return "not_granted"
	}
	return "success"
}

// wrapInternal keeps domain errors as they are and wraps the rest
func wrapInternal(err error, msg string) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return err
	}
	return errors.Wrap(err, errors.CategoryInternal, msg)
}
