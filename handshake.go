package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// DefaultHandshakeTTL is how long a handshake session stays usable
const DefaultHandshakeTTL = 10 * time.Minute

const (
	DeviceStatusActive        = "active"
	DeviceStatusDeactivated   = "deactivated"
	DeviceStatusNotRegistered = "not_registered"
)

var errNonceUsed = map[string]string{
	"nonce": "The provided nonce value is invalid. This nonce has already been used.",
}

// NonceClaimer rejects replayed nonces before the database is consulted.
// A claim returns false when the nonce was seen before.
type NonceClaimer interface {
	ClaimNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// ServerInfo is reported back to clients on handshake
type ServerInfo struct {
	ServerName    string `json:"server_name"`
	ServerVersion string `json:"server_version"`
}

// DeviceInfo describes what the server knows about the handshaking device
type DeviceInfo struct {
	IsRegistered bool       `json:"is_registered"`
	DeviceID     string     `json:"device_id"`
	Type         DeviceType `json:"type"`
	Status       string     `json:"status"`
}

// HandshakeResponse is the body returned by the handshake endpoint
type HandshakeResponse struct {
	DeviceInfo           DeviceInfo     `json:"device_info"`
	ServerInfo           ServerInfo     `json:"server_info"`
	AuthenticationMethod string         `json:"authentication_method"`
	SessionToken         string         `json:"session_token"`
	ServerNonce          string         `json:"server_nonce"`
	ExpiresAt            time.Time      `json:"expires_at"`
	Security             map[string]any `json:"security"`
}

// HandshakeService issues the short lived sessions that gate device
// registration
type HandshakeService struct {
	repo       RepositoryManager
	ttl        time.Duration
	claimer    NonceClaimer
	logger     Logger
	metrics    *Metrics
	activity   ActivitySink
	now        func() time.Time
	server     ServerInfo
	authMethod string
	security   map[string]any
}

type HandshakeOption func(*HandshakeService)

func WithHandshakeTTL(ttl time.Duration) HandshakeOption {
	return func(h *HandshakeService) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

func WithNonceClaimer(c NonceClaimer) HandshakeOption {
	return func(h *HandshakeService) {
		h.claimer = c
	}
}

func WithHandshakeLogger(lgr Logger) HandshakeOption {
	return func(h *HandshakeService) {
		h.logger = normalizeLogger(lgr)
	}
}

func WithHandshakeMetrics(m *Metrics) HandshakeOption {
	return func(h *HandshakeService) {
		h.metrics = m
	}
}

func WithHandshakeActivitySink(s ActivitySink) HandshakeOption {
	return func(h *HandshakeService) {
		h.activity = s
	}
}

func WithHandshakeClock(now func() time.Time) HandshakeOption {
	return func(h *HandshakeService) {
		if now != nil {
			h.now = now
		}
	}
}

// WithServerInfo sets the values echoed in server_info and the
// authentication_method and security fields
func WithServerInfo(info ServerInfo, authMethod string, security map[string]any) HandshakeOption {
	return func(h *HandshakeService) {
		h.server = info
		if authMethod != "" {
			h.authMethod = authMethod
		}
		h.security = security
	}
}

func NewHandshakeService(repo RepositoryManager, opts ...HandshakeOption) *HandshakeService {
	h := &HandshakeService{
		repo:       repo,
		ttl:        DefaultHandshakeTTL,
		logger:     defLogger{},
		now:        time.Now,
		authMethod: "JWT",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// NewHandshakeServiceFromConfig reads TTL and server info from cfg
func NewHandshakeServiceFromConfig(repo RepositoryManager, cfg Config, opts ...HandshakeOption) *HandshakeService {
	base := []HandshakeOption{
		WithHandshakeTTL(cfg.GetHandshakeTTL()),
		WithServerInfo(ServerInfo{
			ServerName:    cfg.GetServerName(),
			ServerVersion: cfg.GetServerVersion(),
		}, cfg.GetAuthenticationMethod(), cfg.GetSecurityInfo()),
	}
	return NewHandshakeService(repo, append(base, opts...)...)
}

// TTL returns the configured session lifetime
func (h *HandshakeService) TTL() time.Duration {
	return h.ttl
}

// ValidateNonce fails when clientNonce was used by any prior session,
// expired ones included
func (h *HandshakeService) ValidateNonce(ctx context.Context, clientNonce string) error {
	return h.validateNonceTx(ctx, h.repo.DB(), clientNonce)
}

func (h *HandshakeService) validateNonceTx(ctx context.Context, tx bun.IDB, clientNonce string) error {
	if strings.TrimSpace(clientNonce) == "" {
		return NewBadRequest("Nonce is required.", TextCodeNonceRequired)
	}

	used, err := h.repo.AuthSessions().NonceUsedTx(ctx, tx, clientNonce)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to check nonce")
	}
	if used {
		return NewValidationError(errNonceUsed)
	}
	return nil
}

// GenerateSession creates the session row for clientNonce. The nonce
// check and the insert share one transaction.
func (h *HandshakeService) GenerateSession(ctx context.Context, clientNonce, deviceID string) (*AuthSession, error) {
	if h.claimer != nil {
		ok, err := h.claimer.ClaimNonce(ctx, clientNonce, h.ttl)
		if err != nil {
			h.logger.Warn("nonce claim failed, falling back to store: %v", err)
		} else if !ok {
			return nil, NewValidationError(errNonceUsed)
		}
	}

	sessionToken, err := randomToken(32)
	if err != nil {
		return nil, err
	}

	serverNonce, err := randomHex(16)
	if err != nil {
		return nil, err
	}

	now := h.now().UTC()
	session := &AuthSession{
		SessionToken: sessionToken,
		ClientNonce:  clientNonce,
		ServerNonce:  serverNonce,
		DeviceID:     deviceID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(h.ttl),
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := h.validateNonceTx(ctx, tx, clientNonce); err != nil {
			return err
		}
		return h.repo.AuthSessions().CreateTx(ctx, tx, session)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, NewValidationError(errNonceUsed)
		}
		return nil, err
	}

	return session, nil
}

// Handshake validates the request, reports the device status and opens
// a session
func (h *HandshakeService) Handshake(ctx context.Context, req HandshakeRequest) (*HandshakeResponse, error) {
	if err := req.Validate(); err != nil {
		h.metrics.handshake(outcomeOf(err))
		return nil, validationFailure(err)
	}

	info := DeviceInfo{
		DeviceID: req.DeviceID,
		Type:     req.Type,
		Status:   DeviceStatusNotRegistered,
	}

	device, err := h.repo.Devices().FindByRegistration(ctx, req.DeviceID, req.Version, req.Type)
	switch {
	case err == nil:
		info.IsRegistered = true
		info.Status = DeviceStatusDeactivated
		if device.Active {
			info.Status = DeviceStatusActive
		}
	case IsNotFound(err):
	default:
		h.metrics.handshake(outcomeOf(err))
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up device")
	}

	session, err := h.GenerateSession(ctx, req.Nonce, req.DeviceID)
	h.metrics.handshake(outcomeOf(err))
	if err != nil {
		return nil, err
	}

	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventHandshake,
		Device:    req.DeviceID,
		Metadata: map[string]any{
			"status":  info.Status,
			"version": req.Version,
		},
	})

	security := h.security
	if security == nil {
		security = map[string]any{}
	}

	return &HandshakeResponse{
		DeviceInfo:           info,
		ServerInfo:           h.server,
		AuthenticationMethod: h.authMethod,
		SessionToken:         session.SessionToken,
		ServerNonce:          session.ServerNonce,
		ExpiresAt:            session.ExpiresAt,
		Security:             security,
	}, nil
}

// ResolveSession finds the session paired to the nonces. Expired
// sessions are reported as not found.
func (h *HandshakeService) ResolveSession(ctx context.Context, clientNonce, serverNonce string) (*AuthSession, error) {
	if clientNonce == "" || serverNonce == "" {
		return nil, NewAuthenticationFailed("Invalid or missing nonce values.", TextCodeNonceRequired)
	}

	session, err := h.repo.AuthSessions().FindByNonces(ctx, clientNonce, serverNonce)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewAuthenticationFailed("Session not found.", TextCodeSessionNotFound)
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve session")
	}

	if !session.IsValid(h.now().UTC()) {
		return nil, NewAuthenticationFailed("Session not found.", TextCodeSessionNotFound)
	}
	return session, nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate token")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate nonce")
	}
	return hex.EncodeToString(b), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
