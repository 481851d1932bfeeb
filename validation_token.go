package auth

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultTokenKeyLength = 90
	DefaultOTPLength      = 6
	DefaultKeyAttempts    = 5
)

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrKeyExhausted is returned when no free key was found
var ErrKeyExhausted = errors.New("could not generate a unique validation key", errors.CategoryInternal).
	WithTextCode("KEY_EXHAUSTED").
	WithCode(errors.CodeInternal)

// tokenValidity is the lifetime per token type
var tokenValidity = map[ValidationTokenType]time.Duration{
	TokenVerifyEmail:  525600 * time.Minute,
	TokenChangeEmail:  525600 * time.Minute,
	TokenResetPass:    2880 * time.Minute,
	TokenOTP:          30 * time.Minute,
	TokenMagicLogin:   2880 * time.Minute,
	TokenInvite:       525600 * time.Minute,
	TokenNotification: 525600 * time.Minute,
}

// TokenValidity returns how long tokens of type t stay usable
func TokenValidity(t ValidationTokenType) time.Duration {
	return tokenValidity[t]
}

// TokenOrigin records where a token was requested from
type TokenOrigin struct {
	IP       string
	Location string
	Device   string
}

// KeyGenerator produces candidate keys for a token type
type KeyGenerator func(t ValidationTokenType) (string, error)

// ValidationTokenService issues and consumes single use keys
type ValidationTokenService struct {
	repo     RepositoryManager
	attempts int
	keyGen   KeyGenerator
	now      func() time.Time
}

type ValidationTokenOption func(*ValidationTokenService)

func WithKeyAttempts(n int) ValidationTokenOption {
	return func(s *ValidationTokenService) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithKeyGenerator(g KeyGenerator) ValidationTokenOption {
	return func(s *ValidationTokenService) {
		if g != nil {
			s.keyGen = g
		}
	}
}

func WithValidationClock(now func() time.Time) ValidationTokenOption {
	return func(s *ValidationTokenService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewValidationTokenService(repo RepositoryManager, opts ...ValidationTokenOption) *ValidationTokenService {
	s := &ValidationTokenService{
		repo:     repo,
		attempts: DefaultKeyAttempts,
		keyGen:   DefaultKeyGenerator,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Initialize creates an unused token for user
func (s *ValidationTokenService) Initialize(ctx context.Context, userID uuid.UUID, t ValidationTokenType, origin TokenOrigin) (*ValidationToken, error) {
	var token *ValidationToken
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = s.InitializeTx(ctx, tx, userID, t, origin)
		return err
	})
	return token, err
}

func (s *ValidationTokenService) InitializeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, t ValidationTokenType, origin TokenOrigin) (*ValidationToken, error) {
	validity, ok := tokenValidity[t]
	if !ok {
		return nil, NewBadRequest("Invalid token type.", TextCodeBadRequest)
	}

	key, err := s.uniqueKeyTx(ctx, tx, t)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := &ValidationToken{
		UserID:    userID,
		Key:       key,
		Status:    ValidationTokenUnused,
		Type:      t,
		IP:        origin.IP,
		Location:  origin.Location,
		Device:    origin.Device,
		CreatedAt: now,
		ExpiresAt: now.Add(validity),
	}
	if err := s.repo.ValidationTokens().CreateTx(ctx, tx, token); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create validation token")
	}
	return token, nil
}

func (s *ValidationTokenService) uniqueKeyTx(ctx context.Context, tx bun.IDB, t ValidationTokenType) (string, error) {
	for i := 0; i < s.attempts; i++ {
		key, err := s.keyGen(t)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate validation key")
		}
		exists, err := s.repo.ValidationTokens().KeyExistsTx(ctx, tx, key, t)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to check validation key")
		}
		if !exists {
			return key, nil
		}
	}
	return "", ErrKeyExhausted.Clone().WithMetadata(map[string]any{
		"attempts": s.attempts,
		"type":     int(t),
	})
}

// Find returns the newest token for key
func (s *ValidationTokenService) Find(ctx context.Context, key string) (*ValidationToken, error) {
	return s.repo.ValidationTokens().FindByKey(ctx, key)
}

// IsValid reports whether token is unused and unexpired now
func (s *ValidationTokenService) IsValid(token *ValidationToken) bool {
	return token.IsValid(s.now().UTC())
}

// ConsumeTx marks an unused token of the user as used. Expired or
// missing tokens fail.
func (s *ValidationTokenService) ConsumeTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, t ValidationTokenType, key string) (*ValidationToken, error) {
	token, err := s.repo.ValidationTokens().FindUnusedTx(ctx, tx, userID, t, key)
	if err != nil {
		return nil, err
	}
	if !token.IsValid(s.now().UTC()) {
		return nil, repository.NewRecordNotFound()
	}
	if err := s.repo.ValidationTokens().MarkUsedTx(ctx, tx, token.ID); err != nil {
		return nil, err
	}
	token.Status = ValidationTokenUsed
	return token, nil
}

// InvalidateTx marks the token used and expires it immediately
func (s *ValidationTokenService) InvalidateTx(ctx context.Context, tx bun.IDB, token *ValidationToken) error {
	now := s.now().UTC()
	if err := s.repo.ValidationTokens().InvalidateTx(ctx, tx, token.ID, now); err != nil {
		return err
	}
	token.Status = ValidationTokenUsed
	token.ExpiresAt = now
	return nil
}

// DefaultKeyGenerator returns numeric OTP codes and long random keys
// for every other type
func DefaultKeyGenerator(t ValidationTokenType) (string, error) {
	if t == TokenOTP {
		return randomDigits(DefaultOTPLength)
	}
	return randomString(DefaultTokenKeyLength, keyAlphabet)
}

func randomDigits(n int) (string, error) {
	return randomString(n, "0123456789")
}

func randomString(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
