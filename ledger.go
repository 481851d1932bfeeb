package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BlacklistCache is a fast path in front of the durable ledger. The
// database stays the source of truth.
type BlacklistCache interface {
	MarkBlacklisted(ctx context.Context, jti string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// Ledger records issued tokens and revoked token ids
type Ledger struct {
	repo    RepositoryManager
	cache   BlacklistCache
	logger  Logger
	metrics *Metrics
	now     func() time.Time
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

func WithLedgerCache(c BlacklistCache) LedgerOption {
	return func(l *Ledger) {
		l.cache = c
	}
}

func WithLedgerLogger(lgr Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = normalizeLogger(lgr)
	}
}

func WithLedgerMetrics(m *Metrics) LedgerOption {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLedger(repo RepositoryManager, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// RecordOutstanding is a get-or-create keyed by jti
func (l *Ledger) RecordOutstanding(ctx context.Context, jti string, expiresAt time.Time, token string, userID *uuid.UUID) error {
	return l.RecordOutstandingTx(ctx, l.repo.DB(), jti, expiresAt, token, userID)
}

func (l *Ledger) RecordOutstandingTx(ctx context.Context, tx bun.IDB, jti string, expiresAt time.Time, token string, userID *uuid.UUID) error {
	if jti == "" {
		return NewTokenError(TokenMissingClaim, "Token has no id")
	}

	_, _, err := l.repo.Tokens().GetOrCreateOutstandingTx(ctx, tx, &OutstandingToken{
		JTI:       jti,
		UserID:    userID,
		Token:     token,
		CreatedAt: l.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to record outstanding token")
	}
	return nil
}

// RecordClaimsTx records a self-issued token
func (l *Ledger) RecordClaimsTx(ctx context.Context, tx bun.IDB, claims *TokenClaims, token string) error {
	var userID *uuid.UUID
	if id, err := claims.SessionData.UserUUID(); err == nil {
		userID = &id
	}
	return l.RecordOutstandingTx(ctx, tx, claims.ID, claims.Expires(), token, userID)
}

// Blacklist revokes jti. Blacklisting twice is a no-op.
func (l *Ledger) Blacklist(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return NewTokenError(TokenMissingClaim, "Token has no id")
	}

	now := l.now().UTC()
	var created bool
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, _, err := l.repo.Tokens().GetOrCreateOutstandingTx(ctx, tx, &OutstandingToken{
			JTI:       jti,
			CreatedAt: now,
			ExpiresAt: expiresAt.UTC(),
		}); err != nil {
			return err
		}

		var err error
		created, err = l.repo.Tokens().GetOrCreateBlacklistTx(ctx, tx, jti, now)
		if err != nil {
			return err
		}
		if !created {
			l.logger.Debug("token %s already blacklisted", jti)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to blacklist token")
	}

	if created {
		l.metrics.blacklisted()
	}

	if l.cache != nil {
		ttl := expiresAt.Sub(now)
		if ttl <= 0 {
			ttl = time.Minute
		}
		if err := l.cache.MarkBlacklisted(ctx, jti, ttl); err != nil {
			l.logger.Warn("blacklist cache write failed for %s: %v", jti, err)
		}
	}
	return nil
}

// IsBlacklisted consults the cache first and then the durable ledger
func (l *Ledger) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if l.cache != nil {
		hit, err := l.cache.IsBlacklisted(ctx, jti)
		if err == nil && hit {
			return true, nil
		}
		if err != nil {
			l.logger.Warn("blacklist cache read failed for %s: %v", jti, err)
		}
	}
	return l.repo.Tokens().IsBlacklisted(ctx, jti)
}

// Sweep drops expired outstanding tokens that were never revoked
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.repo.Tokens().DeleteExpiredOutstanding(ctx, l.now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to sweep outstanding tokens")
	}
	if n > 0 {
		l.logger.Info("swept %d expired outstanding tokens", n)
	}
	return n, nil
}
