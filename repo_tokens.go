package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStore persists the outstanding and blacklisted token ledgers
type TokenStore interface {
	GetOrCreateOutstandingTx(ctx context.Context, tx bun.IDB, record *OutstandingToken) (*OutstandingToken, bool, error)
	FindOutstandingTx(ctx context.Context, tx bun.IDB, jti string) (*OutstandingToken, error)
	GetOrCreateBlacklistTx(ctx context.Context, tx bun.IDB, jti string, at time.Time) (bool, error)
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	DeleteExpiredOutstanding(ctx context.Context, before time.Time) (int64, error)
}

type tokenStore struct {
	db *bun.DB
}

func NewTokenStore(db *bun.DB) TokenStore {
	return &tokenStore{db: db}
}

func (r *tokenStore) FindOutstandingTx(ctx context.Context, tx bun.IDB, jti string) (*OutstandingToken, error) {
	record := &OutstandingToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.jti = ?", jti).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *tokenStore) GetOrCreateOutstandingTx(ctx context.Context, tx bun.IDB, record *OutstandingToken) (*OutstandingToken, bool, error) {
	existing, err := r.FindOutstandingTx(ctx, tx, record.JTI)
	if err == nil {
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, err
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res, err := tx.NewInsert().Model(record).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return record, true, nil
	}

	existing, err = r.FindOutstandingTx(ctx, tx, record.JTI)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *tokenStore) GetOrCreateBlacklistTx(ctx context.Context, tx bun.IDB, jti string, at time.Time) (bool, error) {
	record := &BlacklistedToken{
		ID:            uuid.New(),
		JTI:           jti,
		BlacklistedAt: at,
	}

	res, err := tx.NewInsert().Model(record).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *tokenStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	return r.db.NewSelect().
		Model((*BlacklistedToken)(nil)).
		Where("?TableAlias.jti = ?", jti).
		Exists(ctx)
}

// DeleteExpiredOutstanding removes outstanding tokens that expired before
// the given time and were never blacklisted
func (r *tokenStore) DeleteExpiredOutstanding(ctx context.Context, before time.Time) (int64, error) {
	blacklisted := r.db.NewSelect().
		Model((*BlacklistedToken)(nil)).
		Column("jti")

	res, err := r.db.NewDelete().
		Model((*OutstandingToken)(nil)).
		Where("expires_at < ?", before).
		Where("jti NOT IN (?)", blacklisted).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
