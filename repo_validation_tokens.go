package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ValidationTokens persists single use keys
type ValidationTokens interface {
	KeyExistsTx(ctx context.Context, tx bun.IDB, key string, tokenType ValidationTokenType) (bool, error)
	CreateTx(ctx context.Context, tx bun.IDB, token *ValidationToken) error
	FindByKey(ctx context.Context, key string) (*ValidationToken, error)
	FindByKeyTx(ctx context.Context, tx bun.IDB, key string) (*ValidationToken, error)
	FindUnusedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, tokenType ValidationTokenType, key string) (*ValidationToken, error)
	MarkUsedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
}

type validationTokens struct {
	db *bun.DB
}

func NewValidationTokensRepository(db *bun.DB) ValidationTokens {
	return &validationTokens{db: db}
}

// KeyExistsTx reports an unused token of the same type holding key
func (r *validationTokens) KeyExistsTx(ctx context.Context, tx bun.IDB, key string, tokenType ValidationTokenType) (bool, error) {
	return tx.NewSelect().
		Model((*ValidationToken)(nil)).
		Where("?TableAlias.token_key = ?", key).
		Where("?TableAlias.type = ?", tokenType).
		Where("?TableAlias.status = ?", ValidationTokenUnused).
		Exists(ctx)
}

func (r *validationTokens) CreateTx(ctx context.Context, tx bun.IDB, token *ValidationToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(token).Exec(ctx)
	return err
}

func (r *validationTokens) FindByKey(ctx context.Context, key string) (*ValidationToken, error) {
	return r.FindByKeyTx(ctx, r.db, key)
}

// FindByKeyTx returns the newest token holding key
func (r *validationTokens) FindByKeyTx(ctx context.Context, tx bun.IDB, key string) (*ValidationToken, error) {
	record := &ValidationToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token_key = ?", key).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return record, nil
}

func (r *validationTokens) FindUnusedTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, tokenType ValidationTokenType, key string) (*ValidationToken, error) {
	record := &ValidationToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.type = ?", tokenType).
		Where("?TableAlias.token_key = ?", key).
		Where("?TableAlias.status = ?", ValidationTokenUnused).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return record, nil
}

func (r *validationTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*ValidationToken)(nil)).
		Set("status = ?", ValidationTokenUsed).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// InvalidateTx marks the token used and expires it at
func (r *validationTokens) InvalidateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*ValidationToken)(nil)).
		Set("status = ?", ValidationTokenUsed).
		Set("expires_at = ?", at.UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
