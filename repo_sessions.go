package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthSessions persists handshake sessions
type AuthSessions interface {
	CreateTx(ctx context.Context, tx bun.IDB, s *AuthSession) error
	NonceUsedTx(ctx context.Context, tx bun.IDB, clientNonce string) (bool, error)
	FindByNonces(ctx context.Context, clientNonce, serverNonce string) (*AuthSession, error)
	FindByToken(ctx context.Context, sessionToken string) (*AuthSession, error)
}

type authSessions struct {
	db *bun.DB
}

func NewAuthSessionsRepository(db *bun.DB) AuthSessions {
	return &authSessions{db: db}
}

func (r *authSessions) CreateTx(ctx context.Context, tx bun.IDB, s *AuthSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(s).Exec(ctx)
	return err
}

// NonceUsedTx checks every session ever created, expired ones included
func (r *authSessions) NonceUsedTx(ctx context.Context, tx bun.IDB, clientNonce string) (bool, error) {
	return tx.NewSelect().
		Model((*AuthSession)(nil)).
		Where("?TableAlias.client_nonce = ?", clientNonce).
		Exists(ctx)
}

func (r *authSessions) FindByNonces(ctx context.Context, clientNonce, serverNonce string) (*AuthSession, error) {
	record := &AuthSession{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.client_nonce = ?", clientNonce).
		Where("?TableAlias.server_nonce = ?", serverNonce).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"client_nonce": clientNonce,
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *authSessions) FindByToken(ctx context.Context, sessionToken string) (*AuthSession, error) {
	record := &AuthSession{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.session_token = ?", sessionToken).
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
