package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	DB() bun.IDB
	Users() Users
	Entities() Entities
	Devices() Devices
	AuthSessions() AuthSessions
	Tokens() TokenStore
	ValidationTokens() ValidationTokens
}

type mngr struct {
	db               *bun.DB
	users            Users
	entities         Entities
	devices          Devices
	authSessions     AuthSessions
	tokens           TokenStore
	validationTokens ValidationTokens
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:               db,
		users:            NewUsersRepository(db),
		entities:         NewEntitiesRepository(db),
		devices:          NewDevicesRepository(db),
		authSessions:     NewAuthSessionsRepository(db),
		tokens:           NewTokenStore(db),
		validationTokens: NewValidationTokensRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.entities == nil {
		return errors.New("repository entities should be initialized")
	}

	if m.devices == nil {
		return errors.New("repository devices should be initialized")
	}

	if m.authSessions == nil {
		return errors.New("repository authSessions should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	if m.validationTokens == nil {
		return errors.New("repository validationTokens should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() bun.IDB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Entities() Entities {
	return m.entities
}

func (m mngr) Devices() Devices {
	return m.devices
}

func (m mngr) AuthSessions() AuthSessions {
	return m.authSessions
}

func (m mngr) Tokens() TokenStore {
	return m.tokens
}

func (m mngr) ValidationTokens() ValidationTokens {
	return m.validationTokens
}

// CreateSchema creates every table this package owns. It is meant for
// tests and local development; deployments run their own migrations.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
