package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type Users interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	FindByLoginKey(ctx context.Context, key string) (*User, error)
	FindByLoginKeyTx(ctx context.Context, tx bun.IDB, key string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	LockTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	MarkLoggedInTx(ctx context.Context, tx bun.IDB, user *User) error
	SetDefaultEntityTx(ctx context.Context, tx bun.IDB, user *User, entityID uuid.UUID) error
	SetForceLogout(ctx context.Context, userID uuid.UUID, force bool) error
	SetForceLogoutTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, force bool) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, passwordHash string) error
	AcceptPolicyTx(ctx context.Context, tx bun.IDB, userID, policyID uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db            *bun.DB
	defaultRegion string
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithPhoneRegion sets the region used to parse phone login keys that do
// not carry an international prefix
func WithPhoneRegion(region string) UsersOption {
	return func(u *users) {
		if region != "" {
			u.defaultRegion = region
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository:    repo,
		db:            db,
		defaultRegion: DefaultPhoneRegion,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	return a.findOneTx(ctx, tx, "id", id)
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.findOneTx(ctx, tx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (a *users) FindByLoginKey(ctx context.Context, key string) (*User, error) {
	return a.FindByLoginKeyTx(ctx, a.db, key)
}

func (a *users) FindByLoginKeyTx(ctx context.Context, tx bun.IDB, key string) (*User, error) {
	column, value := NormalizeLoginKey(key, a.defaultRegion)
	if value == "" {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"identifier": key,
			})
	}
	return a.findOneTx(ctx, tx, column, value)
}

func (a *users) findOneTx(ctx context.Context, tx bun.IDB, column string, value any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	return a.Repository.CreateTx(ctx, tx, user)
}

// LockTx serializes writers on the user row until tx ends. Postgres takes a
// row lock; sqlite has none, so a no-op update grabs the database write lock.
func (a *users) LockTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	if tx.Dialect().Name() == dialect.PG {
		_, err := tx.NewSelect().
			Model((*User)(nil)).
			Column("id").
			Where("id = ?", id).
			For("UPDATE").
			Exec(ctx)
		return err
	}

	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("id = id").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *users) MarkLoggedInTx(ctx context.Context, tx bun.IDB, user *User) error {
	user.Status = UserStatusActive
	user.ForceLogout = false
	user.UpdatedAt = time.Now().UTC()

	_, err := tx.NewUpdate().
		Model(user).
		Column("status", "force_logout", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *users) SetDefaultEntityTx(ctx context.Context, tx bun.IDB, user *User, entityID uuid.UUID) error {
	user.DefaultEntityID = &entityID
	user.UpdatedAt = time.Now().UTC()

	_, err := tx.NewUpdate().
		Model(user).
		Column("default_entity_id", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func (a *users) SetForceLogout(ctx context.Context, userID uuid.UUID, force bool) error {
	return a.SetForceLogoutTx(ctx, a.db, userID, force)
}

func (a *users) SetForceLogoutTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, force bool) error {
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("force_logout = ?", force).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": userID.String(),
			})
	}
	return nil
}

func (a *users) AcceptPolicyTx(ctx context.Context, tx bun.IDB, userID, policyID uuid.UUID) error {
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("accepted_policy_id = ?", policyID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func prepareUserDefaults(user *User) {
	if user == nil {
		return
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Status == 0 {
		user.Status = UserStatusCreated
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
}

// IsNotFound reports a missing record from either bun or the repository
// layer
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
