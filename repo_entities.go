package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Entities reads tenants, memberships and policies
type Entities interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Entity, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Entity, error)
	Create(ctx context.Context, entity *Entity) (*Entity, error)

	AddMember(ctx context.Context, m *Membership) (*Membership, error)
	ActiveMembershipTx(ctx context.Context, tx bun.IDB, userID, entityID uuid.UUID) (*Membership, error)
	FirstMembershipTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Membership, error)

	CurrentPolicy(ctx context.Context) (*PrivacyPolicy, error)
	CurrentPolicyTx(ctx context.Context, tx bun.IDB) (*PrivacyPolicy, error)
	PublishPolicy(ctx context.Context, p *PrivacyPolicy) (*PrivacyPolicy, error)
}

type entities struct {
	db *bun.DB
}

func NewEntitiesRepository(db *bun.DB) Entities {
	return &entities{db: db}
}

func (r *entities) FindByID(ctx context.Context, id uuid.UUID) (*Entity, error) {
	return r.FindByIDTx(ctx, r.db, id)
}

func (r *entities) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Entity, error) {
	record := &Entity{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"entity_id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *entities) Create(ctx context.Context, entity *Entity) (*Entity, error) {
	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, err
	}
	return entity, nil
}

func (r *entities) AddMember(ctx context.Context, m *Membership) (*Membership, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *entities) ActiveMembershipTx(ctx context.Context, tx bun.IDB, userID, entityID uuid.UUID) (*Membership, error) {
	record := &Membership{}
	err := tx.NewSelect().
		Model(record).
		Relation("Entity").
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.entity_id = ?", entityID).
		Where("?TableAlias.is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":   userID.String(),
					"entity_id": entityID.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *entities) FirstMembershipTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*Membership, error) {
	record := &Membership{}
	err := tx.NewSelect().
		Model(record).
		Relation("Entity").
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *entities) CurrentPolicy(ctx context.Context) (*PrivacyPolicy, error) {
	return r.CurrentPolicyTx(ctx, r.db)
}

// CurrentPolicyTx returns the most recent policy or nil when none was
// published
func (r *entities) CurrentPolicyTx(ctx context.Context, tx bun.IDB) (*PrivacyPolicy, error) {
	record := &PrivacyPolicy{}
	err := tx.NewSelect().
		Model(record).
		OrderExpr("?TableAlias.since DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func (r *entities) PublishPolicy(ctx context.Context, p *PrivacyPolicy) (*PrivacyPolicy, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Since.IsZero() {
		p.Since = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(p).Exec(ctx); err != nil {
		return nil, err
	}
	return p, nil
}
