package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OAuth2Store reads client credential tokens and their applications
type OAuth2Store interface {
	FindToken(ctx context.Context, token string) (*OAuth2Token, error)
	FindApplication(ctx context.Context, id uuid.UUID) (*OAuth2Application, error)
	CreateApplication(ctx context.Context, app *OAuth2Application) (*OAuth2Application, error)
	CreateToken(ctx context.Context, token *OAuth2Token) (*OAuth2Token, error)
}

type oauth2Store struct {
	db *bun.DB
}

func NewOAuth2Store(db *bun.DB) OAuth2Store {
	return &oauth2Store{db: db}
}

func (r *oauth2Store) FindToken(ctx context.Context, token string) (*OAuth2Token, error) {
	record := &OAuth2Token{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
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

// FindApplication loads the application with its entity ids
func (r *oauth2Store) FindApplication(ctx context.Context, id uuid.UUID) (*OAuth2Application, error) {
	app := &OAuth2Application{}
	err := r.db.NewSelect().
		Model(app).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"application_id": id.String(),
				})
		}
		return nil, err
	}

	var links []OAuth2ApplicationEntity
	if err := r.db.NewSelect().
		Model(&links).
		Where("?TableAlias.application_id = ?", id).
		Scan(ctx); err != nil {
		return nil, err
	}

	app.EntityIDs = make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		app.EntityIDs = append(app.EntityIDs, l.EntityID)
	}
	return app, nil
}

func (r *oauth2Store) CreateApplication(ctx context.Context, app *OAuth2Application) (*OAuth2Application, error) {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(app).Exec(ctx); err != nil {
			return err
		}
		if len(app.EntityIDs) == 0 {
			return nil
		}
		links := make([]OAuth2ApplicationEntity, 0, len(app.EntityIDs))
		for _, id := range app.EntityIDs {
			links = append(links, OAuth2ApplicationEntity{ApplicationID: app.ID, EntityID: id})
		}
		_, err := tx.NewInsert().Model(&links).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (r *oauth2Store) CreateToken(ctx context.Context, token *OAuth2Token) (*OAuth2Token, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}
