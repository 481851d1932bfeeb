package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// DefaultOAuth2Scope is required on every client credential token
const DefaultOAuth2Scope = "read"

// OAuth2Strategy authenticates client credential access tokens. A token
// is valid only when it is unexpired, carries the required scope and is
// bound to one of its application's entities.
type OAuth2Strategy struct {
	store  OAuth2Store
	repo   RepositoryManager
	scope  string
	now    func() time.Time
	logger Logger
}

type OAuth2StrategyOption func(*OAuth2Strategy)

func WithOAuth2Scope(scope string) OAuth2StrategyOption {
	return func(s *OAuth2Strategy) {
		s.scope = scope
	}
}

func WithOAuth2Clock(now func() time.Time) OAuth2StrategyOption {
	return func(s *OAuth2Strategy) {
		if now != nil {
			s.now = now
		}
	}
}

func WithOAuth2Logger(lgr Logger) OAuth2StrategyOption {
	return func(s *OAuth2Strategy) {
		s.logger = normalizeLogger(lgr)
	}
}

func NewOAuth2Strategy(store OAuth2Store, repo RepositoryManager, opts ...OAuth2StrategyOption) *OAuth2Strategy {
	s := &OAuth2Strategy{
		store:  store,
		repo:   repo,
		scope:  DefaultOAuth2Scope,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *OAuth2Strategy) Kind() StrategyKind {
	return StrategyOAuth2
}

// Authenticate returns no principal when the token is missing or not
// valid, leaving the caller to report the missing credentials.
func (s *OAuth2Strategy) Authenticate(ctx context.Context, req Request) (*Principal, error) {
	raw := bearerToken(req.Header("Authorization"), []string{"Bearer"})
	if raw == "" {
		return nil, nil
	}

	token, err := s.store.FindToken(ctx, raw)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load oauth2 token")
	}

	app, err := s.store.FindApplication(ctx, token.ApplicationID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load oauth2 application")
	}

	if !s.valid(token, app) {
		s.logger.Debug("oauth2 token for application %s rejected", app.ClientID)
		return nil, nil
	}

	user, err := loadActiveUser(ctx, s.repo, token.UserID)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Kind:   StrategyOAuth2,
		Raw:    raw,
		OAuth2: token,
	}
	if m, err := s.repo.Entities().ActiveMembershipTx(ctx, s.repo.DB(), user.ID, token.EntityID); err == nil {
		cred.Membership = m
	}

	return &Principal{
		User:        user,
		SessionData: NormalizeSessionData(StrategyOAuth2, user, cred),
		Credential:  cred,
	}, nil
}

func (s *OAuth2Strategy) valid(token *OAuth2Token, app *OAuth2Application) bool {
	if !s.now().Before(token.ExpiresAt) {
		return false
	}
	if s.scope != "" && !slices.Contains(strings.Fields(token.Scope), s.scope) {
		return false
	}
	return slices.Contains(app.EntityIDs, token.EntityID)
}
