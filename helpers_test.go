package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testPassword   = "s3cret-pass"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// notifications captures validation tokens handed to the notifier
type notifications struct {
	mu     sync.Mutex
	tokens []*auth.ValidationToken
}

func (n *notifications) Notify(_ context.Context, _ *auth.User, token *auth.ValidationToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	return nil
}

func (n *notifications) last(t *testing.T) *auth.ValidationToken {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.tokens, "expected a notification")
	return n.tokens[len(n.tokens)-1]
}

type fixture struct {
	db         *bun.DB
	repo       auth.RepositoryManager
	codec      *auth.TokenCodec
	ledger     *auth.Ledger
	devices    *auth.DeviceRegistry
	handshakes *auth.HandshakeService
	auther     *auth.Auther
	notifier   *notifications
	user       *auth.User
	entity     *auth.Entity
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, auth.CreateSchema(context.Background(), db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, newTestDB(t))
}

// newFixtureOn builds the services on db, which must already hold the schema
func newFixtureOn(t *testing.T, db *bun.DB) *fixture {
	t.Helper()

	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	ledger := auth.NewLedger(repo, auth.WithLedgerLogger(testLogger{}))
	codec := auth.NewTokenCodec([]byte(testSigningKey),
		auth.WithCodecBlacklist(ledger),
		auth.WithCodecLifetimes(5*time.Minute, 24*time.Hour),
		auth.WithCodecLogger(testLogger{}),
	)
	devices := auth.NewDeviceRegistry(repo, auth.WithDeviceLogger(testLogger{}))
	handshakes := auth.NewHandshakeService(repo,
		auth.WithHandshakeLogger(testLogger{}),
		auth.WithServerInfo(auth.ServerInfo{ServerName: "trace-auth", ServerVersion: "1.0.0"}, "JWT", nil),
	)
	notifier := &notifications{}
	auther := auth.NewAuthenticator(repo, codec, ledger, devices).
		WithLogger(testLogger{}).
		WithPasswordAuthenticator(auth.BcryptAuthenticator{Cost: 4}).
		WithNotifier(notifier)

	f := &fixture{
		db:         db,
		repo:       repo,
		codec:      codec,
		ledger:     ledger,
		devices:    devices,
		handshakes: handshakes,
		auther:     auther,
		notifier:   notifier,
	}
	f.entity = f.createEntity(t, "Acme Traders", false)
	f.user = f.createUser(t, "owner@acme.test")
	f.addMember(t, f.user, f.entity, auth.MemberAdmin)
	return f
}

func (f *fixture) createEntity(t *testing.T, name string, multiLogin bool) *auth.Entity {
	t.Helper()
	entity, err := f.repo.Entities().Create(context.Background(), &auth.Entity{
		Name:               name,
		AllowMultipleLogin: multiLogin,
	})
	require.NoError(t, err)
	return entity
}

func (f *fixture) createUser(t *testing.T, email string) *auth.User {
	t.Helper()
	hash, err := auth.HashPasswordWithCost(testPassword, 4)
	require.NoError(t, err)

	user, err := f.repo.Users().Register(context.Background(), &auth.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Status:       auth.UserStatusActive,
		IsActive:     true,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) addMember(t *testing.T, user *auth.User, entity *auth.Entity, kind auth.MemberType) *auth.Membership {
	t.Helper()
	m, err := f.repo.Entities().AddMember(context.Background(), &auth.Membership{
		UserID:   user.ID,
		EntityID: entity.ID,
		Type:     kind,
		IsActive: true,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) login(t *testing.T, device string, force bool) *auth.LoginResult {
	t.Helper()
	result, err := f.auther.Login(context.Background(), auth.LoginRequest{
		Username:    f.user.Email,
		Password:    testPassword,
		DeviceID:    device,
		DeviceName:  "Pixel",
		Version:     "1.0.0",
		ForceLogout: force,
	})
	require.NoError(t, err)
	return result
}

// principalContext authenticates access with the JWT strategy
func (f *fixture) principalContext(t *testing.T, access string) context.Context {
	t.Helper()
	strategy := auth.NewJWTStrategy(f.codec, f.repo, f.devices, auth.WithJWTLogger(testLogger{}))
	req := auth.NewRequest("POST", nil, nil, auth.EndpointPolicy{})
	req.Headers.Set("Authorization", "Bearer "+access)

	principal, err := strategy.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, principal)
	return auth.WithPrincipal(context.Background(), principal)
}

func textCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	_, env := auth.RenderError(err)
	return env.Code
}
