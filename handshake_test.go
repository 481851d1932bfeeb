package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClaimer struct {
	mu     sync.Mutex
	seen   map[string]bool
	err    error
	claims int
}

func (s *stubClaimer) ClaimNonce(_ context.Context, nonce string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	if s.err != nil {
		return false, s.err
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[nonce] {
		return false, nil
	}
	s.seen[nonce] = true
	return true, nil
}

func handshakeRequest(device, nonce string) auth.HandshakeRequest {
	return auth.HandshakeRequest{
		DeviceID: device,
		Type:     auth.DeviceAndroid,
		Version:  "1.0.0",
		Nonce:    nonce,
	}
}

func TestHandshakeUnregisteredDevice(t *testing.T) {
	f := newFixture(t)

	res, err := f.handshakes.Handshake(context.Background(), handshakeRequest("dev-42", "abc123"))
	require.NoError(t, err)

	assert.Equal(t, auth.DeviceInfo{
		IsRegistered: false,
		DeviceID:     "dev-42",
		Type:         auth.DeviceAndroid,
		Status:       auth.DeviceStatusNotRegistered,
	}, res.DeviceInfo)
	assert.Equal(t, "trace-auth", res.ServerInfo.ServerName)
	assert.Equal(t, "1.0.0", res.ServerInfo.ServerVersion)
	assert.Equal(t, "JWT", res.AuthenticationMethod)
	assert.NotEmpty(t, res.SessionToken)
	assert.Len(t, res.ServerNonce, 32)
	assert.NotNil(t, res.Security)
	assert.WithinDuration(t, time.Now().Add(auth.DefaultHandshakeTTL), res.ExpiresAt, 5*time.Second)
}

func TestHandshakeReportsDeviceStatus(t *testing.T) {
	f := newFixture(t)
	f.login(t, "dev-1", false)

	device, created, err := f.devices.GetOrCreate(context.Background(), f.user.ID, "dev-1")
	require.NoError(t, err)
	require.False(t, created)
	device.Type = auth.DeviceAndroid
	require.NoError(t, f.repo.Devices().SaveTx(context.Background(), f.db, device))

	res, err := f.handshakes.Handshake(context.Background(), handshakeRequest("dev-1", "n-1"))
	require.NoError(t, err)
	assert.True(t, res.DeviceInfo.IsRegistered)
	assert.Equal(t, auth.DeviceStatusActive, res.DeviceInfo.Status)

	_, err = f.devices.DeactivateAll(context.Background(), f.user.ID)
	require.NoError(t, err)

	res, err = f.handshakes.Handshake(context.Background(), handshakeRequest("dev-1", "n-2"))
	require.NoError(t, err)
	assert.Equal(t, auth.DeviceStatusDeactivated, res.DeviceInfo.Status)
}

func TestHandshakeRejectsReusedNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handshakes.Handshake(ctx, handshakeRequest("dev-42", "abc123"))
	require.NoError(t, err)

	_, err = f.handshakes.Handshake(ctx, handshakeRequest("dev-43", "abc123"))
	status, env := auth.RenderError(err)
	assert.Equal(t, 400, status)
	assert.Equal(t, auth.TextCodeValidation, env.Code)
	assert.Equal(t, map[string]any{
		"nonce": "The provided nonce value is invalid. This nonce has already been used.",
	}, env.Detail)

	assert.Error(t, f.handshakes.ValidateNonce(ctx, "abc123"))
	assert.NoError(t, f.handshakes.ValidateNonce(ctx, "fresh"))
	assert.Equal(t, auth.TextCodeNonceRequired, textCode(t, f.handshakes.ValidateNonce(ctx, " ")))
}

func TestHandshakeValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.handshakes.Handshake(context.Background(), auth.HandshakeRequest{
		DeviceID: "dev-42",
		Type:     7,
		Version:  "1.0",
	})
	status, env := auth.RenderError(err)
	assert.Equal(t, 400, status)

	fields, ok := env.Detail.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "type")
	assert.Contains(t, fields, "version")
	assert.Contains(t, fields, "nonce")
	assert.NotContains(t, fields, "device_id")
}

func TestResolveSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	f := newFixture(t)
	handshakes := auth.NewHandshakeService(f.repo,
		auth.WithHandshakeTTL(time.Minute),
		auth.WithHandshakeClock(func() time.Time { return clock }),
		auth.WithHandshakeLogger(testLogger{}),
	)
	ctx := context.Background()

	session, err := handshakes.GenerateSession(ctx, "client-1", "dev-42")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), session.ExpiresAt, 0)

	got, err := handshakes.ResolveSession(ctx, "client-1", session.ServerNonce)
	require.NoError(t, err)
	assert.Equal(t, session.SessionToken, got.SessionToken)
	assert.Equal(t, "dev-42", got.DeviceID)

	_, err = handshakes.ResolveSession(ctx, "client-1", "wrong")
	assert.Equal(t, auth.TextCodeSessionNotFound, textCode(t, err))

	_, err = handshakes.ResolveSession(ctx, "", session.ServerNonce)
	assert.Equal(t, auth.TextCodeNonceRequired, textCode(t, err))

	clock = now.Add(time.Minute + time.Second)
	_, err = handshakes.ResolveSession(ctx, "client-1", session.ServerNonce)
	assert.Equal(t, auth.TextCodeSessionNotFound, textCode(t, err))

	_, err = handshakes.GenerateSession(ctx, "client-1", "dev-42")
	assert.Error(t, err, "expired sessions still burn their nonce")
}

func TestHandshakeNonceClaimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claimer := &stubClaimer{}
	handshakes := auth.NewHandshakeService(f.repo, auth.WithNonceClaimer(claimer), auth.WithHandshakeLogger(testLogger{}))

	_, err := handshakes.GenerateSession(ctx, "client-1", "dev-42")
	require.NoError(t, err)

	_, err = handshakes.GenerateSession(ctx, "client-1", "dev-42")
	assert.Equal(t, auth.TextCodeValidation, textCode(t, err))
	assert.Equal(t, 2, claimer.claims)

	claimer.err = errors.New("redis unavailable")
	_, err = handshakes.GenerateSession(ctx, "client-2", "dev-42")
	require.NoError(t, err, "claimer failures fall back to the database")

	_, err = handshakes.GenerateSession(ctx, "client-2", "dev-42")
	assert.Equal(t, auth.TextCodeValidation, textCode(t, err))
}
