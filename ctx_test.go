package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/stretchr/testify/assert"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()

	_, ok := auth.CurrentUser(ctx)
	assert.False(t, ok)
	assert.Empty(t, auth.CurrentDevice(ctx))
	assert.Empty(t, auth.SessionDevice(ctx))
	assert.Empty(t, auth.RequestIDFromContext(ctx))

	user := &auth.User{Email: "owner@acme.test"}
	ctx = auth.WithPrincipal(ctx, &auth.Principal{
		User:        user,
		SessionData: auth.SessionData{Device: "dev-1", EntityID: "e-1"},
	})
	ctx = auth.WithHandshakeSession(ctx, &auth.AuthSession{DeviceID: "dev-2"})
	ctx = auth.WithLocale(ctx, auth.Locale{Timezone: "Europe/Lisbon", Language: "pt"})
	ctx = auth.WithRequestID(ctx, "req-1")

	got, ok := auth.CurrentUser(ctx)
	assert.True(t, ok)
	assert.Same(t, user, got)
	assert.Equal(t, "dev-1", auth.CurrentDevice(ctx))
	assert.Equal(t, "dev-2", auth.SessionDevice(ctx))
	assert.Equal(t, "req-1", auth.RequestIDFromContext(ctx))

	locale, ok := auth.LocaleFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "pt", locale.Language)

	_, ok = auth.PrincipalFromContext(auth.WithPrincipal(context.Background(), nil))
	assert.False(t, ok)
}
