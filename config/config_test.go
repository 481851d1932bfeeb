package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/goliatone/go-trace-auth"
	"github.com/goliatone/go-trace-auth/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ auth.Config = config.BaseConfig{}

const signingKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRACE_AUTH_TOKEN__SIGNING_KEY", signingKey)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, signingKey, cfg.GetSigningKey())
	assert.Equal(t, 5*time.Minute, cfg.GetAccessTokenLifetime())
	assert.Equal(t, 24*time.Hour, cfg.GetRefreshTokenLifetime())
	assert.Equal(t, 10*time.Minute, cfg.GetHandshakeTTL())
	assert.Equal(t, []string{"Bearer", "JWT"}, cfg.GetAuthHeaderTypes())
	assert.Equal(t, "JWT", cfg.GetAuthenticationMethod())
	assert.Equal(t, "sqlite", cfg.Persistence.Driver)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.GetValidateHMACSignature())
	assert.Equal(t, auth.DefaultSSOUserIDClaim, cfg.GetSSOUserIDClaim())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	err := os.WriteFile(path, []byte(`
token:
  signing_key: "`+signingKey+`"
  access_lifetime: 15m
handshake:
  ttl: 2m
  security:
    hmac: required
server:
  name: trace-core
sso:
  validate_hmac: true
`), 0o600)
	require.NoError(t, err)

	t.Setenv("TRACE_AUTH_SERVER__VERSION", "2.3.4")
	t.Setenv("TRACE_AUTH_REDIS__ADDRESS", "localhost:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.GetAccessTokenLifetime())
	assert.Equal(t, 2*time.Minute, cfg.GetHandshakeTTL())
	assert.Equal(t, "trace-core", cfg.GetServerName())
	assert.Equal(t, "2.3.4", cfg.GetServerVersion())
	assert.Equal(t, "required", cfg.GetSecurityInfo()["hmac"])
	assert.True(t, cfg.GetValidateHMACSignature())
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadValidation(t *testing.T) {
	t.Run("signing key is required", func(t *testing.T) {
		_, err := config.Load("")
		require.Error(t, err)
	})

	t.Run("short signing key", func(t *testing.T) {
		t.Setenv("TRACE_AUTH_TOKEN__SIGNING_KEY", "short")
		_, err := config.Load("")
		require.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("TRACE_AUTH_TOKEN__SIGNING_KEY", signingKey)
		t.Setenv("TRACE_AUTH_PERSISTENCE__DRIVER", "mysql")
		_, err := config.Load("")
		require.Error(t, err)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		t.Setenv("TRACE_AUTH_TOKEN__SIGNING_KEY", signingKey)
		cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
		require.NoError(t, err)
		assert.Equal(t, "trace-auth", cfg.GetServerName())
	})
}
