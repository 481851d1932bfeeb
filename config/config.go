// Package config loads the service configuration from defaults, an
// optional YAML file and TRACE_AUTH_ environment variables.
package config

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "TRACE_AUTH_"

type Token struct {
	SigningKey      string        `koanf:"signing_key"`
	Issuer          string        `koanf:"issuer"`
	Audience        []string      `koanf:"audience"`
	AccessLifetime  time.Duration `koanf:"access_lifetime"`
	RefreshLifetime time.Duration `koanf:"refresh_lifetime"`
	HeaderTypes     []string      `koanf:"header_types"`
	RequireTokenID  bool          `koanf:"require_token_id"`
}

type SSO struct {
	PublicKeyPath string   `koanf:"public_key_path"`
	KeyID         string   `koanf:"key_id"`
	Algorithms    []string `koanf:"algorithms"`
	UserIDClaim   string   `koanf:"user_id_claim"`
	HeaderTypes   []string `koanf:"header_types"`
	ValidateHMAC  bool     `koanf:"validate_hmac"`
}

type Handshake struct {
	TTL                  time.Duration  `koanf:"ttl"`
	AuthenticationMethod string         `koanf:"authentication_method"`
	Security             map[string]any `koanf:"security"`
}

type Server struct {
	Name       string  `koanf:"name"`
	Version    string  `koanf:"version"`
	Address    string  `koanf:"address"`
	RateLimit  float64 `koanf:"rate_limit"`
	RateBurst  int     `koanf:"rate_burst"`
	BcryptCost int     `koanf:"bcrypt_cost"`
	Debug      bool    `koanf:"debug"`
}

type Persistence struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type Redis struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BaseConfig is the full service configuration. It implements
// auth.Config.
type BaseConfig struct {
	Token       Token       `koanf:"token"`
	SSO         SSO         `koanf:"sso"`
	Handshake   Handshake   `koanf:"handshake"`
	Server      Server      `koanf:"server"`
	Persistence Persistence `koanf:"persistence"`
	Redis       Redis       `koanf:"redis"`
	Logging     Logging     `koanf:"logging"`
}

// Defaults are applied before the file and the environment
func Defaults() map[string]any {
	return map[string]any{
		"token.issuer":           "trace-auth",
		"token.access_lifetime":  "5m",
		"token.refresh_lifetime": "24h",
		"token.header_types":     []string{"Bearer", "JWT"},
		"token.require_token_id": true,

		"sso.algorithms":    []string{"RS256"},
		"sso.user_id_claim": "email",
		"sso.header_types":  []string{"Bearer", "JWT"},
		"sso.validate_hmac": false,

		"handshake.ttl":                   "10m",
		"handshake.authentication_method": "JWT",

		"server.name":        "trace-auth",
		"server.version":     "1.0.0",
		"server.address":     ":8080",
		"server.rate_limit":  5.0,
		"server.rate_burst":  10,
		"server.bcrypt_cost": 14,

		"persistence.driver": "sqlite",
		"persistence.dsn":    "file::memory:?cache=shared",

		"redis.prefix": "trace_auth",

		"logging.level":  "info",
		"logging.format": "json",
	}
}

// Load reads path when it exists and then the environment. An empty
// path loads defaults and environment only.
func Load(path string) (*BaseConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load config defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse config file").
					WithMetadata(map[string]any{"path": path})
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load config environment")
	}

	cfg := &BaseConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid config")
	}
	return cfg, nil
}

// envKey maps TRACE_AUTH_TOKEN__SIGNING_KEY to token.signing_key
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c BaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token),
		validation.Field(&c.Handshake),
		validation.Field(&c.Server),
		validation.Field(&c.Persistence),
		validation.Field(&c.Redis),
		validation.Field(&c.Logging),
	)
}

func (t Token) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&t.AccessLifetime, validation.Required, validation.Min(time.Second)),
		validation.Field(&t.RefreshLifetime, validation.Required, validation.Min(time.Second)),
		validation.Field(&t.HeaderTypes, validation.Required),
	)
}

func (h Handshake) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.TTL, validation.Required, validation.Min(time.Second)),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.BcryptCost, validation.Min(4), validation.Max(31)),
	)
}

func (p Persistence) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&p.DSN, validation.Required),
	)
}

func (l Logging) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

func (r Redis) Enabled() bool {
	return r.Address != ""
}

func (r Redis) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, is.DialString),
	)
}

func (c BaseConfig) GetSigningKey() string                  { return c.Token.SigningKey }
func (c BaseConfig) GetIssuer() string                      { return c.Token.Issuer }
func (c BaseConfig) GetAudience() []string                  { return c.Token.Audience }
func (c BaseConfig) GetAccessTokenLifetime() time.Duration  { return c.Token.AccessLifetime }
func (c BaseConfig) GetRefreshTokenLifetime() time.Duration { return c.Token.RefreshLifetime }
func (c BaseConfig) GetAuthHeaderTypes() []string           { return c.Token.HeaderTypes }
func (c BaseConfig) GetRequireTokenID() bool                { return c.Token.RequireTokenID }

func (c BaseConfig) GetSSOPublicKeyPath() string    { return c.SSO.PublicKeyPath }
func (c BaseConfig) GetSSOKeyID() string            { return c.SSO.KeyID }
func (c BaseConfig) GetSSOAlgorithms() []string     { return c.SSO.Algorithms }
func (c BaseConfig) GetSSOUserIDClaim() string      { return c.SSO.UserIDClaim }
func (c BaseConfig) GetSSOHeaderTypes() []string    { return c.SSO.HeaderTypes }
func (c BaseConfig) GetValidateHMACSignature() bool { return c.SSO.ValidateHMAC }

func (c BaseConfig) GetHandshakeTTL() time.Duration  { return c.Handshake.TTL }
func (c BaseConfig) GetServerName() string           { return c.Server.Name }
func (c BaseConfig) GetServerVersion() string        { return c.Server.Version }
func (c BaseConfig) GetAuthenticationMethod() string { return c.Handshake.AuthenticationMethod }
func (c BaseConfig) GetSecurityInfo() map[string]any { return c.Handshake.Security }
