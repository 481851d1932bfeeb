package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenLifetime() time.Duration
	GetRefreshTokenLifetime() time.Duration
	GetAuthHeaderTypes() []string
	GetRequireTokenID() bool

	GetSSOPublicKeyPath() string
	GetSSOKeyID() string
	GetSSOAlgorithms() []string
	GetSSOUserIDClaim() string
	GetSSOHeaderTypes() []string
	GetValidateHMACSignature() bool

	GetHandshakeTTL() time.Duration
	GetServerName() string
	GetServerVersion() string
	GetAuthenticationMethod() string
	GetSecurityInfo() map[string]any
}

// Notifier delivers out of band messages (reset links, OTP codes).
// Delivery itself lives outside this package.
type Notifier interface {
	Notify(ctx context.Context, user *User, token *ValidationToken) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, user *User, token *ValidationToken) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, user *User, token *ValidationToken) error {
	if f == nil {
		return nil
	}
	return f(ctx, user, token)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *User, *ValidationToken) error { return nil }

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
