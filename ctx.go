package auth

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var handshakeCtxKey = &contextKey{"handshake_session"}
var localeCtxKey = &contextKey{"locale"}
var requestIDCtxKey = &contextKey{"request_id"}

type contextKey struct {
	name string
}

// Principal is the authenticated identity of a request
type Principal struct {
	User        *User
	SessionData SessionData
	Credential  *Credential
}

// Locale carries the Timezone and Language request headers
type Locale struct {
	Timezone string
	Language string
}

// WithPrincipal publishes the authenticated identity in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext returns the authenticated identity, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(*Principal)
	return p, ok && p != nil
}

// CurrentUser returns the authenticated user
func CurrentUser(ctx context.Context) (*User, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User == nil {
		return nil, false
	}
	return p.User, true
}

// CurrentSessionData returns the normalized session data
func CurrentSessionData(ctx context.Context) (SessionData, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return SessionData{}, false
	}
	return p.SessionData, true
}

// CurrentDevice returns the device id of the current session
func CurrentDevice(ctx context.Context) string {
	sd, _ := CurrentSessionData(ctx)
	return sd.Device
}

// WithHandshakeSession publishes the handshake session matched by the
// nonce headers
func WithHandshakeSession(ctx context.Context, s *AuthSession) context.Context {
	return context.WithValue(ctx, handshakeCtxKey, s)
}

// HandshakeSessionFromContext returns the handshake session, if any
func HandshakeSessionFromContext(ctx context.Context) (*AuthSession, bool) {
	s, ok := ctx.Value(handshakeCtxKey).(*AuthSession)
	return s, ok && s != nil
}

// SessionDevice returns the device id bound to the handshake session
func SessionDevice(ctx context.Context) string {
	s, ok := HandshakeSessionFromContext(ctx)
	if !ok {
		return ""
	}
	return s.DeviceID
}

// WithLocale publishes the request locale
func WithLocale(ctx context.Context, l Locale) context.Context {
	return context.WithValue(ctx, localeCtxKey, l)
}

// LocaleFromContext returns the request locale
func LocaleFromContext(ctx context.Context) (Locale, bool) {
	l, ok := ctx.Value(localeCtxKey).(Locale)
	return l, ok
}

// WithRequestID sets the request id used for log correlation
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext returns the request id
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
