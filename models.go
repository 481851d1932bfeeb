package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the lifecycle state of a user account
type UserStatus int

const (
	UserStatusCreated UserStatus = 101
	UserStatusActive  UserStatus = 111
)

// DeviceType is the client platform of a device
type DeviceType int

const (
	DeviceAndroid DeviceType = 101
	DeviceIOS     DeviceType = 102
	DeviceWeb     DeviceType = 103
)

// Valid reports whether t is a known device type
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceAndroid, DeviceIOS, DeviceWeb:
		return true
	}
	return false
}

// MemberType is the role a user holds inside an entity
type MemberType int

const (
	MemberSuperAdmin MemberType = 1
	MemberAdmin      MemberType = 2
	MemberReporter   MemberType = 3
)

// User is the user model
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID  `bun:"id,pk,type:uuid" json:"id,omitempty"`
	Email            string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone            string     `bun:"phone_number" json:"phone_number,omitempty"`
	FirstName        string     `bun:"first_name" json:"first_name,omitempty"`
	LastName         string     `bun:"last_name" json:"last_name,omitempty"`
	PasswordHash     string     `bun:"password_hash" json:"-"`
	Status           UserStatus `bun:"status,notnull" json:"status,omitempty"`
	ForceLogout      bool       `bun:"force_logout,notnull" json:"force_logout"`
	DefaultEntityID  *uuid.UUID `bun:"default_entity_id,type:uuid" json:"default_entity_id,omitempty"`
	AcceptedPolicyID *uuid.UUID `bun:"accepted_policy_id,type:uuid" json:"accepted_policy_id,omitempty"`
	Language         string     `bun:"language" json:"language,omitempty"`
	IsActive         bool       `bun:"is_active,notnull" json:"is_active"`
	CreatedAt        time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Active reports whether the account may authenticate
func (u *User) Active() bool {
	return u != nil && u.IsActive
}

// Entity is the tenant a user acts as (a company)
type Entity struct {
	bun.BaseModel      `bun:"table:entities,alias:ent"`
	ID                 uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Name               string    `bun:"name,notnull" json:"name"`
	Currency           string    `bun:"currency" json:"currency,omitempty"`
	AllowMultipleLogin bool      `bun:"allow_multiple_login,notnull" json:"allow_multiple_login"`
	CreatedAt          time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Membership binds a user to an entity with a role
type Membership struct {
	bun.BaseModel `bun:"table:memberships,alias:mbr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid,unique:membership_user_entity" json:"user_id"`
	EntityID      uuid.UUID  `bun:"entity_id,notnull,type:uuid,unique:membership_user_entity" json:"entity_id"`
	Type          MemberType `bun:"type,notnull" json:"type"`
	IsActive      bool       `bun:"is_active,notnull" json:"is_active"`
	Entity        *Entity    `bun:"rel:belongs-to,join:entity_id=id" json:"entity,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// Device is a client installation bound to a user
type Device struct {
	bun.BaseModel  `bun:"table:devices,alias:dev"`
	ID             uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid,unique:device_registration_user" json:"user_id"`
	RegistrationID string     `bun:"registration_id,notnull,unique:device_registration_user" json:"device_id"`
	Type           DeviceType `bun:"type" json:"type,omitempty"`
	Active         bool       `bun:"active,notnull" json:"active"`
	DeviceName     string     `bun:"device_name" json:"device_name"`
	DeviceLoc      string     `bun:"device_loc" json:"device_loc"`
	Version        string     `bun:"version" json:"version"`
	CreatedAt      time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// AuthSession is the short lived record produced by the nonce handshake
type AuthSession struct {
	bun.BaseModel `bun:"table:auth_sessions,alias:ases"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"-"`
	SessionToken  string    `bun:"session_token,notnull,unique" json:"session_token"`
	ClientNonce   string    `bun:"client_nonce,notnull,unique" json:"-"`
	ServerNonce   string    `bun:"server_nonce,notnull" json:"server_nonce"`
	DeviceID      string    `bun:"device_id,notnull" json:"-"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"-"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// IsValid reports whether the session can still be used at now
func (s *AuthSession) IsValid(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}

// OutstandingToken records every issued token so blacklisting is bounded
// to known identifiers
type OutstandingToken struct {
	bun.BaseModel `bun:"table:outstanding_tokens,alias:otk"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	JTI           string     `bun:"jti,notnull,unique"`
	UserID        *uuid.UUID `bun:"user_id,type:uuid"`
	Token         string     `bun:"token"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
}

// BlacklistedToken marks an outstanding token as revoked
type BlacklistedToken struct {
	bun.BaseModel `bun:"table:blacklisted_tokens,alias:btk"`
	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	JTI           string    `bun:"jti,notnull,unique"`
	BlacklistedAt time.Time `bun:"blacklisted_at,notnull"`
}

// PrivacyPolicy is a published policy version users accept
type PrivacyPolicy struct {
	bun.BaseModel `bun:"table:privacy_policies,alias:pp"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Version       string    `bun:"version,notnull" json:"version"`
	Since         time.Time `bun:"since,notnull" json:"since"`
}

// ValidationTokenStatus is the usage state of a ValidationToken
type ValidationTokenStatus int

const (
	ValidationTokenUsed   ValidationTokenStatus = 101
	ValidationTokenUnused ValidationTokenStatus = 111
)

// ValidationTokenType selects the validity window of a ValidationToken
type ValidationTokenType int

const (
	TokenVerifyEmail  ValidationTokenType = 101
	TokenChangeEmail  ValidationTokenType = 102
	TokenResetPass    ValidationTokenType = 103
	TokenOTP          ValidationTokenType = 104
	TokenMagicLogin   ValidationTokenType = 105
	TokenInvite       ValidationTokenType = 106
	TokenNotification ValidationTokenType = 107
)

// ValidationToken is a single use key for email verification, password
// resets, invites and OTP codes
type ValidationToken struct {
	bun.BaseModel `bun:"table:validation_tokens,alias:vt"`
	ID            uuid.UUID             `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID             `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Key           string                `bun:"token_key,notnull" json:"-"`
	Status        ValidationTokenStatus `bun:"status,notnull" json:"status"`
	Type          ValidationTokenType   `bun:"type,notnull" json:"type"`
	IP            string                `bun:"ip" json:"ip,omitempty"`
	Location      string                `bun:"location" json:"location,omitempty"`
	Device        string                `bun:"device" json:"device,omitempty"`
	ExpiresAt     time.Time             `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time             `bun:"created_at,notnull" json:"created_at"`
}

// IsValid holds when the token is unused and not expired at now
func (t *ValidationToken) IsValid(now time.Time) bool {
	return t != nil && t.Status == ValidationTokenUnused && now.Before(t.ExpiresAt)
}

// OAuth2Application is a client registered for client credentials
type OAuth2Application struct {
	bun.BaseModel `bun:"table:oauth2_applications,alias:oapp"`
	ID            uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	Name          string      `bun:"name,notnull" json:"name"`
	ClientID      string      `bun:"client_id,notnull,unique" json:"client_id"`
	EntityIDs     []uuid.UUID `bun:"-" json:"entities"`
	CreatedAt     time.Time   `bun:"created_at,notnull" json:"created_at"`
}

// OAuth2ApplicationEntity links an application to an entity it may act for
type OAuth2ApplicationEntity struct {
	bun.BaseModel `bun:"table:oauth2_application_entities,alias:oae"`
	ApplicationID uuid.UUID `bun:"application_id,pk,type:uuid"`
	EntityID      uuid.UUID `bun:"entity_id,pk,type:uuid"`
}

// OAuth2Token is an access token issued to an application
type OAuth2Token struct {
	bun.BaseModel `bun:"table:oauth2_access_tokens,alias:oat"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Token         string    `bun:"token,notnull,unique" json:"-"`
	ApplicationID uuid.UUID `bun:"application_id,notnull,type:uuid" json:"application_id"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid" json:"user_id"`
	EntityID      uuid.UUID `bun:"entity_id,type:uuid" json:"entity_id"`
	Scope         string    `bun:"scope" json:"scope"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Models lists every table owned by this package in creation order
func Models() []any {
	return []any{
		(*User)(nil),
		(*Entity)(nil),
		(*Membership)(nil),
		(*Device)(nil),
		(*AuthSession)(nil),
		(*OutstandingToken)(nil),
		(*BlacklistedToken)(nil),
		(*PrivacyPolicy)(nil),
		(*ValidationToken)(nil),
		(*OAuth2Application)(nil),
		(*OAuth2ApplicationEntity)(nil),
		(*OAuth2Token)(nil),
	}
}
