package auth

import (
	"github.com/google/uuid"
)

// StrategyKind names an authentication strategy
type StrategyKind string

const (
	StrategySelfIssuedJWT StrategyKind = "self_issued_jwt"
	StrategySSOJWT        StrategyKind = "sso_jwt"
	StrategyOAuth2        StrategyKind = "oauth2"
)

// SessionData is the normalized identity every strategy produces and the
// payload embedded as session_data in self-issued tokens.
type SessionData struct {
	UserID     string     `json:"user_id"`
	EntityID   string     `json:"entity_id"`
	MemberType MemberType `json:"member_type"`
	Device     string     `json:"device"`
}

// UserUUID parses the user id
func (s SessionData) UserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

// EntityUUID parses the entity id
func (s SessionData) EntityUUID() (uuid.UUID, error) {
	return uuid.Parse(s.EntityID)
}

// Credential is what a strategy verified, besides the user.
type Credential struct {
	Kind        StrategyKind
	Raw         string
	Claims      *TokenClaims
	SSOClaims   map[string]any
	AuthSession *AuthSession
	Device      *Device
	Membership  *Membership
	OAuth2      *OAuth2Token
}

// NormalizeSessionData builds the uniform session data shape from what a
// strategy resolved.
func NormalizeSessionData(kind StrategyKind, user *User, cred *Credential) SessionData {
	out := SessionData{}
	if user != nil {
		out.UserID = user.ID.String()
	}
	if cred == nil {
		return out
	}

	switch kind {
	case StrategySelfIssuedJWT:
		if cred.Claims != nil {
			out = cred.Claims.SessionData
			if out.UserID == "" && user != nil {
				out.UserID = user.ID.String()
			}
		}
	case StrategySSOJWT:
		if cred.AuthSession != nil {
			out.Device = cred.AuthSession.DeviceID
		}
		if cred.Device != nil {
			out.Device = cred.Device.RegistrationID
		}
	case StrategyOAuth2:
		if cred.OAuth2 != nil && cred.OAuth2.EntityID != uuid.Nil {
			out.EntityID = cred.OAuth2.EntityID.String()
		}
	}

	if cred.Membership != nil {
		if out.EntityID == "" {
			out.EntityID = cred.Membership.EntityID.String()
		}
		if out.MemberType == 0 {
			out.MemberType = cred.Membership.Type
		}
	}

	return out
}
