package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

// LoginRequest is the body of the login endpoint
type LoginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
	DeviceLoc   string `json:"device_loc"`
	Version     string `json:"version"`
	ForceLogout bool   `json:"force_logout"`
}

// Validate checks credentials are present. A missing device id is
// reported by the login flow itself with its own code.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest is the body of the refresh endpoint
type RefreshRequest struct {
	Refresh string `json:"refresh"`
	Entity  string `json:"entity"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Refresh, validation.Required),
		validation.Field(&r.Entity, validation.Required, is.UUID),
	)
}

// HandshakeRequest is the body of the handshake endpoint
type HandshakeRequest struct {
	DeviceID string     `json:"device_id"`
	Type     DeviceType `json:"type"`
	Version  string     `json:"version"`
	Nonce    string     `json:"nonce"`
}

func (r HandshakeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DeviceID, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.By(validDeviceType)),
		validation.Field(&r.Version, validation.Required, SemanticVersion),
		validation.Field(&r.Nonce, validation.Required),
	)
}

// DeviceRegistrationRequest is the body of the device registration endpoint
type DeviceRegistrationRequest struct {
	DeviceID    string     `json:"device_id"`
	Type        DeviceType `json:"type"`
	Version     string     `json:"version"`
	DeviceName  string     `json:"device_name"`
	DeviceLoc   string     `json:"device_loc"`
	ForceLogout bool       `json:"force_logout"`
}

func (r DeviceRegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DeviceID, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.By(validDeviceType)),
		validation.Field(&r.Version, validation.Required, SemanticVersion),
		validation.Field(&r.DeviceName, validation.Required),
	)
}

// CheckPasswordRequest is the body of the password gate
type CheckPasswordRequest struct {
	Password string `json:"password"`
}

func (r CheckPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
	)
}

// PasswordChangeRequest replaces the password of the current user
type PasswordChangeRequest struct {
	OldPassword  string `json:"old_password"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

func (r PasswordChangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword1, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.NewPassword2, validation.Required, validation.Length(8, 128)),
	)
}

// PasswordResetRequest starts a password reset
type PasswordResetRequest struct {
	Email string `json:"email"`
}

func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// PasswordResetConfirmRequest completes a password reset
type PasswordResetConfirmRequest struct {
	User         string `json:"user"`
	Token        string `json:"token"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

func (r PasswordResetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.User, validation.Required, is.UUID),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword1, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.NewPassword2, validation.Required, validation.Length(8, 128)),
	)
}

// ValidationCheckRequest asks whether a validation token is usable
type ValidationCheckRequest struct {
	ValidationToken string `json:"validation_token"`
	User            string `json:"user"`
}

func (r ValidationCheckRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ValidationToken, validation.Required),
		validation.Field(&r.User, is.UUID),
	)
}

// TokenVerifyRequest asks whether a token is still valid
type TokenVerifyRequest struct {
	Token string `json:"token"`
}

func (r TokenVerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func validDeviceType(value any) error {
	t, _ := value.(DeviceType)
	if !t.Valid() {
		return errors.New("invalid device type")
	}
	return nil
}

// validationFailure converts ozzo errors into the validation envelope
func validationFailure(err error) error {
	if err == nil {
		return nil
	}

	errs, ok := err.(validation.Errors)
	if !ok {
		return NewBadRequest(err.Error(), TextCodeBadRequest)
	}

	fields := make(map[string]string, len(errs))
	for name, fieldErr := range errs {
		if fieldErr == nil {
			continue
		}
		fields[name] = capitalize(fieldErr.Error())
	}
	return NewValidationError(fields)
}

func parseUUID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, NewValidationError(map[string]string{field: "Invalid " + field + "."})
	}
	return id, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
