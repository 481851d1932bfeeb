package auth

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

// Text codes surfaced as the `code` field of the error envelope.
const (
	TextCodeAuthenticationFailed = "authentication_failed"
	TextCodeAccessForbidden      = "permission_denied"
	TextCodeBadRequest           = "bad_request"
	TextCodeValidation           = "invalid"
	TextCodeNoValue              = "no_value"
	TextCodeTokenNotValid        = "token_not_valid"

	TextCodeDeviceIDRequired   = "device_id_required"
	TextCodeInvalidEntity      = "invalid_entity"
	TextCodeNoEntity           = "no_entity"
	TextCodeNoActiveAccount    = "no_active_account"
	TextCodeUserNotFound       = "user_not_found"
	TextCodeUserInactive       = "user_inactive"
	TextCodeUnsupportedAuth    = "unsupported_auth_type"
	TextCodeNonceRequired      = "nonce_required"
	TextCodeSessionNotFound    = "session_not_found"
	TextCodeSignatureRequired  = "signature_required"
	TextCodeSignatureMismatch  = "signature_mismatch"
	TextCodeDeviceNotFound     = "device_not_found"
	TextCodeDeviceDeactivated  = "device_deactivated"
	TextCodeInvalidCredentials = "invalid_credentials"
	TextCodeNotAuthenticated   = "not_authenticated"
	TextCodeInvalidOTP         = "invalid_otp"
	TextCodeInvalidVersion     = "invalid_version"
	TextCodeNonceUsed          = "nonce_used"
	TextCodeCompanyNotAllowed  = "company_not_allowed"
	TextCodeTooManyRequests    = "too_many_requests"
)

// TokenErrorKind classifies token decode/verify failures.
type TokenErrorKind string

const (
	TokenMalformed      TokenErrorKind = "token_malformed"
	TokenExpired        TokenErrorKind = "token_expired"
	TokenRevoked        TokenErrorKind = "token_revoked"
	TokenMissingClaim   TokenErrorKind = "token_missing_claim"
	TokenNoClassMatched TokenErrorKind = "token_no_class_matched"
)

var tokenErrorKinds = map[string]TokenErrorKind{
	string(TokenMalformed):      TokenMalformed,
	string(TokenExpired):        TokenExpired,
	string(TokenRevoked):        TokenRevoked,
	string(TokenMissingClaim):   TokenMissingClaim,
	string(TokenNoClassMatched): TokenNoClassMatched,
}

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can't be an empty string", errors.CategoryBadInput).
	WithTextCode("EMPTY_PASSWORD").
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned by ComparePasswordAndHash
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// NewTokenError builds a token error of the given kind.
func NewTokenError(kind TokenErrorKind, message string) *errors.Error {
	return errors.New(message, errors.CategoryAuth).
		WithTextCode(string(kind)).
		WithCode(errors.CodeUnauthorized)
}

// TokenErrorKindOf returns the token error kind wrapped in err, if any.
func TokenErrorKindOf(err error) (TokenErrorKind, bool) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return "", false
	}
	kind, ok := tokenErrorKinds[richErr.TextCode]
	return kind, ok
}

// IsTokenError reports whether err is a token error of the given kind.
func IsTokenError(err error, kind TokenErrorKind) bool {
	got, ok := TokenErrorKindOf(err)
	return ok && got == kind
}

// NewAuthenticationFailed is the 401 class failure.
func NewAuthenticationFailed(detail, code string) *errors.Error {
	if code == "" {
		code = TextCodeAuthenticationFailed
	}
	return errors.New(detail, errors.CategoryAuth).
		WithTextCode(code).
		WithCode(errors.CodeUnauthorized)
}

// NewAccessForbidden is the 403 class failure.
func NewAccessForbidden(detail, code string) *errors.Error {
	if code == "" {
		code = TextCodeAccessForbidden
	}
	return errors.New(detail, errors.CategoryAuthz).
		WithTextCode(code).
		WithCode(errors.CodeForbidden)
}

// NewBadRequest is the 400 class failure.
func NewBadRequest(detail, code string) *errors.Error {
	if code == "" {
		code = TextCodeBadRequest
	}
	return errors.New(detail, errors.CategoryBadInput).
		WithTextCode(code).
		WithCode(errors.CodeBadRequest)
}

// NewValidationError reports field level failures. The fields end up
// as the envelope detail.
func NewValidationError(fields map[string]string) *errors.Error {
	detail := make(map[string]any, len(fields))
	for k, v := range fields {
		detail[k] = v
	}
	return errors.New("validation failed", errors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(errors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": detail})
}

// NewNoValue is a soft failure: the caller gets success=false with a
// message but not an auth error status.
func NewNoValue(detail string) *errors.Error {
	return errors.New(detail, errors.CategoryBadInput).
		WithTextCode(TextCodeNoValue).
		WithCode(http.StatusOK)
}

// translateTokenError converts token failures into the 401 shape used at
// the strategy boundary. Other errors pass through.
func translateTokenError(err error) error {
	kind, ok := TokenErrorKindOf(err)
	if !ok {
		return err
	}

	var richErr *errors.Error
	errors.As(err, &richErr)

	out := errors.Wrap(err, errors.CategoryAuth, richErr.Message).
		WithTextCode(TextCodeTokenNotValid).
		WithCode(errors.CodeUnauthorized)

	meta := map[string]any{"kind": string(kind)}
	if msgs, ok := richErr.Metadata["messages"]; ok {
		meta["messages"] = msgs
	}
	return out.WithMetadata(meta)
}

// textCodeOf returns the text code of err or a generic one
func textCodeOf(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode != "" {
		return richErr.TextCode
	}
	return "error"
}
