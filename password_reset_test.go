package auth_test

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-trace-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.auther.RequestPasswordReset(ctx, auth.PasswordResetRequest{Email: f.user.Email}, auth.TokenOrigin{IP: "10.0.0.1", Location: "Porto"})
	require.NoError(t, err)

	token := f.notifier.last(t)
	assert.Equal(t, auth.TokenResetPass, token.Type)
	assert.Equal(t, f.user.ID, token.UserID)
	assert.Len(t, token.Key, auth.DefaultTokenKeyLength)
	assert.Equal(t, "10.0.0.1", token.IP)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), token.ExpiresAt, 5*time.Second)

	check, err := f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: token.Key, User: f.user.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, &auth.ValidationResult{Valid: true, SetPassword: true}, check)

	err = f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         f.user.ID.String(),
		Token:        token.Key,
		NewPassword1: "brand-new-pass",
		NewPassword2: "brand-new-pass",
	})
	require.NoError(t, err)

	_, err = f.auther.Login(ctx, auth.LoginRequest{Username: f.user.Email, Password: testPassword, DeviceID: "dev-1"})
	assert.Equal(t, auth.TextCodeNoActiveAccount, textCode(t, err))

	result, err := f.auther.Login(ctx, auth.LoginRequest{Username: f.user.Email, Password: "brand-new-pass", DeviceID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, result.IsGranted)

	check, err = f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: token.Key, User: f.user.ID.String()})
	require.NoError(t, err)
	assert.False(t, check.Valid, "tokens are single use")
	assert.Equal(t, "Invalid validation token", check.Message)

	err = f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         f.user.ID.String(),
		Token:        token.Key,
		NewPassword1: "another-pass",
		NewPassword2: "another-pass",
	})
	assert.Equal(t, auth.TextCodeBadRequest, textCode(t, err))
}

func TestPasswordResetRequestFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.auther.RequestPasswordReset(ctx, auth.PasswordResetRequest{Email: "ghost@acme.test"}, auth.TokenOrigin{})
	status, env := auth.RenderError(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, auth.TextCodeUserNotFound, env.Code)

	err = f.auther.RequestPasswordReset(ctx, auth.PasswordResetRequest{Email: "not-an-email"}, auth.TokenOrigin{})
	assert.Equal(t, auth.TextCodeValidation, textCode(t, err))
}

func TestConfirmPasswordResetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.auther.RequestPasswordReset(ctx, auth.PasswordResetRequest{Email: f.user.Email}, auth.TokenOrigin{}))
	token := f.notifier.last(t)

	err := f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         f.user.ID.String(),
		Token:        token.Key,
		NewPassword1: "brand-new-pass",
		NewPassword2: "different-pass",
	})
	_, env := auth.RenderError(err)
	assert.Equal(t, map[string]any{"new_password2": "Your passwords didn't match."}, env.Detail)

	other := f.createUser(t, "other@acme.test")
	err = f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         other.ID.String(),
		Token:        token.Key,
		NewPassword1: "brand-new-pass",
		NewPassword2: "brand-new-pass",
	})
	assert.Equal(t, auth.TextCodeBadRequest, textCode(t, err), "tokens are bound to their user")

	err = f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         f.user.ID.String(),
		Token:        "missing",
		NewPassword1: "brand-new-pass",
		NewPassword2: "brand-new-pass",
	})
	_, env = auth.RenderError(err)
	assert.Equal(t, "Token does not exist.", env.Detail)

	err = f.auther.ConfirmPasswordReset(ctx, auth.PasswordResetConfirmRequest{
		User:         f.user.ID.String(),
		Token:        token.Key,
		NewPassword1: "short",
		NewPassword2: "short",
	})
	assert.Equal(t, auth.TextCodeValidation, textCode(t, err))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	login := f.login(t, "dev-1", false)
	ctx := f.principalContext(t, login.Access)

	tests := []struct {
		name   string
		req    auth.PasswordChangeRequest
		detail map[string]any
	}{
		{
			name:   "wrong old password",
			req:    auth.PasswordChangeRequest{OldPassword: "nope", NewPassword1: "brand-new-pass", NewPassword2: "brand-new-pass"},
			detail: map[string]any{"old_password": "Your old password was entered incorrectly. Please enter it again."},
		},
		{
			name:   "mismatched new passwords",
			req:    auth.PasswordChangeRequest{OldPassword: testPassword, NewPassword1: "brand-new-pass", NewPassword2: "other-new-pass"},
			detail: map[string]any{"new_password2": "Your passwords didn't match."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, env := auth.RenderError(f.auther.ChangePassword(ctx, tt.req))
			assert.Equal(t, auth.TextCodeValidation, env.Code)
			assert.Equal(t, tt.detail, env.Detail)
		})
	}

	err := f.auther.ChangePassword(ctx, auth.PasswordChangeRequest{OldPassword: testPassword, NewPassword1: "short", NewPassword2: "short"})
	assert.Equal(t, auth.TextCodeValidation, textCode(t, err))

	err = f.auther.ChangePassword(context.Background(), auth.PasswordChangeRequest{})
	assert.Equal(t, auth.TextCodeNotAuthenticated, textCode(t, err))

	require.NoError(t, f.auther.ChangePassword(ctx, auth.PasswordChangeRequest{
		OldPassword:  testPassword,
		NewPassword1: "brand-new-pass",
		NewPassword2: "brand-new-pass",
	}))

	stored, err := f.repo.Users().FindByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("brand-new-pass", stored.PasswordHash))
	assert.ErrorIs(t, auth.ComparePasswordAndHash(testPassword, stored.PasswordHash), auth.ErrMismatchedHashAndPassword)
}

func TestCheckValidationToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: "missing", User: f.user.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.Valid)

	require.NoError(t, f.auther.RequestPasswordReset(ctx, auth.PasswordResetRequest{Email: f.user.Email}, auth.TokenOrigin{}))
	token := f.notifier.last(t)

	_, err = f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: token.Key})
	_, env := auth.RenderError(err)
	assert.Equal(t, map[string]any{"validation_token": "User ID is required to validate Validation Token"}, env.Detail)

	result, err = f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: token.Key, User: uuid.NewString()})
	require.NoError(t, err)
	assert.False(t, result.Valid)

	other := f.createUser(t, "other@acme.test")
	result, err = f.auther.CheckValidationToken(ctx, auth.ValidationCheckRequest{ValidationToken: token.Key, User: other.ID.String()})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestOTPIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	f := newFixture(t)
	f.auther.WithValidationTokens(auth.NewValidationTokenService(f.repo,
		auth.WithValidationClock(func() time.Time { return clock }),
	))

	login := f.login(t, "dev-1", false)
	ctx := f.principalContext(t, login.Access)

	token, err := f.auther.IssueOTP(ctx, f.user, auth.TokenOrigin{Device: "dev-1"})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), token.Key)
	assert.Equal(t, token.Key, f.notifier.last(t).Key)

	err = f.auther.VerifyOTP(ctx, "not-the-code")
	status, env := auth.RenderError(err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeInvalidOTP, env.Code)

	require.NoError(t, f.auther.VerifyOTP(ctx, token.Key))
	assert.Equal(t, auth.TextCodeInvalidOTP, textCode(t, f.auther.VerifyOTP(ctx, token.Key)), "codes are single use")

	expiring, err := f.auther.IssueOTP(ctx, f.user, auth.TokenOrigin{})
	require.NoError(t, err)
	clock = now.Add(31 * time.Minute)
	assert.Equal(t, auth.TextCodeInvalidOTP, textCode(t, f.auther.VerifyOTP(ctx, expiring.Key)))

	assert.Equal(t, auth.TextCodeInvalidOTP, textCode(t, f.auther.VerifyOTP(ctx, "")))
	assert.Equal(t, auth.TextCodeNotAuthenticated, textCode(t, f.auther.VerifyOTP(context.Background(), "123456")))
}

func TestValidationKeyExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	tokens := auth.NewValidationTokenService(f.repo,
		auth.WithKeyAttempts(3),
		auth.WithKeyGenerator(func(auth.ValidationTokenType) (string, error) {
			calls++
			return "fixed-key", nil
		}),
	)

	_, err := tokens.Initialize(ctx, f.user.ID, auth.TokenVerifyEmail, auth.TokenOrigin{})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = tokens.Initialize(ctx, f.user.ID, auth.TokenVerifyEmail, auth.TokenOrigin{})
	require.Error(t, err)
	assert.Equal(t, 4, calls)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, "KEY_EXHAUSTED", richErr.TextCode)
	assert.Equal(t, errors.CategoryInternal, richErr.Category)
	assert.Equal(t, 3, richErr.Metadata["attempts"])

	_, err = tokens.Initialize(ctx, f.user.ID, auth.TokenChangeEmail, auth.TokenOrigin{})
	assert.NoError(t, err, "keys are unique per token type")

	_, err = tokens.Initialize(ctx, f.user.ID, auth.ValidationTokenType(1), auth.TokenOrigin{})
	assert.Equal(t, auth.TextCodeBadRequest, textCode(t, err))
}
