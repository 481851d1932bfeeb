package auth

import (
	"context"

	"github.com/uptrace/bun"
)

// ValidationResult reports whether a validation token can be used
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message"`
	SetPassword bool   `json:"set_password"`
}

// RequestPasswordReset creates a reset token for the account behind
// req.Email and hands it to the notifier
func (s *Auther) RequestPasswordReset(ctx context.Context, req PasswordResetRequest, origin TokenOrigin) error {
	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}

	user, err := s.repo.Users().FindByEmail(ctx, req.Email)
	if err != nil {
		if IsNotFound(err) {
			return NewBadRequest("Email is not registered with any user", TextCodeUserNotFound)
		}
		return wrapInternal(err, "failed to load user")
	}
	if !user.IsActive {
		return NewBadRequest("Email is not registered with any user", TextCodeUserNotFound)
	}

	token, err := s.tokens.Initialize(ctx, user.ID, TokenResetPass, origin)
	if err != nil {
		return err
	}

	if err := s.notifier.Notify(ctx, user, token); err != nil {
		s.logger.Error("password reset notification failed for user %s: %v", user.ID, err)
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetToken,
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"ip":       origin.IP,
			"location": origin.Location,
		},
	})
	return nil
}

// CheckValidationToken reports whether the token exists, is unused and
// belongs to the given user
func (s *Auther) CheckValidationToken(ctx context.Context, req ValidationCheckRequest) (*ValidationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, validationFailure(err)
	}

	invalid := &ValidationResult{Message: "Invalid validation token"}

	token, err := s.tokens.Find(ctx, req.ValidationToken)
	if err != nil {
		if IsNotFound(err) {
			return invalid, nil
		}
		return nil, wrapInternal(err, "failed to load validation token")
	}

	if req.User == "" {
		return nil, NewValidationError(map[string]string{
			"validation_token": "User ID is required to validate Validation Token",
		})
	}

	userID, err := parseUUID("user", req.User)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Users().FindByID(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return invalid, nil
		}
		return nil, wrapInternal(err, "failed to load user")
	}

	result := &ValidationResult{
		Valid:       s.tokens.IsValid(token),
		SetPassword: user.PasswordHash == "" || token.Type == TokenResetPass,
	}
	if token.UserID != user.ID {
		result.Valid = false
	}
	if !result.Valid {
		result.Message = invalid.Message
	}
	return result, nil
}

// ConfirmPasswordReset sets a new password with a reset or invite token
// and invalidates the token
func (s *Auther) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirmRequest) error {
	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}

	userID, err := parseUUID("user", req.User)
	if err != nil {
		return err
	}

	if req.NewPassword1 != req.NewPassword2 {
		return NewValidationError(map[string]string{
			"new_password2": "Your passwords didn't match.",
		})
	}

	hash, err := s.passwords.HashPassword(req.NewPassword1)
	if err != nil {
		return wrapInternal(err, "failed to hash password")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := s.repo.ValidationTokens().FindByKeyTx(ctx, tx, req.Token)
		if err != nil {
			if IsNotFound(err) {
				return NewBadRequest("Token does not exist.", TextCodeBadRequest)
			}
			return err
		}

		user, err := s.repo.Users().FindByIDTx(ctx, tx, userID)
		if err != nil {
			if IsNotFound(err) {
				return NewBadRequest("User does not exist", TextCodeUserNotFound)
			}
			return err
		}

		if token.UserID != user.ID || !s.tokens.IsValid(token) {
			return NewBadRequest("Invalid validation token", TextCodeBadRequest)
		}

		if user.PasswordHash != "" && token.Type != TokenResetPass {
			return NewValidationError(map[string]string{
				"token": "Password already set. User reset password to change password.",
			})
		}

		if err := s.repo.Users().SetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return err
		}

		if token.Type == TokenInvite {
			policy, err := s.repo.Entities().CurrentPolicyTx(ctx, tx)
			if err != nil {
				return err
			}
			if policy != nil {
				if err := s.repo.Users().AcceptPolicyTx(ctx, tx, user.ID, policy.ID); err != nil {
					return err
				}
			}
		}

		return s.tokens.InvalidateTx(ctx, tx, token)
	})
	if err != nil {
		return wrapInternal(err, "password reset failed")
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		UserID:    userID.String(),
	})
	return nil
}

// IssueOTP creates a one time code for the user and sends it through the
// notifier
func (s *Auther) IssueOTP(ctx context.Context, user *User, origin TokenOrigin) (*ValidationToken, error) {
	token, err := s.tokens.Initialize(ctx, user.ID, TokenOTP, origin)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.Notify(ctx, user, token); err != nil {
		s.logger.Error("otp notification failed for user %s: %v", user.ID, err)
	}
	return token, nil
}

// VerifyOTP consumes an unused, unexpired OTP of the current user
func (s *Auther) VerifyOTP(ctx context.Context, code string) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
	}
	if code == "" {
		return NewAccessForbidden("OTP is required.", TextCodeInvalidOTP)
	}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.tokens.ConsumeTx(ctx, tx, user.ID, TokenOTP, code)
		return err
	})
	if err != nil {
		if IsNotFound(err) {
			return NewAccessForbidden("Invalid OTP.", TextCodeInvalidOTP)
		}
		return wrapInternal(err, "failed to verify otp")
	}
	return nil
}

// ChangePassword sets a new password for the current user after checking
// the old one
func (s *Auther) ChangePassword(ctx context.Context, req PasswordChangeRequest) error {
	user, ok := CurrentUser(ctx)
	if !ok {
		return NewAuthenticationFailed("Authentication credentials were not provided.", TextCodeNotAuthenticated)
	}

	if err := req.Validate(); err != nil {
		return validationFailure(err)
	}

	if user.PasswordHash == "" || s.passwords.ComparePasswordAndHash(req.OldPassword, user.PasswordHash) != nil {
		return NewValidationError(map[string]string{
			"old_password": "Your old password was entered incorrectly. Please enter it again.",
		})
	}

	if req.NewPassword1 != req.NewPassword2 {
		return NewValidationError(map[string]string{
			"new_password2": "Your passwords didn't match.",
		})
	}

	hash, err := s.passwords.HashPassword(req.NewPassword1)
	if err != nil {
		return wrapInternal(err, "failed to hash password")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Users().SetPasswordTx(ctx, tx, user.ID, hash)
	})
	if err != nil {
		return wrapInternal(err, "password change failed")
	}
	user.PasswordHash = hash

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		UserID:    user.ID.String(),
		Device:    CurrentDevice(ctx),
	})
	return nil
}
