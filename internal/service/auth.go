package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/auth"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

const (
	emailVerifyTTL   = 24 * time.Hour
	passwordResetTTL = 1 * time.Hour
)

// SignupRequest is the validated input for account creation.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	ReferralCode string `json:"referralCode"`
}

// AuthService owns signup, login, Google sign-in, and credential recovery.
type AuthService struct {
	users         repository.UserRepository
	passwords     *auth.PasswordService
	tokens        *auth.TokenService
	sessionTTL    time.Duration
	starterCredit decimal.Decimal
	referralReward decimal.Decimal
	logger        *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	sessionTTL time.Duration,
	starterCredit, referralReward decimal.Decimal,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:          users,
		passwords:      passwords,
		tokens:         tokens,
		sessionTTL:     sessionTTL,
		starterCredit:  starterCredit,
		referralReward: referralReward,
		logger:         logger,
	}
}

// newReferralCode derives a share code from a fresh xid. The users table
// enforces uniqueness.
func newReferralCode() string {
	id := xid.New().String()
	return "MINT-" + strings.ToUpper(id[len(id)-8:])
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperror.ValidationFailed("email", "Please enter a valid email address.")
	}
	return email, nil
}

// Signup creates an email/password account with the welcome credit. When a
// referral code is supplied it must belong to an existing user; the referral
// stays PENDING until the new account's first deployment. The returned token
// verifies the email address; no session exists until the user verifies and
// logs in.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*model.User, string, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, "", err
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		return nil, "", err
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, "", apperror.ValidationFailed("fullName", "Your name is required.")
	}

	var referral *model.Referral
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := s.users.GetUserByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, "", apperror.ValidationFailed("referralCode", "This referral code is not valid.")
			}
			return nil, "", err
		}
		referral = &model.Referral{
			ReferrerID:   referrer.ID,
			Code:         code,
			RewardAmount: s.referralReward,
		}
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{
		Email:               email,
		FullName:            fullName,
		PasswordHash:        hash,
		AuthProvider:        model.AuthProviderEmail,
		CreditBalance:       s.starterCredit,
		ReferralCode:        newReferralCode(),
		NotificationBilling: true,
		NotificationProduct: true,
	}
	welcome := &model.BillingRecord{
		Type:         model.BillingCredit,
		Description:  "Welcome credit",
		Amount:       s.starterCredit,
		Currency:     "USD",
		BalanceAfter: s.starterCredit,
	}
	if referral != nil && referral.RewardAmount.IsZero() {
		referral.RewardAmount = s.referralReward
	}
	if err := s.users.CreateUser(ctx, user, welcome, referral); err != nil {
		return nil, "", err
	}

	s.logger.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.Bool("referred", referral != nil))

	verifyToken, err := s.tokens.Generate(user.ID, auth.PurposeEmailVerify, emailVerifyTTL)
	if err != nil {
		return nil, "", err
	}
	return user, verifyToken, nil
}

// Login verifies credentials and issues a session token. The same message is
// used for an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, "", err
	}

	invalid := apperror.Unauthorized("Invalid email or password.")

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, "", invalid
		}
		return nil, "", err
	}
	if user.PasswordHash == "" {
		// Google-only account.
		return nil, "", invalid
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, "", invalid
	}
	if user.EmailVerifiedAt == nil {
		return nil, "", apperror.Forbidden("Please verify your email before logging in.")
	}

	token, err := s.tokens.Generate(user.ID, auth.PurposeSession, s.sessionTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// LoginWithGoogle signs in a verified Google profile: an account already
// linked by Google id logs straight in, a matching email gets linked, and a
// new email gets a fresh account with the welcome credit. Google emails
// arrive verified so the account skips email verification.
func (s *AuthService) LoginWithGoogle(ctx context.Context, gUser *auth.GoogleUser) (*model.User, string, error) {
	user, err := s.users.GetUserByGoogleID(ctx, gUser.Sub)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, "", err
	}

	if user == nil {
		email, err := normalizeEmail(gUser.Email)
		if err != nil {
			return nil, "", err
		}

		existing, err := s.users.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			existing.GoogleID = gUser.Sub
			if err := s.users.UpdateUser(ctx, existing); err != nil {
				return nil, "", err
			}
			user = existing
		case errors.Is(err, apperror.ErrNotFound):
			now := time.Now().UTC()
			user = &model.User{
				Email:               email,
				FullName:            gUser.Name,
				AuthProvider:        model.AuthProviderGoogle,
				GoogleID:            gUser.Sub,
				CreditBalance:       s.starterCredit,
				ReferralCode:        newReferralCode(),
				EmailVerifiedAt:     &now,
				NotificationBilling: true,
				NotificationProduct: true,
			}
			welcome := &model.BillingRecord{
				Type:         model.BillingCredit,
				Description:  "Welcome credit",
				Amount:       s.starterCredit,
				Currency:     "USD",
				BalanceAfter: s.starterCredit,
			}
			if err := s.users.CreateUser(ctx, user, welcome, nil); err != nil {
				return nil, "", err
			}
			s.logger.Info("user signed up via google", slog.String("user_id", user.ID))
		default:
			return nil, "", err
		}
	}

	token, err := s.tokens.Generate(user.ID, auth.PurposeSession, s.sessionTTL)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Me returns the authenticated user's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// EmailVerificationToken issues a fresh verification token for the account
// with this email. Unknown and already-verified accounts yield an empty
// token so the endpoint cannot be used to probe which addresses exist.
func (s *AuthService) EmailVerificationToken(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if user.EmailVerifiedAt != nil {
		return "", nil
	}
	return s.tokens.Generate(user.ID, auth.PurposeEmailVerify, emailVerifyTTL)
}

// VerifyEmail consumes a verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.tokens.Validate(token, auth.PurposeEmailVerify)
	if err != nil {
		return apperror.Unauthorized("This verification link is invalid or has expired.")
	}
	return s.users.MarkEmailVerified(ctx, userID, time.Now().UTC())
}

// PasswordResetToken issues a reset token for the account with this email.
// Unknown emails succeed with an empty token so the endpoint cannot be used
// to probe which addresses have accounts.
func (s *AuthService) PasswordResetToken(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return s.tokens.Generate(user.ID, auth.PurposePasswordReset, passwordResetTTL)
}

// ResetPassword consumes a reset token and sets the new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.tokens.Validate(token, auth.PurposePasswordReset)
	if err != nil {
		return apperror.Unauthorized("This reset link is invalid or has expired.")
	}
	if err := auth.ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdateUserPassword(ctx, userID, hash)
}

// ChangePassword rotates the password for a logged-in user after verifying
// the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return apperror.Conflict("This account signs in with Google and has no password.")
	}
	if err := s.passwords.Verify(user.PasswordHash, current); err != nil {
		return apperror.Unauthorized("Your current password is incorrect.")
	}
	if err := auth.ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdateUserPassword(ctx, userID, hash)
}
