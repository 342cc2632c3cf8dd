package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

const (
	apiKeyPrefix    = "mk_"
	apiKeyPrefixLen = 10
	apiKeyBytes     = 24
)

// UpdateProfileRequest carries the editable profile fields. Nil pointers
// leave the current value alone.
type UpdateProfileRequest struct {
	FullName            *string `json:"fullName"`
	PreferredRegion     *string `json:"preferredRegion"`
	NotificationBilling *bool   `json:"notificationBilling"`
	NotificationProduct *bool   `json:"notificationProduct"`
}

// OnboardingRequest captures the first-login questionnaire.
type OnboardingRequest struct {
	UserType string `json:"userType"`
	UseCase  string `json:"useCase"`
	Region   string `json:"region"`
}

// CreatedAPIKey is returned exactly once, with the raw secret.
type CreatedAPIKey struct {
	Key    *model.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

// SettingsService manages profile, onboarding, and API keys.
type SettingsService struct {
	users   repository.UserRepository
	apiKeys repository.APIKeyRepository
	logger  *slog.Logger
}

func NewSettingsService(users repository.UserRepository, apiKeys repository.APIKeyRepository, logger *slog.Logger) *SettingsService {
	return &SettingsService{users: users, apiKeys: apiKeys, logger: logger}
}

// UpdateProfile applies the supplied fields and returns the updated user.
func (s *SettingsService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, apperror.ValidationFailed("fullName", "Your name cannot be empty.")
		}
		user.FullName = name
	}
	if req.PreferredRegion != nil {
		user.PreferredRegion = strings.TrimSpace(*req.PreferredRegion)
	}
	if req.NotificationBilling != nil {
		user.NotificationBilling = *req.NotificationBilling
	}
	if req.NotificationProduct != nil {
		user.NotificationProduct = *req.NotificationProduct
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CompleteOnboarding stores the questionnaire answers. Answering twice is a
// conflict; the dashboard only asks once.
func (s *SettingsService) CompleteOnboarding(ctx context.Context, userID string, req OnboardingRequest) (*model.User, error) {
	if strings.TrimSpace(req.UserType) == "" {
		return nil, apperror.ValidationFailed("userType", "Please tell us what kind of user you are.")
	}
	if strings.TrimSpace(req.UseCase) == "" {
		return nil, apperror.ValidationFailed("useCase", "Please tell us what you plan to run.")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.OnboardingCompleted {
		return nil, apperror.Conflict("Onboarding has already been completed.")
	}

	user.OnboardingCompleted = true
	user.OnboardingUserType = strings.TrimSpace(req.UserType)
	user.OnboardingUseCase = strings.TrimSpace(req.UseCase)
	user.OnboardingRegion = strings.TrimSpace(req.Region)
	if user.PreferredRegion == "" {
		user.PreferredRegion = user.OnboardingRegion
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("onboarding completed", slog.String("user_id", userID))
	return user, nil
}

// CreateAPIKey mints a credential. The raw secret is shown once; only its
// SHA-256 hash and a display prefix are stored.
func (s *SettingsService) CreateAPIKey(ctx context.Context, userID, name string, expiresAt *time.Time) (*CreatedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "Key name is required.")
	}
	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, apperror.ValidationFailed("expiresAt", "Expiry must be in the future.")
	}

	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating api key: %w", err)
	}
	secret := apiKeyPrefix + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(secret))

	key := &model.APIKey{
		UserID:    userID,
		Name:      name,
		KeyPrefix: secret[:apiKeyPrefixLen],
		KeyHash:   hex.EncodeToString(sum[:]),
		ExpiresAt: expiresAt,
	}
	if err := s.apiKeys.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("api key created",
		slog.String("user_id", userID), slog.String("prefix", key.KeyPrefix))
	return &CreatedAPIKey{Key: key, Secret: secret}, nil
}

func (s *SettingsService) ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error) {
	return s.apiKeys.ListAPIKeys(ctx, userID)
}

func (s *SettingsService) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return s.apiKeys.DeleteAPIKey(ctx, userID, id)
}
