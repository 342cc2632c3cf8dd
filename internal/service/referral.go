package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// ReferralSummary backs the referrals dashboard.
type ReferralSummary struct {
	ReferralCode string           `json:"referralCode"`
	TotalEarned  decimal.Decimal  `json:"totalEarned"`
	PendingCount int              `json:"pendingCount"`
	RewardPerRef decimal.Decimal  `json:"rewardPerReferral"`
	Referrals    []*model.Referral `json:"referrals"`
}

// ReferralService manages referral tracking and the one-shot reward.
type ReferralService struct {
	referrals repository.ReferralRepository
	users     repository.UserRepository
	reward    decimal.Decimal
	logger    *slog.Logger

	now func() time.Time
}

func NewReferralService(
	referrals repository.ReferralRepository,
	users repository.UserRepository,
	reward decimal.Decimal,
	logger *slog.Logger,
) *ReferralService {
	return &ReferralService{
		referrals: referrals,
		users:     users,
		reward:    reward,
		logger:    logger,
		now:       time.Now,
	}
}

// Summary returns the user's referral code plus everyone who signed up with
// it and what each signup has earned.
func (s *ReferralService) Summary(ctx context.Context, userID string) (*ReferralSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	referrals, err := s.referrals.ListReferrals(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &ReferralSummary{
		ReferralCode: user.ReferralCode,
		TotalEarned:  decimal.Zero,
		RewardPerRef: s.reward,
		Referrals:    referrals,
	}
	for _, r := range referrals {
		switch r.Status {
		case model.ReferralRewarded:
			summary.TotalEarned = summary.TotalEarned.Add(r.RewardAmount)
		case model.ReferralPending:
			summary.PendingCount++
		}
	}
	return summary, nil
}

// RewardForFirstDeployment fires the referrer's reward when the given user
// deploys for the first time. Users without a pending referral are a no-op;
// the repository's status guard makes concurrent calls settle on exactly one
// reward.
func (s *ReferralService) RewardForFirstDeployment(ctx context.Context, referredID string) error {
	referral, err := s.referrals.GetPendingReferralByReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.referrals.RewardReferral(ctx, referral.ID, s.reward, s.now().UTC()); err != nil {
		return err
	}

	s.logger.Info("referral reward granted",
		slog.String("referral_id", referral.ID),
		slog.String("referrer_id", referral.ReferrerID),
		slog.String("referred_id", referredID),
		slog.String("amount", s.reward.String()))
	return nil
}
