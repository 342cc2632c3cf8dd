package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

// DashboardSummary is the landing-page aggregate: live counts, balance,
// month-to-date totals, and seven-day spend and usage series.
type DashboardSummary struct {
	Balance           decimal.Decimal        `json:"balance"`
	ActiveInstances   int                    `json:"activeInstances"`
	TotalInstances    int                    `json:"totalInstances"`
	SpendLast7Days    decimal.Decimal        `json:"spendLast7Days"`
	SpendThisMonth    decimal.Decimal        `json:"spendThisMonth"`
	GPUHoursThisMonth decimal.Decimal        `json:"gpuHoursThisMonth"`
	ReferralEarnings  decimal.Decimal        `json:"referralEarnings"`
	DailySpend        []DailySpend           `json:"dailySpend"`
	DailyUsage        []DailyUsage           `json:"dailyUsage"`
	RecentActivity    []*model.BillingRecord `json:"recentActivity"`
}

// DailySpend is one bar of the spend chart.
type DailySpend struct {
	Date  string          `json:"date"`
	Spend decimal.Decimal `json:"spend"`
}

// DailyUsage is one bar of the GPU-hours chart.
type DailyUsage struct {
	Date     string          `json:"date"`
	GPUHours decimal.Decimal `json:"gpuHours"`
}

// DashboardService aggregates data the dashboard landing page needs.
type DashboardService struct {
	instances repository.InstanceRepository
	billing   repository.BillingRepository
	users     repository.UserRepository
	usage     repository.UsageRepository
	logger    *slog.Logger

	now func() time.Time
}

func NewDashboardService(
	instances repository.InstanceRepository,
	billing repository.BillingRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	logger *slog.Logger,
) *DashboardService {
	return &DashboardService{
		instances: instances,
		billing:   billing,
		users:     users,
		usage:     usage,
		logger:    logger,
		now:       time.Now,
	}
}

// Summary builds the dashboard aggregate. The daily series bucket DEBIT
// ledger entries and gpu_hours usage records into UTC days over the
// trailing week; monthly totals run from the first of the current month.
func (s *DashboardService) Summary(ctx context.Context, userID string) (*DashboardSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	instances, err := s.instances.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, inst := range instances {
		switch inst.Status {
		case model.StatusRunning, model.StatusProvisioning, model.StatusRestarting:
			active++
		}
	}

	now := s.now().UTC()
	weekStart := now.AddDate(0, 0, -6).Truncate(24 * time.Hour)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	monthSpend, err := s.billing.SumBillingByTypeSince(ctx, userID, model.BillingDebit, monthStart)
	if err != nil {
		return nil, err
	}
	referralEarnings, err := s.billing.SumBillingByTypeSince(ctx, userID, model.BillingReferralReward, time.Time{})
	if err != nil {
		return nil, err
	}

	records, err := s.billing.ListBillingRecords(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	spendBuckets := make(map[string]decimal.Decimal, 7)
	weekSpend := decimal.Zero
	for _, r := range records {
		if r.Type != model.BillingDebit || r.CreatedAt.Before(weekStart) {
			continue
		}
		day := r.CreatedAt.UTC().Format("2006-01-02")
		spend := r.Amount.Neg() // debits are stored negative
		spendBuckets[day] = spendBuckets[day].Add(spend)
		weekSpend = weekSpend.Add(spend)
	}

	usageSince := monthStart
	if weekStart.Before(monthStart) {
		usageSince = weekStart
	}
	usageRecords, err := s.usage.ListUsageSince(ctx, userID, usageSince)
	if err != nil {
		return nil, err
	}
	usageBuckets := make(map[string]decimal.Decimal, 7)
	monthGPUHours := decimal.Zero
	for _, u := range usageRecords {
		if u.MetricType != "gpu_hours" {
			continue
		}
		if !u.RecordedAt.Before(monthStart) {
			monthGPUHours = monthGPUHours.Add(u.Quantity)
		}
		if !u.RecordedAt.Before(weekStart) {
			day := u.RecordedAt.UTC().Format("2006-01-02")
			usageBuckets[day] = usageBuckets[day].Add(u.Quantity)
		}
	}

	spendSeries := make([]DailySpend, 0, 7)
	usageSeries := make([]DailyUsage, 0, 7)
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		spendSeries = append(spendSeries, DailySpend{Date: day, Spend: spendBuckets[day]})
		usageSeries = append(usageSeries, DailyUsage{Date: day, GPUHours: usageBuckets[day]})
	}

	recent := records
	if len(recent) > 10 {
		recent = recent[:10]
	}

	return &DashboardSummary{
		Balance:           user.CreditBalance,
		ActiveInstances:   active,
		TotalInstances:    len(instances),
		SpendLast7Days:    weekSpend,
		SpendThisMonth:    monthSpend.Neg(), // debits are stored negative
		GPUHoursThisMonth: monthGPUHours,
		ReferralEarnings:  referralEarnings,
		DailySpend:        spendSeries,
		DailyUsage:        usageSeries,
		RecentActivity:    recent,
	}, nil
}
