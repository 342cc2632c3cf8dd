// Package service contains the business logic layer: it validates input,
// enforces the lifecycle and billing rules, and orchestrates repositories.
// Handlers above it only know HTTP; repositories below it only know SQL.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/repository"
)

const (
	// MaxInstanceNameLength bounds user-supplied instance names.
	MaxInstanceNameLength = 64

	provisioningDuration = 2 * time.Minute
	restartDuration      = 1 * time.Minute

	failureReason     = "Node image checksum mismatch during provisioning."
	failureLogMessage = "Provisioning failed due to image checksum mismatch."
)

// FailurePolicy decides whether a provisioning instance fails once its eta
// passes. The default derives the outcome from the instance id so repeated
// reads of the same instance always agree.
type FailurePolicy func(instanceID string) bool

// DefaultFailurePolicy fails roughly one in eleven provisionings.
func DefaultFailurePolicy(instanceID string) bool {
	if instanceID == "" {
		return false
	}
	return instanceID[len(instanceID)-1]%11 == 0
}

// DeployRequest is the validated input for a deployment.
type DeployRequest struct {
	MarketplaceItemID string  `json:"marketplaceItemId"`
	Name              string  `json:"name"`
	Image             string  `json:"image"`
	SSHKeyID          *string `json:"sshKeyId"`
}

// InstanceService owns the instance lifecycle state machine.
type InstanceService struct {
	instances   repository.InstanceRepository
	marketplace repository.MarketplaceRepository
	sshKeys     repository.SSHKeyRepository
	usage       repository.UsageRepository
	referrals   *ReferralService
	logger      *slog.Logger

	now        func() time.Time
	shouldFail FailurePolicy
}

func NewInstanceService(
	instances repository.InstanceRepository,
	marketplace repository.MarketplaceRepository,
	sshKeys repository.SSHKeyRepository,
	usage repository.UsageRepository,
	referrals *ReferralService,
	logger *slog.Logger,
) *InstanceService {
	return &InstanceService{
		instances:   instances,
		marketplace: marketplace,
		sshKeys:     sshKeys,
		usage:       usage,
		referrals:   referrals,
		logger:      logger,
		now:         time.Now,
		shouldFail:  DefaultFailurePolicy,
	}
}

// WithClock overrides the time source. Tests use it to move instances past
// their provisioning eta.
func (s *InstanceService) WithClock(now func() time.Time) *InstanceService {
	s.now = now
	return s
}

// WithFailurePolicy overrides the provisioning failure decision.
func (s *InstanceService) WithFailurePolicy(policy FailurePolicy) *InstanceService {
	s.shouldFail = policy
	return s
}

// Deploy creates a PROVISIONING instance, charging the first hour up front.
// When this is the user's first deployment and they signed up with a
// referral code, the referrer's reward fires after the deployment commits.
func (s *InstanceService) Deploy(ctx context.Context, userID string, req DeployRequest) (*model.Instance, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, apperror.ValidationFailed("name", "Instance name is required.")
	}
	if len(req.Name) > MaxInstanceNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("Instance name must be at most %d characters.", MaxInstanceNameLength))
	}
	if req.MarketplaceItemID == "" {
		return nil, apperror.ValidationFailed("marketplaceItemId", "A marketplace item is required.")
	}

	item, err := s.marketplace.GetItemByID(ctx, req.MarketplaceItemID)
	if err != nil {
		return nil, err
	}

	if req.SSHKeyID != nil {
		if _, err := s.sshKeys.GetSSHKey(ctx, userID, *req.SSHKeyID); err != nil {
			return nil, err
		}
	}

	image := strings.TrimSpace(req.Image)
	if image == "" {
		image = "ubuntu-22.04-cuda12"
	}

	// Counted before the deploy commits so the first successful deployment
	// is the one that triggers the referral reward.
	countBefore, err := s.instances.CountInstances(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	eta := now.Add(provisioningDuration)
	inst := &model.Instance{
		UserID:                userID,
		MarketplaceItemID:     item.ID,
		SSHKeyID:              req.SSHKeyID,
		Name:                  req.Name,
		Region:                item.Region,
		Image:                 image,
		Status:                model.StatusProvisioning,
		CostPerHour:           item.PricePerHour,
		ProvisioningStartedAt: now,
		ProvisioningEta:       &eta,
		LastStatusChangeAt:    now,
	}

	params := repository.DeployParams{
		Instance:    inst,
		CostPerHour: item.PricePerHour,
		LogMessage:  "Provisioning started.",
	}
	if err := s.instances.DeployInstance(ctx, params); err != nil {
		return nil, err
	}

	s.logger.Info("instance deployed",
		slog.String("instance_id", inst.ID),
		slog.String("user_id", userID),
		slog.String("item", item.Slug),
		slog.String("cost_per_hour", item.PricePerHour.String()))

	if s.usage != nil {
		// The deploy prepays one GPU hour; meter it. A failed write only
		// costs a chart datapoint, never the deployment.
		record := &model.UsageRecord{
			UserID:            userID,
			InstanceID:        &inst.ID,
			MarketplaceItemID: &item.ID,
			MetricType:        "gpu_hours",
			Quantity:          decimal.NewFromInt(1),
			Region:            item.Region,
			RecordedAt:        now,
		}
		if err := s.usage.RecordUsage(ctx, record); err != nil {
			s.logger.Warn("usage record failed",
				slog.String("instance_id", inst.ID), slog.Any("error", err))
		}
	}

	if countBefore == 0 && s.referrals != nil {
		// Reward failures must not fail the deployment the user paid for.
		if err := s.referrals.RewardForFirstDeployment(ctx, userID); err != nil {
			s.logger.Error("referral reward failed",
				slog.String("user_id", userID), slog.Any("error", err))
		}
	}

	inst.MarketplaceItem = item.Summary()
	return inst, nil
}

// Get returns one instance, reconciling pending transitions first.
func (s *InstanceService) Get(ctx context.Context, userID, id string) (*model.Instance, error) {
	inst, err := s.instances.GetInstance(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// List returns the user's instances, newest first, reconciling pending
// transitions as a side effect of the read.
func (s *InstanceService) List(ctx context.Context, userID string) ([]*model.Instance, error) {
	instances, err := s.instances.ListInstances(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if err := s.reconcile(ctx, inst); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

// reconcile resolves PROVISIONING and RESTARTING instances whose eta has
// passed. There is no background worker; the transition happens lazily on
// the next read, which makes the simulation consistent no matter how long
// the instance sat unobserved.
func (s *InstanceService) reconcile(ctx context.Context, inst *model.Instance) error {
	if inst.Status != model.StatusProvisioning && inst.Status != model.StatusRestarting {
		return nil
	}
	if inst.ProvisioningEta == nil {
		return nil
	}
	now := s.now().UTC()
	if now.Before(*inst.ProvisioningEta) {
		return nil
	}

	fromProvisioning := inst.Status == model.StatusProvisioning

	if fromProvisioning && s.shouldFail(inst.ID) {
		reason := failureReason
		inst.Status = model.StatusFailed
		inst.FailureReason = &reason
		inst.LastStatusChangeAt = now
		if err := s.instances.UpdateInstanceStatus(ctx, inst); err != nil {
			return err
		}
		s.logger.Warn("instance provisioning failed",
			slog.String("instance_id", inst.ID), slog.String("reason", reason))
		return s.instances.AppendInstanceLog(ctx, &model.InstanceLog{
			InstanceID: inst.ID,
			Level:      model.LogError,
			Message:    failureLogMessage,
		})
	}

	inst.Status = model.StatusRunning
	inst.FailureReason = nil
	inst.ProvisioningCompletedAt = &now
	if inst.LaunchedAt == nil {
		inst.LaunchedAt = &now
	}
	inst.LastStatusChangeAt = now
	if err := s.instances.UpdateInstanceStatus(ctx, inst); err != nil {
		return err
	}

	message := "Instance restart complete."
	if fromProvisioning {
		message = "Provisioning completed successfully."
	}
	return s.instances.AppendInstanceLog(ctx, &model.InstanceLog{
		InstanceID: inst.ID,
		Level:      model.LogInfo,
		Message:    message,
	})
}

// Start moves a STOPPED instance back to RUNNING.
func (s *InstanceService) Start(ctx context.Context, userID, id string) (*model.Instance, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.StatusStopped {
		return nil, apperror.Conflict("Only stopped instances can be started.")
	}

	now := s.now().UTC()
	inst.Status = model.StatusRunning
	inst.LastStatusChangeAt = now
	if err := s.instances.UpdateInstanceStatus(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.instances.AppendInstanceLog(ctx, &model.InstanceLog{
		InstanceID: inst.ID,
		Level:      model.LogInfo,
		Message:    "Instance started.",
	}); err != nil {
		return nil, err
	}
	return inst, nil
}

// Stop moves a RUNNING instance to STOPPED. Billing is per deployment hour,
// so stopping does not refund anything.
func (s *InstanceService) Stop(ctx context.Context, userID, id string) (*model.Instance, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.StatusRunning {
		return nil, apperror.Conflict("Only running instances can be stopped.")
	}

	now := s.now().UTC()
	inst.Status = model.StatusStopped
	inst.LastStatusChangeAt = now
	if err := s.instances.UpdateInstanceStatus(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.instances.AppendInstanceLog(ctx, &model.InstanceLog{
		InstanceID: inst.ID,
		Level:      model.LogInfo,
		Message:    "Instance stopped.",
	}); err != nil {
		return nil, err
	}
	return inst, nil
}

// Restart puts a RUNNING or STOPPED instance into RESTARTING with a fresh
// eta. Restarts never fail; the next read past the eta lands on RUNNING.
func (s *InstanceService) Restart(ctx context.Context, userID, id string) (*model.Instance, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != model.StatusRunning && inst.Status != model.StatusStopped {
		return nil, apperror.Conflict("Only running or stopped instances can be restarted.")
	}

	now := s.now().UTC()
	eta := now.Add(restartDuration)
	inst.Status = model.StatusRestarting
	inst.ProvisioningEta = &eta
	inst.LastStatusChangeAt = now
	if err := s.instances.UpdateInstanceStatus(ctx, inst); err != nil {
		return nil, err
	}
	if err := s.instances.AppendInstanceLog(ctx, &model.InstanceLog{
		InstanceID: inst.ID,
		Level:      model.LogInfo,
		Message:    "Instance restart initiated.",
	}); err != nil {
		return nil, err
	}
	return inst, nil
}

// Terminate retires the instance from any live state and returns its slot to
// the capacity pool. Terminated instances stay visible in listings.
func (s *InstanceService) Terminate(ctx context.Context, userID, id string) (*model.Instance, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == model.StatusTerminated {
		return nil, apperror.Conflict("This instance is already terminated.")
	}

	now := s.now().UTC()
	inst.Status = model.StatusTerminated
	inst.TerminatedAt = &now
	inst.LastStatusChangeAt = now
	if err := s.instances.TerminateInstance(ctx, inst, "Instance terminated by user."); err != nil {
		return nil, err
	}

	s.logger.Info("instance terminated",
		slog.String("instance_id", inst.ID), slog.String("user_id", userID))
	return inst, nil
}

// Logs returns the operational log, reconciling first so eta transitions
// appear in it.
func (s *InstanceService) Logs(ctx context.Context, userID, id string) ([]*model.InstanceLog, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.instances.ListInstanceLogs(ctx, userID, id)
}

// InstanceMetrics is the trailing-24h usage view for one instance.
type InstanceMetrics struct {
	InstanceID    string               `json:"instanceId"`
	Records       []*model.UsageRecord `json:"records"`
	TotalGPUHours decimal.Decimal      `json:"totalGpuHours"`
	UptimeSeconds int64                `json:"uptimeSeconds"`
}

// Metrics returns the last 24 hours of usage records for the instance.
// Stopped and terminated instances keep their history; uptime only ticks
// while the instance is running.
func (s *InstanceService) Metrics(ctx context.Context, userID, id string) (*InstanceMetrics, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	since := s.now().UTC().Add(-24 * time.Hour)
	all, err := s.usage.ListUsageSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	records := make([]*model.UsageRecord, 0, len(all))
	total := decimal.Zero
	for _, r := range all {
		if r.InstanceID == nil || *r.InstanceID != inst.ID {
			continue
		}
		records = append(records, r)
		if r.MetricType == "gpu_hours" {
			total = total.Add(r.Quantity)
		}
	}

	var uptime int64
	if inst.LaunchedAt != nil && inst.Status == model.StatusRunning {
		uptime = int64(s.now().UTC().Sub(*inst.LaunchedAt).Seconds())
	}

	return &InstanceMetrics{
		InstanceID:    inst.ID,
		Records:       records,
		TotalGPUHours: total,
		UptimeSeconds: uptime,
	}, nil
}
