package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type instanceFixture struct {
	store   *memStore
	svc     *InstanceService
	user    *model.User
	item    *model.MarketplaceItem
	nowTime time.Time
}

func newInstanceFixture(t *testing.T) *instanceFixture {
	t.Helper()
	store := newMemStore()

	user := &model.User{
		Email:         "user@example.com",
		CreditBalance: decimal.RequireFromString("100.00"),
		ReferralCode:  "MINT-AAAA1111",
	}
	require.NoError(t, store.CreateUser(context.Background(), user, nil, nil))

	item := store.addItem(&model.MarketplaceItem{
		Slug:         "nvidia-h100-sxm",
		Name:         "NVIDIA H100 SXM",
		GPUType:      "H100",
		Provider:     "NVIDIA",
		PricePerHour: decimal.RequireFromString("6.90"),
		Region:       "us-east-1",
		Availability: 2,
	})

	f := &instanceFixture{
		store:   store,
		user:    user,
		item:    item,
		nowTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	referrals := NewReferralService(store, store, decimal.RequireFromString("25.00"), testLogger())
	f.svc = NewInstanceService(store, store, store, store, referrals, testLogger()).
		WithClock(func() time.Time { return f.nowTime }).
		WithFailurePolicy(func(string) bool { return false })
	return f
}

func (f *instanceFixture) advance(d time.Duration) {
	f.nowTime = f.nowTime.Add(d)
}

func (f *instanceFixture) deploy(t *testing.T) *model.Instance {
	t.Helper()
	inst, err := f.svc.Deploy(context.Background(), f.user.ID, DeployRequest{
		MarketplaceItemID: f.item.ID,
		Name:              "train-1",
	})
	require.NoError(t, err)
	return inst
}

func TestDeploy_ChargesFirstHour(t *testing.T) {
	f := newInstanceFixture(t)

	inst := f.deploy(t)
	assert.Equal(t, model.StatusProvisioning, inst.Status)
	require.NotNil(t, inst.ProvisioningEta)
	assert.Equal(t, f.nowTime.Add(2*time.Minute), *inst.ProvisioningEta)

	// 100.00 - 6.90 = 93.10
	assert.True(t, f.user.CreditBalance.Equal(decimal.RequireFromString("93.10")))
	assert.Equal(t, 1, f.item.Availability)
}

func TestDeploy_Validation(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deploy(ctx, f.user.ID, DeployRequest{MarketplaceItemID: f.item.ID})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.Deploy(ctx, f.user.ID, DeployRequest{Name: "x"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.Deploy(ctx, f.user.ID, DeployRequest{MarketplaceItemID: "missing", Name: "x"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestReconcile_ProvisioningCompletes(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	inst := f.deploy(t)

	// Before the eta nothing changes.
	got, err := f.svc.Get(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioning, got.Status)

	f.advance(3 * time.Minute)
	got, err = f.svc.Get(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	require.NotNil(t, got.LaunchedAt)
	assert.Nil(t, got.FailureReason)

	logs, err := f.svc.Logs(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Provisioning completed successfully.", logs[1].Message)
}

func TestReconcile_ProvisioningFails(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()
	f.svc.WithFailurePolicy(func(string) bool { return true })

	inst := f.deploy(t)
	f.advance(3 * time.Minute)

	got, err := f.svc.Get(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "Node image checksum mismatch during provisioning.", *got.FailureReason)
	assert.Nil(t, got.LaunchedAt)

	logs, err := f.svc.Logs(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.LogError, logs[1].Level)
	assert.Equal(t, "Provisioning failed due to image checksum mismatch.", logs[1].Message)
}

func TestReconcile_RestartNeverFails(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	inst := f.deploy(t)
	f.advance(3 * time.Minute)
	_, err := f.svc.Get(ctx, f.user.ID, inst.ID) // now RUNNING
	require.NoError(t, err)

	// Even under an always-fail policy a restart lands on RUNNING; the
	// failure rule only applies to first-time provisioning.
	f.svc.WithFailurePolicy(func(string) bool { return true })

	_, err = f.svc.Restart(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)

	f.advance(2 * time.Minute)
	got, err := f.svc.Get(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)

	logs, err := f.svc.Logs(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Instance restart complete.", logs[len(logs)-1].Message)
}

func TestLifecycle_TransitionTable(t *testing.T) {
	// Each operation is attempted from each steady state.
	type op func(f *instanceFixture, ctx context.Context, id string) error
	start := func(f *instanceFixture, ctx context.Context, id string) error {
		_, err := f.svc.Start(ctx, f.user.ID, id)
		return err
	}
	stop := func(f *instanceFixture, ctx context.Context, id string) error {
		_, err := f.svc.Stop(ctx, f.user.ID, id)
		return err
	}
	restart := func(f *instanceFixture, ctx context.Context, id string) error {
		_, err := f.svc.Restart(ctx, f.user.ID, id)
		return err
	}
	terminate := func(f *instanceFixture, ctx context.Context, id string) error {
		_, err := f.svc.Terminate(ctx, f.user.ID, id)
		return err
	}

	tests := []struct {
		name    string
		from    model.InstanceStatus
		op      op
		allowed bool
		message string
	}{
		{"start from stopped", model.StatusStopped, start, true, ""},
		{"start from running", model.StatusRunning, start, false, "Only stopped instances can be started."},
		{"start from failed", model.StatusFailed, start, false, "Only stopped instances can be started."},
		{"stop from running", model.StatusRunning, stop, true, ""},
		{"stop from stopped", model.StatusStopped, stop, false, "Only running instances can be stopped."},
		{"restart from running", model.StatusRunning, restart, true, ""},
		{"restart from stopped", model.StatusStopped, restart, true, ""},
		{"restart from failed", model.StatusFailed, restart, false, "Only running or stopped instances can be restarted."},
		{"terminate from running", model.StatusRunning, terminate, true, ""},
		{"terminate from stopped", model.StatusStopped, terminate, true, ""},
		{"terminate from failed", model.StatusFailed, terminate, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInstanceFixture(t)
			ctx := context.Background()
			inst := f.deploy(t)

			// Force the starting state directly; the transitions above it
			// are exercised by the other tests.
			inst.Status = tt.from
			require.NoError(t, f.store.UpdateInstanceStatus(ctx, inst))

			err := tt.op(f, ctx, inst.ID)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperror.ErrConflict))
				var appErr *apperror.AppError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.message, appErr.Message)
			}
		})
	}
}

func TestTerminate_IsIrreversibleAndFreesCapacity(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	inst := f.deploy(t)
	assert.Equal(t, 1, f.item.Availability)

	_, err := f.svc.Terminate(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.item.Availability)

	_, err = f.svc.Terminate(ctx, f.user.ID, inst.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.Equal(t, 2, f.item.Availability)

	// Still listed after termination.
	list, err := f.svc.List(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusTerminated, list[0].Status)

	// Terminated instances never reconcile back to life.
	f.advance(10 * time.Minute)
	got, err := f.svc.Get(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTerminated, got.Status)
}

func TestDeploy_FirstDeploymentTriggersReferralReward(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	referred := &model.User{
		Email:         "referred@example.com",
		CreditBalance: decimal.RequireFromString("100.00"),
		ReferralCode:  "MINT-BBBB2222",
	}
	referral := &model.Referral{ReferrerID: f.user.ID, Code: f.user.ReferralCode}
	require.NoError(t, f.store.CreateUser(ctx, referred, nil, referral))

	referrerBefore := f.user.CreditBalance

	_, err := f.svc.Deploy(ctx, referred.ID, DeployRequest{
		MarketplaceItemID: f.item.ID,
		Name:              "first",
	})
	require.NoError(t, err)

	// +25.00 for the referrer, exactly once.
	assert.True(t, f.user.CreditBalance.Equal(referrerBefore.Add(decimal.RequireFromString("25.00"))))

	_, err = f.svc.Deploy(ctx, referred.ID, DeployRequest{
		MarketplaceItemID: f.item.ID,
		Name:              "second",
	})
	require.NoError(t, err)
	assert.True(t, f.user.CreditBalance.Equal(referrerBefore.Add(decimal.RequireFromString("25.00"))))
}

func TestDefaultFailurePolicy(t *testing.T) {
	// Deterministic per id, and not all ids fail.
	assert.Equal(t, DefaultFailurePolicy("abc"), DefaultFailurePolicy("abc"))

	failed := 0
	ids := []string{"c0", "c7", "cn", "ca", "cb", "cz", "c1", "c2"}
	for _, id := range ids {
		if DefaultFailurePolicy(id) {
			failed++
		}
	}
	assert.Greater(t, failed, 0)
	assert.Less(t, failed, len(ids))
}

func TestMetrics_ReturnsTrailingDayUsage(t *testing.T) {
	f := newInstanceFixture(t)
	ctx := context.Background()

	inst := f.deploy(t)
	f.advance(3 * time.Minute)

	// A datapoint outside the 24h window stays out of the view.
	require.NoError(t, f.store.RecordUsage(ctx, &model.UsageRecord{
		UserID:     f.user.ID,
		InstanceID: &inst.ID,
		MetricType: "gpu_hours",
		Quantity:   decimal.NewFromInt(5),
		Region:     "us-east-1",
		RecordedAt: f.nowTime.Add(-25 * time.Hour),
	}))

	metrics, err := f.svc.Metrics(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, metrics.InstanceID)
	require.Len(t, metrics.Records, 1)
	assert.True(t, metrics.TotalGPUHours.Equal(decimal.NewFromInt(1)),
		metrics.TotalGPUHours.String())
	assert.Positive(t, metrics.UptimeSeconds)

	// History stays available after the instance stops; uptime does not.
	_, err = f.svc.Stop(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)

	stopped, err := f.svc.Metrics(ctx, f.user.ID, inst.ID)
	require.NoError(t, err)
	require.Len(t, stopped.Records, 1)
	assert.Zero(t, stopped.UptimeSeconds)
}
