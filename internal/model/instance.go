package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstanceStatus enumerates the lifecycle states. Transitions follow a fixed
// state machine:
//
//	deploy    → PROVISIONING
//	reconcile → PROVISIONING/RESTARTING → RUNNING or FAILED (once eta passes)
//	start     → STOPPED → RUNNING
//	stop      → RUNNING → STOPPED
//	restart   → RUNNING|STOPPED → RESTARTING
//	terminate → any state except TERMINATED → TERMINATED (irreversible)
type InstanceStatus string

const (
	StatusProvisioning InstanceStatus = "PROVISIONING"
	StatusRunning      InstanceStatus = "RUNNING"
	StatusStopped      InstanceStatus = "STOPPED"
	StatusRestarting   InstanceStatus = "RESTARTING"
	StatusTerminated   InstanceStatus = "TERMINATED"
	StatusFailed       InstanceStatus = "FAILED"
)

// Instance is a deployed (simulated) compute instance. CostPerHour is a
// snapshot of the marketplace price at deploy time so later repricing does
// not affect existing instances.
type Instance struct {
	ID                string          `json:"id"`
	UserID            string          `json:"-"`
	MarketplaceItemID string          `json:"marketplaceItemId"`
	SSHKeyID          *string         `json:"sshKeyId"`
	Name              string          `json:"name"`
	Region            string          `json:"region"`
	Image             string          `json:"image"`
	Status            InstanceStatus  `json:"status"`
	CostPerHour       decimal.Decimal `json:"costPerHour"`

	LaunchedAt              *time.Time `json:"launchedAt"`
	TerminatedAt            *time.Time `json:"terminatedAt"`
	ProvisioningStartedAt   time.Time  `json:"provisioningStartedAt"`
	ProvisioningCompletedAt *time.Time `json:"provisioningCompletedAt"`
	ProvisioningEta         *time.Time `json:"provisioningEta"`
	FailureReason           *string    `json:"failureReason"`
	LastStatusChangeAt      time.Time  `json:"lastStatusChangeAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Populated on reads for the API; nil when not joined.
	MarketplaceItem *MarketplaceItemSummary `json:"marketplaceItem,omitempty"`
	SSHKey          *SSHKeySummary          `json:"sshKey,omitempty"`
}

// MarketplaceItemSummary is the slice of the catalogue entry embedded in
// instance responses.
type MarketplaceItemSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GPUType string `json:"gpuType"`
	Provider string `json:"provider"`
	VRAMGb  int    `json:"vramGb"`
}

// SSHKeySummary is the slice of an SSH key embedded in instance responses.
type SSHKeySummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// LogLevel classifies instance log lines.
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// InstanceLog is an append-only operational log entry; every lifecycle
// transition writes one.
type InstanceLog struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Level      LogLevel  `json:"level"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UsageRecord is a metered usage datapoint backing dashboard charts and the
// per-instance metrics endpoint.
type UsageRecord struct {
	ID                string          `json:"id"`
	UserID            string          `json:"-"`
	InstanceID        *string         `json:"instanceId"`
	MarketplaceItemID *string         `json:"marketplaceItemId"`
	MetricType        string          `json:"metricType"`
	Quantity          decimal.Decimal `json:"quantity"`
	Region            string          `json:"region"`
	RecordedAt        time.Time       `json:"recordedAt"`
}
