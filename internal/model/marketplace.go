package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MarketplaceItem is a deployable compute profile. Availability is the
// capacity pool: decremented by one per deploy, incremented by one per
// terminate, and never allowed to go negative.
type MarketplaceItem struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	GPUType      string          `json:"gpuType"`
	Provider     string          `json:"provider"`
	VRAMGb       int             `json:"vramGb"`
	CPUCores     int             `json:"cpuCores"`
	MemoryGb     int             `json:"memoryGb"`
	StorageGb    int             `json:"storageGb"`
	PricePerHour decimal.Decimal `json:"pricePerHour"`
	Region       string          `json:"region"`
	Availability int             `json:"availability"`
	Specs        json.RawMessage `json:"specs,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Summary trims an item down to the fields embedded in instance responses.
func (m *MarketplaceItem) Summary() *MarketplaceItemSummary {
	return &MarketplaceItemSummary{
		ID:       m.ID,
		Name:     m.Name,
		GPUType:  m.GPUType,
		Provider: m.Provider,
		VRAMGb:   m.VRAMGb,
	}
}

// QuoteStatus enumerates quote-request review states.
type QuoteStatus string

const (
	QuotePending   QuoteStatus = "PENDING"
	QuoteApproved  QuoteStatus = "APPROVED"
	QuoteRejected  QuoteStatus = "REJECTED"
	QuoteWithdrawn QuoteStatus = "WITHDRAWN"
)

// QuoteRequest is a bulk-capacity quotation request reviewed out of band.
type QuoteRequest struct {
	ID            string      `json:"id"`
	UserID        string      `json:"-"`
	GPUType       string      `json:"gpuType"`
	Quantity      int         `json:"quantity"`
	DurationHours int         `json:"durationHours"`
	Region        string      `json:"region"`
	Notes         string      `json:"notes,omitempty"`
	Status        QuoteStatus `json:"status"`
	ReviewNotes   string      `json:"reviewNotes,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}
