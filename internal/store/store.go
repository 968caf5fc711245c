// Package store persists leads and the records that hang off them: events,
// investments, webhook destinations, delivery logs and dispatch batches.
package store

import (
	"context"
	"time"

	"github.com/sells-group/lead-engine/internal/model"
)

// LeadFilter specifies criteria for listing live leads. ExcludeSent drops
// leads that appear in a sent dispatch batch before paging.
type LeadFilter struct {
	TenantID    string `json:"empresa_id"`
	ExcludeSent bool   `json:"exclude_sent,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// CandidateFilter narrows the live leads scanned by the fuzzy cascade tiers.
// LandingPage keeps leads whose stored landing page contains it or is
// contained by it. Words keeps leads whose match text shares at least one
// of them. Both are expected normalized.
type CandidateFilter struct {
	LandingPage string
	Words       []string
	Limit       int
}

// DeliveryFilter specifies criteria for listing delivery log rows.
type DeliveryFilter struct {
	DestinationID string `json:"destination_id,omitempty"`
	LeadID        string `json:"lead_id,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the lead engine. Every lead
// query is scoped to a tenant.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, tenantID, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	FindByExternalID(ctx context.Context, tenantID string, kind model.ExternalIDKind, value string) ([]model.Lead, error)
	FindByPhone(ctx context.Context, tenantID, phone string) ([]model.Lead, error)
	FindByEmail(ctx context.Context, tenantID, email string) ([]model.Lead, error)
	ListCandidates(ctx context.Context, tenantID string, filter CandidateFilter) ([]model.Lead, error)
	ExistingContacts(ctx context.Context, tenantID string, phones, emails []string) (map[string]string, error)

	// Consolidation
	ListGroup(ctx context.Context, tenantID string, key model.GroupKey) ([]model.Lead, error)
	DuplicateGroups(ctx context.Context, tenantID string, kind model.GroupKind, limit int) ([]model.DuplicateGroup, error)
	UpdateFinancials(ctx context.Context, l *model.Lead) (bool, error)
	SupersedeLead(ctx context.Context, tenantID, id, principalID, actor string, at time.Time) (bool, error)

	// Investments
	UpsertInvestment(ctx context.Context, inv *model.Investment) error
	ListInvestments(ctx context.Context, tenantID string, leadIDs []string) ([]model.Investment, error)

	// Events
	AppendEvents(ctx context.Context, events []model.Event) error
	ListEvents(ctx context.Context, tenantID, leadID string) ([]model.Event, error)

	// Webhooks
	UpsertDestination(ctx context.Context, d *model.Destination) error
	GetDestination(ctx context.Context, id string) (*model.Destination, error)
	ListDestinations(ctx context.Context, enabledOnly bool) ([]model.Destination, error)
	InsertDelivery(ctx context.Context, d *model.Delivery) error
	GetDelivery(ctx context.Context, id string) (*model.Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.Delivery, error)

	// Dispatch batches
	CreateBatch(ctx context.Context, b *model.Batch) error
	MarkBatchSent(ctx context.Context, tenantID, id string, at time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
