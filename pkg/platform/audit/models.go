// Package audit is the append-only ledger of every mutation in the engine.
//
// Entries are written synchronously inside the same transaction as the
// mutation they describe: if the append fails the whole unit of work rolls
// back. Entries are never updated or deleted. A rejected operation writes no
// entry at all.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "aidbridge/pkg/domain"
)

// EntityType names the aggregate an entry describes.
type EntityType string

const (
	EntityRequest      EntityType = "request"
	EntityContribution EntityType = "contribution"
	EntityAllocation   EntityType = "allocation"
	EntityDonation     EntityType = "donation"
	EntityRoute        EntityType = "route"
)

// Action names the mutation an entry records.
type Action string

const (
	ActionRequestCreated      Action = "request_created"
	ActionRequestApproved     Action = "request_approved"
	ActionRequestClaimed      Action = "request_claimed"
	ActionRequestReverted     Action = "request_reverted"
	ActionRecedeRequested     Action = "recede_requested"
	ActionRecedeApproved      Action = "recede_approved"
	ActionRequestCompleted    Action = "request_completed"
	ActionRequestCancelled    Action = "request_cancelled"
	ActionRequestClosed       Action = "request_closed_no_match"
	ActionUrgencyBoosted      Action = "urgency_boosted"
	ActionRequestFlagged      Action = "request_flagged"
	ActionContribCommitted    Action = "contribution_committed"
	ActionContribUpdated      Action = "contribution_updated"
	ActionContribWithdrawn    Action = "contribution_withdrawn"
	ActionAllocationCreated   Action = "allocation_created"
	ActionAllocationDelivered Action = "allocation_delivered"
	ActionRouteAttached       Action = "route_attached"
	ActionDonationCreated     Action = "donation_created"
	ActionDonationVerified    Action = "donation_verified"
	ActionDonationAssigned    Action = "donation_assigned_warehouse"
	ActionDonationDelivered   Action = "donation_delivered"
)

// Entry is one immutable audit record. OldValues and NewValues hold the
// fields that changed, keyed by column name.
type Entry struct {
	ID          uuid.UUID
	Action      Action
	EntityType  EntityType
	EntityID    string
	ActorID     id.PartyID
	OldValues   map[string]any
	NewValues   map[string]any
	Description string
	RequestID   string
	ClientIP    string
	UserAgent   string
	CreatedAt   time.Time
}

// Filter narrows audit listing. Zero fields are ignored. Results come back
// newest-first; Limit of zero means the store default page size.
type Filter struct {
	ActorID    *id.PartyID
	Action     *Action
	EntityType *EntityType
	EntityID   *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Store persists entries. Append implementations must join the ambient
// transaction (pkg/platform/tx) when one is present.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
	HistoryForEntity(ctx context.Context, entityType EntityType, entityID string) ([]Entry, error)
}
