package models

import (
	"time"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Status is the allocation lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// CountsAgainstStock reports whether the allocation consumes donation
// quantity. Cancelled allocations release their quantity.
func (s Status) CountsAgainstStock() bool {
	return s != StatusCancelled
}

// Allocation is a committed quantity of one donation assigned to one request.
//
// Invariant (enforced by the engine under the donation row lock): the sum of
// quantities over all non-cancelled allocations referencing a donation never
// exceeds that donation's total quantity.
type Allocation struct {
	ID          id.AllocationID `json:"id"`
	RequestID   id.RequestID    `json:"request_id"`
	DonationID  id.DonationID   `json:"donation_id"`
	Quantity    int             `json:"quantity_allocated"`
	AllocatorID id.PartyID      `json:"allocator_id"`
	Status      Status          `json:"status"`
	AllocatedAt time.Time       `json:"allocated_date"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewAllocation validates and constructs a pending allocation.
func NewAllocation(allocationID id.AllocationID, requestID id.RequestID, donationID id.DonationID, quantity int, allocatorID id.PartyID, now time.Time) (*Allocation, error) {
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "allocation quantity must be positive")
	}
	if requestID.IsNil() || donationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "allocation requires a request and a donation")
	}
	return &Allocation{
		ID:          allocationID,
		RequestID:   requestID,
		DonationID:  donationID,
		Quantity:    quantity,
		AllocatorID: allocatorID,
		Status:      StatusPending,
		AllocatedAt: now,
		UpdatedAt:   now,
	}, nil
}

// CanAttachRoute checks the route-attachment gate: only pending or approved
// allocations accept a new route.
func (a *Allocation) CanAttachRoute() error {
	if a.Status != StatusPending && a.Status != StatusApproved {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot attach route to allocation in status %q", a.Status)
	}
	return nil
}

// ApplyRouteAttachment advances a pending allocation to approved as a side
// effect of scheduling its first route.
func (a *Allocation) ApplyRouteAttachment(now time.Time) {
	if a.Status == StatusPending {
		a.Status = StatusApproved
	}
	a.UpdatedAt = now
}

// ApplyDelivery records the external delivery signal.
func (a *Allocation) ApplyDelivery(now time.Time) {
	a.Status = StatusDelivered
	a.UpdatedAt = now
}

// RouteStatus is the delivery route state reported by logistics.
type RouteStatus string

const (
	RouteScheduled RouteStatus = "scheduled"
	RouteInTransit RouteStatus = "in_transit"
	RouteDelivered RouteStatus = "delivered"
	RouteCancelled RouteStatus = "cancelled"
)

// IsActive reports whether the route blocks attaching another one.
func (s RouteStatus) IsActive() bool {
	return s == RouteScheduled || s == RouteInTransit
}

// Route is a delivery route attached to an allocation. At most one active
// route may exist per allocation.
type Route struct {
	ID           id.RouteID      `json:"id"`
	AllocationID id.AllocationID `json:"allocation_id"`
	Carrier      string          `json:"carrier,omitempty"`
	Status       RouteStatus     `json:"status"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
