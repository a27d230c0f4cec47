package models

import (
	"encoding/json"
	"time"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Status is the request lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusClaimed         Status = "claimed"
	StatusRecedeRequested Status = "recede_requested"
	StatusCompleted       Status = "completed"
	StatusClosedNoMatch   Status = "closed_no_match"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal reports whether the lifecycle ends at this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusClosedNoMatch, StatusCancelled:
		return true
	}
	return false
}

// transitions is the full lifecycle graph. Claimed→Approved covers both
// admin-approved recedes and automatic reversion when the committed funding
// total drops below 100.
var transitions = map[Status][]Status{
	StatusPending:         {StatusApproved, StatusClosedNoMatch, StatusCancelled},
	StatusApproved:        {StatusClaimed, StatusClosedNoMatch, StatusCancelled},
	StatusClaimed:         {StatusRecedeRequested, StatusCompleted, StatusApproved, StatusClosedNoMatch, StatusCancelled},
	StatusRecedeRequested: {StatusApproved, StatusClosedNoMatch, StatusCancelled},
}

// CanTransitionTo reports whether the lifecycle graph allows moving to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// FundingStatus is the derived funding state. It is never set directly; it is
// always recomputed from the committed contribution total.
type FundingStatus string

const (
	FundingUnfunded        FundingStatus = "unfunded"
	FundingPartiallyFunded FundingStatus = "partially_funded"
	FundingFullyFunded     FundingStatus = "fully_funded"
)

// FundingStatusForTotal is the pure derivation rule: 0 is unfunded, 1-99 is
// partially funded, 100 and above is fully funded.
func FundingStatusForTotal(total int) FundingStatus {
	switch {
	case total <= 0:
		return FundingUnfunded
	case total < 100:
		return FundingPartiallyFunded
	default:
		return FundingFullyFunded
	}
}

// Request is the aggregate root of the lifecycle.
//
// Invariants:
//   - FundingStatus always equals FundingStatusForTotal(sum of committed
//     contribution percentages); Status moves with it through
//     ApplyFundingTotal and never drifts independently
//   - a single-supplier claim is recorded as a 100% contribution, so the
//     derivation rule holds for both funding paths
//   - AssignedSupplierID is set only while Status is Claimed or RecedeRequested
type Request struct {
	ID                 id.RequestID    `json:"id"`
	RecipientID        id.PartyID      `json:"recipient_id"`
	Status             Status          `json:"status"`
	FundingStatus      FundingStatus   `json:"funding_status"`
	AssignedSupplierID *id.PartyID     `json:"assigned_supplier_id,omitempty"`
	QuantityRequired   int             `json:"quantity_required"`
	Region             string          `json:"region"`
	Urgency            json.RawMessage `json:"urgency,omitempty"`
	UrgencyBoosted     bool            `json:"urgency_boosted"`
	Flagged            bool            `json:"flagged"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
}

// NewRequest validates and constructs a pending request. Urgency is an opaque
// upstream score attached at creation time.
func NewRequest(requestID id.RequestID, recipientID id.PartyID, quantityRequired int, region string, urgency json.RawMessage, now time.Time, expiresAt *time.Time) (*Request, error) {
	if recipientID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request requires a recipient")
	}
	if quantityRequired <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "quantity required must be positive")
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expiry must be in the future")
	}
	return &Request{
		ID:               requestID,
		RecipientID:      recipientID,
		Status:           StatusPending,
		FundingStatus:    FundingUnfunded,
		QuantityRequired: quantityRequired,
		Region:           region,
		Urgency:          urgency,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        expiresAt,
	}, nil
}

// stateError builds the StateError for a refused transition, carrying the
// current status so callers can see what they raced against.
func (r *Request) stateError(verb string) error {
	return dErrors.Newf(dErrors.CodeInvalidState, "cannot %s request in status %q", verb, r.Status)
}

// CanApprove checks the Pending→Approved gate.
func (r *Request) CanApprove() error {
	if r.Status != StatusPending {
		return r.stateError("approve")
	}
	return nil
}

// ApplyApproval moves the request to Approved. Call CanApprove first.
func (r *Request) ApplyApproval(now time.Time) {
	r.Status = StatusApproved
	r.UpdatedAt = now
}

// CanClaim checks the Approved→Claimed gate for a single-supplier claim.
// Self-dealing is checked separately by the conflict guard.
func (r *Request) CanClaim() error {
	if r.Status != StatusApproved {
		return r.stateError("claim")
	}
	if r.FundingStatus == FundingFullyFunded {
		return dErrors.New(dErrors.CodeConflict, "request is already fully funded")
	}
	return nil
}

// ApplyClaim assigns the supplier. The funding state itself moves through
// ApplyFundingTotal once the supplier's 100% contribution is committed.
func (r *Request) ApplyClaim(supplierID id.PartyID, now time.Time) {
	r.AssignedSupplierID = &supplierID
	r.UpdatedAt = now
}

// ApplyFundingTotal is the single derivation point for funding state. Every
// path that changes the committed percentage total (commit, update, withdraw,
// claim, recede) calls this and nothing else, so funding_status and status
// cannot drift apart.
func (r *Request) ApplyFundingTotal(total int, now time.Time) {
	r.FundingStatus = FundingStatusForTotal(total)
	switch {
	case total >= 100 && r.Status == StatusApproved:
		r.Status = StatusClaimed
	case total < 100 && (r.Status == StatusClaimed || r.Status == StatusRecedeRequested):
		r.Status = StatusApproved
		r.AssignedSupplierID = nil
	}
	r.UpdatedAt = now
}

// CanRequestRecede checks the Claimed→RecedeRequested gate for the given actor.
func (r *Request) CanRequestRecede(actorID id.PartyID) error {
	if r.Status != StatusClaimed {
		return r.stateError("recede from")
	}
	if r.AssignedSupplierID == nil || *r.AssignedSupplierID != actorID {
		return dErrors.New(dErrors.CodeForbidden, "only the assigned supplier may request recede")
	}
	return nil
}

// ApplyRecedeRequest moves the request to RecedeRequested.
func (r *Request) ApplyRecedeRequest(now time.Time) {
	r.Status = StatusRecedeRequested
	r.UpdatedAt = now
}

// CanApproveRecede checks the RecedeRequested→Approved gate.
func (r *Request) CanApproveRecede() error {
	if r.Status != StatusRecedeRequested {
		return r.stateError("approve recede for")
	}
	return nil
}

// CanComplete checks the Claimed→Completed gate. Delivery evidence is
// verified by the service against allocations before calling this.
func (r *Request) CanComplete() error {
	if r.Status != StatusClaimed {
		return r.stateError("complete")
	}
	return nil
}

// ApplyCompletion moves the request to its Completed terminal state.
func (r *Request) ApplyCompletion(now time.Time) {
	r.Status = StatusCompleted
	r.UpdatedAt = now
}

// CanCancel checks the guarded soft-delete. Cancellation replaces hard
// deletion so the audit trail stays intact.
func (r *Request) CanCancel() error {
	if r.Status.IsTerminal() {
		return r.stateError("cancel")
	}
	return nil
}

// ApplyCancellation moves the request to its Cancelled terminal state.
func (r *Request) ApplyCancellation(now time.Time) {
	r.Status = StatusCancelled
	r.AssignedSupplierID = nil
	r.UpdatedAt = now
}

// CanClose checks eligibility for administrative closure of stale requests.
func (r *Request) CanClose() error {
	if r.Status.IsTerminal() {
		return r.stateError("close")
	}
	return nil
}

// ApplyClosure moves the request to ClosedNoMatch and clears the review flag.
func (r *Request) ApplyClosure(now time.Time) {
	r.Status = StatusClosedNoMatch
	r.AssignedSupplierID = nil
	r.Flagged = false
	r.UpdatedAt = now
}

// ApplyUrgencyBoost marks the request boosted and clears the review flag.
func (r *Request) ApplyUrgencyBoost(now time.Time) {
	r.UrgencyBoosted = true
	r.Flagged = false
	r.UpdatedAt = now
}

// IsStale reports whether the request is old enough for batch review.
func (r *Request) IsStale(threshold time.Duration, now time.Time) bool {
	return !r.Status.IsTerminal() && now.Sub(r.CreatedAt) > threshold
}
