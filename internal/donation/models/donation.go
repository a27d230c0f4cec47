package models

import (
	"time"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Type classifies what is being pledged.
type Type string

const (
	TypeGoods    Type = "goods"
	TypeMonetary Type = "monetary"
	TypeServices Type = "services"
)

// Status is the donation lifecycle state. Verification arrives from outside:
// admins verify goods, the payment webhook verifies monetary donations.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusAllocated Status = "allocated"
	StatusDelivered Status = "delivered"
	StatusRejected  Status = "rejected"
)

// Donation is pledged stock.
//
// RemainingQuantity is a denormalized read-optimization cache. The
// authoritative availability check always recomputes the allocated sum from
// live allocation rows; a divergence between the two is a data-integrity bug,
// not a business rule.
type Donation struct {
	ID                id.DonationID   `json:"id"`
	SupplierID        id.PartyID      `json:"supplier_id"`
	Type              Type            `json:"type"`
	Description       string          `json:"description,omitempty"`
	Quantity          int             `json:"quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	Status            Status          `json:"status"`
	WarehouseID       *id.WarehouseID `json:"warehouse_id,omitempty"`
	TargetedRequestID *id.RequestID   `json:"targeted_request_id,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewDonation validates and constructs a pending donation.
func NewDonation(donationID id.DonationID, supplierID id.PartyID, donationType Type, description string, quantity int, targetedRequestID *id.RequestID, expiryDate *time.Time, now time.Time) (*Donation, error) {
	switch donationType {
	case TypeGoods, TypeMonetary, TypeServices:
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown donation type")
	}
	if supplierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donation requires a supplier")
	}
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "donation quantity must be positive")
	}
	if expiryDate != nil && !expiryDate.After(now) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expiry must be in the future")
	}
	return &Donation{
		ID:                donationID,
		SupplierID:        supplierID,
		Type:              donationType,
		Description:       description,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Status:            StatusPending,
		TargetedRequestID: targetedRequestID,
		ExpiryDate:        expiryDate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsExpired reports whether the donation is past its expiry.
func (d *Donation) IsExpired(now time.Time) bool {
	return d.ExpiryDate != nil && !d.ExpiryDate.After(now)
}

// CanAllocate is the availability predicate: the donation must be verified or
// already partially allocated, not expired, and its target (when set) must
// match the request being allocated against.
func (d *Donation) CanAllocate(requestID id.RequestID, now time.Time) error {
	switch d.Status {
	case StatusVerified, StatusAllocated:
	default:
		return dErrors.Newf(dErrors.CodeInvalidState, "donation in status %q is not allocatable", d.Status)
	}
	if d.IsExpired(now) {
		return dErrors.New(dErrors.CodeInvalidState, "donation has expired")
	}
	if d.TargetedRequestID != nil && *d.TargetedRequestID != requestID {
		return dErrors.New(dErrors.CodeConflict, "donation is targeted at a different request")
	}
	return nil
}

// CanVerify checks the Pending→Verified gate.
func (d *Donation) CanVerify() error {
	if d.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeInvalidState, "cannot verify donation in status %q", d.Status)
	}
	return nil
}

// ApplyVerification marks the donation verified.
func (d *Donation) ApplyVerification(now time.Time) {
	d.Status = StatusVerified
	d.UpdatedAt = now
}

// ApplyAllocation records committed quantity against the cache and marks the
// donation allocated. Callers have already proven quantity fits via the
// authoritative recomputation.
func (d *Donation) ApplyAllocation(quantity int, now time.Time) {
	d.Status = StatusAllocated
	d.RemainingQuantity -= quantity
	d.UpdatedAt = now
}

// ReleaseAllocation returns cancelled quantity to the cache.
func (d *Donation) ReleaseAllocation(quantity int, now time.Time) {
	d.RemainingQuantity += quantity
	if d.Status == StatusAllocated && d.RemainingQuantity == d.Quantity {
		d.Status = StatusVerified
	}
	d.UpdatedAt = now
}

// ApplyDelivery marks the donation delivered.
func (d *Donation) ApplyDelivery(now time.Time) {
	d.Status = StatusDelivered
	d.UpdatedAt = now
}

// Warehouse is a storage facility with a hard capacity. Its committed
// quantity is an external collaborator's invariant, checked on assignment.
type Warehouse struct {
	ID       id.WarehouseID `json:"id"`
	Name     string         `json:"name"`
	Region   string         `json:"region"`
	Capacity int            `json:"capacity"`
}
