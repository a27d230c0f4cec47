package models

import (
	"time"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Status marks whether a contribution still counts toward its request.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusWithdrawn Status = "withdrawn"
)

// Contribution is a supplier's committed percentage-of-funding pledge toward
// one request.
//
// Invariants (enforced by the ledger service under the request row lock):
//   - at most one committed contribution per (request, supplier)
//   - the sum of committed percentages for a request never exceeds 100
type Contribution struct {
	ID          id.ContributionID `json:"id"`
	RequestID   id.RequestID      `json:"request_id"`
	SupplierID  id.PartyID        `json:"supplier_id"`
	Percentage  int               `json:"percentage"`
	AmountValue *int64            `json:"amount_value,omitempty"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewContribution validates and constructs a committed contribution.
func NewContribution(contributionID id.ContributionID, requestID id.RequestID, supplierID id.PartyID, percentage int, amountValue *int64, now time.Time) (*Contribution, error) {
	if err := ValidatePercentage(percentage); err != nil {
		return nil, err
	}
	if requestID.IsNil() || supplierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contribution requires a request and a supplier")
	}
	if amountValue != nil && *amountValue < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amount value cannot be negative")
	}
	return &Contribution{
		ID:          contributionID,
		RequestID:   requestID,
		SupplierID:  supplierID,
		Percentage:  percentage,
		AmountValue: amountValue,
		Status:      StatusCommitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ValidatePercentage enforces the 1-100 range shared by commit and update.
func ValidatePercentage(percentage int) error {
	if percentage < 1 || percentage > 100 {
		return dErrors.New(dErrors.CodeValidation, "percentage must be between 1 and 100")
	}
	return nil
}

// ApplyWithdrawal marks the contribution withdrawn, releasing its percentage
// back to the pool.
func (c *Contribution) ApplyWithdrawal(now time.Time) {
	c.Status = StatusWithdrawn
	c.UpdatedAt = now
}
