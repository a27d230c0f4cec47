// Package domain defines the typed identifiers shared across the engine.
//
// IDs are distinct named types over uuid.UUID so a RequestID can never be
// passed where a DonationID is expected. Parsing happens once, at trust
// boundaries; everything past the handler layer works with typed values.
package domain

import (
	"github.com/google/uuid"

	dErrors "aidbridge/pkg/domain-errors"
)

type (
	// RequestID identifies an aid request aggregate.
	RequestID uuid.UUID
	// PartyID identifies a marketplace participant (recipient, supplier, admin).
	PartyID uuid.UUID
	// DonationID identifies a pledged donation.
	DonationID uuid.UUID
	// ContributionID identifies a percentage funding commitment.
	ContributionID uuid.UUID
	// AllocationID identifies a committed quantity of one donation against one request.
	AllocationID uuid.UUID
	// RouteID identifies a delivery route attached to an allocation.
	RouteID uuid.UUID
	// WarehouseID identifies a storage facility.
	WarehouseID uuid.UUID
)

func (id RequestID) String() string      { return uuid.UUID(id).String() }
func (id PartyID) String() string        { return uuid.UUID(id).String() }
func (id DonationID) String() string     { return uuid.UUID(id).String() }
func (id ContributionID) String() string { return uuid.UUID(id).String() }
func (id AllocationID) String() string   { return uuid.UUID(id).String() }
func (id RouteID) String() string        { return uuid.UUID(id).String() }
func (id WarehouseID) String() string    { return uuid.UUID(id).String() }

func (id RequestID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PartyID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id DonationID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ContributionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AllocationID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RouteID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id WarehouseID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewRequestID returns a fresh random RequestID.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// NewPartyID returns a fresh random PartyID.
func NewPartyID() PartyID { return PartyID(uuid.New()) }

// NewDonationID returns a fresh random DonationID.
func NewDonationID() DonationID { return DonationID(uuid.New()) }

// NewContributionID returns a fresh random ContributionID.
func NewContributionID() ContributionID { return ContributionID(uuid.New()) }

// NewAllocationID returns a fresh random AllocationID.
func NewAllocationID() AllocationID { return AllocationID(uuid.New()) }

// NewRouteID returns a fresh random RouteID.
func NewRouteID() RouteID { return RouteID(uuid.New()) }

// NewWarehouseID returns a fresh random WarehouseID.
func NewWarehouseID() WarehouseID { return WarehouseID(uuid.New()) }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, kind+" id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil UUID")
	}
	return parsed, nil
}

// ParseRequestID parses a string into a RequestID at a trust boundary.
func ParseRequestID(raw string) (RequestID, error) {
	parsed, err := parseUUID(raw, "request")
	return RequestID(parsed), err
}

// ParsePartyID parses a string into a PartyID at a trust boundary.
func ParsePartyID(raw string) (PartyID, error) {
	parsed, err := parseUUID(raw, "party")
	return PartyID(parsed), err
}

// ParseDonationID parses a string into a DonationID at a trust boundary.
func ParseDonationID(raw string) (DonationID, error) {
	parsed, err := parseUUID(raw, "donation")
	return DonationID(parsed), err
}

// ParseContributionID parses a string into a ContributionID at a trust boundary.
func ParseContributionID(raw string) (ContributionID, error) {
	parsed, err := parseUUID(raw, "contribution")
	return ContributionID(parsed), err
}

// ParseAllocationID parses a string into an AllocationID at a trust boundary.
func ParseAllocationID(raw string) (AllocationID, error) {
	parsed, err := parseUUID(raw, "allocation")
	return AllocationID(parsed), err
}

// ParseWarehouseID parses a string into a WarehouseID at a trust boundary.
func ParseWarehouseID(raw string) (WarehouseID, error) {
	parsed, err := parseUUID(raw, "warehouse")
	return WarehouseID(parsed), err
}
