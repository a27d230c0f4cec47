package models

import (
	"strings"
	"time"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

// Role classifies a marketplace participant.
type Role string

const (
	RoleRecipient Role = "recipient"
	RoleSupplier  Role = "supplier"
	RoleAdmin     Role = "admin"
	RoleAuditor   Role = "auditor"
)

// Party is a marketplace participant. Verified mirrors the boolean output of
// the external identity-verification workflow; this engine only consumes it.
type Party struct {
	ID         id.PartyID `json:"id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	Phone      string     `json:"phone"`
	NationalID string     `json:"national_id"`
	Region     string     `json:"region"`
	Verified   bool       `json:"verified"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewParty validates and constructs a participant.
func NewParty(partyID id.PartyID, name string, role Role, phone, nationalID, region string, now time.Time) (*Party, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "party name cannot be empty")
	}
	switch role {
	case RoleRecipient, RoleSupplier, RoleAdmin, RoleAuditor:
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown party role")
	}
	return &Party{
		ID:         partyID,
		Name:       name,
		Role:       role,
		Phone:      strings.TrimSpace(phone),
		NationalID: strings.TrimSpace(nationalID),
		Region:     strings.TrimSpace(region),
		CreatedAt:  now,
	}, nil
}
