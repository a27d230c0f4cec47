// Package conflict detects self-dealing: a recipient funding, claiming, or
// allocating to their own request, directly or through a second account that
// shares a phone number or national ID.
//
// Guard is stateless. Callers load the identities involved and pass them in;
// the same guard instance is injected into claim, contribute, allocate,
// targeted-donation creation, and the regional read-model filter so the
// matching rules cannot drift between call sites.
package conflict

import (
	"strings"

	id "aidbridge/pkg/domain"
)

// Identity is the minimal slice of a party the guard compares.
type Identity struct {
	PartyID    id.PartyID
	Phone      string
	NationalID string
}

// Guard implements the identity-matching rules.
type Guard struct{}

// NewGuard returns a stateless guard.
func NewGuard() Guard {
	return Guard{}
}

// IdentityMatches reports whether two parties look like the same person:
// digit-normalized phone numbers match, or trimmed national IDs match.
func (Guard) IdentityMatches(a, b Identity) bool {
	if phoneA, phoneB := normalizePhone(a.Phone), normalizePhone(b.Phone); phoneA != "" && phoneA == phoneB {
		return true
	}
	if idA, idB := strings.TrimSpace(a.NationalID), strings.TrimSpace(b.NationalID); idA != "" && idA == idB {
		return true
	}
	return false
}

// IsSelfDealing reports whether the candidate must be barred from acting on
// the recipient's request. Related holds identities already committed to the
// request (committed contributors, assigned supplier); a candidate matching
// any of them is also rejected so one person cannot stack commitments across
// accounts.
func (g Guard) IsSelfDealing(recipient Identity, candidate Identity, related []Identity) bool {
	if candidate.PartyID == recipient.PartyID {
		return true
	}
	if g.IdentityMatches(candidate, recipient) {
		return true
	}
	for _, other := range related {
		if candidate.PartyID == other.PartyID || g.IdentityMatches(candidate, other) {
			return true
		}
	}
	return false
}

// normalizePhone strips everything but digits so formatting differences never
// hide a match. Empty results never match.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
