package readmodel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aidbridge/internal/conflict"
	contributionmodels "aidbridge/internal/contribution/models"
	contributionstore "aidbridge/internal/contribution/store"
	partymodels "aidbridge/internal/party/models"
	partystore "aidbridge/internal/party/store"
	requestmodels "aidbridge/internal/request/models"
	requeststore "aidbridge/internal/request/store"
	id "aidbridge/pkg/domain"
)

type regionalFixture struct {
	requests      *requeststore.InMemory
	contributions *contributionstore.InMemory
	parties       *partystore.InMemory
	model         *Regional
	now           time.Time
}

func newRegionalFixture(t *testing.T) *regionalFixture {
	t.Helper()
	f := &regionalFixture{
		requests:      requeststore.NewInMemory(),
		contributions: contributionstore.NewInMemory(),
		parties:       partystore.NewInMemory(),
		now:           time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	f.model = NewRegional(f.requests, f.contributions, f.parties, conflict.NewGuard(), nil, time.Minute, nil)
	return f
}

func (f *regionalFixture) addParty(t *testing.T, role partymodels.Role, phone string) *partymodels.Party {
	t.Helper()
	party, err := partymodels.NewParty(id.NewPartyID(), "p", role, phone, "", "", f.now)
	require.NoError(t, err)
	require.NoError(t, f.parties.Create(context.Background(), party))
	return party
}

func (f *regionalFixture) addRequest(t *testing.T, recipientID id.PartyID, region string, quantity int, funding requestmodels.FundingStatus) *requestmodels.Request {
	t.Helper()
	request, err := requestmodels.NewRequest(id.NewRequestID(), recipientID, quantity, region, nil, f.now, nil)
	require.NoError(t, err)
	request.ApplyApproval(f.now)
	request.FundingStatus = funding
	require.NoError(t, f.requests.Create(context.Background(), request))
	return request
}

func (f *regionalFixture) addContribution(t *testing.T, requestID id.RequestID, supplierID id.PartyID, percentage int) {
	t.Helper()
	contribution, err := contributionmodels.NewContribution(id.NewContributionID(), requestID, supplierID, percentage, nil, f.now)
	require.NoError(t, err)
	require.NoError(t, f.contributions.Create(context.Background(), contribution))
}

func TestRegionalStats(t *testing.T) {
	f := newRegionalFixture(t)
	ctx := context.Background()

	north := f.addParty(t, partymodels.RoleRecipient, "+1-555-0001")
	south := f.addParty(t, partymodels.RoleRecipient, "+1-555-0002")
	supplier := f.addParty(t, partymodels.RoleSupplier, "+1-555-0003")

	f.addRequest(t, north.ID, "north", 30, requestmodels.FundingUnfunded)
	funded := f.addRequest(t, north.ID, "north", 50, requestmodels.FundingPartiallyFunded)
	f.addContribution(t, funded.ID, supplier.ID, 40)

	closed := f.addRequest(t, south.ID, "south", 20, requestmodels.FundingUnfunded)
	closed.ApplyClosure(f.now)
	require.NoError(t, f.requests.Update(ctx, closed))

	stats, err := f.model.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	require.Equal(t, "north", stats[0].Region)
	require.Equal(t, 2, stats[0].TotalRequests)
	require.Equal(t, 2, stats[0].OpenRequests)
	require.Equal(t, 80, stats[0].QuantityNeeded)
	require.Equal(t, 1, stats[0].Unfunded)
	require.Equal(t, 1, stats[0].PartiallyFunded)

	require.Equal(t, "south", stats[1].Region)
	require.Equal(t, 1, stats[1].TotalRequests)
	require.Equal(t, 0, stats[1].OpenRequests)
	require.Equal(t, 0, stats[1].QuantityNeeded)
}

func TestRegionalStatsExcludesSelfDealing(t *testing.T) {
	f := newRegionalFixture(t)
	ctx := context.Background()

	recipient := f.addParty(t, partymodels.RoleRecipient, "+1-555-0100")
	shadow := f.addParty(t, partymodels.RoleSupplier, "+1 (555) 0100")

	tainted := f.addRequest(t, recipient.ID, "east", 10, requestmodels.FundingPartiallyFunded)
	f.addContribution(t, tainted.ID, shadow.ID, 30)

	clean := f.addParty(t, partymodels.RoleRecipient, "+1-555-0200")
	f.addRequest(t, clean.ID, "east", 15, requestmodels.FundingUnfunded)

	stats, err := f.model.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "east", stats[0].Region)
	require.Equal(t, 1, stats[0].TotalRequests)
	require.Equal(t, 1, stats[0].Excluded)
	require.Equal(t, 15, stats[0].QuantityNeeded)
}

func TestRegionalStatsEmptyRegionBucketsAsUnknown(t *testing.T) {
	f := newRegionalFixture(t)

	recipient := f.addParty(t, partymodels.RoleRecipient, "+1-555-0300")
	f.addRequest(t, recipient.ID, "", 5, requestmodels.FundingUnfunded)

	stats, err := f.model.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "unknown", stats[0].Region)
}
