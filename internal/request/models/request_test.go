package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aidbridge/pkg/domain"
	dErrors "aidbridge/pkg/domain-errors"
)

func newTestRequest(t *testing.T) *Request {
	t.Helper()
	request, err := NewRequest(
		id.NewRequestID(),
		id.PartyID(uuid.New()),
		100,
		"north",
		nil,
		time.Now(),
		nil,
	)
	require.NoError(t, err)
	return request
}

func TestNewRequest_Invariants(t *testing.T) {
	now := time.Now()

	t.Run("rejects nil recipient", func(t *testing.T) {
		_, err := NewRequest(id.NewRequestID(), id.PartyID{}, 10, "north", nil, now, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := NewRequest(id.NewRequestID(), id.PartyID(uuid.New()), 0, "north", nil, now, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects past expiry", func(t *testing.T) {
		past := now.Add(-time.Hour)
		_, err := NewRequest(id.NewRequestID(), id.PartyID(uuid.New()), 10, "north", nil, now, &past)
		require.Error(t, err)
	})

	t.Run("starts pending and unfunded", func(t *testing.T) {
		request := newTestRequest(t)
		assert.Equal(t, StatusPending, request.Status)
		assert.Equal(t, FundingUnfunded, request.FundingStatus)
	})
}

func TestFundingStatusForTotal(t *testing.T) {
	assert.Equal(t, FundingUnfunded, FundingStatusForTotal(0))
	assert.Equal(t, FundingPartiallyFunded, FundingStatusForTotal(1))
	assert.Equal(t, FundingPartiallyFunded, FundingStatusForTotal(99))
	assert.Equal(t, FundingFullyFunded, FundingStatusForTotal(100))
	assert.Equal(t, FundingFullyFunded, FundingStatusForTotal(140))
}

func TestApplyFundingTotal(t *testing.T) {
	now := time.Now()

	t.Run("partial total keeps approved status", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)

		request.ApplyFundingTotal(60, now)

		assert.Equal(t, StatusApproved, request.Status)
		assert.Equal(t, FundingPartiallyFunded, request.FundingStatus)
	})

	t.Run("reaching 100 claims the request", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)

		request.ApplyFundingTotal(100, now)

		assert.Equal(t, StatusClaimed, request.Status)
		assert.Equal(t, FundingFullyFunded, request.FundingStatus)
	})

	t.Run("dropping below 100 reverts claimed to approved", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)
		supplier := id.PartyID(uuid.New())
		request.ApplyClaim(supplier, now)
		request.ApplyFundingTotal(100, now)
		require.Equal(t, StatusClaimed, request.Status)

		request.ApplyFundingTotal(40, now)

		assert.Equal(t, StatusApproved, request.Status)
		assert.Equal(t, FundingPartiallyFunded, request.FundingStatus)
		assert.Nil(t, request.AssignedSupplierID)
	})

	t.Run("dropping to zero reverts to unfunded", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)
		request.ApplyFundingTotal(100, now)

		request.ApplyFundingTotal(0, now)

		assert.Equal(t, StatusApproved, request.Status)
		assert.Equal(t, FundingUnfunded, request.FundingStatus)
	})
}

func TestTransitionGuards(t *testing.T) {
	now := time.Now()

	t.Run("approve requires pending", func(t *testing.T) {
		request := newTestRequest(t)
		require.NoError(t, request.CanApprove())
		request.ApplyApproval(now)

		err := request.CanApprove()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
		assert.Contains(t, err.Error(), string(StatusApproved))
	})

	t.Run("claim requires approved and not fully funded", func(t *testing.T) {
		request := newTestRequest(t)
		err := request.CanClaim()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

		request.ApplyApproval(now)
		require.NoError(t, request.CanClaim())

		request.ApplyFundingTotal(100, now)
		err = request.CanClaim()
		require.Error(t, err)
	})

	t.Run("recede restricted to assigned supplier", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)
		supplier := id.PartyID(uuid.New())
		request.ApplyClaim(supplier, now)
		request.ApplyFundingTotal(100, now)

		err := request.CanRequestRecede(id.PartyID(uuid.New()))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

		require.NoError(t, request.CanRequestRecede(supplier))
	})

	t.Run("complete requires claimed", func(t *testing.T) {
		request := newTestRequest(t)
		err := request.CanComplete()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("cancel rejected on terminal statuses", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyCancellation(now)

		err := request.CanCancel()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestClosureAndBoost(t *testing.T) {
	now := time.Now()

	t.Run("closure clears flag and supplier", func(t *testing.T) {
		request := newTestRequest(t)
		request.ApplyApproval(now)
		supplier := id.PartyID(uuid.New())
		request.ApplyClaim(supplier, now)
		request.Flagged = true

		request.ApplyClosure(now)

		assert.Equal(t, StatusClosedNoMatch, request.Status)
		assert.False(t, request.Flagged)
		assert.Nil(t, request.AssignedSupplierID)
	})

	t.Run("boost clears flag without changing status", func(t *testing.T) {
		request := newTestRequest(t)
		request.Flagged = true

		request.ApplyUrgencyBoost(now)

		assert.Equal(t, StatusPending, request.Status)
		assert.True(t, request.UrgencyBoosted)
		assert.False(t, request.Flagged)
	})
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	request := newTestRequest(t)
	request.CreatedAt = now.Add(-48 * time.Hour)

	assert.True(t, request.IsStale(24*time.Hour, now))
	assert.False(t, request.IsStale(72*time.Hour, now))

	request.ApplyCancellation(now)
	assert.False(t, request.IsStale(24*time.Hour, now))
}
