// Package readmodel powers the aggregate regional views. Statistics exclude
// self-dealing requests, using the same conflict guard as the write paths so
// the exclusion rule cannot drift.
package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"aidbridge/internal/conflict"
	contributionmodels "aidbridge/internal/contribution/models"
	partymodels "aidbridge/internal/party/models"
	requestmodels "aidbridge/internal/request/models"
	id "aidbridge/pkg/domain"
)

const cacheKey = "aidbridge:readmodel:regional_stats"

// RegionStats is the aggregate view for one region.
type RegionStats struct {
	Region          string `json:"region"`
	TotalRequests   int    `json:"total_requests"`
	OpenRequests    int    `json:"open_requests"`
	Unfunded        int    `json:"unfunded"`
	PartiallyFunded int    `json:"partially_funded"`
	FullyFunded     int    `json:"fully_funded"`
	QuantityNeeded  int    `json:"quantity_needed"`
	Excluded        int    `json:"excluded_self_dealing"`
}

// RequestStore supplies the full request set.
type RequestStore interface {
	ListAll(ctx context.Context) ([]*requestmodels.Request, error)
}

// ContributionStore supplies committed contributions per request.
type ContributionStore interface {
	ListCommitted(ctx context.Context, requestID id.RequestID) ([]*contributionmodels.Contribution, error)
}

// PartyStore resolves identities for the self-dealing exclusion.
type PartyStore interface {
	FindByID(ctx context.Context, partyID id.PartyID) (*partymodels.Party, error)
}

// Regional computes per-region statistics and caches them in Redis. The
// cache is a plain TTL cache; writes never invalidate it, staleness up to
// the TTL is accepted.
type Regional struct {
	requests      RequestStore
	contributions ContributionStore
	parties       PartyStore
	guard         conflict.Guard
	cache         *redis.Client
	ttl           time.Duration
	logger        *slog.Logger
}

// NewRegional builds the read model. cache may be nil, in which case every
// call recomputes.
func NewRegional(requests RequestStore, contributions ContributionStore, parties PartyStore, guard conflict.Guard, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Regional {
	return &Regional{
		requests:      requests,
		contributions: contributions,
		parties:       parties,
		guard:         guard,
		cache:         cache,
		ttl:           ttl,
		logger:        logger,
	}
}

// Stats returns regional statistics, served from cache when fresh.
func (r *Regional) Stats(ctx context.Context) ([]RegionStats, error) {
	if cached, ok := r.fromCache(ctx); ok {
		return cached, nil
	}

	stats, err := r.compute(ctx)
	if err != nil {
		return nil, err
	}
	r.toCache(ctx, stats)
	return stats, nil
}

func (r *Regional) compute(ctx context.Context) ([]RegionStats, error) {
	requests, err := r.requests.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var mu sync.Mutex
	byRegion := make(map[string]*RegionStats)
	regionOf := func(region string) *RegionStats {
		if region == "" {
			region = "unknown"
		}
		stats, ok := byRegion[region]
		if !ok {
			stats = &RegionStats{Region: region}
			byRegion[region] = stats
		}
		return stats
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, request := range requests {
		group.Go(func() error {
			selfDealing, err := r.isSelfDealing(groupCtx, request)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			stats := regionOf(request.Region)
			if selfDealing {
				stats.Excluded++
				return nil
			}
			stats.TotalRequests++
			if !request.Status.IsTerminal() {
				stats.OpenRequests++
				stats.QuantityNeeded += request.QuantityRequired
			}
			switch request.FundingStatus {
			case requestmodels.FundingUnfunded:
				stats.Unfunded++
			case requestmodels.FundingPartiallyFunded:
				stats.PartiallyFunded++
			case requestmodels.FundingFullyFunded:
				stats.FullyFunded++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	regions := make([]RegionStats, 0, len(byRegion))
	for _, stats := range byRegion {
		regions = append(regions, *stats)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Region < regions[j].Region })
	return regions, nil
}

// isSelfDealing reports whether any committed contributor matches the
// recipient's identity. Such requests are excluded from every statistic.
func (r *Regional) isSelfDealing(ctx context.Context, request *requestmodels.Request) (bool, error) {
	committed, err := r.contributions.ListCommitted(ctx, request.ID)
	if err != nil {
		return false, fmt.Errorf("list contributions: %w", err)
	}
	if len(committed) == 0 {
		return false, nil
	}

	recipient, err := r.parties.FindByID(ctx, request.RecipientID)
	if err != nil {
		return false, fmt.Errorf("load recipient: %w", err)
	}
	target := conflict.Identity{PartyID: recipient.ID, Phone: recipient.Phone, NationalID: recipient.NationalID}
	for _, contribution := range committed {
		supplier, err := r.parties.FindByID(ctx, contribution.SupplierID)
		if err != nil {
			return false, fmt.Errorf("load contributor: %w", err)
		}
		candidate := conflict.Identity{PartyID: supplier.ID, Phone: supplier.Phone, NationalID: supplier.NationalID}
		if r.guard.IsSelfDealing(target, candidate, nil) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Regional) fromCache(ctx context.Context) ([]RegionStats, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && r.logger != nil {
			r.logger.Warn("regional stats cache read failed", "error", err.Error())
		}
		return nil, false
	}
	var stats []RegionStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false
	}
	return stats, true
}

func (r *Regional) toCache(ctx context.Context, stats []RegionStats) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey, raw, r.ttl).Err(); err != nil && r.logger != nil {
		r.logger.Warn("regional stats cache write failed", "error", err.Error())
	}
}
