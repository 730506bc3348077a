// Package velocity computes windowed transaction counts and volumes.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

// Aggregator computes per-user velocity windows from the transaction
// projection. Reads are lock-free: a transaction committing mid-computation
// may or may not be included, which is an accepted non-determinism of the
// trailing windows.
type Aggregator struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewAggregator creates a velocity aggregator. cache may be nil; a zero
// cacheTTL disables snapshot caching.
func NewAggregator(repo domain.Repository, cache domain.Cache, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Compute returns the user's velocity windows relative to asOf. A recent
// cached snapshot is served when one exists within the configured TTL.
func (a *Aggregator) Compute(ctx context.Context, userID string, asOf time.Time) (*domain.VelocityData, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	if a.cache != nil && a.cacheTTL > 0 {
		if cached, err := a.cache.GetVelocity(ctx, userID); err == nil && cached != nil {
			age := asOf.Sub(cached.AsOf)
			if age >= 0 && age < a.cacheTTL {
				return cached, nil
			}
		}
	}

	count1h, amount1h, err := a.repo.CountAndSumByUser(ctx, userID, asOf.Add(-time.Hour), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to compute 1h window: %w", err)
	}

	count24h, amount24h, err := a.repo.CountAndSumByUser(ctx, userID, asOf.Add(-24*time.Hour), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to compute 24h window: %w", err)
	}

	data := &domain.VelocityData{
		Count1h:   count1h,
		Amount1h:  amount1h,
		Count24h:  count24h,
		Amount24h: amount24h,
		AsOf:      asOf,
	}
	if count24h > 0 {
		data.AvgAmount24h = amount24h / float64(count24h)
	}

	if a.cache != nil && a.cacheTTL > 0 {
		_ = a.cache.SetVelocity(ctx, userID, data, a.cacheTTL)
	}

	return data, nil
}
