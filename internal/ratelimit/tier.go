package ratelimit

import (
	"context"
	"errors"
	"time"

	"gramflow/internal/subscription"
)

// Tier is a derived classification, never stored. It is computed on demand
// from the tenant's subscription record and determines the tenant's hourly
// call ceiling.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierResolver maps a tenant to its tier.
type TierResolver interface {
	Resolve(ctx context.Context, tenantID string) (Tier, error)
}

// SubscriptionTierResolver derives the tier from the subscription store.
//
// Rules:
// - no active subscription for the Instagram product line => free
// - an active, unexpired pro subscription => pro
// - anything else (expired period, free plan rows) => free
type SubscriptionTierResolver struct {
	store subscription.Store
	clock func() time.Time
}

func NewTierResolver(store subscription.Store) *SubscriptionTierResolver {
	return &SubscriptionTierResolver{store: store, clock: time.Now}
}

func (r *SubscriptionTierResolver) Resolve(ctx context.Context, tenantID string) (Tier, error) {
	if tenantID == "" {
		return TierFree, ErrInvalidArgument
	}

	sub, err := r.store.GetActiveSubscription(ctx, tenantID, subscription.ProductLineInstagram)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return TierFree, nil
		}
		return TierFree, err
	}

	if sub.Plan == subscription.PlanPro && sub.IsActiveAt(r.clock().UTC()) {
		return TierPro, nil
	}
	return TierFree, nil
}
