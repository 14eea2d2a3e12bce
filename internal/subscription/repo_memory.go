package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	mu   sync.Mutex
	subs []Subscription
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Put(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

func (s *MemoryStore) GetActiveSubscription(ctx context.Context, tenantID, productLine string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best Subscription
	found := false
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || sub.ProductLine != productLine || sub.Status != StatusActive {
			continue
		}
		if !found || sub.CurrentPeriodEnd.After(best.CurrentPeriodEnd) {
			best = sub
			found = true
		}
	}
	if !found {
		return Subscription{}, ErrNotFound
	}
	return best, nil
}
