package memory

import (
	"context"
	"sort"
	"strings"

	"stream-billing/internal/store"
)

func (s *Store) GetPricingTier(_ context.Context, streamerID int64) (*store.PricingTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[streamerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) UpsertPricingTier(_ context.Context, t store.PricingTier) (store.PricingTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tiers[t.StreamerID]; ok && t.StreamerHandle == "" {
		t.StreamerHandle = cur.StreamerHandle
	}
	s.accounts[t.StreamerID] = true
	t.UpdatedAt = s.now()
	s.tiers[t.StreamerID] = t
	return t, nil
}

func (s *Store) ListPricingTiers(_ context.Context, search string, limit, offset int) ([]store.PricingTier, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(search)
	out := []store.PricingTier{}
	for _, t := range s.tiers {
		if needle == "" || strings.Contains(strings.ToLower(t.StreamerHandle), needle) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamerID < out[j].StreamerID })
	return page(out, limit, offset), len(out), nil
}

func (s *Store) ListPricingPackages(context.Context) ([]store.PricingPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []store.PricingPackage{}
	for _, p := range s.packages {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (s *Store) EnsureDefaultPackages(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packages) > 0 {
		return nil
	}
	for i, p := range store.DefaultPackages() {
		p.ID = int64(i + 1)
		s.packages = append(s.packages, p)
	}
	return nil
}

// SetPackages replaces the catalog.
func (s *Store) SetPackages(pkgs []store.PricingPackage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages = append([]store.PricingPackage(nil), pkgs...)
}

func (s *Store) CreatePurchase(_ context.Context, p store.Purchase) (store.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; ok {
		return store.Purchase{}, store.ErrDuplicate
	}
	if p.GatewayRef != "" {
		for _, other := range s.purchases {
			if other.GatewayRef == p.GatewayRef {
				return store.Purchase{}, store.ErrDuplicate
			}
		}
	}
	s.accounts[p.AccountID] = true
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.purchases[p.ID] = p
	return p, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*store.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetPurchaseByGatewayRef(_ context.Context, ref string) (*store.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.purchases {
		if ref != "" && p.GatewayRef == ref {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MutatePurchase(_ context.Context, id string, fn func(*store.Purchase) error) (store.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.purchases[id]
	if !ok {
		return store.Purchase{}, store.ErrNotFound
	}
	p := cur
	if err := fn(&p); err != nil {
		return store.Purchase{}, err
	}
	p.UpdatedAt = s.now()
	s.purchases[id] = p
	return p, nil
}
