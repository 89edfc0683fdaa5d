// Package memory is an in-process Store with the same constraint semantics as
// the PostgreSQL repository. It backs tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/store"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu          sync.Mutex
	accounts    map[int64]bool
	wallets     map[int64]store.Wallet
	ledger      []store.LedgerEntry
	idemKeys    map[string]bool
	memberships map[int64]store.Membership
	rooms       map[int64]store.Room
	nextRoomID  int64
	sessions    map[string]store.Session
	attendances map[string]store.Attendance
	tiers       map[int64]store.PricingTier
	packages    []store.PricingPackage
	purchases   map[string]store.Purchase
	now         func() time.Time
}

func New() *Store {
	return &Store{
		accounts:    map[int64]bool{},
		wallets:     map[int64]store.Wallet{},
		idemKeys:    map[string]bool{},
		memberships: map[int64]store.Membership{},
		rooms:       map[int64]store.Room{},
		sessions:    map[string]store.Session{},
		attendances: map[string]store.Attendance{},
		tiers:       map[int64]store.PricingTier{},
		purchases:   map[string]store.Purchase{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) ensureWalletLocked(accountID int64) {
	s.accounts[accountID] = true
	if _, ok := s.wallets[accountID]; !ok {
		now := s.now()
		s.wallets[accountID] = store.Wallet{AccountID: accountID, CreatedAt: now, UpdatedAt: now}
	}
}

func (s *Store) GetWallet(_ context.Context, accountID int64) (*store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (s *Store) MutateWallet(_ context.Context, m store.WalletMutation, fn func(*store.Wallet) (*store.LedgerEntry, error)) (store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Create {
		s.ensureWalletLocked(m.AccountID)
	}
	cur, ok := s.wallets[m.AccountID]
	if !ok {
		return store.Wallet{}, store.ErrNotFound
	}
	if m.IdempotencyKey != "" && s.idemKeys[m.IdempotencyKey] {
		return cur, store.ErrDuplicate
	}
	w := cur
	entry, err := fn(&w)
	if err != nil {
		return store.Wallet{}, err
	}
	if w.Balance.IsNegative() || w.Frozen.IsNegative() || w.TotalSpent.IsNegative() {
		return store.Wallet{}, apperr.ErrLedgerInconsistency
	}
	w.UpdatedAt = s.now()
	if entry != nil {
		if entry.ID == "" {
			entry.ID = store.NewID()
		}
		entry.AccountID = w.AccountID
		entry.BalanceAfter = w.Balance
		entry.FrozenAfter = w.Frozen
		entry.CreatedAt = w.UpdatedAt
		if m.IdempotencyKey != "" {
			entry.IdempotencyKey = m.IdempotencyKey
			s.idemKeys[m.IdempotencyKey] = true
		}
		s.ledger = append(s.ledger, *entry)
	}
	s.wallets[w.AccountID] = w
	return w, nil
}

func (s *Store) SetWalletHalt(_ context.Context, accountID int64, halted bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[accountID]
	if !ok {
		return store.ErrNotFound
	}
	w.Halted = halted
	w.HaltReason = reason
	w.UpdatedAt = s.now()
	s.wallets[accountID] = w
	return nil
}

// ListLedgerEntries returns matching entries newest first.
func (s *Store) ListLedgerEntries(_ context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := []store.LedgerEntry{}
	for i := len(s.ledger) - 1; i >= 0; i-- {
		e := s.ledger[i]
		if f.AccountID != 0 && e.AccountID != f.AccountID {
			continue
		}
		if f.Op != "" && e.Op != f.Op {
			continue
		}
		if f.RefType != "" && e.RefType != f.RefType {
			continue
		}
		if f.RefID != "" && e.RefID != f.RefID {
			continue
		}
		out = append(out, e)
	}
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (s *Store) GetMembership(_ context.Context, accountID int64) (*store.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) UpsertMembership(_ context.Context, m store.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.DiscountPercentage.IsNegative() || m.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.Invalid("discount_percentage", "must be between 0 and 100")
	}
	s.accounts[m.AccountID] = true
	s.memberships[m.AccountID] = m
	return nil
}

func (s *Store) CreateRoom(_ context.Context, r store.Room) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.rooms {
		if other.Position == r.Position {
			return store.Room{}, store.ErrPositionTaken
		}
	}
	if r.Status == "" {
		r.Status = store.RoomInactive
	}
	s.nextRoomID++
	now := s.now()
	r.ID = s.nextRoomID
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rooms[r.ID] = r
	return r, nil
}

func (s *Store) GetRoom(_ context.Context, id int64) (*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRooms(_ context.Context, includeDeleted bool) ([]store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []store.Room{}
	for _, r := range s.rooms {
		if !includeDeleted && r.Status == store.RoomDeleted {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *Store) MutateRoom(_ context.Context, id int64, fn func(*store.Room) error) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[id]
	if !ok {
		return store.Room{}, store.ErrNotFound
	}
	r := cur
	if err := fn(&r); err != nil {
		return store.Room{}, err
	}
	if r.OccupyingStreamer != nil {
		s.accounts[*r.OccupyingStreamer] = true
	}
	r.UpdatedAt = s.now()
	s.rooms[id] = r
	return r, nil
}

func (s *Store) CountRooms(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms), nil
}

func (s *Store) EnsureDefaultRooms(ctx context.Context, slots int, rate decimal.Decimal) error {
	if c, _ := s.CountRooms(ctx); c > 0 {
		return nil
	}
	for pos := 1; pos <= slots; pos++ {
		if _, err := s.CreateRoom(ctx, store.Room{Position: pos, RatePerMinute: rate, IsPinned: pos == 1}); err != nil {
			return err
		}
	}
	return nil
}
