package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/store"
	"stream-billing/internal/testutil"

	"github.com/shopspring/decimal"
)

func credit(amount string) func(*store.Wallet) (*store.LedgerEntry, error) {
	return func(w *store.Wallet) (*store.LedgerEntry, error) {
		d := decimal.RequireFromString(amount)
		w.Balance = w.Balance.Add(d)
		return &store.LedgerEntry{Op: store.OpCredit, Amount: d, RefType: "test"}, nil
	}
}

func TestMutateWalletJournalsAndDeduplicates(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	m := store.WalletMutation{AccountID: 7, Create: true, IdempotencyKey: "purchase:p1:credit"}
	w, err := st.MutateWallet(ctx, m, credit("50"))
	if err != nil {
		t.Fatalf("mutate wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance = %s, want 50", w.Balance)
	}
	w, err = st.MutateWallet(ctx, m, credit("50"))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second mutate err = %v, want ErrDuplicate", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance after duplicate = %s, want 50", w.Balance)
	}
	entries, err := st.ListLedgerEntries(ctx, store.LedgerFilter{AccountID: 7}, 10, 0)
	if err != nil {
		t.Fatalf("list ledger entries: %v", err)
	}
	if len(entries) != 1 || !entries[0].BalanceAfter.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("entries = %+v, want one credit with balance_after 50", entries)
	}
}

func TestWalletCheckConstraintMapsToLedgerInconsistency(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := st.MutateWallet(ctx, store.WalletMutation{AccountID: 3, Create: true}, func(w *store.Wallet) (*store.LedgerEntry, error) {
		w.Balance = decimal.NewFromInt(-1)
		return nil, nil
	})
	if !errors.Is(err, apperr.ErrLedgerInconsistency) {
		t.Fatalf("err = %v, want ErrLedgerInconsistency", err)
	}
}

func TestOneOpenAttendancePerViewerAndSession(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	sess := store.Session{ID: store.NewID(), RoomType: store.RoomTypeCam2Cam, StreamerID: 1, Status: store.SessionLive, StartedAt: &now}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	a := store.Attendance{
		ID: store.NewID(), SessionID: sess.ID, ViewerID: 2, EnteredAt: now,
		RatePerMinute: decimal.RequireFromString("0.1"), Held: decimal.RequireFromString("0.1"),
		SettledThrough: now, Status: store.AttendanceActive,
	}
	if err := st.CreateAttendance(ctx, a); err != nil {
		t.Fatalf("create attendance: %v", err)
	}
	dup := a
	dup.ID = store.NewID()
	if err := st.CreateAttendance(ctx, dup); !errors.Is(err, store.ErrOpenAttendanceExists) {
		t.Fatalf("duplicate err = %v, want ErrOpenAttendanceExists", err)
	}

	a.ExitedAt = &now
	a.ExitKind = store.ExitNormal
	a.TotalCharged = decimal.RequireFromString("0.2")
	ok, err := st.CloseAttendance(ctx, a)
	if err != nil || !ok {
		t.Fatalf("close attendance = %v, %v; want true, nil", ok, err)
	}
	ok, err = st.CloseAttendance(ctx, a)
	if err != nil || ok {
		t.Fatalf("second close = %v, %v; want false, nil", ok, err)
	}
	if err := st.CreateAttendance(ctx, dup); err != nil {
		t.Fatalf("re-entry after exit: %v", err)
	}
	earned, err := st.RecomputeSessionEarnings(ctx, sess.ID)
	if err != nil {
		t.Fatalf("recompute earnings: %v", err)
	}
	if !earned.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("earned = %s, want 0.2", earned)
	}
}

func TestLiveSessionPerRoomIsUnique(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.EnsureDefaultRooms(ctx, 3, decimal.RequireFromString("0.1")); err != nil {
		t.Fatalf("seed rooms: %v", err)
	}
	rooms, err := st.ListRooms(ctx, false)
	if err != nil || len(rooms) != 3 {
		t.Fatalf("list rooms = %d, %v; want 3", len(rooms), err)
	}
	if !rooms[0].IsPinned || rooms[0].Position != 1 {
		t.Fatalf("first room = %+v, want pinned apex", rooms[0])
	}
	roomID := rooms[1].ID
	for i, streamer := range []int64{10, 11} {
		err := st.CreateSession(ctx, store.Session{
			ID: store.NewID(), RoomType: store.RoomTypePyramid, RoomID: &roomID,
			StreamerID: streamer, Status: store.SessionLive,
		})
		if i == 0 && err != nil {
			t.Fatalf("first session: %v", err)
		}
		if i == 1 && !errors.Is(err, apperr.ErrRoomOccupied) {
			t.Fatalf("second session err = %v, want ErrRoomOccupied", err)
		}
	}
	if _, err := st.CreateRoom(ctx, store.Room{Position: 2, RatePerMinute: decimal.NewFromInt(1)}); !errors.Is(err, store.ErrPositionTaken) {
		t.Fatalf("create room err = %v, want ErrPositionTaken", err)
	}
}

func TestPurchaseLifecycleColumns(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	p, err := st.CreatePurchase(ctx, store.Purchase{
		ID: store.NewID(), AccountID: 5, CreditsPurchased: decimal.NewFromInt(50),
		AmountCharged: decimal.NewFromInt(10), FinalAmount: decimal.NewFromInt(10),
		Status: store.PurchasePending, GatewayRef: "pi_1",
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	got, err := st.MutatePurchase(ctx, p.ID, func(p *store.Purchase) error {
		now := time.Now().UTC()
		p.Status = store.PurchaseCompleted
		p.CompletedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("mutate purchase: %v", err)
	}
	if got.Status != store.PurchaseCompleted || got.CompletedAt == nil {
		t.Fatalf("purchase = %+v, want completed", got)
	}
	byRef, err := st.GetPurchaseByGatewayRef(ctx, "pi_1")
	if err != nil || byRef.ID != p.ID {
		t.Fatalf("by gateway ref = %v, %v", byRef, err)
	}
}

func TestPricingTiersSearch(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for id, handle := range map[int64]string{1: "alice", 2: "bob", 3: "alicia"} {
		_, err := st.UpsertPricingTier(ctx, store.PricingTier{
			StreamerID: id, StreamerHandle: handle,
			Rate15: decimal.NewNullDecimal(decimal.NewFromInt(20)),
		})
		if err != nil {
			t.Fatalf("upsert tier: %v", err)
		}
	}
	tiers, total, err := st.ListPricingTiers(ctx, "ali", 1, 0)
	if err != nil {
		t.Fatalf("list tiers: %v", err)
	}
	if total != 2 || len(tiers) != 1 {
		t.Fatalf("total = %d len = %d, want 2 and 1", total, len(tiers))
	}
	if err := st.EnsureDefaultPackages(ctx); err != nil {
		t.Fatalf("seed packages: %v", err)
	}
	pkgs, err := st.ListPricingPackages(ctx)
	if err != nil || len(pkgs) != len(store.DefaultPackages()) {
		t.Fatalf("packages = %d, %v", len(pkgs), err)
	}
}
