package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/store"
	"stream-billing/internal/store/memory"

	"github.com/shopspring/decimal"
)

var _ WalletStore = (*store.Store)(nil)
var _ WalletStore = (*memory.Store)(nil)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func funded(t *testing.T, balance string) (*Ledger, *memory.Store) {
	t.Helper()
	st := memory.New()
	l := New(st)
	if _, err := l.Credit(context.Background(), 1, d(balance), Ref{Type: "test"}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	return l, st
}

func assertWallet(t *testing.T, w store.Wallet, balance, frozen, spent string) {
	t.Helper()
	if !w.Balance.Equal(d(balance)) || !w.Frozen.Equal(d(frozen)) || !w.TotalSpent.Equal(d(spent)) {
		t.Fatalf("wallet = balance %s frozen %s spent %s, want %s %s %s", w.Balance, w.Frozen, w.TotalSpent, balance, frozen, spent)
	}
}

func TestPrimitivesKeepInvariants(t *testing.T) {
	l, _ := funded(t, "10")
	ctx := context.Background()
	ref := Ref{Type: "attendance", ID: "a1"}

	steps := []struct {
		name    string
		run     func() (store.Wallet, error)
		wantErr error
		balance string
		frozen  string
		spent   string
	}{
		{"freeze", func() (store.Wallet, error) { return l.Freeze(ctx, 1, d("4"), ref) }, nil, "6", "4", "0"},
		{"extend", func() (store.Wallet, error) { return l.Extend(ctx, 1, d("1.5"), ref) }, nil, "4.5", "5.5", "0"},
		{"freeze too much", func() (store.Wallet, error) { return l.Freeze(ctx, 1, d("4.5001"), ref) }, apperr.ErrInsufficientCredits, "4.5", "5.5", "0"},
		{"capture", func() (store.Wallet, error) { return l.Capture(ctx, 1, d("3"), ref) }, nil, "4.5", "2.5", "3"},
		{"release", func() (store.Wallet, error) { return l.Release(ctx, 1, d("2.5"), ref) }, nil, "7", "0", "3"},
		{"debit", func() (store.Wallet, error) { return l.Debit(ctx, 1, d("7"), ref) }, nil, "0", "0", "3"},
		{"debit empty", func() (store.Wallet, error) { return l.Debit(ctx, 1, d("0.01"), ref) }, apperr.ErrInsufficientCredits, "0", "0", "3"},
		{"credit", func() (store.Wallet, error) { return l.Credit(ctx, 1, d("1"), ref) }, nil, "1", "0", "3"},
	}
	for _, step := range steps {
		_, err := step.run()
		if !errors.Is(err, step.wantErr) {
			t.Fatalf("%s: err = %v, want %v", step.name, err, step.wantErr)
		}
		w, err := l.Wallet(ctx, 1)
		if err != nil {
			t.Fatalf("%s: wallet: %v", step.name, err)
		}
		if w.Balance.IsNegative() || w.Frozen.IsNegative() {
			t.Fatalf("%s: negative wallet %+v", step.name, w)
		}
		assertWallet(t, w, step.balance, step.frozen, step.spent)
	}
}

func TestAmountValidation(t *testing.T) {
	l, _ := funded(t, "1")
	for _, amount := range []string{"0", "-1", "0.00001"} {
		if _, err := l.Freeze(context.Background(), 1, d(amount), Ref{}); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("freeze %s err = %v, want validation error", amount, err)
		}
	}
}

func TestFreezeOnMissingWalletIsInsufficient(t *testing.T) {
	l := New(memory.New())
	if _, err := l.Freeze(context.Background(), 99, d("1"), Ref{}); !errors.Is(err, apperr.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
}

func TestWalletReadDoesNotCreate(t *testing.T) {
	st := memory.New()
	l := New(st)
	ctx := context.Background()
	w, err := l.Wallet(ctx, 42)
	if err != nil {
		t.Fatalf("Wallet() error = %v", err)
	}
	if w.AccountID != 42 || !w.Balance.IsZero() || !w.Frozen.IsZero() {
		t.Fatalf("wallet = %+v, want empty view", w)
	}
	if _, err := st.GetWallet(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stored wallet err = %v, want ErrNotFound", err)
	}
}

type notifierFunc func(alert.Event)

func (f notifierFunc) Notify(ev alert.Event) { f(ev) }

func TestCaptureBeyondHoldHaltsWallet(t *testing.T) {
	l, _ := funded(t, "5")
	ctx := context.Background()
	var got []alert.Event
	l.WithNotifier(notifierFunc(func(ev alert.Event) { got = append(got, ev) }))

	if _, err := l.Freeze(ctx, 1, d("1"), Ref{}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	_, err := l.Capture(ctx, 1, d("2"), Ref{})
	if !errors.Is(err, apperr.ErrLedgerInconsistency) {
		t.Fatalf("capture err = %v, want ErrLedgerInconsistency", err)
	}
	if len(got) != 1 || got[0].Kind != alert.KindLedgerInconsistency {
		t.Fatalf("alerts = %+v, want one ledger_inconsistency", got)
	}
	w, _ := l.Wallet(ctx, 1)
	if !w.Halted {
		t.Fatal("wallet not halted")
	}
	assertWallet(t, w, "4", "1", "0")

	if _, err := l.Credit(ctx, 1, d("1"), Ref{}); !errors.Is(err, apperr.ErrWalletHalted) {
		t.Fatalf("credit on halted wallet err = %v, want ErrWalletHalted", err)
	}
	if _, err := l.ClearHalt(ctx, 1); err != nil {
		t.Fatalf("clear halt: %v", err)
	}
	if _, err := l.Capture(ctx, 1, d("1"), Ref{}); err != nil {
		t.Fatalf("capture after clear: %v", err)
	}
}

func TestIdempotentCredit(t *testing.T) {
	l := New(memory.New())
	ctx := context.Background()
	ref := Ref{Type: "purchase", ID: "p1", Key: "purchase:p1:credit"}
	for i := 0; i < 3; i++ {
		if _, err := l.Credit(ctx, 1, d("50"), ref); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}
	w, _ := l.Wallet(ctx, 1)
	assertWallet(t, w, "50", "0", "0")
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	l, _ := funded(t, "10")
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Freeze(ctx, 1, d("0.5"), Ref{}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 20 {
		t.Fatalf("successful holds = %d, want 20", ok)
	}
	w, _ := l.Wallet(ctx, 1)
	assertWallet(t, w, "0", "10", "0")
}

func TestCapturedTotalSumsJournal(t *testing.T) {
	l, _ := funded(t, "10")
	ctx := context.Background()
	for _, amt := range []string{"1", "0.25", "0.1"} {
		if _, err := l.Freeze(ctx, 1, d(amt), Ref{}); err != nil {
			t.Fatalf("freeze: %v", err)
		}
		if _, err := l.Capture(ctx, 1, d(amt), Ref{}); err != nil {
			t.Fatalf("capture: %v", err)
		}
	}
	total, err := l.CapturedTotal(ctx, 1)
	if err != nil {
		t.Fatalf("captured total: %v", err)
	}
	if !total.Equal(d("1.35")) {
		t.Fatalf("captured total = %s, want 1.35", total)
	}
}
