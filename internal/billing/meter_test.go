package billing

import (
	"context"
	"testing"
	"time"

	"stream-billing/internal/ledger"
	"stream-billing/internal/store"
	"stream-billing/internal/store/memory"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// enter reproduces what the session layer does on entry: credit the viewer,
// reserve one minute and start the clock at t0.
func enter(t *testing.T, balance, rate string, maxMinutes int) (*ledger.Ledger, store.Attendance) {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(memory.New())
	if _, err := l.Credit(ctx, 7, d(balance), ledger.Ref{Type: "test"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	a := store.Attendance{
		ID: "att-1", SessionID: "s-1", ViewerID: 7, EnteredAt: t0, RatePerMinute: d(rate),
		MaxMinutes: maxMinutes, TotalCharged: decimal.Zero, Held: d(rate), SettledThrough: t0,
		Status: store.AttendanceActive,
	}
	if _, err := l.Freeze(ctx, 7, a.Held, ref(a)); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return l, a
}

func wallet(t *testing.T, l *ledger.Ledger) store.Wallet {
	t.Helper()
	w, err := l.Wallet(context.Background(), 7)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func TestDue(t *testing.T) {
	m := NewMeter(nil, time.Minute)
	a := store.Attendance{SettledThrough: t0}
	capped := store.Attendance{SettledThrough: t0, MaxMinutes: 15, TotalMinutes: 14}
	cases := []struct {
		name string
		a    store.Attendance
		at   time.Time
		want int64
	}{
		{"before start", a, t0.Add(-time.Second), 0},
		{"partial minute", a, t0.Add(59 * time.Second), 0},
		{"two minutes", a, t0.Add(125 * time.Second), 2},
		{"capped", capped, t0.Add(10 * time.Minute), 1},
	}
	for _, tc := range cases {
		if got := m.Due(tc.a, tc.at); got != tc.want {
			t.Fatalf("%s: Due = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestTickThenFinalizeBillsWholeMinutes(t *testing.T) {
	l, a := enter(t, "100", "0.10", 0)
	m := NewMeter(l, time.Minute)
	ctx := context.Background()
	at := t0.Add(125 * time.Second)

	res, err := m.Tick(ctx, a, at)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Minutes != 2 || !res.Charged.Equal(d("0.2")) {
		t.Fatalf("tick = %d min %s, want 2 min 0.2", res.Minutes, res.Charged)
	}
	if !res.Attendance.SettledThrough.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("settled through = %v", res.Attendance.SettledThrough)
	}

	final, err := m.Finalize(ctx, res.Attendance, at)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.TotalMinutes != 2 || !final.TotalCharged.Equal(d("0.2")) || !final.Held.IsZero() {
		t.Fatalf("final = %+v", final)
	}
	w := wallet(t, l)
	if !w.Balance.Equal(d("99.8")) || !w.Frozen.IsZero() || !w.TotalSpent.Equal(d("0.2")) {
		t.Fatalf("wallet = %+v, want balance 99.8", w)
	}
}

func TestTickReportsInsufficientCredits(t *testing.T) {
	l, a := enter(t, "0.25", "0.10", 0)
	m := NewMeter(l, time.Minute)
	res, err := m.Tick(context.Background(), a, t0.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !res.Insufficient || res.Minutes != 0 {
		t.Fatalf("tick = %+v, want insufficient", res)
	}

	final, err := m.Finalize(context.Background(), a, t0.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// The reserve pays the first minute; the two the wallet cannot cover are written off.
	if final.TotalMinutes != 1 || !final.TotalCharged.Equal(d("0.1")) {
		t.Fatalf("final = %d min %s, want 1 min 0.1", final.TotalMinutes, final.TotalCharged)
	}
	w := wallet(t, l)
	if !w.Balance.Equal(d("0.15")) || !w.Frozen.IsZero() {
		t.Fatalf("wallet = %+v, want balance 0.15 frozen 0", w)
	}
}

func TestFinalizeWithinFirstMinuteReleasesReserve(t *testing.T) {
	l, a := enter(t, "5", "0.5", 0)
	m := NewMeter(l, time.Minute)
	final, err := m.Finalize(context.Background(), a, t0.Add(40*time.Second))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.TotalMinutes != 0 || !final.TotalCharged.IsZero() {
		t.Fatalf("final = %+v, want nothing billed", final)
	}
	if w := wallet(t, l); !w.Balance.Equal(d("5")) || !w.Frozen.IsZero() {
		t.Fatalf("wallet = %+v, want untouched", w)
	}
}

func TestDurationReached(t *testing.T) {
	l, a := enter(t, "60", "1.8333", 30)
	m := NewMeter(l, time.Minute)
	res, err := m.Tick(context.Background(), a, t0.Add(45*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Minutes != 30 || !DurationReached(res.Attendance) {
		t.Fatalf("tick = %d min, reached %v, want 30 true", res.Minutes, DurationReached(res.Attendance))
	}
	if !res.Charged.Equal(d("54.999")) {
		t.Fatalf("charged = %s, want 54.999", res.Charged)
	}
}

func TestFlatPriceCollectedOnLastMinute(t *testing.T) {
	l, a := enter(t, "20", "0.6666", 15)
	a.FlatPrice = decimal.NewNullDecimal(d("10"))
	m := NewMeter(l, time.Minute)
	ctx := context.Background()

	res, err := m.Tick(ctx, a, t0.Add(14*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !res.Charged.Equal(d("9.3324")) {
		t.Fatalf("first 14 minutes charged = %s, want 9.3324", res.Charged)
	}
	res, err = m.Tick(ctx, res.Attendance, t0.Add(16*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Minutes != 1 || !res.Charged.Equal(d("0.6676")) {
		t.Fatalf("last minute = %d charged %s, want 1 charged 0.6676", res.Minutes, res.Charged)
	}
	if !res.Attendance.TotalCharged.Equal(d("10")) {
		t.Fatalf("total charged = %s, want 10", res.Attendance.TotalCharged)
	}
	out, err := m.Finalize(ctx, res.Attendance, t0.Add(16*time.Minute))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if w := wallet(t, l); !w.Balance.Equal(d("10")) || !w.Frozen.IsZero() {
		t.Fatalf("wallet = %+v, want balance 10 frozen 0", w)
	}
	if !out.TotalCharged.Equal(d("10")) {
		t.Fatalf("finalized charged = %s, want 10", out.TotalCharged)
	}
}

func TestFlatPriceFromReserveAtClose(t *testing.T) {
	l, a := enter(t, "20", "0.6666", 15)
	a.FlatPrice = decimal.NewNullDecimal(d("10"))
	m := NewMeter(l, time.Minute)
	ctx := context.Background()

	res, err := m.Tick(ctx, a, t0.Add(14*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	out, err := m.Finalize(ctx, res.Attendance, t0.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if out.TotalMinutes != 15 || !out.TotalCharged.Equal(d("10")) {
		t.Fatalf("attendance = %d min charged %s, want 15 and 10", out.TotalMinutes, out.TotalCharged)
	}
	if w := wallet(t, l); !w.Balance.Equal(d("10")) || !w.Frozen.IsZero() {
		t.Fatalf("wallet = %+v, want balance 10 frozen 0", w)
	}
}
