package purchase

import (
	"context"
	"errors"
	"testing"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/ledger"
	"stream-billing/internal/store"
	"stream-billing/internal/store/memory"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct{ events []alert.Event }

func (r *recorder) Notify(ev alert.Event) { r.events = append(r.events, ev) }

func setup(t *testing.T) (*Reconciler, *ledger.Ledger, *recorder) {
	t.Helper()
	st := memory.New()
	l := ledger.New(st)
	rec := &recorder{}
	return NewReconciler(st, l).WithNotifier(rec), l, rec
}

func pending(t *testing.T, r *Reconciler, credits string) store.Purchase {
	t.Helper()
	p, err := r.CreatePending(context.Background(), command.CreatePurchase{
		AccountID: 9, CreditsPurchased: d(credits), AmountCharged: d("12.99"), DiscountApplied: d("3.00"), GatewayRef: "gw-" + credits,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func balance(t *testing.T, l *ledger.Ledger) decimal.Decimal {
	t.Helper()
	w, err := l.Wallet(context.Background(), 9)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w.Balance
}

func TestCompletedPurchaseCreditsOnce(t *testing.T) {
	r, l, _ := setup(t)
	ctx := context.Background()
	p := pending(t, r, "50")
	if !p.FinalAmount.Equal(d("9.99")) || p.Status != store.PurchasePending {
		t.Fatalf("pending = %+v, want final 9.99", p)
	}

	for i := 0; i < 2; i++ {
		out, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "completed"})
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if out.Status != store.PurchaseCompleted || out.CompletedAt == nil {
			t.Fatalf("status = %s, want completed", out.Status)
		}
	}
	if b := balance(t, l); !b.Equal(d("50")) {
		t.Fatalf("balance = %s, want 50", b)
	}
}

func TestApplyByGatewayRef(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	p := pending(t, r, "20")
	out, err := r.Apply(ctx, command.PaymentEvent{GatewayRef: p.GatewayRef, Status: "failed", Reason: "card declined"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Status != store.PurchaseFailed || out.FailureReason != "card declined" {
		t.Fatalf("purchase = %+v", out)
	}
	if _, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "completed"}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("complete failed err = %v, want invalid_transition", err)
	}
}

func TestTransitions(t *testing.T) {
	r, _, _ := setup(t)
	ctx := context.Background()
	p := pending(t, r, "10")
	if _, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "refunded"}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("refund pending err = %v, want invalid_transition", err)
	}
	if _, err := r.Apply(ctx, command.PaymentEvent{Status: "completed"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("no reference err = %v, want validation_error", err)
	}
	if _, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: "missing", Status: "completed"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing err = %v, want not_found", err)
	}
	if _, err := r.CreatePending(ctx, command.CreatePurchase{AccountID: 9, CreditsPurchased: d("10"), AmountCharged: d("1"), DiscountApplied: d("2")}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("discount above charge err = %v, want validation_error", err)
	}
}

func TestRefundDebitsWallet(t *testing.T) {
	r, l, rec := setup(t)
	ctx := context.Background()
	p := pending(t, r, "30")
	if _, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	out, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "refunded"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if out.Status != store.PurchaseRefunded || out.RefundedAt == nil {
		t.Fatalf("purchase = %+v, want refunded", out)
	}
	if b := balance(t, l); !b.IsZero() {
		t.Fatalf("balance = %s, want 0", b)
	}
	if len(rec.events) != 0 {
		t.Fatalf("alerts = %d, want 0", len(rec.events))
	}
}

func TestRefundOfSpentCreditsParksDeficit(t *testing.T) {
	r, l, rec := setup(t)
	ctx := context.Background()
	p := pending(t, r, "50")
	if _, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "completed"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := l.Debit(ctx, 9, d("45"), ledger.Ref{Type: "test"}); err != nil {
		t.Fatalf("spend: %v", err)
	}

	out, err := r.Apply(ctx, command.PaymentEvent{PurchaseID: p.ID, Status: "refunded"})
	if !errors.Is(err, apperr.ErrDeficitRefund) {
		t.Fatalf("err = %v, want deficit_refund", err)
	}
	if out.Status != store.PurchaseDeficitRefund || !out.DeficitAmount.Equal(d("45")) {
		t.Fatalf("purchase = %s deficit %s, want deficit_refund 45", out.Status, out.DeficitAmount)
	}
	if b := balance(t, l); !b.Equal(d("5")) {
		t.Fatalf("balance = %s, want 5 untouched", b)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != alert.KindDeficitRefund {
		t.Fatalf("alerts = %+v, want one deficit_refund", rec.events)
	}

	if _, err := r.RetryDeficit(ctx, p.ID); !errors.Is(err, apperr.ErrDeficitRefund) {
		t.Fatalf("early retry err = %v, want deficit_refund", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("retry alerted again")
	}
	if _, err := l.Credit(ctx, 9, d("45"), ledger.Ref{Type: "test"}); err != nil {
		t.Fatalf("top up: %v", err)
	}
	out, err = r.RetryDeficit(ctx, p.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Status != store.PurchaseRefunded || !out.DeficitAmount.IsZero() {
		t.Fatalf("purchase = %+v, want refunded", out)
	}
	if b := balance(t, l); !b.IsZero() {
		t.Fatalf("balance = %s, want 0", b)
	}
	if _, err := r.RetryDeficit(ctx, p.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("retry refunded err = %v, want invalid_transition", err)
	}
}
