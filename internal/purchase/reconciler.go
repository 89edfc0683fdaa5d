// Package purchase applies confirmed payment events to wallets. Ledger
// effects carry idempotency keys derived from the purchase id, so replaying
// an event never credits or debits twice.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/keylock"
	"stream-billing/internal/ledger"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreatePurchase(ctx context.Context, p store.Purchase) (store.Purchase, error)
	GetPurchase(ctx context.Context, id string) (*store.Purchase, error)
	GetPurchaseByGatewayRef(ctx context.Context, ref string) (*store.Purchase, error)
	MutatePurchase(ctx context.Context, id string, fn func(*store.Purchase) error) (store.Purchase, error)
}

type Wallets interface {
	Credit(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
	Wallet(ctx context.Context, accountID int64) (store.Wallet, error)
}

type Notifier interface {
	Notify(ev alert.Event)
}

type Reconciler struct {
	store   Store
	wallets Wallets
	alerts  Notifier
	locks   *keylock.Map[string]
	now     func() time.Time
}

func NewReconciler(s Store, w Wallets) *Reconciler {
	return &Reconciler{store: s, wallets: w, locks: keylock.New[string](), now: func() time.Time { return time.Now().UTC() }}
}

func (r *Reconciler) WithNotifier(n Notifier) *Reconciler {
	r.alerts = n
	return r
}

func creditRef(p store.Purchase) ledger.Ref {
	return ledger.Ref{Type: "purchase", ID: p.ID, Key: "purchase:" + p.ID + ":credit"}
}

func debitRef(p store.Purchase) ledger.Ref {
	return ledger.Ref{Type: "purchase", ID: p.ID, Key: "purchase:" + p.ID + ":debit"}
}

// CreatePending records a purchase attempt before the gateway confirms it.
func (r *Reconciler) CreatePending(ctx context.Context, cmd command.CreatePurchase) (store.Purchase, error) {
	if err := command.Validate(cmd); err != nil {
		return store.Purchase{}, err
	}
	final := cmd.AmountCharged.Sub(cmd.DiscountApplied)
	if final.IsNegative() {
		return store.Purchase{}, apperr.Invalid("discount_applied", "exceeds amount_charged")
	}
	p, err := r.store.CreatePurchase(ctx, store.Purchase{
		ID:               store.NewID(),
		AccountID:        cmd.AccountID,
		CreditsPurchased: cmd.CreditsPurchased,
		AmountCharged:    cmd.AmountCharged,
		DiscountApplied:  cmd.DiscountApplied,
		FinalAmount:      final,
		Status:           store.PurchasePending,
		GatewayRef:       cmd.GatewayRef,
		DeficitAmount:    decimal.Zero,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return store.Purchase{}, apperr.Invalid("gateway_ref", "already recorded")
	}
	if err != nil {
		return store.Purchase{}, err
	}
	log.Info().Str("purchase_id", p.ID).Int64("account_id", p.AccountID).Str("credits", p.CreditsPurchased.String()).
		Str("final_amount", p.FinalAmount.String()).Msg("purchase pending")
	return p, nil
}

func (r *Reconciler) Get(ctx context.Context, id string) (store.Purchase, error) {
	p, err := r.store.GetPurchase(ctx, id)
	if err != nil {
		return store.Purchase{}, err
	}
	return *p, nil
}

func (r *Reconciler) resolve(ctx context.Context, ev command.PaymentEvent) (*store.Purchase, error) {
	if ev.PurchaseID != "" {
		return r.store.GetPurchase(ctx, ev.PurchaseID)
	}
	return r.store.GetPurchaseByGatewayRef(ctx, ev.GatewayRef)
}

// Apply moves a purchase along Pending -> Completed | Failed and
// Completed -> Refunded. A refund the wallet cannot cover parks the purchase
// in deficit_refund and returns ErrDeficitRefund. Replays of an applied
// event return the purchase unchanged.
func (r *Reconciler) Apply(ctx context.Context, ev command.PaymentEvent) (store.Purchase, error) {
	if err := command.Validate(ev); err != nil {
		return store.Purchase{}, err
	}
	found, err := r.resolve(ctx, ev)
	if err != nil {
		return store.Purchase{}, err
	}
	unlock := r.locks.Lock(found.ID)
	defer unlock()
	cur, err := r.store.GetPurchase(ctx, found.ID)
	if err != nil {
		return store.Purchase{}, err
	}
	p := *cur

	var out store.Purchase
	switch store.PurchaseStatus(ev.Status) {
	case store.PurchaseCompleted:
		out, err = r.complete(ctx, p, ev)
	case store.PurchaseFailed:
		out, err = r.fail(ctx, p, ev)
	case store.PurchaseRefunded:
		out, err = r.refund(ctx, p)
	default:
		return p, apperr.Invalid("status", "unsupported")
	}
	if err == nil {
		metricEventsApplied.Add(ev.Status, 1)
	}
	return out, err
}

func (r *Reconciler) complete(ctx context.Context, p store.Purchase, ev command.PaymentEvent) (store.Purchase, error) {
	switch p.Status {
	case store.PurchaseCompleted, store.PurchaseRefunded, store.PurchaseDeficitRefund:
		return p, nil
	case store.PurchaseFailed:
		return p, apperr.Transition("purchase", string(p.Status), string(store.PurchaseCompleted))
	}
	if _, err := r.wallets.Credit(ctx, p.AccountID, p.CreditsPurchased, creditRef(p)); err != nil {
		return p, fmt.Errorf("credit purchase: %w", err)
	}
	now := r.now()
	out, err := r.store.MutatePurchase(ctx, p.ID, func(p *store.Purchase) error {
		p.Status = store.PurchaseCompleted
		p.CompletedAt = &now
		if ev.GatewayRef != "" {
			p.GatewayRef = ev.GatewayRef
		}
		return nil
	})
	if err != nil {
		return p, err
	}
	metricCreditsPurchased.Add(out.CreditsPurchased.IntPart())
	log.Info().Str("purchase_id", out.ID).Int64("account_id", out.AccountID).Str("credits", out.CreditsPurchased.String()).Msg("purchase completed")
	return out, nil
}

func (r *Reconciler) fail(ctx context.Context, p store.Purchase, ev command.PaymentEvent) (store.Purchase, error) {
	switch p.Status {
	case store.PurchaseFailed:
		return p, nil
	case store.PurchasePending:
	default:
		return p, apperr.Transition("purchase", string(p.Status), string(store.PurchaseFailed))
	}
	out, err := r.store.MutatePurchase(ctx, p.ID, func(p *store.Purchase) error {
		p.Status = store.PurchaseFailed
		p.FailureReason = ev.Reason
		return nil
	})
	if err != nil {
		return p, err
	}
	log.Info().Str("purchase_id", out.ID).Str("reason", out.FailureReason).Msg("purchase failed")
	return out, nil
}

func (r *Reconciler) refund(ctx context.Context, p store.Purchase) (store.Purchase, error) {
	switch p.Status {
	case store.PurchaseRefunded:
		return p, nil
	case store.PurchaseDeficitRefund:
		return p, fmt.Errorf("%w: purchase %s owes %s", apperr.ErrDeficitRefund, p.ID, p.DeficitAmount)
	case store.PurchaseCompleted:
	default:
		return p, apperr.Transition("purchase", string(p.Status), string(store.PurchaseRefunded))
	}
	return r.reverse(ctx, p)
}

// RetryDeficit re-attempts the debit of a refund parked in deficit_refund.
func (r *Reconciler) RetryDeficit(ctx context.Context, purchaseID string) (store.Purchase, error) {
	unlock := r.locks.Lock(purchaseID)
	defer unlock()
	cur, err := r.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return store.Purchase{}, err
	}
	if cur.Status != store.PurchaseDeficitRefund {
		return *cur, apperr.Transition("purchase", string(cur.Status), string(store.PurchaseRefunded))
	}
	return r.reverse(ctx, *cur)
}

func (r *Reconciler) reverse(ctx context.Context, p store.Purchase) (store.Purchase, error) {
	_, err := r.wallets.Debit(ctx, p.AccountID, p.CreditsPurchased, debitRef(p))
	if errors.Is(err, apperr.ErrInsufficientCredits) {
		return r.parkDeficit(ctx, p)
	}
	if err != nil {
		return p, fmt.Errorf("debit refund: %w", err)
	}
	now := r.now()
	out, err := r.store.MutatePurchase(ctx, p.ID, func(p *store.Purchase) error {
		p.Status = store.PurchaseRefunded
		p.RefundedAt = &now
		p.DeficitAmount = decimal.Zero
		return nil
	})
	if err != nil {
		return p, err
	}
	log.Info().Str("purchase_id", out.ID).Int64("account_id", out.AccountID).Msg("purchase refunded")
	return out, nil
}

func (r *Reconciler) parkDeficit(ctx context.Context, p store.Purchase) (store.Purchase, error) {
	deficit := p.CreditsPurchased
	if w, err := r.wallets.Wallet(ctx, p.AccountID); err == nil {
		deficit = p.CreditsPurchased.Sub(w.Balance)
	}
	first := p.Status != store.PurchaseDeficitRefund
	out, err := r.store.MutatePurchase(ctx, p.ID, func(p *store.Purchase) error {
		p.Status = store.PurchaseDeficitRefund
		p.DeficitAmount = deficit
		return nil
	})
	if err != nil {
		return p, err
	}
	log.Warn().Str("purchase_id", out.ID).Int64("account_id", out.AccountID).Str("deficit", deficit.String()).
		Msg("refund exceeds balance, parked for manual reconciliation")
	if first {
		metricDeficitRefunds.Add(1)
		if r.alerts != nil {
			r.alerts.Notify(alert.Event{
				Kind:  alert.KindDeficitRefund,
				Title: "Refund exceeds wallet balance",
				Key:   out.ID,
				Fields: []alert.Field{
					{Name: "purchase", Value: out.ID},
					{Name: "account_id", Value: fmt.Sprint(out.AccountID)},
					{Name: "credits", Value: out.CreditsPurchased.String()},
					{Name: "deficit", Value: deficit.String()},
				},
				At: r.now(),
			})
		}
	}
	return out, fmt.Errorf("%w: purchase %s owes %s", apperr.ErrDeficitRefund, out.ID, deficit)
}
