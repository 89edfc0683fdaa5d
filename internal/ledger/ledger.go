// Package ledger implements the wallet primitives. Every operation on one
// account runs under that account's lock and lands in a single store
// transaction together with its journal entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/keylock"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places a credit amount may carry.
const Scale = 4

type WalletStore interface {
	GetWallet(ctx context.Context, accountID int64) (*store.Wallet, error)
	MutateWallet(ctx context.Context, m store.WalletMutation, fn func(*store.Wallet) (*store.LedgerEntry, error)) (store.Wallet, error)
	SetWalletHalt(ctx context.Context, accountID int64, halted bool, reason string) error
	ListLedgerEntries(ctx context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error)
}

// Notifier receives escalations for halted wallets.
type Notifier interface {
	Notify(ev alert.Event)
}

// Ref ties a mutation to the record that caused it. A non-empty Key makes the
// mutation idempotent: replaying it is a no-op.
type Ref struct {
	Type string
	ID   string
	Key  string
}

type Ledger struct {
	store  WalletStore
	locks  *keylock.Map[int64]
	alerts Notifier
}

func New(s WalletStore) *Ledger {
	return &Ledger{store: s, locks: keylock.New[int64]()}
}

// WithNotifier routes wallet halts to n.
func (l *Ledger) WithNotifier(n Notifier) *Ledger {
	l.alerts = n
	return l
}

// Freeze moves amount from balance into frozen. No partial holds.
func (l *Ledger) Freeze(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpFreeze, accountID, amount, ref, false, hold)
}

// Extend tops up an existing hold; it behaves exactly like Freeze.
func (l *Ledger) Extend(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpExtend, accountID, amount, ref, false, hold)
}

// Capture turns held credits into spent credits. A hold smaller than amount
// is a defect: the wallet is halted and ErrLedgerInconsistency returned.
func (l *Ledger) Capture(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpCapture, accountID, amount, ref, false, func(w *store.Wallet, amount decimal.Decimal) error {
		if w.Frozen.LessThan(amount) {
			return fmt.Errorf("%w: capture %s exceeds frozen %s", apperr.ErrLedgerInconsistency, amount, w.Frozen)
		}
		w.Frozen = w.Frozen.Sub(amount)
		w.TotalSpent = w.TotalSpent.Add(amount)
		return nil
	})
}

// Release returns an unused hold to the spendable balance.
func (l *Ledger) Release(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpRelease, accountID, amount, ref, false, func(w *store.Wallet, amount decimal.Decimal) error {
		if w.Frozen.LessThan(amount) {
			return fmt.Errorf("%w: release %s exceeds frozen %s", apperr.ErrLedgerInconsistency, amount, w.Frozen)
		}
		w.Frozen = w.Frozen.Sub(amount)
		w.Balance = w.Balance.Add(amount)
		return nil
	})
}

// Credit adds to the spendable balance, creating the wallet on first use.
func (l *Ledger) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpCredit, accountID, amount, ref, true, func(w *store.Wallet, amount decimal.Decimal) error {
		w.Balance = w.Balance.Add(amount)
		return nil
	})
}

// Debit removes from the spendable balance and never goes below zero.
func (l *Ledger) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, ref Ref) (store.Wallet, error) {
	return l.apply(ctx, store.OpDebit, accountID, amount, ref, false, func(w *store.Wallet, amount decimal.Decimal) error {
		if w.Balance.LessThan(amount) {
			return apperr.ErrInsufficientCredits
		}
		w.Balance = w.Balance.Sub(amount)
		return nil
	})
}

func hold(w *store.Wallet, amount decimal.Decimal) error {
	if w.Balance.LessThan(amount) {
		return apperr.ErrInsufficientCredits
	}
	w.Balance = w.Balance.Sub(amount)
	w.Frozen = w.Frozen.Add(amount)
	return nil
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Invalid("amount", "must be positive")
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return apperr.Invalid("amount", "must have at most 4 decimal places")
	}
	return nil
}

func (l *Ledger) apply(ctx context.Context, op store.LedgerOp, accountID int64, amount decimal.Decimal, ref Ref, create bool, fn func(*store.Wallet, decimal.Decimal) error) (store.Wallet, error) {
	if accountID <= 0 {
		return store.Wallet{}, apperr.Invalid("account_id", "must be positive")
	}
	if err := validAmount(amount); err != nil {
		return store.Wallet{}, err
	}
	unlock := l.locks.Lock(accountID)
	defer unlock()

	m := store.WalletMutation{AccountID: accountID, Create: create, IdempotencyKey: ref.Key}
	w, err := l.store.MutateWallet(ctx, m, func(w *store.Wallet) (*store.LedgerEntry, error) {
		if w.Halted {
			return nil, apperr.ErrWalletHalted
		}
		if err := fn(w, amount); err != nil {
			return nil, err
		}
		return &store.LedgerEntry{Op: op, Amount: amount, RefType: ref.Type, RefID: ref.ID}, nil
	})
	switch {
	case err == nil:
		log.Debug().Int64("account_id", accountID).Str("op", string(op)).Str("amount", amount.String()).
			Str("ref_type", ref.Type).Str("ref_id", ref.ID).Str("balance", w.Balance.String()).
			Str("frozen", w.Frozen.String()).Msg("wallet mutated")
		return w, nil
	case errors.Is(err, store.ErrDuplicate):
		log.Debug().Int64("account_id", accountID).Str("op", string(op)).Str("key", ref.Key).Msg("wallet mutation replayed")
		return w, nil
	case errors.Is(err, store.ErrNotFound):
		if op == store.OpCapture || op == store.OpRelease {
			err = fmt.Errorf("%w: %s on missing wallet %d", apperr.ErrLedgerInconsistency, op, accountID)
			l.halt(ctx, accountID, op, amount, err)
			return store.Wallet{}, err
		}
		return store.Wallet{}, apperr.ErrInsufficientCredits
	case errors.Is(err, apperr.ErrLedgerInconsistency):
		l.halt(ctx, accountID, op, amount, err)
		return store.Wallet{}, err
	}
	return store.Wallet{}, err
}

func (l *Ledger) halt(ctx context.Context, accountID int64, op store.LedgerOp, amount decimal.Decimal, cause error) {
	log.Error().Err(cause).Int64("account_id", accountID).Str("op", string(op)).Str("amount", amount.String()).
		Msg("ledger inconsistency, halting wallet")
	if err := l.store.SetWalletHalt(ctx, accountID, true, cause.Error()); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Int64("account_id", accountID).Msg("persist wallet halt failed")
	}
	if l.alerts != nil {
		l.alerts.Notify(alert.Event{
			Kind:  alert.KindLedgerInconsistency,
			Title: "Wallet halted",
			Key:   strconv.FormatInt(accountID, 10),
			Fields: []alert.Field{
				{Name: "account_id", Value: strconv.FormatInt(accountID, 10)},
				{Name: "op", Value: string(op)},
				{Name: "amount", Value: amount.String()},
				{Name: "cause", Value: cause.Error()},
			},
		})
	}
}

// ClearHalt re-enables mutations on a wallet halted after an inconsistency.
func (l *Ledger) ClearHalt(ctx context.Context, accountID int64) (store.Wallet, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()
	if err := l.store.SetWalletHalt(ctx, accountID, false, ""); err != nil {
		return store.Wallet{}, err
	}
	log.Warn().Int64("account_id", accountID).Msg("wallet halt cleared")
	w, err := l.store.GetWallet(ctx, accountID)
	if err != nil {
		return store.Wallet{}, err
	}
	return *w, nil
}

// Wallet returns the account's wallet. An account without one reads as an
// empty wallet; nothing is written until its first credit.
func (l *Ledger) Wallet(ctx context.Context, accountID int64) (store.Wallet, error) {
	if accountID <= 0 {
		return store.Wallet{}, apperr.Invalid("account_id", "must be positive")
	}
	w, err := l.store.GetWallet(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Wallet{AccountID: accountID, Balance: decimal.Zero, Frozen: decimal.Zero, TotalSpent: decimal.Zero}, nil
	}
	if err != nil {
		return store.Wallet{}, err
	}
	return *w, nil
}

func (l *Ledger) Entries(ctx context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, f, limit, offset)
}

// CapturedTotal sums every capture journaled for the account.
func (l *Ledger) CapturedTotal(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	const pageSize = 500
	total := decimal.Zero
	for offset := 0; ; offset += pageSize {
		entries, err := l.store.ListLedgerEntries(ctx, store.LedgerFilter{AccountID: accountID, Op: store.OpCapture}, pageSize, offset)
		if err != nil {
			return decimal.Zero, err
		}
		for _, e := range entries {
			total = total.Add(e.Amount)
		}
		if len(entries) < pageSize {
			return total, nil
		}
	}
}
