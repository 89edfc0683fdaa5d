// Package billing settles attendances minute by minute and drives the
// periodic metering of every open attendance.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/ledger"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Wallets interface {
	Extend(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
	Capture(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
	Release(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
}

// Meter holds the settlement arithmetic. An attendance reserves Held credits
// at entry; whole minutes past SettledThrough are billed, partial minutes
// never are.
type Meter struct {
	wallets Wallets
	minute  time.Duration
}

func NewMeter(w Wallets, minute time.Duration) *Meter {
	if minute <= 0 {
		minute = time.Minute
	}
	return &Meter{wallets: w, minute: minute}
}

func (m *Meter) Minute() time.Duration { return m.minute }

// Due is the number of whole minutes billable at now, capped by the
// attendance's purchased duration when it has one.
func (m *Meter) Due(a store.Attendance, now time.Time) int64 {
	if !now.After(a.SettledThrough) {
		return 0
	}
	n := int64(now.Sub(a.SettledThrough) / m.minute)
	if a.MaxMinutes > 0 {
		if left := int64(a.MaxMinutes) - a.TotalMinutes; n > left {
			n = left
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// DurationReached reports whether a capped attendance has used its time.
func DurationReached(a store.Attendance) bool {
	return a.MaxMinutes > 0 && a.TotalMinutes >= int64(a.MaxMinutes)
}

type TickResult struct {
	Attendance   store.Attendance
	Minutes      int64
	Charged      decimal.Decimal
	Insufficient bool
}

func ref(a store.Attendance) ledger.Ref {
	return ledger.Ref{Type: "attendance", ID: a.ID}
}

// cost is what n more minutes of a bill. The minute that completes a
// flat-priced attendance also collects what the truncated rate left over.
func cost(a store.Attendance, n int64) decimal.Decimal {
	amount := a.RatePerMinute.Mul(decimal.NewFromInt(n))
	if a.FlatPrice.Valid && a.MaxMinutes > 0 && a.TotalMinutes+n == int64(a.MaxMinutes) {
		if rest := a.FlatPrice.Decimal.Sub(a.TotalCharged); rest.GreaterThan(amount) {
			return rest
		}
	}
	return amount
}

func (m *Meter) advance(a *store.Attendance, minutes int64, amount decimal.Decimal) {
	a.TotalMinutes += minutes
	a.TotalCharged = a.TotalCharged.Add(amount)
	a.SettledThrough = a.SettledThrough.Add(time.Duration(minutes) * m.minute)
}

// Tick bills the minutes elapsed since the last boundary: extend the hold by
// their cost, then capture it. An unaffordable extension is reported through
// Insufficient with the attendance untouched.
func (m *Meter) Tick(ctx context.Context, a store.Attendance, now time.Time) (TickResult, error) {
	res := TickResult{Attendance: a, Charged: decimal.Zero}
	n := m.Due(a, now)
	if n == 0 {
		return res, nil
	}
	amount := cost(a, n)
	if _, err := m.wallets.Extend(ctx, a.ViewerID, amount, ref(a)); err != nil {
		if errors.Is(err, apperr.ErrInsufficientCredits) {
			res.Insufficient = true
			return res, nil
		}
		return res, fmt.Errorf("extend hold: %w", err)
	}
	if _, err := m.wallets.Capture(ctx, a.ViewerID, amount, ref(a)); err != nil {
		// The extension is still frozen; track it so the final release returns it.
		res.Attendance.Held = a.Held.Add(amount)
		return res, fmt.Errorf("capture minutes: %w", err)
	}
	m.advance(&res.Attendance, n, amount)
	res.Minutes = n
	res.Charged = amount
	return res, nil
}

// Finalize settles an attendance that is leaving at the given instant. The
// entry reserve pays for outstanding minutes first, the rest is extended and
// captured, and whatever remains of the reserve is released. Minutes the
// viewer can no longer afford are not billed. The returned attendance
// reflects every ledger effect applied, also when an error is returned.
func (m *Meter) Finalize(ctx context.Context, a store.Attendance, at time.Time) (store.Attendance, error) {
	n := m.Due(a, at)
	if n > 0 && a.Held.IsPositive() {
		covered := a.Held.Div(a.RatePerMinute).Floor().IntPart()
		if covered > n {
			covered = n
		}
		amount := cost(a, covered)
		for covered > 0 && amount.GreaterThan(a.Held) {
			covered--
			amount = cost(a, covered)
		}
		if covered > 0 {
			if _, err := m.wallets.Capture(ctx, a.ViewerID, amount, ref(a)); err != nil {
				return a, fmt.Errorf("capture reserve: %w", err)
			}
			a.Held = a.Held.Sub(amount)
			m.advance(&a, covered, amount)
			n -= covered
		}
	}
	if n > 0 {
		amount := cost(a, n)
		_, err := m.wallets.Extend(ctx, a.ViewerID, amount, ref(a))
		switch {
		case err == nil:
			if _, err := m.wallets.Capture(ctx, a.ViewerID, amount, ref(a)); err != nil {
				a.Held = a.Held.Add(amount)
				return a, fmt.Errorf("capture final minutes: %w", err)
			}
			m.advance(&a, n, amount)
		case errors.Is(err, apperr.ErrInsufficientCredits):
			log.Warn().Str("attendance_id", a.ID).Int64("viewer_id", a.ViewerID).Int64("minutes", n).
				Msg("final minutes unaffordable, not billed")
		default:
			return a, fmt.Errorf("extend final minutes: %w", err)
		}
	}
	if a.Held.IsPositive() {
		if _, err := m.wallets.Release(ctx, a.ViewerID, a.Held, ref(a)); err != nil {
			return a, fmt.Errorf("release hold: %w", err)
		}
		a.Held = decimal.Zero
	}
	return a, nil
}
