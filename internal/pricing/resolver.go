// Package pricing resolves the per-minute rate snapshotted into an attendance.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/store"

	"github.com/shopspring/decimal"
)

// RateScale is the precision of a resolved per-minute rate. Rates are
// truncated, never rounded up.
const RateScale = 4

var hundred = decimal.NewFromInt(100)

type MembershipSource interface {
	GetMembership(ctx context.Context, accountID int64) (*store.Membership, error)
}

type TierSource interface {
	GetPricingTier(ctx context.Context, streamerID int64) (*store.PricingTier, error)
}

type CatalogSource interface {
	ListPricingPackages(ctx context.Context) ([]store.PricingPackage, error)
}

type BalanceSource interface {
	Wallet(ctx context.Context, accountID int64) (store.Wallet, error)
}

type Source string

const (
	SourceRoom    Source = "room"
	SourceTier    Source = "tier"
	SourcePackage Source = "package"
)

// Quote is the priced admission for one viewer. Cam2cam quotes also carry
// the flat Price of the whole call.
type Quote struct {
	RatePerMinute   decimal.Decimal     `json:"rate_per_minute"`
	MaxMinutes      int                 `json:"max_minutes"`
	Price           decimal.NullDecimal `json:"price"`
	DiscountPercent decimal.Decimal     `json:"discount_percent"`
	Source          Source              `json:"source"`
	PackageID       int64               `json:"package_id,omitempty"`
}

type Resolver struct {
	memberships MembershipSource
	tiers       TierSource
	catalog     CatalogSource
	balances    BalanceSource
	now         func() time.Time
}

func NewResolver(m MembershipSource, t TierSource, c CatalogSource, b BalanceSource) *Resolver {
	return &Resolver{memberships: m, tiers: t, catalog: c, balances: b, now: func() time.Time { return time.Now().UTC() }}
}

// Pyramid prices a viewer in a pyramid room: the room rate less the viewer's
// active membership discount.
func (r *Resolver) Pyramid(ctx context.Context, room store.Room, viewerID int64) (Quote, error) {
	pct, err := r.discount(ctx, viewerID)
	if err != nil {
		return Quote{}, err
	}
	rate := room.RatePerMinute.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred))).Truncate(RateScale)
	if !rate.IsPositive() {
		return Quote{}, apperr.Invalid("rate_per_minute", "resolved rate must be positive")
	}
	return Quote{RatePerMinute: rate, DiscountPercent: pct, Source: SourceRoom}, nil
}

func (r *Resolver) discount(ctx context.Context, viewerID int64) (decimal.Decimal, error) {
	if r.memberships == nil {
		return decimal.Zero, nil
	}
	m, err := r.memberships.GetMembership(ctx, viewerID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load membership: %w", err)
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(r.now()) {
		return decimal.Zero, nil
	}
	pct := m.DiscountPercentage
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	return pct, nil
}

// Cam2Cam prices a private call of the given duration. The streamer's own
// tier wins; without a rate for that duration the platform catalog applies
// and the viewer must hold the package's minimum balance.
func (r *Resolver) Cam2Cam(ctx context.Context, streamerID, viewerID int64, minutes int) (Quote, error) {
	if minutes <= 0 {
		return Quote{}, apperr.Invalid("duration_minutes", "must be positive")
	}
	tier, err := r.tiers.GetPricingTier(ctx, streamerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Quote{}, fmt.Errorf("load pricing tier: %w", err)
	}
	if tier != nil {
		if price, ok := tier.RateFor(minutes); ok {
			return Quote{
				RatePerMinute: perMinute(price, minutes),
				MaxMinutes:    minutes,
				Price:         decimal.NewNullDecimal(price),
				Source:        SourceTier,
			}, nil
		}
	}

	pkgs, err := r.catalog.ListPricingPackages(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("load pricing packages: %w", err)
	}
	for _, p := range pkgs {
		if !p.Active || p.DurationMinutes != minutes {
			continue
		}
		w, err := r.balances.Wallet(ctx, viewerID)
		if err != nil {
			return Quote{}, err
		}
		if w.Balance.LessThan(p.MinViewerCredits) {
			return Quote{}, fmt.Errorf("%w: balance %s below %s", apperr.ErrBelowMinimumCredits, w.Balance, p.MinViewerCredits)
		}
		return Quote{
			RatePerMinute: perMinute(p.CreditCost, minutes),
			MaxMinutes:    minutes,
			Price:         decimal.NewNullDecimal(p.CreditCost),
			Source:        SourcePackage,
			PackageID:     p.ID,
		}, nil
	}
	return Quote{}, apperr.Invalid("duration_minutes", fmt.Sprintf("no %d minute package", minutes))
}

// perMinute truncates, so rate x minutes can fall short of price by less
// than a cent; the meter bills that remainder with the last minute.
func perMinute(price decimal.Decimal, minutes int) decimal.Decimal {
	return price.DivRound(decimal.NewFromInt(int64(minutes)), RateScale+4).Truncate(RateScale)
}
