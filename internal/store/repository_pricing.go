package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const tierColumns = `streamer_id, streamer_handle, rate_15, rate_30, rate_45, rate_60, updated_at`

func scanTier(row pgx.Row) (PricingTier, error) {
	var t PricingTier
	if err := row.Scan(&t.StreamerID, &t.StreamerHandle, &t.Rate15, &t.Rate30, &t.Rate45, &t.Rate60, &t.UpdatedAt); err != nil {
		return PricingTier{}, mapPgError(err)
	}
	return t, nil
}

func (s *Store) GetPricingTier(ctx context.Context, streamerID int64) (*PricingTier, error) {
	t, err := scanTier(s.Pool.QueryRow(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE streamer_id = $1`, streamerID))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertPricingTier writes all four rate columns; null columns clear a rate.
func (s *Store) UpsertPricingTier(ctx context.Context, t PricingTier) (PricingTier, error) {
	var out PricingTier
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccountTx(ctx, tx, t.StreamerID); err != nil {
			return err
		}
		var err error
		out, err = scanTier(tx.QueryRow(ctx, `
			INSERT INTO pricing_tiers (streamer_id, streamer_handle, rate_15, rate_30, rate_45, rate_60, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now())
			ON CONFLICT (streamer_id) DO UPDATE
			SET streamer_handle = CASE WHEN EXCLUDED.streamer_handle = '' THEN pricing_tiers.streamer_handle ELSE EXCLUDED.streamer_handle END,
			    rate_15 = EXCLUDED.rate_15, rate_30 = EXCLUDED.rate_30,
			    rate_45 = EXCLUDED.rate_45, rate_60 = EXCLUDED.rate_60, updated_at = now()
			RETURNING `+tierColumns,
			t.StreamerID, t.StreamerHandle, t.Rate15, t.Rate30, t.Rate45, t.Rate60))
		return err
	})
	return out, err
}

// ListPricingTiers pages through tiers, optionally filtered by a handle
// substring, and returns the unpaged total.
func (s *Store) ListPricingTiers(ctx context.Context, search string, limit, offset int) ([]PricingTier, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM pricing_tiers WHERE $1 = '' OR streamer_handle ILIKE '%' || $1 || '%'
	`, search).Scan(&total); err != nil {
		return nil, 0, mapPgError(err)
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+tierColumns+` FROM pricing_tiers
		WHERE $1 = '' OR streamer_handle ILIKE '%' || $1 || '%'
		ORDER BY streamer_id ASC LIMIT $2 OFFSET $3
	`, search, limit, offset)
	if err != nil {
		return nil, 0, mapPgError(err)
	}
	defer rows.Close()
	out := []PricingTier{}
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, mapPgError(rows.Err())
}

func (s *Store) ListPricingPackages(ctx context.Context) ([]PricingPackage, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, duration_minutes, credit_cost, min_viewer_credits, display_order, active
		FROM pricing_packages WHERE active ORDER BY display_order ASC, duration_minutes ASC
	`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := []PricingPackage{}
	for rows.Next() {
		var p PricingPackage
		if err := rows.Scan(&p.ID, &p.DurationMinutes, &p.CreditCost, &p.MinViewerCredits, &p.DisplayOrder, &p.Active); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, p)
	}
	return out, mapPgError(rows.Err())
}

// DefaultPackages is the cam2cam catalog seeded on an empty database.
func DefaultPackages() []PricingPackage {
	return []PricingPackage{
		{DurationMinutes: 15, CreditCost: decimal.NewFromInt(30), MinViewerCredits: decimal.NewFromInt(30), DisplayOrder: 1, Active: true},
		{DurationMinutes: 30, CreditCost: decimal.NewFromInt(55), MinViewerCredits: decimal.NewFromInt(55), DisplayOrder: 2, Active: true},
		{DurationMinutes: 45, CreditCost: decimal.NewFromInt(80), MinViewerCredits: decimal.NewFromInt(80), DisplayOrder: 3, Active: true},
		{DurationMinutes: 60, CreditCost: decimal.NewFromInt(100), MinViewerCredits: decimal.NewFromInt(100), DisplayOrder: 4, Active: true},
	}
}

func (s *Store) EnsureDefaultPackages(ctx context.Context) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var c int
		if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM pricing_packages`).Scan(&c); err != nil {
			return err
		}
		if c > 0 {
			return nil
		}
		for _, p := range DefaultPackages() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pricing_packages (duration_minutes, credit_cost, min_viewer_credits, display_order, active)
				VALUES ($1,$2,$3,$4,$5)
			`, p.DurationMinutes, p.CreditCost, p.MinViewerCredits, p.DisplayOrder, p.Active); err != nil {
				return err
			}
		}
		return nil
	})
}
