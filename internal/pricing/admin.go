package pricing

import (
	"context"
	"errors"

	"stream-billing/internal/command"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type TierStore interface {
	TierSource
	UpsertPricingTier(ctx context.Context, t store.PricingTier) (store.PricingTier, error)
	ListPricingTiers(ctx context.Context, search string, limit, offset int) ([]store.PricingTier, int, error)
}

type Admin struct {
	tiers TierStore
}

func NewAdmin(tiers TierStore) *Admin {
	return &Admin{tiers: tiers}
}

// UpdateTier merges the given rates into the streamer's tier. In-progress
// attendances keep the rate they were admitted at.
func (a *Admin) UpdateTier(ctx context.Context, cmd command.UpdateCam2CamPricing) (store.PricingTier, error) {
	if err := command.Validate(cmd); err != nil {
		return store.PricingTier{}, err
	}
	tier := store.PricingTier{StreamerID: cmd.StreamerID}
	cur, err := a.tiers.GetPricingTier(ctx, cmd.StreamerID)
	switch {
	case err == nil:
		tier = *cur
	case !errors.Is(err, store.ErrNotFound):
		return store.PricingTier{}, err
	}
	if cmd.StreamerHandle != "" {
		tier.StreamerHandle = cmd.StreamerHandle
	}
	set := func(dst *decimal.NullDecimal, v *decimal.Decimal) {
		if v != nil {
			*dst = decimal.NewNullDecimal(*v)
		}
	}
	set(&tier.Rate15, cmd.Rate15)
	set(&tier.Rate30, cmd.Rate30)
	set(&tier.Rate45, cmd.Rate45)
	set(&tier.Rate60, cmd.Rate60)

	out, err := a.tiers.UpsertPricingTier(ctx, tier)
	if err != nil {
		return store.PricingTier{}, err
	}
	log.Info().Int64("streamer_id", out.StreamerID).Msg("cam2cam pricing updated")
	return out, nil
}

type Page struct {
	Items    []store.PricingTier `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

func (a *Admin) ListRooms(ctx context.Context, cmd command.ListCam2CamRooms) (Page, error) {
	cmd.Defaults()
	if err := command.Validate(cmd); err != nil {
		return Page{}, err
	}
	items, total, err := a.tiers.ListPricingTiers(ctx, cmd.Search, cmd.PageSize, cmd.Offset())
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: cmd.Page, PageSize: cmd.PageSize}, nil
}
