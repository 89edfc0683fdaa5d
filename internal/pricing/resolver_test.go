package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/ledger"
	"stream-billing/internal/store"
	"stream-billing/internal/store/memory"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newResolver(t *testing.T) (*Resolver, *memory.Store, *ledger.Ledger) {
	t.Helper()
	st := memory.New()
	if err := st.EnsureDefaultPackages(context.Background()); err != nil {
		t.Fatalf("seed packages: %v", err)
	}
	l := ledger.New(st)
	r := NewResolver(st, st, st, l)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, st, l
}

func TestPyramidRateAppliesMembershipDiscount(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()
	room := store.Room{ID: 1, RatePerMinute: d("0.50")}
	past := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = st.UpsertMembership(ctx, store.Membership{AccountID: 2, DiscountPercentage: d("20")})
	_ = st.UpsertMembership(ctx, store.Membership{AccountID: 3, DiscountPercentage: d("20"), ExpiresAt: &past})
	_ = st.UpsertMembership(ctx, store.Membership{AccountID: 4, DiscountPercentage: d("33.33"), ExpiresAt: &future})
	_ = st.UpsertMembership(ctx, store.Membership{AccountID: 5, DiscountPercentage: d("100")})

	cases := []struct {
		viewer  int64
		want    string
		wantErr error
	}{
		{viewer: 1, want: "0.5"},
		{viewer: 2, want: "0.4"},
		{viewer: 3, want: "0.5"},
		{viewer: 4, want: "0.3333"},
		{viewer: 5, wantErr: apperr.ErrValidation},
	}
	for _, tc := range cases {
		q, err := r.Pyramid(ctx, room, tc.viewer)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("viewer %d: err = %v, want %v", tc.viewer, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("viewer %d: %v", tc.viewer, err)
		}
		if !q.RatePerMinute.Equal(d(tc.want)) {
			t.Fatalf("viewer %d: rate = %s, want %s", tc.viewer, q.RatePerMinute, tc.want)
		}
		if q.Source != SourceRoom || q.MaxMinutes != 0 {
			t.Fatalf("viewer %d: quote = %+v", tc.viewer, q)
		}
	}
}

func TestCam2CamPrefersStreamerTier(t *testing.T) {
	r, st, _ := newResolver(t)
	ctx := context.Background()
	_, _ = st.UpsertPricingTier(ctx, store.PricingTier{StreamerID: 10, Rate30: decimal.NewNullDecimal(d("45"))})

	q, err := r.Cam2Cam(ctx, 10, 20, 30)
	if err != nil {
		t.Fatalf("Cam2Cam() error = %v", err)
	}
	if q.Source != SourceTier || !q.RatePerMinute.Equal(d("1.5")) || q.MaxMinutes != 30 {
		t.Fatalf("quote = %+v, want tier 1.5/min for 30 minutes", q)
	}
	if !q.Price.Valid || !q.Price.Decimal.Equal(d("45")) {
		t.Fatalf("price = %v, want 45", q.Price)
	}
}

func TestCam2CamFallsBackToCatalogWithMinimum(t *testing.T) {
	r, st, l := newResolver(t)
	ctx := context.Background()
	_, _ = st.UpsertPricingTier(ctx, store.PricingTier{StreamerID: 10, Rate30: decimal.NewNullDecimal(d("45"))})

	if _, err := r.Cam2Cam(ctx, 10, 20, 15); !errors.Is(err, apperr.ErrBelowMinimumCredits) {
		t.Fatalf("err = %v, want ErrBelowMinimumCredits", err)
	}
	if _, err := l.Credit(ctx, 20, d("30"), ledger.Ref{Type: "test"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	q, err := r.Cam2Cam(ctx, 10, 20, 15)
	if err != nil {
		t.Fatalf("Cam2Cam() error = %v", err)
	}
	if q.Source != SourcePackage || !q.RatePerMinute.Equal(d("2")) || q.PackageID == 0 {
		t.Fatalf("quote = %+v, want package 2/min", q)
	}
	if _, err := r.Cam2Cam(ctx, 11, 20, 20); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown duration err = %v, want validation error", err)
	}
}

func TestPerMinuteTruncates(t *testing.T) {
	if got := perMinute(d("55"), 30); !got.Equal(d("1.8333")) {
		t.Fatalf("perMinute(55, 30) = %s, want 1.8333", got)
	}
}
