package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"stream-billing/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const catalogKey = "pricing:packages:v1"

// CachedCatalog is a read-through Redis cache in front of the package
// catalog. Redis failures fall through to the source.
type CachedCatalog struct {
	source CatalogSource
	rdb    *redis.Client
	ttl    time.Duration
}

func NewCachedCatalog(source CatalogSource, rdb *redis.Client, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedCatalog{source: source, rdb: rdb, ttl: ttl}
}

func (c *CachedCatalog) ListPricingPackages(ctx context.Context) ([]store.PricingPackage, error) {
	if c.rdb == nil {
		return c.source.ListPricingPackages(ctx)
	}
	raw, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if err == nil {
		var pkgs []store.PricingPackage
		if jerr := json.Unmarshal(raw, &pkgs); jerr == nil {
			return pkgs, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("pricing cache read failed")
	}

	pkgs, err := c.source.ListPricingPackages(ctx)
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(pkgs); jerr == nil {
		if serr := c.rdb.Set(ctx, catalogKey, b, c.ttl).Err(); serr != nil {
			log.Warn().Err(serr).Msg("pricing cache write failed")
		}
	}
	return pkgs, nil
}

// Invalidate drops the cached catalog.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, catalogKey).Err()
}
