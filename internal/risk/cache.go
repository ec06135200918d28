package risk

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/redis"
)

// CachedConfidence memoizes confidence lookups in Redis. Cache failures fall through to the source.
type CachedConfidence struct {
	source ConfidenceSource
	cache  redis.Cache
	ttl    time.Duration
	logg   *logger.Logger
}

func NewCachedConfidence(source ConfidenceSource, cache redis.Cache, ttl time.Duration, logg *logger.Logger) *CachedConfidence {
	if logg == nil {
		logg = logger.Nop()
	}
	return &CachedConfidence{source: source, cache: cache, ttl: ttl, logg: logg}
}

func (c *CachedConfidence) FraudConfidence(ctx context.Context, caseID, transactionID uuid.UUID) (float64, error) {
	if c.cache == nil {
		return c.source.FraudConfidence(ctx, caseID, transactionID)
	}
	key := c.cache.CacheKey("fraud_confidence", caseID.String())
	raw, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		if v, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			return v, nil
		}
	case !redis.IsNil(err):
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "risk.confidence_cache_read_failed")
	}

	v, err := c.source.FraudConfidence(ctx, caseID, transactionID)
	if err != nil {
		return 0, err
	}
	if setErr := c.cache.Set(ctx, key, strconv.FormatFloat(v, 'f', -1, 64), c.ttl); setErr != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", setErr.Error()), "risk.confidence_cache_write_failed")
	}
	return v, nil
}
