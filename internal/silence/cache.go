package silence

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"sre-platform/internal/models"
)

const cacheKey = "silences"

// Lister is the read side of the record store.
type Lister interface {
	List(ctx context.Context, collection string, p models.ListParams) (models.ListResult, error)
}

// Cache keeps the configured silences for a short TTL so matching an
// incident does not hit the store every time.
type Cache struct {
	src        Lister
	collection string
	cache      *ttlcache.Cache[string, []models.Silence]
	logger     *zap.Logger
}

func NewCache(src Lister, collection string, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		src:        src,
		collection: collection,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []models.Silence](ttl),
			ttlcache.WithDisableTouchOnHit[string, []models.Silence](),
		),
		logger: logger.Named("silence"),
	}
}

// All returns every stored silence.
func (c *Cache) All(ctx context.Context) ([]models.Silence, error) {
	if item := c.cache.Get(cacheKey); item != nil {
		return item.Value(), nil
	}
	res, err := c.src.List(ctx, c.collection, models.ListParams{})
	if err != nil {
		return nil, fmt.Errorf("load silences: %w", err)
	}
	out := make([]models.Silence, 0, len(res.Items))
	for _, doc := range res.Items {
		var s models.Silence
		if err := models.Decode(doc, &s); err != nil {
			c.logger.Warn("skipping undecodable silence", zap.String("id", doc.ID()), zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	c.cache.Set(cacheKey, out, ttlcache.DefaultTTL)
	return out, nil
}

// Match returns the silence suppressing an incident with labels at the
// given time, or nil.
func (c *Cache) Match(ctx context.Context, labels map[string]string, at time.Time) (*models.Silence, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return Silenced(all, labels, at), nil
}

// Invalidate drops the cached set; the next lookup reloads it.
func (c *Cache) Invalidate() {
	c.cache.DeleteAll()
}
