package data

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"leakdetector/internal/conf"
	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/provider"
	pkgredis "leakdetector/internal/pkg/redis"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	thumbnailKeyPrefix     = "leakdetector:thumb:"
	defaultThumbnailTTL    = 24 * time.Hour
	thumbnailCacheDeadline = 500 * time.Millisecond
)

type thumbnailCache struct {
	cache pkgredis.Cache
	ttl   time.Duration
	log   *log.Helper
}

// NewThumbnailCache returns a Redis-backed fingerprint cache for candidate
// thumbnails, or nil when Redis is not configured.
func NewThumbnailCache(cache pkgredis.Cache, c *conf.Data, logger log.Logger) provider.ThumbnailCache {
	if cache == nil {
		return nil
	}
	ttl := c.ThumbnailCacheTTL.AsDuration()
	if ttl <= 0 {
		ttl = defaultThumbnailTTL
	}
	return &thumbnailCache{
		cache: cache,
		ttl:   ttl,
		log:   log.NewHelper(log.With(logger, "module", "data/thumbnail_cache")),
	}
}

func thumbnailKey(url string) string {
	return thumbnailKeyPrefix + hex.EncodeToString(hash.FastHash(url))
}

func (c *thumbnailCache) Get(ctx context.Context, url string) (*hash.Fingerprint, bool) {
	ctx, cancel := context.WithTimeout(ctx, thumbnailCacheDeadline)
	defer cancel()

	raw, err := c.cache.GetBytes(ctx, thumbnailKey(url))
	if err != nil {
		if !errors.Is(err, pkgredis.Nil) {
			c.log.WithContext(ctx).Debugf("thumbnail cache get failed: %v", err)
		}
		return nil, false
	}
	var fp hash.Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		return nil, false
	}
	return &fp, true
}

func (c *thumbnailCache) Put(ctx context.Context, url string, fp *hash.Fingerprint) {
	raw, err := json.Marshal(fp)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, thumbnailCacheDeadline)
	defer cancel()

	if err := c.cache.SetBytes(ctx, thumbnailKey(url), raw, c.ttl); err != nil {
		c.log.WithContext(ctx).Debugf("thumbnail cache put failed: %v", err)
	}
}
