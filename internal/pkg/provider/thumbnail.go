package provider

import (
	"context"

	"leakdetector/internal/pkg/hash"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const defaultThumbnailWorkers = 8

// ThumbnailCache remembers thumbnail fingerprints by URL. Implementations
// must tolerate backend failures by reporting a miss.
type ThumbnailCache interface {
	Get(ctx context.Context, url string) (*hash.Fingerprint, bool)
	Put(ctx context.Context, url string, fp *hash.Fingerprint)
}

// ThumbnailVerifier keeps only the candidates whose thumbnail is a
// near-duplicate of the query image.
type ThumbnailVerifier struct {
	hasher     *hash.PerceptualHasher
	thresholds hash.Thresholds
	cache      ThumbnailCache
	workers    int
	log        *log.Helper
}

// NewThumbnailVerifier creates a verifier. cache may be nil.
func NewThumbnailVerifier(hasher *hash.PerceptualHasher, thresholds hash.Thresholds, cache ThumbnailCache, workers int, logger log.Logger) *ThumbnailVerifier {
	if workers <= 0 {
		workers = defaultThumbnailWorkers
	}
	return &ThumbnailVerifier{
		hasher:     hasher,
		thresholds: thresholds,
		cache:      cache,
		workers:    workers,
		log:        log.NewHelper(log.With(logger, "module", "provider/thumbnail")),
	}
}

// Verify fetches every thumbnail in memory, compares it with query and
// returns the accepted candidates in input order, scored by match tier.
// Thumbnails that fail to download or decode are discarded. If ctx ends
// first, partial results are dropped and ctx.Err() is returned.
func (v *ThumbnailVerifier) Verify(ctx context.Context, query *hash.Fingerprint, candidates []RawCandidate) ([]RawCandidate, error) {
	slots := make([]*RawCandidate, len(candidates))

	var g errgroup.Group
	g.SetLimit(v.workers)
	for i := range candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			c := candidates[i]
			if c.ThumbnailURL == "" {
				return nil
			}
			fp, err := v.fingerprint(ctx, c.ThumbnailURL)
			if err != nil {
				v.log.Debugf("discarding %s: thumbnail unusable: %v", c.URL, err)
				return nil
			}
			d := hash.Compare(query, fp)
			tier := v.thresholds.Tier(d)
			if !v.thresholds.IsNearDuplicate(d) || tier == hash.TierNone {
				v.log.Debugf("discarding %s: distance %d", c.URL, d.Max)
				return nil
			}
			c.Confidence = v.thresholds.Confidence(tier)
			c.Distances = &d
			slots[i] = &c
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]RawCandidate, 0, len(candidates))
	for _, c := range slots {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (v *ThumbnailVerifier) fingerprint(ctx context.Context, url string) (*hash.Fingerprint, error) {
	if v.cache != nil {
		if fp, ok := v.cache.Get(ctx, url); ok {
			return fp, nil
		}
	}
	fp, err := v.hasher.FingerprintURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		v.cache.Put(ctx, url, fp)
	}
	return fp, nil
}
