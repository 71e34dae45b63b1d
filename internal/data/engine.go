package data

import (
	"context"

	"leakdetector/internal/conf"
	"leakdetector/internal/pkg/breaker"
	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/judge"
	"leakdetector/internal/pkg/merge"
	"leakdetector/internal/pkg/provider"
	pkgredis "leakdetector/internal/pkg/redis"
	"leakdetector/internal/pkg/search"

	"github.com/go-kratos/kratos/v2/log"
)

const breakerKeyPrefix = "leakdetector:breaker:"

// NewHasher creates the shared PerceptualHasher.
func NewHasher(ac *conf.Analysis) *hash.PerceptualHasher {
	return hash.NewPerceptualHasher(hash.WithMaxPixels(ac.Matching.MaxPixels))
}

// NewThresholds builds the near-duplicate rule, keeping defaults for unset
// fields.
func NewThresholds(ac *conf.Analysis) hash.Thresholds {
	th := hash.DefaultThresholds()
	m := ac.Matching
	if m.PHash > 0 {
		th.PHash = m.PHash
	}
	if m.DHash > 0 {
		th.DHash = m.DHash
	}
	if m.AHash > 0 {
		th.AHash = m.AHash
	}
	if m.Max > 0 {
		th.Max = m.Max
	}
	if m.HighestTierMax > 0 {
		th.HighestTierMax = m.HighestTierMax
	}
	if m.HighestConfidence > 0 {
		th.HighestConfidence = m.HighestConfidence
	}
	if m.HighConfidence > 0 {
		th.HighConfidence = m.HighConfidence
	}
	return th
}

// NewThumbnailVerifier creates the verifier shared by the URL-based
// providers. cache may be nil.
func NewThumbnailVerifier(hasher *hash.PerceptualHasher, th hash.Thresholds, cache provider.ThumbnailCache, pc *conf.Providers, logger log.Logger) *provider.ThumbnailVerifier {
	return provider.NewThumbnailVerifier(hasher, th, cache, pc.ThumbnailWorkers, logger)
}

// NewProviders builds every enabled provider in a fixed order. A provider
// without credentials is still built and reports itself unavailable.
func NewProviders(pc *conf.Providers, verifier *provider.ThumbnailVerifier, logger log.Logger) ([]provider.Provider, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/providers"))
	var providers []provider.Provider

	if pc.IsEnabled(provider.NameVision) && pc.Vision != nil {
		config := provider.DefaultVisionConfig()
		config.APIKey = pc.Vision.APIKey
		config.Endpoint = pc.Vision.Endpoint
		if pc.Vision.MaxResults > 0 {
			config.MaxResults = pc.Vision.MaxResults
		}
		if d := pc.Vision.Timeout.AsDuration(); d > 0 {
			config.Timeout = d
		}
		if pc.Vision.RateLimit > 0 {
			config.RateLimit = pc.Vision.RateLimit
		}
		v, err := provider.NewVision(context.Background(), config, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, v)
	}
	if pc.IsEnabled(provider.NameSerpAPI) && pc.SerpAPI != nil {
		providers = append(providers, provider.NewSerpAPI(serpConfig(pc.SerpAPI), verifier, logger))
	}
	if pc.IsEnabled(provider.NameYandex) && pc.Yandex != nil {
		providers = append(providers, provider.NewYandex(serpConfig(pc.Yandex), verifier, logger))
	}

	for _, p := range providers {
		if !p.IsAvailable() {
			helper.Warnf("provider %s has no credentials and will be skipped", p.Name())
		}
	}
	if len(providers) == 0 {
		helper.Warn("no providers configured, every analysis will report a total failure")
	}
	return providers, nil
}

// serpConfig maps configuration onto SerpConfig. Zero fields are filled
// with the engine defaults by the provider constructor.
func serpConfig(sp *conf.SerpProvider) provider.SerpConfig {
	return provider.SerpConfig{
		APIKey:     sp.APIKey,
		BaseURL:    sp.BaseURL,
		Engine:     sp.Engine,
		MaxResults: sp.MaxResults,
		Timeout:    sp.Timeout.AsDuration(),
		RateLimit:  sp.RateLimit,
	}
}

// NewBreaker keeps breaker state in Redis when available so that every
// process sharing the credentials sees the same state.
func NewBreaker(cache pkgredis.Cache, ac *conf.Analysis, logger log.Logger) *breaker.Breaker {
	var store breaker.Store
	if cache != nil {
		store = breaker.NewRedisStore(cache, breakerKeyPrefix)
	} else {
		store = breaker.NewMemoryStore()
	}
	return breaker.New(store, breaker.Config{
		FailureThreshold: ac.Breaker.FailureThreshold,
		Cooldown:         ac.Breaker.Cooldown.AsDuration(),
	}, logger)
}

// NewOrchestrator creates the search orchestrator.
func NewOrchestrator(providers []provider.Provider, b *breaker.Breaker, ac *conf.Analysis, logger log.Logger) *search.Orchestrator {
	s := ac.Search
	return search.NewOrchestrator(providers, b, search.Config{
		PerProviderTimeout: s.PerProviderTimeout.AsDuration(),
		OverallDeadline:    s.OverallDeadline.AsDuration(),
		MaxAttempts:        s.MaxAttempts,
		BaseBackoff:        s.BaseBackoff.AsDuration(),
		MaxBackoff:         s.MaxBackoff.AsDuration(),
	}, logger)
}

// NewMerger creates the result merger.
func NewMerger(ac *conf.Analysis) *merge.Merger {
	config := merge.DefaultConfig()
	if ac.Merge.CrossValidationBonus > 0 {
		config.CrossValidationBonus = ac.Merge.CrossValidationBonus
	}
	return merge.NewMerger(config)
}

// NewClassifier creates the judgment classifier.
func NewClassifier(ac *conf.Analysis) *judge.Classifier {
	config := judge.DefaultConfig()
	config.AllowDomains = ac.Judge.AllowDomains
	config.DenyDomains = ac.Judge.DenyDomains
	if ac.Judge.DangerousConfidence > 0 {
		config.DangerousConfidence = ac.Judge.DangerousConfidence
	}
	if ac.Judge.WarningConfidence > 0 {
		config.WarningConfidence = ac.Judge.WarningConfidence
	}
	return judge.NewClassifier(config)
}
