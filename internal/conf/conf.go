// Package conf holds the process configuration, scanned once at startup by
// kratos config and passed explicitly to every constructor.
package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that decodes from "10s" style strings or
// from a number of seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		if value == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// AsDuration mirrors durationpb.Duration so call sites read the same.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Bootstrap is the root of configs/config.yaml.
type Bootstrap struct {
	Server    *Server    `json:"server"`
	Data      *Data      `json:"data"`
	Log       *Log       `json:"log"`
	Providers *Providers `json:"providers"`
	Analysis  *Analysis  `json:"analysis"`
}

// Server configures the operational gRPC endpoint (health only).
type Server struct {
	Grpc struct {
		Addr            string   `json:"addr"`
		Timeout         Duration `json:"timeout"`
		RefreshInterval Duration `json:"refresh_interval"`
	} `json:"grpc"`
}

// Log selects the process log handler.
type Log struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Data configures persistence and shared state.
type Data struct {
	Database struct {
		Driver string `json:"driver"` // postgres, sqlite, memory
		Source string `json:"source"`
		Pool   struct {
			MaxOpenConns    int32 `json:"max_open_conns"`
			MinIdleConns    int32 `json:"min_idle_conns"`
			MaxConnLifetime int32 `json:"max_conn_lifetime"` // minutes
			MaxConnIdleTime int32 `json:"max_conn_idle_time"`
		} `json:"pool"`
	} `json:"database"`
	Redis struct {
		Addr         string   `json:"addr"`
		Network      string   `json:"network"`
		Password     string   `json:"password"`
		DB           int      `json:"db"`
		ReadTimeout  Duration `json:"read_timeout"`
		WriteTimeout Duration `json:"write_timeout"`
	} `json:"redis"`
	ThumbnailCacheTTL Duration `json:"thumbnail_cache_ttl"`
}

// Providers lists the enabled reverse-image-search providers and their
// credentials.
type Providers struct {
	Enabled []string        `json:"enabled"`
	Vision  *VisionProvider `json:"vision"`
	SerpAPI *SerpProvider   `json:"serpapi"`
	Yandex  *SerpProvider   `json:"yandex"`
	// ThumbnailWorkers bounds concurrent thumbnail verification per search.
	ThumbnailWorkers int `json:"thumbnail_workers"`
}

// IsEnabled reports whether name appears in the enabled list. An empty
// list enables every configured provider.
func (p *Providers) IsEnabled(name string) bool {
	if p == nil {
		return false
	}
	if len(p.Enabled) == 0 {
		return true
	}
	for _, n := range p.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

type VisionProvider struct {
	APIKey     string   `json:"api_key"`
	Endpoint   string   `json:"endpoint"`
	MaxResults int64    `json:"max_results"`
	Timeout    Duration `json:"timeout"`
	RateLimit  float64  `json:"rate_limit"` // requests per second
}

type SerpProvider struct {
	APIKey     string   `json:"api_key"`
	BaseURL    string   `json:"base_url"`
	Engine     string   `json:"engine"`
	MaxResults int      `json:"max_results"`
	Timeout    Duration `json:"timeout"`
	RateLimit  float64  `json:"rate_limit"`
}

// Analysis carries the tunable thresholds of the reconciliation pipeline.
type Analysis struct {
	Search struct {
		PerProviderTimeout Duration `json:"per_provider_timeout"`
		OverallDeadline    Duration `json:"overall_deadline"`
		MaxAttempts        int      `json:"max_attempts"`
		BaseBackoff        Duration `json:"base_backoff"`
		MaxBackoff         Duration `json:"max_backoff"`
	} `json:"search"`
	Breaker struct {
		FailureThreshold int      `json:"failure_threshold"`
		Cooldown         Duration `json:"cooldown"`
	} `json:"breaker"`
	Matching struct {
		PHash             int     `json:"phash"`
		DHash             int     `json:"dhash"`
		AHash             int     `json:"ahash"`
		Max               int     `json:"max"`
		HighestTierMax    int     `json:"highest_tier_max"`
		HighestConfidence float64 `json:"highest_confidence"`
		HighConfidence    float64 `json:"high_confidence"`
		MaxPixels         int64   `json:"max_pixels"`
	} `json:"matching"`
	Merge struct {
		CrossValidationBonus float64 `json:"cross_validation_bonus"`
	} `json:"merge"`
	Judge struct {
		AllowDomains        []string `json:"allow_domains"`
		DenyDomains         []string `json:"deny_domains"`
		DangerousConfidence float64  `json:"dangerous_confidence"`
		WarningConfidence   float64  `json:"warning_confidence"`
	} `json:"judge"`
}

// EnsureSections replaces missing sections with empty ones so that
// constructors can read fields without nil checks.
func (b *Bootstrap) EnsureSections() {
	if b.Server == nil {
		b.Server = &Server{}
	}
	if b.Data == nil {
		b.Data = &Data{}
	}
	if b.Log == nil {
		b.Log = &Log{}
	}
	if b.Providers == nil {
		b.Providers = &Providers{}
	}
	if b.Analysis == nil {
		b.Analysis = &Analysis{}
	}
}
