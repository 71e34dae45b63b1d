package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// SerpConfig configures a SerpAPI-backed engine.
type SerpConfig struct {
	APIKey     string
	BaseURL    string
	Engine     string
	MaxResults int
	Timeout    time.Duration
	RateLimit  float64 // requests per second
}

// DefaultSerpAPIConfig returns the Google reverse image engine settings.
func DefaultSerpAPIConfig() SerpConfig {
	return SerpConfig{
		BaseURL:    "https://serpapi.com",
		Engine:     "google_reverse_image",
		MaxResults: 20,
		Timeout:    15 * time.Second,
		RateLimit:  1,
	}
}

// DefaultYandexConfig returns the Yandex images engine settings.
func DefaultYandexConfig() SerpConfig {
	cfg := DefaultSerpAPIConfig()
	cfg.Engine = "yandex_images"
	return cfg
}

// Serp searches through SerpAPI by image URL and verifies each visual match
// by fingerprinting its thumbnail.
type Serp struct {
	name       string
	urlParam   string
	config     SerpConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	verifier   *ThumbnailVerifier
	log        *log.Helper
}

// NewSerpAPI creates the Google reverse image provider.
func NewSerpAPI(config SerpConfig, verifier *ThumbnailVerifier, logger log.Logger) *Serp {
	return newSerp(NameSerpAPI, "image_url", DefaultSerpAPIConfig(), config, verifier, logger)
}

// NewYandex creates the Yandex images provider.
func NewYandex(config SerpConfig, verifier *ThumbnailVerifier, logger log.Logger) *Serp {
	return newSerp(NameYandex, "url", DefaultYandexConfig(), config, verifier, logger)
}

func newSerp(name, urlParam string, def, config SerpConfig, verifier *ThumbnailVerifier, logger log.Logger) *Serp {
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Engine == "" {
		config.Engine = def.Engine
	}
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	return &Serp{
		name:     name,
		urlParam: urlParam,
		config:   config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:  rate.NewLimiter(limit, 1),
		verifier: verifier,
		log:      log.NewHelper(log.With(logger, "module", "provider/"+name)),
	}
}

// Name implements Provider.
func (p *Serp) Name() string {
	return p.name
}

// IsAvailable implements Provider.
func (p *Serp) IsAvailable() bool {
	return p.config.APIKey != ""
}

// serpMatch is one visual match. Yandex reports the thumbnail either as a
// plain URL or as an object with a link.
type serpMatch struct {
	Position  int      `json:"position"`
	Title     string   `json:"title"`
	Link      string   `json:"link"`
	Source    string   `json:"source"`
	Thumbnail flexLink `json:"thumbnail"`
}

type flexLink string

func (f *flexLink) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexLink(s)
		return nil
	}
	var obj struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*f = flexLink(obj.Link)
	return nil
}

type serpResponse struct {
	Error         string      `json:"error"`
	VisualMatches []serpMatch `json:"visual_matches"`
	ImageResults  []serpMatch `json:"image_results"`
	ImagesResults []serpMatch `json:"images_results"`
}

func (r *serpResponse) matches() []serpMatch {
	switch {
	case len(r.VisualMatches) > 0:
		return r.VisualMatches
	case len(r.ImageResults) > 0:
		return r.ImageResults
	default:
		return r.ImagesResults
	}
}

// Search implements Provider.
func (p *Serp) Search(ctx context.Context, q *Query) ([]RawCandidate, error) {
	if !p.IsAvailable() {
		return nil, ErrAuthentication.WithCause(fmt.Errorf("%s api key not configured", p.name))
	}
	if q.PublicURL == "" || q.Fingerprint == nil {
		return nil, ErrUnsupportedQuery.WithCause(fmt.Errorf("%s searches by public image URL only", p.name))
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ErrNetworkTimeout.WithCause(fmt.Errorf("%s rate limiter: %w", p.name, err))
	}

	params := url.Values{}
	params.Set("engine", p.config.Engine)
	params.Set(p.urlParam, q.PublicURL)
	params.Set("api_key", p.config.APIKey)

	var resp serpResponse
	if err := getJSON(ctx, p.httpClient, p.name, p.config.BaseURL+"/search.json?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		// SerpAPI reports an empty result page as an error string.
		if strings.Contains(resp.Error, "hasn't returned any results") {
			return nil, nil
		}
		return nil, ErrInvalidResponse.WithCause(fmt.Errorf("%s: %s", p.name, resp.Error))
	}

	matches := resp.matches()
	p.log.WithContext(ctx).Debugf("%d visual matches", len(matches))

	candidates := make([]RawCandidate, 0, min(len(matches), p.config.MaxResults))
	for _, m := range matches {
		if len(candidates) == p.config.MaxResults {
			break
		}
		if m.Link == "" || m.Thumbnail == "" {
			continue
		}
		c := RawCandidate{
			URL:          m.Link,
			Title:        m.Title,
			ThumbnailURL: string(m.Thumbnail),
			Provider:     p.name,
		}
		if m.Source != "" {
			c.Metadata = map[string]string{"source": m.Source}
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	verified, err := p.verifier.Verify(ctx, q.Fingerprint, candidates)
	if err != nil {
		return nil, err
	}
	p.log.WithContext(ctx).Infof("%d of %d thumbnails matched", len(verified), len(candidates))
	return verified, nil
}

// ValidateCredentials implements Provider by reading the account endpoint,
// which does not consume search credits.
func (p *Serp) ValidateCredentials(ctx context.Context) bool {
	if !p.IsAvailable() {
		return false
	}
	params := url.Values{}
	params.Set("api_key", p.config.APIKey)

	var account map[string]any
	if err := getJSON(ctx, p.httpClient, p.name, p.config.BaseURL+"/account.json?"+params.Encode(), &account); err != nil {
		p.log.WithContext(ctx).Warnf("credential check failed: %v", err)
		return false
	}
	return true
}
