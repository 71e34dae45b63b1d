package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

const webDetection = "WEB_DETECTION"

// VisionConfig configures the Google Cloud Vision provider.
type VisionConfig struct {
	APIKey     string
	Endpoint   string // empty for the public endpoint
	MaxResults int64
	Timeout    time.Duration
	RateLimit  float64

	// Confidence assigned per kind of web detection hit.
	PageFullMatch    float64
	PagePartialMatch float64
	PageOnly         float64
	FullImage        float64
	PartialImage     float64
}

// DefaultVisionConfig returns default configuration.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MaxResults:       50,
		Timeout:          15 * time.Second,
		RateLimit:        5,
		PageFullMatch:    0.9,
		PagePartialMatch: 0.6,
		PageOnly:         0.5,
		FullImage:        0.8,
		PartialImage:     0.5,
	}
}

// Vision searches with the WEB_DETECTION feature of Cloud Vision.
type Vision struct {
	config  VisionConfig
	service *vision.Service
	limiter *rate.Limiter
	log     *log.Helper
}

// NewVision creates the provider. Without an API key the provider is
// returned unavailable and no client is built.
func NewVision(ctx context.Context, config VisionConfig, logger log.Logger) (*Vision, error) {
	def := DefaultVisionConfig()
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.PageFullMatch == 0 && config.PagePartialMatch == 0 && config.PageOnly == 0 &&
		config.FullImage == 0 && config.PartialImage == 0 {
		config.PageFullMatch = def.PageFullMatch
		config.PagePartialMatch = def.PagePartialMatch
		config.PageOnly = def.PageOnly
		config.FullImage = def.FullImage
		config.PartialImage = def.PartialImage
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	v := &Vision{
		config:  config,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.NewHelper(log.With(logger, "module", "provider/vision")),
	}
	if config.APIKey == "" {
		return v, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision client: %w", err)
	}
	v.service = svc
	return v, nil
}

// Name implements Provider.
func (v *Vision) Name() string {
	return NameVision
}

// IsAvailable implements Provider.
func (v *Vision) IsAvailable() bool {
	return v.service != nil
}

// Search implements Provider.
func (v *Vision) Search(ctx context.Context, q *Query) ([]RawCandidate, error) {
	if !v.IsAvailable() {
		return nil, ErrAuthentication.WithCause(fmt.Errorf("vision api key not configured"))
	}
	if len(q.Image) == 0 {
		return nil, ErrUnsupportedQuery.WithCause(fmt.Errorf("vision needs the image bytes"))
	}
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, ErrNetworkTimeout.WithCause(fmt.Errorf("vision rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{
				Content: base64.StdEncoding.EncodeToString(q.Image),
			},
			Features: []*vision.Feature{{
				Type:       webDetection,
				MaxResults: v.config.MaxResults,
			}},
		}},
	}

	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, v.classify(ctx, err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, ErrInvalidResponse.WithCause(fmt.Errorf("vision annotate error %d: %s", r.Error.Code, r.Error.Message))
	}

	candidates := v.normalize(r.WebDetection)
	v.log.WithContext(ctx).Infof("%d web detection hits", len(candidates))
	return candidates, nil
}

// normalize flattens a web detection into candidates: pages with matching
// images first, then full and partial matching image URLs. A URL reported
// more than once keeps its first occurrence.
func (v *Vision) normalize(wd *vision.WebDetection) []RawCandidate {
	if wd == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []RawCandidate
	add := func(c RawCandidate) {
		if c.URL == "" {
			return
		}
		if _, ok := seen[c.URL]; ok {
			return
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}

	for _, page := range wd.PagesWithMatchingImages {
		c := RawCandidate{
			URL:      page.Url,
			Title:    page.PageTitle,
			Provider: NameVision,
			Metadata: map[string]string{"match": "page"},
		}
		switch {
		case len(page.FullMatchingImages) > 0:
			c.Confidence = v.config.PageFullMatch
			c.ThumbnailURL = page.FullMatchingImages[0].Url
			c.Metadata["match"] = "page_full"
		case len(page.PartialMatchingImages) > 0:
			c.Confidence = v.config.PagePartialMatch
			c.ThumbnailURL = page.PartialMatchingImages[0].Url
			c.Metadata["match"] = "page_partial"
		default:
			c.Confidence = v.config.PageOnly
		}
		add(c)
	}
	for _, img := range wd.FullMatchingImages {
		add(RawCandidate{
			URL:        img.Url,
			Provider:   NameVision,
			Confidence: v.config.FullImage,
			Metadata:   map[string]string{"match": "full_image"},
		})
	}
	for _, img := range wd.PartialMatchingImages {
		add(RawCandidate{
			URL:        img.Url,
			Provider:   NameVision,
			Confidence: v.config.PartialImage,
			Metadata:   map[string]string{"match": "partial_image"},
		})
	}
	return out
}

func (v *Vision) classify(ctx context.Context, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusError(NameVision, gerr.Code, gerr.Header, []byte(gerr.Message))
	}
	return transportError(ctx, NameVision, err)
}

// ValidateCredentials implements Provider with an empty batch request,
// which the API authenticates but does not bill.
func (v *Vision) ValidateCredentials(ctx context.Context) bool {
	if !v.IsAvailable() {
		return false
	}
	_, err := v.service.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{},
	}).Context(ctx).Do()
	if err == nil {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code != http.StatusUnauthorized && gerr.Code != http.StatusForbidden {
		// An empty batch may be rejected as invalid after the key was accepted.
		return true
	}
	v.log.WithContext(ctx).Warnf("credential check failed: %v", v.classify(ctx, err))
	return false
}
