// Package provider wraps the reverse-image-search engines behind one
// interface. Every client normalizes its engine's response into RawCandidate
// values and reports failures in the shared error taxonomy.
package provider

import (
	"context"

	"leakdetector/internal/pkg/hash"
)

const (
	NameVision  = "vision"
	NameSerpAPI = "serpapi"
	NameYandex  = "yandex"
)

// Query is one image to search for.
type Query struct {
	Image       []byte
	Fingerprint *hash.Fingerprint
	// PublicURL is where engines that only search by URL can fetch the
	// image. Empty when the image is not publicly hosted.
	PublicURL string
}

// RawCandidate is one unmerged hit reported by a single provider.
type RawCandidate struct {
	URL          string            `json:"url"`
	Title        string            `json:"title,omitempty"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	Provider     string            `json:"provider"`
	Confidence   float64           `json:"confidence"`
	Distances    *hash.Distances   `json:"distances,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Provider is a reverse-image-search engine client.
type Provider interface {
	Name() string
	// Search returns the candidates for q. Errors are classified with Classify.
	Search(ctx context.Context, q *Query) ([]RawCandidate, error)
	// IsAvailable reports whether the provider is configured. Unavailable
	// providers are never invoked.
	IsAvailable() bool
	// ValidateCredentials performs a cheap authenticated call.
	ValidateCredentials(ctx context.Context) bool
}
