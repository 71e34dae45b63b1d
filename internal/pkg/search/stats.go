package search

import (
	"time"

	"leakdetector/internal/pkg/provider"
)

// Status is the outcome of one provider within a search.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusSkipped     Status = "skipped"
	StatusUnavailable Status = "unavailable"
)

// ProviderStats describes one provider's part in a search.
type ProviderStats struct {
	Provider  string        `json:"provider"`
	Status    Status        `json:"status"`
	Count     int           `json:"count"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts,omitempty"`
	ErrorKind provider.Kind `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Stats summarizes a SearchAll call. CrossValidatedCount is filled in after
// merging.
type Stats struct {
	Providers           []ProviderStats `json:"providers"`
	TotalDuration       time.Duration   `json:"total_duration"`
	CrossValidatedCount int             `json:"cross_validated_count"`
	TotalFailure        bool            `json:"total_failure"`
}

// PerProviderCount returns the candidate count per provider.
func (s *Stats) PerProviderCount() map[string]int {
	out := make(map[string]int, len(s.Providers))
	for _, p := range s.Providers {
		out[p.Provider] = p.Count
	}
	return out
}

// PerProviderDuration returns the wall time spent per provider.
func (s *Stats) PerProviderDuration() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.Providers))
	for _, p := range s.Providers {
		out[p.Provider] = p.Duration
	}
	return out
}

// Degraded returns, in provider order, the providers that should have
// searched but did not finish: failures, timeouts and open circuits. Providers
// without credentials or unable to handle the query kind are not degraded.
func (s *Stats) Degraded() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, p := range s.Providers {
		switch {
		case p.Status == StatusFailed, p.Status == StatusTimeout:
			out = append(out, p.Provider)
		case p.Status == StatusSkipped && p.ErrorKind != provider.KindUnsupported:
			out = append(out, p.Provider)
		}
	}
	return out
}

// Provider returns the stats of name.
func (s *Stats) Provider(name string) (ProviderStats, bool) {
	for _, p := range s.Providers {
		if p.Provider == name {
			return p, true
		}
	}
	return ProviderStats{}, false
}
