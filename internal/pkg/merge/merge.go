// Package merge reconciles the candidates of several providers into one
// deduplicated, confidence-scored result list.
package merge

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/provider"

	"golang.org/x/text/unicode/norm"
)

// Config holds merge scoring parameters.
type Config struct {
	// CrossValidationBonus is added to the best confidence when more than
	// one provider reported the same URL. The sum is capped at 1.
	CrossValidationBonus float64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{CrossValidationBonus: 0.1}
}

// Contribution is one provider's best report of a merged URL.
type Contribution struct {
	Provider   string          `json:"provider"`
	Confidence float64         `json:"confidence"`
	Title      string          `json:"title,omitempty"`
	Distances  *hash.Distances `json:"distances,omitempty"`
}

// Result is one unique URL after merging.
type Result struct {
	URL                string          `json:"url"`
	Domain             string          `json:"domain"`
	Title              string          `json:"title,omitempty"`
	CombinedConfidence float64         `json:"combined_confidence"`
	Providers          []string        `json:"providers"`
	Contributions      []Contribution  `json:"contributions"`
	Distances          *hash.Distances `json:"distances,omitempty"`
	CrossValidated     bool            `json:"cross_validated"`
}

// Candidates expresses r as raw candidates again, one per provider.
func (r *Result) Candidates() []provider.RawCandidate {
	out := make([]provider.RawCandidate, len(r.Contributions))
	for i, c := range r.Contributions {
		out[i] = provider.RawCandidate{
			URL:        r.URL,
			Title:      c.Title,
			Provider:   c.Provider,
			Confidence: c.Confidence,
			Distances:  c.Distances,
		}
	}
	return out
}

// Merger merges raw candidates. It is stateless and safe for concurrent use.
type Merger struct {
	config Config
}

// NewMerger creates a Merger.
func NewMerger(config Config) *Merger {
	return &Merger{config: config}
}

// Merge groups candidates by normalized URL and scores each group.
// Candidates with an empty or unparseable URL are dropped. The output is
// sorted by combined confidence descending, then URL ascending.
func (m *Merger) Merge(candidates []provider.RawCandidate) []Result {
	groups := make(map[string]map[string][]provider.RawCandidate)
	for _, c := range candidates {
		key, err := NormalizeURL(c.URL)
		if err != nil {
			continue
		}
		byProvider, ok := groups[key]
		if !ok {
			byProvider = make(map[string][]provider.RawCandidate)
			groups[key] = byProvider
		}
		byProvider[c.Provider] = append(byProvider[c.Provider], c)
	}

	results := make([]Result, 0, len(groups))
	for key, byProvider := range groups {
		results = append(results, m.mergeGroup(key, byProvider))
	}
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.CombinedConfidence, a.CombinedConfidence); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})
	return results
}

func (m *Merger) mergeGroup(key string, byProvider map[string][]provider.RawCandidate) Result {
	contributions := make([]Contribution, 0, len(byProvider))
	for name, cs := range byProvider {
		contributions = append(contributions, representative(name, cs))
	}

	best := 0.0
	for _, c := range contributions {
		best = max(best, c.Confidence)
	}

	r := Result{
		URL:                key,
		Domain:             Domain(key),
		CombinedConfidence: best,
		CrossValidated:     len(contributions) > 1,
	}
	if r.CrossValidated {
		combined := math.Round(min(1, best+m.config.CrossValidationBonus)*1e4) / 1e4
		r.CombinedConfidence = max(combined, best)
	}

	// Title and distances come from the most trustworthy contribution.
	slices.SortFunc(contributions, preferContribution)
	for _, c := range contributions {
		if r.Title == "" {
			r.Title = c.Title
		}
		if r.Distances == nil && c.Distances != nil {
			d := *c.Distances
			r.Distances = &d
		}
	}

	slices.SortFunc(contributions, func(a, b Contribution) int {
		return strings.Compare(a.Provider, b.Provider)
	})
	r.Contributions = contributions
	r.Providers = make([]string, len(contributions))
	for i, c := range contributions {
		r.Providers[i] = c.Provider
	}
	return r
}

// representative folds one provider's candidates for a URL into a single
// contribution carrying the provider's best confidence. Title and distances
// are taken from the preferred candidate that has them.
func representative(name string, cs []provider.RawCandidate) Contribution {
	all := make([]Contribution, len(cs))
	for i, c := range cs {
		all[i] = Contribution{
			Provider:   name,
			Confidence: clamp(c.Confidence),
			Title:      CleanTitle(c.Title),
			Distances:  c.Distances,
		}
	}
	slices.SortFunc(all, preferContribution)

	out := Contribution{Provider: name}
	for _, c := range all {
		out.Confidence = max(out.Confidence, c.Confidence)
		if out.Title == "" {
			out.Title = c.Title
		}
		if out.Distances == nil && c.Distances != nil {
			d := *c.Distances
			out.Distances = &d
		}
	}
	return out
}

// preferContribution orders verified hits first, then higher confidence,
// then longer titles. Provider and title break remaining ties.
func preferContribution(a, b Contribution) int {
	if av, bv := a.Distances != nil, b.Distances != nil; av != bv {
		if av {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(utf8.RuneCountInString(b.Title), utf8.RuneCountInString(a.Title)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Provider, b.Provider); c != 0 {
		return c
	}
	return strings.Compare(a.Title, b.Title)
}

// CleanTitle NFC-normalizes a title and collapses whitespace.
func CleanTitle(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// CountCrossValidated returns how many results were reported by more than
// one provider.
func CountCrossValidated(results []Result) int {
	n := 0
	for _, r := range results {
		if r.CrossValidated {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, 1)
}
