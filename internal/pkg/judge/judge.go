// Package judge assigns a judgment to every merged result with a fixed,
// ordered rule table.
package judge

import (
	"strings"

	"leakdetector/internal/pkg/merge"
)

// Judgment is the verdict on one result.
type Judgment string

const (
	Safe      Judgment = "safe"
	Dangerous Judgment = "dangerous"
	Warning   Judgment = "warning"
	Unknown   Judgment = "unknown"
)

const (
	ReasonAllowListed    = "verified publisher domain"
	ReasonCrossConfirmed = "confirmed redistribution across multiple engines"
	ReasonDenyListed     = "listed distribution domain"
	ReasonPartialMatch   = "partial match, manual review recommended"
	ReasonInsufficient   = "insufficient signal for classification"
)

// Config holds the domain lists and confidence bands.
type Config struct {
	AllowDomains        []string
	DenyDomains         []string
	DangerousConfidence float64
	WarningConfidence   float64
}

// DefaultConfig returns default configuration with empty domain lists.
func DefaultConfig() Config {
	return Config{
		DangerousConfidence: 0.8,
		WarningConfidence:   0.4,
	}
}

// Result is a merged result with its judgment.
type Result struct {
	merge.Result
	Judgment Judgment `json:"judgment"`
	Reason   string   `json:"reason"`
}

// Classifier applies the rule table. It is pure and safe for concurrent use.
type Classifier struct {
	config Config
	allow  []string
	deny   []string
}

// NewClassifier creates a Classifier. Domain lists are matched
// case-insensitively on label boundaries.
func NewClassifier(config Config) *Classifier {
	return &Classifier{
		config: config,
		allow:  normalizeDomains(config.AllowDomains),
		deny:   normalizeDomains(config.DenyDomains),
	}
}

// Classify returns the judgment and reason for r. The first matching rule
// wins; the last rule always matches.
func (c *Classifier) Classify(r merge.Result) (Judgment, string) {
	switch {
	case matchDomain(r.Domain, c.allow):
		return Safe, ReasonAllowListed
	case r.CrossValidated && r.CombinedConfidence >= c.config.DangerousConfidence:
		return Dangerous, ReasonCrossConfirmed
	case matchDomain(r.Domain, c.deny):
		return Dangerous, ReasonDenyListed
	case r.CombinedConfidence >= c.config.WarningConfidence && r.CombinedConfidence < c.config.DangerousConfidence:
		return Warning, ReasonPartialMatch
	default:
		return Unknown, ReasonInsufficient
	}
}

// ClassifyAll classifies results, preserving order.
func (c *Classifier) ClassifyAll(results []merge.Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		j, reason := c.Classify(r)
		out[i] = Result{Result: r, Judgment: j, Reason: reason}
	}
	return out
}

// matchDomain reports whether domain equals an entry or is a subdomain of
// it: "cdn.pub.example" matches "pub.example", "notpub.example" does not.
func matchDomain(domain string, list []string) bool {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if domain == "" {
		return false
	}
	for _, d := range list {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSuffix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www."), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
