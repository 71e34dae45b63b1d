// Package history builds immutable analysis snapshots and diffs a snapshot
// against the previous one of the same image.
package history

import (
	"slices"
	"strings"
	"time"

	"leakdetector/internal/pkg/judge"
	"leakdetector/internal/pkg/merge"
	"leakdetector/internal/pkg/search"

	"github.com/google/uuid"
)

// Summary counts results by judgment.
type Summary struct {
	Safe      int `json:"safe"`
	Dangerous int `json:"dangerous"`
	Warning   int `json:"warning"`
	Unknown   int `json:"unknown"`
	Total     int `json:"total"`
}

// Summarize counts results by judgment.
func Summarize(results []judge.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Judgment {
		case judge.Safe:
			s.Safe++
		case judge.Dangerous:
			s.Dangerous++
		case judge.Warning:
			s.Warning++
		default:
			s.Unknown++
		}
	}
	return s
}

// Snapshot is one completed analysis. Snapshots are never mutated; a new
// analysis of the same image appends a new one.
type Snapshot struct {
	ID          string         `json:"id"`
	ContentHash string         `json:"content_hash"`
	CreatedAt   time.Time      `json:"created_at"`
	Results     []judge.Result `json:"results"`
	Summary     Summary        `json:"summary"`
	Stats       *search.Stats  `json:"stats,omitempty"`
}

// NewSnapshot creates a snapshot with a time-ordered UUIDv7 identifier.
func NewSnapshot(contentHash string, results []judge.Result, stats *search.Stats, now time.Time) (*Snapshot, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:          id.String(),
		ContentHash: contentHash,
		CreatedAt:   now.UTC(),
		Results:     slices.Clone(results),
		Summary:     Summarize(results),
		Stats:       stats,
	}, nil
}

// Change pairs the two versions of a URL whose judgment changed.
type Change struct {
	Previous judge.Result `json:"previous"`
	Current  judge.Result `json:"current"`
}

// Diff is the difference between two snapshots of one image.
type Diff struct {
	New         []judge.Result `json:"new"`
	Disappeared []judge.Result `json:"disappeared"`
	Changed     []Change       `json:"changed"`
	HasChanges  bool           `json:"has_changes"`
	// HasBaseline is false when there was no previous snapshot.
	HasBaseline bool      `json:"has_baseline"`
	PreviousID  string    `json:"previous_id,omitempty"`
	PreviousAt  time.Time `json:"previous_at,omitzero"`

	// Degraded lists the providers that did not finish in the current run
	// and BaselineDegraded those of the previous one. A URL reported only by
	// degraded providers may disappear or reappear without any change on the
	// page itself.
	Degraded         []string `json:"degraded_providers,omitempty"`
	BaselineDegraded []string `json:"baseline_degraded_providers,omitempty"`
	// Unconfirmed holds the disappeared results whose every reporting
	// provider is degraded in the current run. They are also in Disappeared.
	Unconfirmed []judge.Result `json:"unconfirmed"`
	// Incomplete is true when the current run had degraded providers or no
	// provider answered at all.
	Incomplete bool `json:"incomplete"`
}

// Compare diffs current against previous. Results are keyed by normalized
// URL and every list is ordered by URL. A nil previous yields an empty diff
// without baseline.
func Compare(current, previous *Snapshot) *Diff {
	d := &Diff{
		New:         []judge.Result{},
		Disappeared: []judge.Result{},
		Changed:     []Change{},
		Unconfirmed: []judge.Result{},
	}
	if current != nil {
		d.Degraded = current.Stats.Degraded()
		d.Incomplete = len(d.Degraded) > 0 || (current.Stats != nil && current.Stats.TotalFailure)
	}
	if previous == nil {
		return d
	}
	d.BaselineDegraded = previous.Stats.Degraded()
	d.HasBaseline = true
	d.PreviousID = previous.ID
	d.PreviousAt = previous.CreatedAt

	var cur []judge.Result
	if current != nil {
		cur = current.Results
	}
	before := index(previous.Results)
	after := index(cur)

	for key, r := range after {
		p, ok := before[key]
		switch {
		case !ok:
			d.New = append(d.New, r)
		case p.Judgment != r.Judgment:
			d.Changed = append(d.Changed, Change{Previous: p, Current: r})
		}
	}
	for key, p := range before {
		if _, ok := after[key]; !ok {
			d.Disappeared = append(d.Disappeared, p)
		}
	}

	byURL := func(a, b judge.Result) int { return strings.Compare(a.URL, b.URL) }
	slices.SortFunc(d.New, byURL)
	slices.SortFunc(d.Disappeared, byURL)
	slices.SortFunc(d.Changed, func(a, b Change) int { return strings.Compare(a.Current.URL, b.Current.URL) })

	d.HasChanges = len(d.New) > 0 || len(d.Disappeared) > 0 || len(d.Changed) > 0

	if len(d.Degraded) > 0 {
		for _, p := range d.Disappeared {
			if reportedOnlyBy(p, d.Degraded) {
				d.Unconfirmed = append(d.Unconfirmed, p)
			}
		}
	}
	return d
}

func reportedOnlyBy(r judge.Result, providers []string) bool {
	if len(r.Providers) == 0 {
		return false
	}
	for _, name := range r.Providers {
		if !slices.Contains(providers, name) {
			return false
		}
	}
	return true
}

func index(results []judge.Result) map[string]judge.Result {
	m := make(map[string]judge.Result, len(results))
	for _, r := range results {
		key, err := merge.NormalizeURL(r.URL)
		if err != nil {
			key = r.URL
		}
		if _, dup := m[key]; !dup {
			m[key] = r
		}
	}
	return m
}
