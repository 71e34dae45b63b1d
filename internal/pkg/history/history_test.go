package history

import (
	"testing"
	"time"

	"leakdetector/internal/pkg/judge"
	"leakdetector/internal/pkg/merge"
	"leakdetector/internal/pkg/provider"
	"leakdetector/internal/pkg/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(url string, j judge.Judgment) judge.Result {
	return judge.Result{
		Result:   merge.Result{URL: url, Domain: merge.Domain(url)},
		Judgment: j,
	}
}

func snapshot(t *testing.T, at time.Time, results ...judge.Result) *Snapshot {
	t.Helper()
	s, err := NewSnapshot("abc123", results, nil, at)
	require.NoError(t, err)
	return s
}

func TestNewSnapshot(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	s := snapshot(t, at,
		result("https://a.example/1", judge.Dangerous),
		result("https://b.example/1", judge.Warning),
		result("https://c.example/1", judge.Warning),
		result("https://d.example/1", judge.Safe),
	)

	assert.Len(t, s.ID, 36)
	assert.Equal(t, "abc123", s.ContentHash)
	assert.Equal(t, at.UTC(), s.CreatedAt)
	assert.Equal(t, Summary{Safe: 1, Dangerous: 1, Warning: 2, Total: 4}, s.Summary)

	other := snapshot(t, at)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestCompare_NoBaseline(t *testing.T) {
	s := snapshot(t, time.Now(), result("https://a.example/1", judge.Dangerous))

	d := Compare(s, nil)

	assert.False(t, d.HasBaseline)
	assert.False(t, d.HasChanges)
	assert.Empty(t, d.New)
	assert.Empty(t, d.Disappeared)
	assert.Empty(t, d.Changed)
}

func TestCompare_SameSnapshot(t *testing.T) {
	s := snapshot(t, time.Now(),
		result("https://a.example/1", judge.Dangerous),
		result("https://b.example/1", judge.Warning),
	)

	d := Compare(s, s)

	assert.True(t, d.HasBaseline)
	assert.False(t, d.HasChanges)
	assert.Equal(t, s.ID, d.PreviousID)
}

func TestCompare_TwoAnalyses(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s1 := snapshot(t, t1,
		result("https://u1.example/p", judge.Warning),
		result("https://u2.example/p", judge.Unknown),
	)
	s2 := snapshot(t, t1.Add(24*time.Hour),
		result("https://u1.example/p", judge.Dangerous),
		result("https://u3.example/p", judge.Warning),
	)

	d := Compare(s2, s1)

	assert.True(t, d.HasBaseline)
	assert.True(t, d.HasChanges)
	assert.Equal(t, t1, d.PreviousAt)
	require.Len(t, d.New, 1)
	assert.Equal(t, "https://u3.example/p", d.New[0].URL)
	require.Len(t, d.Disappeared, 1)
	assert.Equal(t, "https://u2.example/p", d.Disappeared[0].URL)
	require.Len(t, d.Changed, 1)
	assert.Equal(t, judge.Warning, d.Changed[0].Previous.Judgment)
	assert.Equal(t, judge.Dangerous, d.Changed[0].Current.Judgment)
}

func TestCompare_KeysOnNormalizedURL(t *testing.T) {
	s1 := snapshot(t, time.Now(), result("https://A.example/p/?utm_source=x", judge.Warning))
	s2 := snapshot(t, time.Now(), result("https://a.example/p", judge.Warning))

	d := Compare(s2, s1)

	assert.False(t, d.HasChanges)
}

func TestCompare_OrderedByURL(t *testing.T) {
	s1 := snapshot(t, time.Now())
	s2 := snapshot(t, time.Now(),
		result("https://c.example", judge.Unknown),
		result("https://a.example", judge.Unknown),
		result("https://b.example", judge.Unknown),
	)

	d := Compare(s2, s1)

	require.Len(t, d.New, 3)
	assert.Equal(t, "https://a.example", d.New[0].URL)
	assert.Equal(t, "https://b.example", d.New[1].URL)
	assert.Equal(t, "https://c.example", d.New[2].URL)
}

func reported(url string, providers ...string) judge.Result {
	r := result(url, judge.Dangerous)
	r.Providers = providers
	return r
}

func snapshotWithStats(t *testing.T, at time.Time, stats *search.Stats, results ...judge.Result) *Snapshot {
	t.Helper()
	s, err := NewSnapshot("abc123", results, stats, at)
	require.NoError(t, err)
	return s
}

func TestCompare_DegradedRunFlagsUnconfirmedDisappearances(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	healthy := &search.Stats{Providers: []search.ProviderStats{
		{Provider: "alpha", Status: search.StatusOK, Count: 2},
		{Provider: "beta", Status: search.StatusOK, Count: 2},
	}}
	outage := &search.Stats{Providers: []search.ProviderStats{
		{Provider: "alpha", Status: search.StatusTimeout, ErrorKind: provider.KindNetworkTimeout},
		{Provider: "beta", Status: search.StatusOK, Count: 1},
	}}

	s1 := snapshotWithStats(t, t1, healthy,
		reported("https://only-alpha.example/p", "alpha"),
		reported("https://both.example/p", "alpha", "beta"),
		reported("https://only-beta.example/p", "beta"),
	)
	s2 := snapshotWithStats(t, t1.Add(time.Hour), outage,
		reported("https://both.example/p", "beta"),
	)

	d := Compare(s2, s1)

	assert.True(t, d.HasChanges)
	assert.True(t, d.Incomplete)
	assert.Equal(t, []string{"alpha"}, d.Degraded)
	assert.Empty(t, d.BaselineDegraded)
	require.Len(t, d.Disappeared, 2)
	require.Len(t, d.Unconfirmed, 1)
	assert.Equal(t, "https://only-alpha.example/p", d.Unconfirmed[0].URL)
}

func TestCompare_TotalFailureBaseline(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	failed := &search.Stats{TotalFailure: true, Providers: []search.ProviderStats{
		{Provider: "alpha", Status: search.StatusFailed, ErrorKind: provider.KindProvider},
		{Provider: "beta", Status: search.StatusSkipped, Error: "circuit open"},
	}}
	healthy := &search.Stats{Providers: []search.ProviderStats{
		{Provider: "alpha", Status: search.StatusOK, Count: 1},
		{Provider: "beta", Status: search.StatusOK},
	}}

	s1 := snapshotWithStats(t, t1, failed)
	s2 := snapshotWithStats(t, t1.Add(time.Hour), healthy, reported("https://a.example/p", "alpha"))

	d := Compare(s2, s1)

	assert.False(t, d.Incomplete)
	assert.Empty(t, d.Degraded)
	assert.Equal(t, []string{"alpha", "beta"}, d.BaselineDegraded)
	assert.Len(t, d.New, 1)

	back := Compare(s1, s2)
	assert.True(t, back.Incomplete)
	require.Len(t, back.Unconfirmed, 1)
	assert.Equal(t, "https://a.example/p", back.Unconfirmed[0].URL)
}

func TestCompare_UnsupportedAndUnavailableAreNotDegraded(t *testing.T) {
	stats := &search.Stats{Providers: []search.ProviderStats{
		{Provider: "alpha", Status: search.StatusOK, Count: 1},
		{Provider: "beta", Status: search.StatusSkipped, ErrorKind: provider.KindUnsupported},
		{Provider: "gamma", Status: search.StatusUnavailable},
	}}
	s1 := snapshotWithStats(t, time.Now(), stats, reported("https://b.example/p", "beta"))
	s2 := snapshotWithStats(t, time.Now(), stats)

	d := Compare(s2, s1)

	assert.False(t, d.Incomplete)
	assert.Empty(t, d.Degraded)
	assert.Len(t, d.Disappeared, 1)
	assert.Empty(t, d.Unconfirmed)
}
