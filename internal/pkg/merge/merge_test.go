package merge

import (
	"testing"

	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM/Path/", "https://example.com/Path"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"https://example.com:8443/a", "https://example.com:8443/a"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?utm_source=x&utm_medium=y&id=7", "https://example.com/a?id=7"},
		{"https://example.com/a?fbclid=1&gclid=2&ref=3&ref_src=4&igshid=5&mc_cid=6&mc_eid=7&_ga=8&spm=9", "https://example.com/a"},
		{"https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"https://example.com/", "https://example.com"},
		{"  https://example.com/x  ", "https://example.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := NormalizeURL(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalization must be idempotent")
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com/a", "/relative/path", "https://", "mailto:a@example.com", "http://[::1"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, in)
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://www.Example.com:8080/a"))
	assert.Equal(t, "cdn.example.com", Domain("https://cdn.example.com"))
}

func TestMerge_CrossValidationBonusIsCapped(t *testing.T) {
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "https://x.com/a", Provider: "Alpha", Confidence: 0.9},
		{URL: "https://x.com/a/", Provider: "Beta", Confidence: 0.5},
	})

	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, "https://x.com/a", r.URL)
	assert.Equal(t, 1.0, r.CombinedConfidence)
	assert.True(t, r.CrossValidated)
	assert.Equal(t, []string{"Alpha", "Beta"}, r.Providers)
	assert.Equal(t, "x.com", r.Domain)
}

func TestMerge_CombinedAtLeastMaxWhenCrossValidated(t *testing.T) {
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "https://y.com/p", Provider: "Alpha", Confidence: 0.6},
		{URL: "https://Y.com/p#top", Provider: "Beta", Confidence: 0.7},
	})

	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0].CombinedConfidence, 0.7)
	assert.InDelta(t, 0.8, got[0].CombinedConfidence, 1e-9)
}

func TestMerge_SingleProviderKeepsConfidence(t *testing.T) {
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "https://z.com/1", Provider: "Alpha", Confidence: 0.4},
		{URL: "https://z.com/1?utm_campaign=spring", Provider: "Alpha", Confidence: 0.6},
	})

	require.Len(t, got, 1)
	assert.Equal(t, 0.6, got[0].CombinedConfidence)
	assert.False(t, got[0].CrossValidated)
	assert.Equal(t, []string{"Alpha"}, got[0].Providers)
}

func TestMerge_TitleAndDistancesPreferVerifiedContributor(t *testing.T) {
	d := &hash.Distances{PHash: 1, DHash: 2, AHash: 0, Max: 2}
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "https://x.com/a", Provider: "Alpha", Confidence: 0.9, Title: "A much longer unverified title"},
		{URL: "https://x.com/a", Provider: "Beta", Confidence: 0.7, Title: "Café   verified", Distances: d},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "Café verified", got[0].Title, "title is NFC-normalized and whitespace-collapsed")
	require.NotNil(t, got[0].Distances)
	assert.Equal(t, *d, *got[0].Distances)
}

func TestMerge_DropsInvalidURLsAndSorts(t *testing.T) {
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "", Provider: "Alpha", Confidence: 0.9},
		{URL: "not a url", Provider: "Alpha", Confidence: 0.9},
		{URL: "https://b.com", Provider: "Alpha", Confidence: 0.5},
		{URL: "https://a.com", Provider: "Alpha", Confidence: 0.5},
		{URL: "https://c.com", Provider: "Alpha", Confidence: 0.8},
	})

	require.Len(t, got, 3)
	assert.Equal(t, "https://c.com", got[0].URL)
	assert.Equal(t, "https://a.com", got[1].URL)
	assert.Equal(t, "https://b.com", got[2].URL)
}

func TestMerge_UniqueURLs(t *testing.T) {
	m := NewMerger(DefaultConfig())
	got := m.Merge([]provider.RawCandidate{
		{URL: "https://x.com/a?b=1&a=2", Provider: "Alpha", Confidence: 0.5},
		{URL: "https://X.com/a?a=2&b=1&utm_source=feed", Provider: "Beta", Confidence: 0.5},
		{URL: "https://x.com/b", Provider: "Gamma", Confidence: 0.5},
	})

	seen := map[string]bool{}
	for _, r := range got {
		assert.False(t, seen[r.URL], "duplicate %s", r.URL)
		seen[r.URL] = true
	}
	assert.Len(t, got, 2)
	assert.Equal(t, 1, CountCrossValidated(got))
}

func TestMerge_Idempotent(t *testing.T) {
	m := NewMerger(DefaultConfig())
	first := m.Merge([]provider.RawCandidate{
		{URL: "https://x.com/a", Provider: "Alpha", Confidence: 0.9, Title: ""},
		{URL: "https://x.com/a/", Provider: "Alpha", Confidence: 0.5, Title: "Alpha title"},
		{URL: "https://x.com/a", Provider: "Beta", Confidence: 0.7, Title: "Beta", Distances: &hash.Distances{Max: 1}},
		{URL: "https://y.com/b?utm_source=z", Provider: "Gamma", Confidence: 0.45, Title: "  spaced   title "},
		{URL: "https://y.com/c", Provider: "Alpha", Confidence: 0.3},
	})

	var again []provider.RawCandidate
	for _, r := range first {
		again = append(again, r.Candidates()...)
	}
	second := m.Merge(again)

	assert.Equal(t, first, second)
}

func TestMerge_Empty(t *testing.T) {
	got := NewMerger(DefaultConfig()).Merge(nil)
	assert.Empty(t, got)
}
