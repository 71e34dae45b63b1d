package biz

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leakdetector/internal/pkg/breaker"
	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/history"
	"leakdetector/internal/pkg/judge"
	"leakdetector/internal/pkg/merge"
	"leakdetector/internal/pkg/provider"
	"leakdetector/internal/pkg/search"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name       string
	candidates []provider.RawCandidate
	rejected   bool
	calls      atomic.Int32
}

func (p *stubProvider) Name() string                             { return p.name }
func (p *stubProvider) IsAvailable() bool                        { return true }
func (p *stubProvider) ValidateCredentials(context.Context) bool { return !p.rejected }

func (p *stubProvider) Search(context.Context, *provider.Query) ([]provider.RawCandidate, error) {
	p.calls.Add(1)
	return p.candidates, nil
}

type memoryRepo struct {
	mu        sync.Mutex
	snapshots map[string][]*history.Snapshot
	latestErr error
	appendErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{snapshots: make(map[string][]*history.Snapshot)}
}

func (r *memoryRepo) Latest(_ context.Context, contentHash string) (*history.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latestErr != nil {
		return nil, r.latestErr
	}
	list := r.snapshots[contentHash]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (r *memoryRepo) Append(_ context.Context, s *history.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.snapshots[s.ContentHash] = append(r.snapshots[s.ContentHash], s)
	return nil
}

func (r *memoryRepo) List(_ context.Context, contentHash string, limit int) ([]*history.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.snapshots[contentHash]
	out := make([]*history.Snapshot, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			g := uint8((x * y) % 256)
			img.Set(x, y, color.RGBA{g, 255 - g, g / 2, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestUsecase(repo HistoryRepo, providers ...provider.Provider) *AnalysisUsecase {
	b := breaker.New(breaker.NewMemoryStore(), breaker.DefaultConfig(), log.DefaultLogger)
	orch := search.NewOrchestrator(providers, b, search.Config{
		PerProviderTimeout: time.Second,
		OverallDeadline:    2 * time.Second,
		BaseBackoff:        time.Millisecond,
	}, log.DefaultLogger)
	return NewAnalysisUsecase(
		hash.NewPerceptualHasher(),
		orch,
		merge.NewMerger(merge.DefaultConfig()),
		judge.NewClassifier(judge.Config{
			AllowDomains:        []string{"publisher.example"},
			DangerousConfidence: 0.8,
			WarningConfidence:   0.4,
		}),
		repo,
		log.DefaultLogger,
	)
}

func standardProviders() (*stubProvider, *stubProvider) {
	alpha := &stubProvider{name: "alpha", candidates: []provider.RawCandidate{
		{URL: "https://leak.example/post", Provider: "alpha", Confidence: 0.9},
		{URL: "https://publisher.example/gallery", Provider: "alpha", Confidence: 0.9},
	}}
	beta := &stubProvider{name: "beta", candidates: []provider.RawCandidate{
		{URL: "https://leak.example/post/?utm_source=feed", Provider: "beta", Confidence: 0.5},
		{URL: "https://forum.example/t/1", Provider: "beta", Confidence: 0.5},
	}}
	return alpha, beta
}

func TestAnalyze_Pipeline(t *testing.T) {
	alpha, beta := standardProviders()
	repo := newMemoryRepo()
	uc := newTestUsecase(repo, alpha, beta)
	ctx := context.Background()

	report, err := uc.Analyze(ctx, BytesSource{Data: testImage(t)})
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	byURL := map[string]judge.Result{}
	for _, r := range report.Results {
		byURL[r.URL] = r
	}
	leak := byURL["https://leak.example/post"]
	assert.Equal(t, judge.Dangerous, leak.Judgment)
	assert.True(t, leak.CrossValidated)
	assert.Equal(t, 1.0, leak.CombinedConfidence)
	assert.Equal(t, judge.Safe, byURL["https://publisher.example/gallery"].Judgment)
	assert.Equal(t, judge.Warning, byURL["https://forum.example/t/1"].Judgment)

	assert.Equal(t, 1, report.Stats.CrossValidatedCount)
	assert.False(t, report.Stats.TotalFailure)
	assert.Equal(t, history.Summary{Safe: 1, Dangerous: 1, Warning: 1, Total: 3}, report.Summary)
	assert.False(t, report.Diff.HasBaseline)
	assert.Empty(t, report.PersistError)

	second, err := uc.Analyze(ctx, BytesSource{Data: testImage(t)})
	require.NoError(t, err)
	assert.True(t, second.Diff.HasBaseline)
	assert.False(t, second.Diff.HasChanges)
	assert.Equal(t, report.SnapshotID, second.Diff.PreviousID)

	snaps, err := uc.History(ctx, report.Fingerprint.ContentHash, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, second.SnapshotID, snaps[0].ID)
}

func TestAnalyze_InvalidImageFailsFast(t *testing.T) {
	alpha, beta := standardProviders()
	uc := newTestUsecase(newMemoryRepo(), alpha, beta)

	_, err := uc.Analyze(context.Background(), BytesSource{Data: []byte("nope")})

	assert.True(t, errors.Is(err, hash.ErrInvalidImage))
	assert.Equal(t, int32(0), alpha.calls.Load())
	assert.Equal(t, int32(0), beta.calls.Load())
}

func TestAnalyze_HistoryFailuresAreReported(t *testing.T) {
	alpha, beta := standardProviders()
	repo := newMemoryRepo()
	repo.latestErr = errors.New("db down")
	repo.appendErr = errors.New("db down")
	uc := newTestUsecase(repo, alpha, beta)

	report, err := uc.Analyze(context.Background(), BytesSource{Data: testImage(t)})

	require.NoError(t, err)
	assert.Len(t, report.Results, 3)
	assert.False(t, report.Diff.HasBaseline)
	assert.Equal(t, "db down", report.PersistError)
}

func TestAnalyze_ConcurrentAnalysesChainSnapshots(t *testing.T) {
	alpha, beta := standardProviders()
	repo := newMemoryRepo()
	uc := newTestUsecase(repo, alpha, beta)
	data := testImage(t)

	var wg sync.WaitGroup
	reports := make([]*AnalysisReport, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := uc.Analyze(context.Background(), BytesSource{Data: data})
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	baselines := 0
	for _, r := range reports {
		require.NotNil(t, r)
		if !r.Diff.HasBaseline {
			baselines++
		}
	}
	assert.Equal(t, 1, baselines, "exactly one analysis runs without a predecessor")
}

func TestAnalyze_TotalFailureStillProducesSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	uc := newTestUsecase(repo)

	report, err := uc.Analyze(context.Background(), BytesSource{Data: testImage(t)})

	require.NoError(t, err)
	assert.True(t, report.Stats.TotalFailure)
	assert.Empty(t, report.Results)
	assert.Equal(t, map[string]bool{}, uc.ProviderAvailability(context.Background()))
}

func TestValidateCredentials_RejectedProviderIsSkipped(t *testing.T) {
	alpha, beta := standardProviders()
	alpha.rejected = true
	uc := newTestUsecase(newMemoryRepo(), alpha, beta)
	ctx := context.Background()

	assert.Equal(t, map[string]bool{"alpha": false, "beta": true}, uc.ValidateCredentials(ctx))
	assert.Equal(t, map[string]bool{"alpha": false, "beta": true}, uc.ProviderAvailability(ctx))

	report, err := uc.Analyze(ctx, BytesSource{Data: testImage(t)})
	require.NoError(t, err)
	assert.Equal(t, int32(0), alpha.calls.Load())
	st, ok := report.Stats.Provider("alpha")
	require.True(t, ok)
	assert.Equal(t, search.StatusSkipped, st.Status)
}
