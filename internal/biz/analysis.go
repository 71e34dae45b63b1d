package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leakdetector/internal/pkg/hash"
	"leakdetector/internal/pkg/history"
	"leakdetector/internal/pkg/judge"
	"leakdetector/internal/pkg/merge"
	"leakdetector/internal/pkg/provider"
	"leakdetector/internal/pkg/search"

	"github.com/go-kratos/kratos/v2/log"
)

const lockStripes = 64

// Searcher fans a query out to the providers.
type Searcher interface {
	SearchAll(ctx context.Context, q *provider.Query) ([]provider.RawCandidate, *search.Stats)
	Availability(ctx context.Context) map[string]bool
	ValidateCredentials(ctx context.Context) map[string]bool
}

// AnalysisReport is the outcome of one analysis.
type AnalysisReport struct {
	Fingerprint *hash.Fingerprint `json:"fingerprint"`
	SnapshotID  string            `json:"snapshot_id"`
	AnalyzedAt  time.Time         `json:"analyzed_at"`
	Results     []judge.Result    `json:"results"`
	Summary     history.Summary   `json:"summary"`
	Stats       *search.Stats     `json:"stats"`
	Diff        *history.Diff     `json:"diff"`
	// PersistError is set when the snapshot could not be stored. The
	// report itself is still valid.
	PersistError string `json:"persist_error,omitempty"`
}

// AnalysisUsecase runs the detection pipeline: fingerprint, search, merge,
// classify, diff against the previous snapshot and append a new one.
type AnalysisUsecase struct {
	hasher     *hash.PerceptualHasher
	searcher   Searcher
	merger     *merge.Merger
	classifier *judge.Classifier
	repo       HistoryRepo
	locks      [lockStripes]sync.Mutex
	now        func() time.Time
	log        *log.Helper
}

// NewAnalysisUsecase creates a new AnalysisUsecase.
func NewAnalysisUsecase(
	hasher *hash.PerceptualHasher,
	searcher Searcher,
	merger *merge.Merger,
	classifier *judge.Classifier,
	repo HistoryRepo,
	logger log.Logger,
) *AnalysisUsecase {
	return &AnalysisUsecase{
		hasher:     hasher,
		searcher:   searcher,
		merger:     merger,
		classifier: classifier,
		repo:       repo,
		now:        time.Now,
		log:        log.NewHelper(log.With(logger, "module", "biz/analysis")),
	}
}

// Analyze runs one analysis of src. Only an unreadable or invalid image is
// returned as an error; provider and history failures are reported inside
// the report.
func (uc *AnalysisUsecase) Analyze(ctx context.Context, src ImageSource) (*AnalysisReport, error) {
	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}
	fp, err := uc.hasher.Fingerprint(data)
	if err != nil {
		return nil, err
	}
	uc.log.WithContext(ctx).Infof("analyzing %s (%dx%d)", fp.ContentHash, fp.Width, fp.Height)

	raw, stats := uc.searcher.SearchAll(ctx, &provider.Query{
		Image:       data,
		Fingerprint: fp,
		PublicURL:   src.PublicURL(),
	})
	merged := uc.merger.Merge(raw)
	stats.CrossValidatedCount = merge.CountCrossValidated(merged)
	results := uc.classifier.ClassifyAll(merged)

	snap, err := history.NewSnapshot(fp.ContentHash, results, stats, uc.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}

	report := &AnalysisReport{
		Fingerprint: fp,
		SnapshotID:  snap.ID,
		AnalyzedAt:  snap.CreatedAt,
		Results:     snap.Results,
		Summary:     snap.Summary,
		Stats:       stats,
	}
	report.Diff, report.PersistError = uc.record(ctx, snap)

	uc.log.WithContext(ctx).Debugf("per-provider candidates %v, durations %v", stats.PerProviderCount(), stats.PerProviderDuration())
	if n := len(report.Diff.Unconfirmed); n > 0 {
		uc.log.WithContext(ctx).Warnf("%d disappeared results were reported only by degraded providers %v", n, report.Diff.Degraded)
	}

	uc.log.WithContext(ctx).Infof("analysis %s: %d results (%d dangerous, %d warning), %d cross-validated, changes=%t",
		snap.ID, snap.Summary.Total, snap.Summary.Dangerous, snap.Summary.Warning, stats.CrossValidatedCount, report.Diff.HasChanges)
	return report, nil
}

// record diffs snap against the latest stored snapshot and appends it. The
// read and the write are serialized per content hash so concurrent analyses
// of one image each diff against their true predecessor.
func (uc *AnalysisUsecase) record(ctx context.Context, snap *history.Snapshot) (*history.Diff, string) {
	mu := &uc.locks[hash.Hash([]byte(snap.ContentHash))%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	prev, err := uc.repo.Latest(ctx, snap.ContentHash)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("failed to load previous snapshot, diffing without baseline: %v", err)
		prev = nil
	}
	diff := history.Compare(snap, prev)

	if err := uc.repo.Append(ctx, snap); err != nil {
		uc.log.WithContext(ctx).Errorf("failed to store snapshot %s: %v", snap.ID, err)
		return diff, err.Error()
	}
	return diff, ""
}

// History returns up to limit stored snapshots of an image, newest first.
func (uc *AnalysisUsecase) History(ctx context.Context, contentHash string, limit int) ([]*history.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	return uc.repo.List(ctx, contentHash, limit)
}

// ValidateCredentials checks every configured credential once. Rejected
// providers are skipped by searches until their breaker cooldown elapses.
func (uc *AnalysisUsecase) ValidateCredentials(ctx context.Context) map[string]bool {
	return uc.searcher.ValidateCredentials(ctx)
}

// ProviderAvailability reports which providers a search would call now.
func (uc *AnalysisUsecase) ProviderAvailability(ctx context.Context) map[string]bool {
	return uc.searcher.Availability(ctx)
}
