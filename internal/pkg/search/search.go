// Package search fans a query out to every usable provider in parallel and
// joins whatever came back before the overall deadline.
package search

import (
	"context"
	"errors"
	"net"
	"time"

	"leakdetector/internal/pkg/breaker"
	"leakdetector/internal/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const breakerWriteTimeout = 2 * time.Second

// Config bounds a SearchAll call.
type Config struct {
	PerProviderTimeout time.Duration
	OverallDeadline    time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		PerProviderTimeout: 10 * time.Second,
		OverallDeadline:    30 * time.Second,
		MaxAttempts:        3,
		BaseBackoff:        500 * time.Millisecond,
		MaxBackoff:         5 * time.Second,
	}
}

// Orchestrator runs providers concurrently behind a shared circuit breaker.
type Orchestrator struct {
	providers []provider.Provider
	breaker   *breaker.Breaker
	config    Config
	log       *log.Helper
}

// NewOrchestrator creates an Orchestrator. Zero fields in config fall back
// to DefaultConfig.
func NewOrchestrator(providers []provider.Provider, b *breaker.Breaker, config Config, logger log.Logger) *Orchestrator {
	def := DefaultConfig()
	if config.PerProviderTimeout <= 0 {
		config.PerProviderTimeout = def.PerProviderTimeout
	}
	if config.OverallDeadline <= 0 {
		config.OverallDeadline = def.OverallDeadline
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	return &Orchestrator{
		providers: providers,
		breaker:   b,
		config:    config,
		log:       log.NewHelper(log.With(logger, "module", "search")),
	}
}

type outcome struct {
	index      int
	candidates []provider.RawCandidate
	stats      ProviderStats
}

// SearchAll invokes every available provider whose breaker admits a call and
// returns their candidates in provider order. Failures never abort sibling
// providers; when the overall deadline fires, finished results are kept and
// the rest are recorded as timeouts.
func (o *Orchestrator) SearchAll(ctx context.Context, q *provider.Query) ([]provider.RawCandidate, *Stats) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.config.OverallDeadline)
	defer cancel()

	slots := make([][]provider.RawCandidate, len(o.providers))
	stats := make([]ProviderStats, len(o.providers))
	done := make([]bool, len(o.providers))
	results := make(chan outcome, len(o.providers))

	pending := 0
	for i, p := range o.providers {
		stats[i] = ProviderStats{Provider: p.Name()}
		switch {
		case !p.IsAvailable():
			stats[i].Status = StatusUnavailable
			done[i] = true
		case !o.breaker.Allow(ctx, p.Name()):
			stats[i].Status = StatusSkipped
			stats[i].Error = "circuit open"
			done[i] = true
		default:
			pending++
			go func() {
				candidates, st := o.run(ctx, p, q)
				results <- outcome{index: i, candidates: candidates, stats: st}
			}()
		}
	}

collect:
	for pending > 0 {
		select {
		case r := <-results:
			slots[r.index] = r.candidates
			stats[r.index] = r.stats
			done[r.index] = true
			pending--
		case <-ctx.Done():
			break collect
		}
	}

	for i := range stats {
		if done[i] {
			continue
		}
		stats[i].Status = StatusTimeout
		stats[i].ErrorKind = provider.KindNetworkTimeout
		stats[i].Error = ctx.Err().Error()
		stats[i].Duration = time.Since(start)
	}

	var (
		candidates []provider.RawCandidate
		ok         int
	)
	for i, st := range stats {
		if st.Status == StatusOK {
			ok++
			candidates = append(candidates, slots[i]...)
		}
	}

	s := &Stats{
		Providers:     stats,
		TotalDuration: time.Since(start),
		TotalFailure:  ok == 0,
	}
	if s.TotalFailure {
		o.log.WithContext(ctx).Warnf("all %d providers failed or were unavailable", len(o.providers))
	} else {
		o.log.WithContext(ctx).Infof("search finished in %s: %d candidates from %d/%d providers",
			s.TotalDuration, len(candidates), ok, len(o.providers))
	}
	return candidates, s
}

// run calls one provider with per-attempt timeouts, retrying transient
// failures with exponential backoff, and records the outcome in the breaker.
func (o *Orchestrator) run(ctx context.Context, p provider.Provider, q *provider.Query) ([]provider.RawCandidate, ProviderStats) {
	st := ProviderStats{Provider: p.Name()}
	start := time.Now()

	var (
		candidates []provider.RawCandidate
		err        error
	)
	for attempt := 1; ; attempt++ {
		st.Attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, o.config.PerProviderTimeout)
		candidates, err = p.Search(callCtx, q)
		cancel()
		if err == nil {
			break
		}
		kind := provider.Classify(err)
		if !kind.Retryable() || attempt >= o.config.MaxAttempts || ctx.Err() != nil {
			break
		}
		delay := o.backoff(attempt, err)
		o.log.WithContext(ctx).Debugf("%s attempt %d failed (%s), retrying in %s: %v", p.Name(), attempt, kind, delay, err)
		if !sleep(ctx, delay) {
			break
		}
	}
	st.Duration = time.Since(start)
	o.record(ctx, p.Name(), err)

	if err == nil {
		st.Status = StatusOK
		st.Count = len(candidates)
		return candidates, st
	}

	st.ErrorKind = provider.Classify(err)
	st.Error = err.Error()
	switch {
	case st.ErrorKind == provider.KindUnsupported:
		st.Status = StatusSkipped
	case isTimeout(err):
		st.Status = StatusTimeout
	default:
		st.Status = StatusFailed
	}
	o.log.WithContext(ctx).Warnf("%s %s after %d attempt(s): %v", p.Name(), st.Status, st.Attempts, err)
	return nil, st
}

// record feeds the outcome to the breaker. Caller cancellation says nothing
// about provider health and is not recorded.
func (o *Orchestrator) record(ctx context.Context, name string, err error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), breakerWriteTimeout)
	defer cancel()

	switch provider.Classify(err) {
	case provider.KindNone:
		o.breaker.Success(bctx, name)
	case provider.KindAuthentication:
		o.breaker.Trip(bctx, name)
	case provider.KindUnsupported:
	default:
		o.breaker.Failure(bctx, name)
	}
}

func (o *Orchestrator) backoff(attempt int, err error) time.Duration {
	d := o.config.BaseBackoff << (attempt - 1)
	if d <= 0 || d > o.config.MaxBackoff {
		d = o.config.MaxBackoff
	}
	if ra := provider.RetryAfter(err); ra > d {
		d = ra
	}
	return d
}

// Availability reports, per provider name, whether a search would invoke it
// right now. It does not claim a HalfOpen trial.
func (o *Orchestrator) Availability(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(o.providers))
	for _, p := range o.providers {
		out[p.Name()] = p.IsAvailable() && o.breaker.Available(ctx, p.Name())
	}
	return out
}

// ValidateCredentials asks every available provider to authenticate once, in
// parallel, and trips the breaker of each one whose check fails so searches
// skip it until the cooldown admits a trial call. Providers without
// credentials are reported false without a request.
func (o *Orchestrator) ValidateCredentials(ctx context.Context) map[string]bool {
	valid := make([]bool, len(o.providers))
	var g errgroup.Group
	for i, p := range o.providers {
		if !p.IsAvailable() {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, o.config.PerProviderTimeout)
			defer cancel()
			valid[i] = p.ValidateCredentials(callCtx)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]bool, len(o.providers))
	for i, p := range o.providers {
		out[p.Name()] = valid[i]
		if valid[i] || !p.IsAvailable() || ctx.Err() != nil {
			continue
		}
		o.log.WithContext(ctx).Warnf("%s failed its credential check, disabled until the breaker cooldown elapses", p.Name())
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), breakerWriteTimeout)
		o.breaker.Trip(bctx, p.Name())
		cancel()
	}
	return out
}

// Providers returns the configured provider names in invocation order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
