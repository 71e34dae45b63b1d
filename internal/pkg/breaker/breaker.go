// Package breaker implements a per-provider circuit breaker whose state lives
// in a keyed Store, so one process or a fleet sharing Redis sees the same
// Closed/Open/HalfOpen view of every provider.
package breaker

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// State is the breaker state of one provider.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the trip threshold and the cooldown before a trial call.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns 3 consecutive failures and a 60s cooldown.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// Record is the persisted state of one provider's breaker.
type Record struct {
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitzero"`
	// TrialAt is set while the single HalfOpen trial call is in flight.
	TrialAt time.Time `json:"trial_at,omitzero"`
}

// Store persists breaker records. Update must apply fn atomically with
// respect to other Updates of the same name.
type Store interface {
	Load(ctx context.Context, name string) (Record, error)
	Update(ctx context.Context, name string, fn func(*Record)) (Record, error)
}

// Breaker drives the state machine over a Store. Store failures fail open:
// the provider is allowed and the error is logged.
type Breaker struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   *log.Helper
}

// New creates a Breaker. Zero fields in cfg fall back to DefaultConfig.
func New(store Store, cfg Config, logger log.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   log.NewHelper(log.With(logger, "module", "breaker")),
	}
}

// Allow reports whether name may be called now. An Open breaker whose
// cooldown has elapsed moves to HalfOpen and admits exactly one trial; the
// trial slot is reclaimed if its holder never reports back within a cooldown.
func (b *Breaker) Allow(ctx context.Context, name string) bool {
	var (
		before  State
		allowed bool
	)
	now := b.now()
	after, err := b.store.Update(ctx, name, func(r *Record) {
		before = r.State
		allowed = false
		switch r.State {
		case Closed:
			allowed = true
		case Open:
			if now.Sub(r.OpenedAt) >= b.cfg.Cooldown {
				r.State = HalfOpen
				r.TrialAt = now
				allowed = true
			}
		case HalfOpen:
			if r.TrialAt.IsZero() || now.Sub(r.TrialAt) >= b.cfg.Cooldown {
				r.TrialAt = now
				allowed = true
			}
		}
	})
	if err != nil {
		b.log.WithContext(ctx).Warnf("breaker store unavailable for %s, allowing call: %v", name, err)
		return true
	}
	b.logTransition(name, before, after.State)
	return allowed
}

// Success closes the breaker and resets the failure count.
func (b *Breaker) Success(ctx context.Context, name string) {
	b.update(ctx, name, func(r *Record) {
		*r = Record{State: Closed}
	})
}

// Failure counts a failed call. A HalfOpen trial failure reopens
// immediately; in Closed the breaker opens once the threshold is reached.
func (b *Breaker) Failure(ctx context.Context, name string) {
	now := b.now()
	b.update(ctx, name, func(r *Record) {
		r.Failures++
		switch r.State {
		case HalfOpen:
			r.State = Open
			r.OpenedAt = now
			r.TrialAt = time.Time{}
		case Closed:
			if r.Failures >= b.cfg.FailureThreshold {
				r.State = Open
				r.OpenedAt = now
			}
		}
	})
}

// Trip opens the breaker regardless of the failure count. Used for
// credential failures, which will not heal on retry.
func (b *Breaker) Trip(ctx context.Context, name string) {
	now := b.now()
	b.update(ctx, name, func(r *Record) {
		r.Failures++
		r.State = Open
		r.OpenedAt = now
		r.TrialAt = time.Time{}
	})
}

// State returns the stored state of name, Closed when unknown or when the
// store cannot be read.
func (b *Breaker) State(ctx context.Context, name string) State {
	r, err := b.store.Load(ctx, name)
	if err != nil {
		return Closed
	}
	return r.State
}

// Available reports, without claiming a trial, whether Allow would admit a
// call to name right now.
func (b *Breaker) Available(ctx context.Context, name string) bool {
	r, err := b.store.Load(ctx, name)
	if err != nil {
		return true
	}
	now := b.now()
	switch r.State {
	case Open:
		return now.Sub(r.OpenedAt) >= b.cfg.Cooldown
	case HalfOpen:
		return r.TrialAt.IsZero() || now.Sub(r.TrialAt) >= b.cfg.Cooldown
	default:
		return true
	}
}

func (b *Breaker) update(ctx context.Context, name string, fn func(*Record)) {
	var before State
	after, err := b.store.Update(ctx, name, func(r *Record) {
		before = r.State
		fn(r)
	})
	if err != nil {
		b.log.WithContext(ctx).Warnf("failed to record breaker outcome for %s: %v", name, err)
		return
	}
	b.logTransition(name, before, after.State)
}

func (b *Breaker) logTransition(name string, from, to State) {
	if from == to {
		return
	}
	b.log.Infof("breaker %s: %s -> %s", name, from, to)
}
