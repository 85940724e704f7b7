package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OutcomeKind classifies what happened for one user/secondary pair.
type OutcomeKind string

const (
	// OutcomeUpToDate means the secondary already holds the primary's clock.
	OutcomeUpToDate OutcomeKind = "up_to_date"
	// OutcomeTriggered means the secondary was behind and accepted a trigger.
	OutcomeTriggered OutcomeKind = "triggered"
	// OutcomeFailed means the probe, the trigger or the replica-set data failed.
	OutcomeFailed OutcomeKind = "failed"
)

// SyncOutcome is the result of reconciling one user on one secondary.
type SyncOutcome struct {
	UserID    int64       `json:"user_id"`
	Secondary string      `json:"secondary,omitempty"`
	Kind      OutcomeKind `json:"kind"`

	// PrimaryClock is the committed max clock the decision was made against.
	PrimaryClock int64 `json:"primary_clock"`
	// SecondaryClock is the probed clock, -1 when unknown to the secondary
	// or when the probe did not succeed.
	SecondaryClock int64 `json:"secondary_clock"`

	Err error `json:"-"`
}

// MarshalJSON adds the failure text as "error".
func (o SyncOutcome) MarshalJSON() ([]byte, error) {
	type plain SyncOutcome
	v := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(o)}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return json.Marshal(v)
}

// Lag is how many clocks the secondary is behind, 0 when unknown.
func (o SyncOutcome) Lag() int64 {
	if o.SecondaryClock < 0 || o.SecondaryClock >= o.PrimaryClock {
		return 0
	}
	return o.PrimaryClock - o.SecondaryClock
}

// Reconciler decides, per secondary, whether to trigger a pull.
//
// Triggers to the same secondary are paced by one rate limiter per node,
// shared by every Reconcile call and every Pass using this Reconciler.
type Reconciler struct {
	source  ClockSource
	trigger Triggerer
	pacing  time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPacing sets the minimum interval between triggers sent to one node.
// Zero disables pacing.
func WithPacing(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.pacing = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler probing clocks with source and sending
// triggers with trigger. A *Client serves as both.
func NewReconciler(source ClockSource, trigger Triggerer, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		source:   source,
		trigger:  trigger,
		logger:   slog.Default(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile checks every secondary of set for userID against primaryMaxClock
// and triggers the ones that are behind. It returns one outcome per
// distinct secondary, in the order of set.Secondaries. A replica set that
// fails validation yields config failures, one with an empty secondary when
// there are none.
//
// primaryMaxClock must be a committed value: call Reconcile only after the
// user's clock transaction has committed.
func (r *Reconciler) Reconcile(ctx context.Context, set ReplicaSet, userID, primaryMaxClock int64) []SyncOutcome {
	secondaries := distinct(set.Secondaries)
	if err := set.validate(userID); err != nil {
		if len(secondaries) == 0 {
			return []SyncOutcome{r.configFailure(userID, "", primaryMaxClock, err)}
		}
		outcomes := make([]SyncOutcome, len(secondaries))
		for i, sec := range secondaries {
			outcomes[i] = r.configFailure(userID, sec, primaryMaxClock, err)
		}
		return outcomes
	}

	outcomes := make([]SyncOutcome, len(secondaries))
	var g errgroup.Group
	for i, sec := range secondaries {
		g.Go(func() error {
			outcomes[i] = r.reconcileSecondary(ctx, set, sec, userID, primaryMaxClock)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// distinct drops repeated endpoints, keeping the first occurrence.
func distinct(endpoints []string) []string {
	seen := make(map[string]bool, len(endpoints))
	out := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// reconcileSecondary handles one user/secondary pair. It never returns an
// error; failures are folded into the outcome.
func (r *Reconciler) reconcileSecondary(ctx context.Context, set ReplicaSet, secondary string, userID, primaryMaxClock int64) SyncOutcome {
	out := SyncOutcome{
		UserID:         userID,
		Secondary:      secondary,
		PrimaryClock:   primaryMaxClock,
		SecondaryClock: -1,
	}
	if err := ValidateEndpoint(secondary); err != nil {
		return r.configFailure(userID, secondary, primaryMaxClock, &ConfigError{UserID: userID, Field: "secondaries", Reason: err.Error()})
	}
	log := r.logger.With("user_id", userID, "secondary", secondary)

	secClock, err := r.source.ClockStatus(ctx, secondary, set.Wallet)
	if err != nil {
		return r.failed(log, out, fmt.Errorf("probe clock: %w", err))
	}
	out.SecondaryClock = secClock

	if secClock >= primaryMaxClock {
		if secClock > primaryMaxClock {
			log.Warn("secondary clock ahead of primary", "clock", secClock, "primary_clock", primaryMaxClock)
		}
		out.Kind = OutcomeUpToDate
		log.Debug("secondary up to date", "clock", secClock)
		return out
	}

	if err := r.limiter(secondary).Wait(ctx); err != nil {
		return r.failed(log, out, fmt.Errorf("pacing: %w", err))
	}

	err = r.trigger.TriggerSync(ctx, secondary, SyncRequest{
		Wallet:              []string{set.Wallet},
		CreatorNodeEndpoint: set.Primary,
		Immediate:           true,
	})
	if err != nil {
		return r.failed(log, out, err)
	}

	out.Kind = OutcomeTriggered
	log.Info("sync triggered", "clock", secClock, "primary_clock", primaryMaxClock, "lag", out.Lag())
	return out
}

func (r *Reconciler) failed(log *slog.Logger, out SyncOutcome, err error) SyncOutcome {
	out.Kind = OutcomeFailed
	out.Err = err
	log.Warn("reconcile failed", "error", err)
	return out
}

func (r *Reconciler) configFailure(userID int64, secondary string, primaryMaxClock int64, err error) SyncOutcome {
	r.logger.Warn("skipping user: bad replica set", "user_id", userID, "secondary", secondary, "error", err)
	return SyncOutcome{
		UserID:         userID,
		Secondary:      secondary,
		Kind:           OutcomeFailed,
		PrimaryClock:   primaryMaxClock,
		SecondaryClock: -1,
		Err:            err,
	}
}

// limiter returns the node's limiter, creating it on first use.
// Burst 1: the first trigger goes out at once, the next waits one interval.
func (r *Reconciler) limiter(node string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[node]
	if !ok {
		limit := rate.Inf
		if r.pacing > 0 {
			limit = rate.Every(r.pacing)
		}
		l = rate.NewLimiter(limit, 1)
		r.limiters[node] = l
	}
	return l
}
