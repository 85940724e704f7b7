package replication

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/contentnode/internal/clock"
)

// DefaultWorkersPerNode is how many users are reconciled concurrently
// against one secondary.
const DefaultWorkersPerNode = 4

// Summary reports one reconciliation pass.
type Summary struct {
	ID        string        `json:"id"`
	Users     int           `json:"users"`
	UpToDate  int           `json:"up_to_date"`
	Triggered int           `json:"triggered"`
	Failed    int           `json:"failed"`
	MaxLag    int64         `json:"max_lag"`
	Duration  time.Duration `json:"duration"`
	Outcomes  []SyncOutcome `json:"outcomes"`
}

// Pass reconciles many users in one run.
//
// Work is grouped by secondary node. Each node gets its own bounded pool,
// and the Reconciler's per-node limiter paces the triggers inside it, so a
// slow node never holds up the others.
type Pass struct {
	reconciler     *Reconciler
	workersPerNode int
	logger         *slog.Logger
}

// PassOption configures a Pass.
type PassOption func(*Pass)

// WithWorkersPerNode bounds concurrent users per secondary node.
func WithWorkersPerNode(n int) PassOption {
	return func(p *Pass) { p.workersPerNode = n }
}

// WithPassLogger sets the logger. Defaults to slog.Default().
func WithPassLogger(l *slog.Logger) PassOption {
	return func(p *Pass) { p.logger = l }
}

// NewPass creates a pass runner.
func NewPass(r *Reconciler, opts ...PassOption) *Pass {
	p := &Pass{
		reconciler:     r,
		workersPerNode: DefaultWorkersPerNode,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workersPerNode < 1 {
		p.workersPerNode = 1
	}
	return p
}

type job struct {
	set   ReplicaSet
	state clock.UserState
}

// Run reconciles users, whose states must be committed clock values, using
// the replica sets in arena. A user missing from the arena, or with unusable
// replica-set data, fails alone. Outcomes are sorted by user, then secondary.
func (p *Pass) Run(ctx context.Context, arena Arena, users []clock.UserState) Summary {
	start := time.Now()
	sum := Summary{ID: uuid.NewString(), Users: len(users)}
	log := p.logger.With("pass", sum.ID)
	log.Info("reconcile pass starting", "users", len(users))

	var (
		mu       sync.Mutex
		outcomes = []SyncOutcome{}
	)
	record := func(o SyncOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	byNode := make(map[string][]job)
	for _, st := range users {
		set, err := arena.Lookup(st.UserID)
		if err == nil {
			err = set.validate(st.UserID)
		}
		if err != nil {
			record(p.reconciler.configFailure(st.UserID, "", st.MaxClock, err))
			continue
		}
		for _, sec := range distinct(set.Secondaries) {
			byNode[sec] = append(byNode[sec], job{set: set, state: st})
		}
	}

	nodes := make([]string, 0, len(byNode))
	for node := range byNode {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	var all errgroup.Group
	for _, node := range nodes {
		jobs := byNode[node]
		all.Go(func() error {
			var pool errgroup.Group
			pool.SetLimit(p.workersPerNode)
			for _, j := range jobs {
				pool.Go(func() error {
					record(p.reconciler.reconcileSecondary(ctx, j.set, node, j.state.UserID, j.state.MaxClock))
					return nil
				})
			}
			return pool.Wait()
		})
	}
	all.Wait()

	slices.SortFunc(outcomes, func(a, b SyncOutcome) int {
		if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return cmp.Compare(a.Secondary, b.Secondary)
	})
	sum.Outcomes = outcomes
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeUpToDate:
			sum.UpToDate++
		case OutcomeTriggered:
			sum.Triggered++
		case OutcomeFailed:
			sum.Failed++
		}
		sum.MaxLag = max(sum.MaxLag, o.Lag())
	}
	sum.Duration = time.Since(start)

	log.Info("reconcile pass finished",
		"up_to_date", sum.UpToDate,
		"triggered", sum.Triggered,
		"failed", sum.Failed,
		"max_lag", sum.MaxLag,
		"duration", sum.Duration,
	)
	return sum
}
