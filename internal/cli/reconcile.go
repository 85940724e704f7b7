package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/contentnode/internal/config"
	"github.com/roach88/contentnode/internal/replication"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	ReplicaSets    string
	Endpoint       string
	Assign         bool
	Pacing         time.Duration
	WorkersPerNode int
}

// ReconcileResult is the output of reconcile.
type ReconcileResult struct {
	replication.Summary
}

func (r ReconcileResult) Text() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "user %d %s: %s (primary %d, secondary %d)", o.UserID, o.Secondary, o.Kind, o.PrimaryClock, o.SecondaryClock)
		if o.Err != nil {
			fmt.Fprintf(&b, ": %v", o.Err)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Pass %s: %d user(s), %d up to date, %d triggered, %d failed, max lag %d\n",
		r.ID, r.Users, r.UpToDate, r.Triggered, r.Failed, r.MaxLag)
	return b.String()
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Trigger sync on secondaries that are behind",
		Long: `Run one reconciliation pass as primary.

For every user whose replica set names this node as primary, each secondary
is asked for its clock. A secondary behind this node's committed clock gets
one sync trigger; failures are reported and retried on the next pass.

Example:
  cnode reconcile --replica-sets ./replica_sets.yaml
  cnode reconcile --config node.yaml --assign --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ReplicaSets, "replica-sets", "", "replica-set file (overrides node.replica_sets)")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "this node's URL (overrides node.endpoint)")
	cmd.Flags().BoolVar(&opts.Assign, "assign", false, "assign pending clocks before reconciling")
	cmd.Flags().DurationVar(&opts.Pacing, "pacing", 0, "minimum gap between triggers to one secondary (overrides sync.pacing)")
	cmd.Flags().IntVar(&opts.WorkersPerNode, "workers-per-node", 0, "concurrent users per secondary (overrides sync.workers_per_node)")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.ReplicaSets != "" {
		cfg.Node.ReplicaSets = opts.ReplicaSets
	}
	if opts.Endpoint != "" {
		cfg.Node.Endpoint = opts.Endpoint
	}
	if cmd.Flags().Changed("pacing") {
		cfg.Sync.Pacing = opts.Pacing
	}
	if opts.WorkersPerNode > 0 {
		cfg.Sync.WorkersPerNode = opts.WorkersPerNode
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	if cfg.Node.ReplicaSets == "" {
		return NewExitError(ExitCommandError, "no replica sets: set node.replica_sets or --replica-sets")
	}

	arena, err := replication.LoadArena(cfg.Node.ReplicaSets)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load replica sets", err)
	}
	formatter.VerboseLog("Loaded %d replica set(s) from %s", arena.Len(), cfg.Node.ReplicaSets)

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	cycle := newCycle(cfg, arena, logger)
	cycle.Store = st
	if !opts.Assign {
		cycle.AssignWorkers = 0
	}

	sum, err := cycle.Run(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "reconcile failed", err)
	}

	result := ReconcileResult{Summary: sum}
	if sum.Failed > 0 {
		msg := fmt.Sprintf("%d sync trigger(s) failed", sum.Failed)
		if err := formatter.Partial(result, ErrCodeReconcile, msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(result)
}

// newCycle wires the replication stack from cfg. The caller sets Store.
func newCycle(cfg config.Config, arena replication.Arena, logger *slog.Logger) *replication.Cycle {
	client := replication.NewClient(cfg.Sync.Timeout)
	reconciler := replication.NewReconciler(client, client,
		replication.WithPacing(cfg.Sync.Pacing),
		replication.WithLogger(logger),
	)
	pass := replication.NewPass(reconciler,
		replication.WithWorkersPerNode(cfg.Sync.WorkersPerNode),
		replication.WithPassLogger(logger),
	)
	return &replication.Cycle{
		Pass:          pass,
		Arena:         arena,
		Endpoint:      cfg.Node.Endpoint,
		AssignWorkers: cfg.Clock.UserWorkers,
		Logger:        logger,
	}
}
