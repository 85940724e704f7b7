package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/store"
)

// ClockAssignOptions holds flags for clock assign.
type ClockAssignOptions struct {
	*RootOptions
	UserID  int64
	Workers int
}

// UserClockResult is one user's line in clock output.
type UserClockResult struct {
	UserID   int64  `json:"user_id"`
	MaxClock int64  `json:"max_clock"`
	Pending  bool   `json:"pending,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ClockResult is the output of clock assign and clock status.
type ClockResult struct {
	Users  []UserClockResult `json:"users"`
	Failed int               `json:"failed"`
}

func (r ClockResult) Text() string {
	if len(r.Users) == 0 {
		return "No users.\n"
	}
	var b strings.Builder
	for _, u := range r.Users {
		switch {
		case u.Error != "":
			fmt.Fprintf(&b, "user %d: failed: %s\n", u.UserID, u.Error)
		case u.Pending:
			fmt.Fprintf(&b, "user %d: clock %d (pending records)\n", u.UserID, u.MaxClock)
		default:
			fmt.Fprintf(&b, "user %d: clock %d\n", u.UserID, u.MaxClock)
		}
	}
	return b.String()
}

// NewClockCommand creates the clock command group.
func NewClockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clock",
		Short: "Assign and inspect per-user clocks",
	}
	cmd.AddCommand(NewClockAssignCommand(rootOpts))
	cmd.AddCommand(NewClockStatusCommand(rootOpts))
	return cmd
}

// NewClockAssignCommand creates the clock assign command.
func NewClockAssignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClockAssignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign clocks to unclocked records",
		Long: `Assign clock values to every unclocked record, one transaction per user.

Records are ordered by creation time, then insertion order, then id. A user
whose transaction fails keeps its previous clock and is retried on the next
run; other users are unaffected.

Example:
  cnode clock assign
  cnode clock assign --user 42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClockAssign(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "assign only this user")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "users assigned concurrently (overrides clock.user_workers)")

	return cmd
}

func runClockAssign(opts *ClockAssignOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Workers > 0 {
		cfg.Clock.UserWorkers = opts.Workers
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	var results []store.AssignResult
	if cmd.Flags().Changed("user") {
		state, err := st.AssignClocks(ctx, opts.UserID)
		results = []store.AssignResult{{State: state, Err: err}}
	} else {
		results, err = st.AssignAll(ctx, cfg.Clock.UserWorkers)
		if err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitFailure, "clock assignment interrupted", err)
		}
	}

	out := ClockResult{Users: make([]UserClockResult, 0, len(results))}
	for _, res := range results {
		line := UserClockResult{UserID: res.State.UserID, MaxClock: res.State.MaxClock}
		if res.Err != nil {
			line.Error = res.Err.Error()
			out.Failed++
			logger.Warn("clock assignment failed", "user_id", res.State.UserID, "error", res.Err)
		} else {
			logger.Debug("clocks assigned", "user_id", res.State.UserID, "clock", res.State.MaxClock)
		}
		out.Users = append(out.Users, line)
	}

	if out.Failed > 0 {
		msg := fmt.Sprintf("%d user(s) failed clock assignment", out.Failed)
		if err := formatter.Partial(out, ErrCodeStore, msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(out)
}

// NewClockStatusCommand creates the clock status command.
func NewClockStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show each user's committed clock",
		Long: `Show each user's committed max clock, and whether unclocked records are
waiting for assignment.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClockStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runClockStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(opts, cmd.ErrOrStderr())
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	states, err := st.ListUserClocks(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read clocks", err)
	}
	pending, err := st.UsersWithUnclockedRecords(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read clocks", err)
	}

	return formatter.Success(clockStatus(states, pending))
}

func clockStatus(states []clock.UserState, pending []int64) ClockResult {
	out := ClockResult{Users: make([]UserClockResult, 0, len(states))}
	for _, s := range states {
		_, found := slices.BinarySearch(pending, s.UserID)
		out.Users = append(out.Users, UserClockResult{UserID: s.UserID, MaxClock: s.MaxClock, Pending: found})
	}
	return out
}
