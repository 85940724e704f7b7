package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/contentnode/internal/config"
	"github.com/roach88/contentnode/internal/replication"
	"github.com/roach88/contentnode/internal/store"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen      string
	Endpoint    string
	ReplicaSets string
	Interval    time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the node's replication endpoints",
		Long: `Serve the node's replication HTTP endpoints until interrupted.

As secondary, the node answers clock probes and pulls from the primary when
triggered. As primary, it serves exports; with sync.interval > 0 and a
replica-set file it also assigns clocks and reconciles on every interval.

Example:
  cnode serve --config node.yaml
  cnode serve --listen :4000 --endpoint http://node1:4000 --replica-sets ./rs.yaml --interval 30s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides node.listen)")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "this node's URL (overrides node.endpoint)")
	cmd.Flags().StringVar(&opts.ReplicaSets, "replica-sets", "", "replica-set file (overrides node.replica_sets)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "reconcile interval, 0 disables (overrides sync.interval)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Node.Listen = opts.Listen
	}
	if opts.Endpoint != "" {
		cfg.Node.Endpoint = opts.Endpoint
	}
	if opts.ReplicaSets != "" {
		cfg.Node.ReplicaSets = opts.ReplicaSets
	}
	if cmd.Flags().Changed("interval") {
		cfg.Sync.Interval = opts.Interval
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	client := replication.NewClient(cfg.Sync.Timeout)
	syncer := replication.NewSyncer(st, client, logger)
	api := replication.NewServer(st, syncer,
		replication.WithExportPageSize(cfg.Sync.ExportPageSize),
		replication.WithMaxPulls(cfg.Sync.UserWorkers),
		replication.WithServerLogger(logger),
	)
	defer api.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: api, ReadHeaderTimeout: cfg.Sync.Timeout}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.Info("node serving", "addr", ln.Addr().String(), "endpoint", cfg.Node.Endpoint, "db", cfg.Node.DB)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	var cycles sync.WaitGroup
	if cfg.Sync.Interval > 0 && cfg.Node.ReplicaSets != "" {
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			runCycles(ctx, cfg, st, logger)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "server error", err)
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", "error", err)
	}
	cycles.Wait()

	logger.Info("node stopped gracefully")
	return runErr
}

// runCycles assigns clocks and reconciles every interval until ctx ends.
// The replica-set file is re-read each cycle so registry updates apply
// without a restart.
func runCycles(ctx context.Context, cfg config.Config, st *store.Store, logger *slog.Logger) {
	cycle := newCycle(cfg, replication.Arena{}, logger)
	cycle.Store = st

	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		arena, err := replication.LoadArena(cfg.Node.ReplicaSets)
		if err != nil {
			logger.Error("skipping reconcile cycle", "error", err)
			continue
		}
		cycle.Arena = arena
		if _, err := cycle.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("reconcile cycle failed", "error", err)
		}
	}
}
