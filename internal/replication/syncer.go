package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/store"
)

// ErrSyncInProgress is returned when a pull for the same wallet is running.
var ErrSyncInProgress = errors.New("replication: sync already in progress")

// maxPages bounds the pages fetched by one Sync call.
const maxPages = 1000

// Syncer is the secondary's pull side: it fetches the delta after the local
// clock from the primary and applies it.
type Syncer struct {
	store    *store.Store
	exporter Exporter
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewSyncer creates a Syncer writing to st and pulling through exporter.
// A nil logger uses slog.Default().
func NewSyncer(st *store.Store, exporter Exporter, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    st,
		exporter: exporter,
		logger:   logger,
		inflight: make(map[string]bool),
	}
}

// Sync pulls everything the primary holds for wallet beyond the local clock
// and returns the new local state. A primary that pages its export is
// followed until the local clock reaches the primary's max clock.
//
// At most one Sync per wallet runs at a time; a concurrent call returns
// ErrSyncInProgress.
func (s *Syncer) Sync(ctx context.Context, wallet, primary string) (clock.UserState, error) {
	if err := ValidateEndpoint(primary); err != nil {
		return clock.UserState{}, fmt.Errorf("sync %s: %w", wallet, err)
	}
	if !s.acquire(wallet) {
		return clock.UserState{}, ErrSyncInProgress
	}
	defer s.release(wallet)

	log := s.logger.With("wallet", wallet, "primary", primary)

	local, err := s.localClock(ctx, wallet)
	if err != nil {
		return clock.UserState{}, fmt.Errorf("sync %s: %w", wallet, err)
	}

	state := local
	for page := 0; page < maxPages; page++ {
		exp, err := s.exporter.FetchExport(ctx, primary, wallet, state.MaxClock+1)
		if err != nil {
			return state, fmt.Errorf("sync %s: %w", wallet, err)
		}
		if exp.MaxClock < state.MaxClock {
			log.Warn("local clock ahead of primary", "clock", state.MaxClock, "primary_clock", exp.MaxClock)
			return state, nil
		}

		state, err = s.store.ApplyExport(ctx, exp)
		if err != nil {
			return state, fmt.Errorf("sync %s: %w", wallet, err)
		}
		log.Debug("applied export page", "user_id", state.UserID, "records", len(exp.Records), "clock", state.MaxClock)

		if state.MaxClock >= exp.MaxClock || len(exp.Records) == 0 {
			log.Info("sync complete", "user_id", state.UserID, "from", local.MaxClock, "clock", state.MaxClock)
			return state, nil
		}
	}
	return state, fmt.Errorf("sync %s: gave up after %d pages at clock %d", wallet, maxPages, state.MaxClock)
}

// localClock returns the replicated state for wallet, clock 0 if unknown.
func (s *Syncer) localClock(ctx context.Context, wallet string) (clock.UserState, error) {
	userID, err := s.store.UserByWallet(ctx, wallet)
	if errors.Is(err, store.ErrUserNotFound) {
		return clock.UserState{}, nil
	}
	if err != nil {
		return clock.UserState{}, err
	}
	return s.store.UserClock(ctx, userID)
}

func (s *Syncer) acquire(wallet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[wallet] {
		return false
	}
	s.inflight[wallet] = true
	return true
}

func (s *Syncer) release(wallet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, wallet)
}
