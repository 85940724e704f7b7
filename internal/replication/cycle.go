package replication

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/store"
)

// Cycle is one round of a primary's duty: optionally clock pending records,
// then reconcile every user this node is primary for.
type Cycle struct {
	Store *store.Store
	Pass  *Pass
	Arena Arena

	// Endpoint is this node's URL. When set, only users whose primary is
	// Endpoint (or who are missing from the arena) are reconciled.
	Endpoint string

	// AssignWorkers > 0 runs store.AssignAll with that many workers first.
	AssignWorkers int

	Logger *slog.Logger
}

// Run executes the cycle. Clock failures are logged and left for the next
// cycle; the returned error is set only when the store cannot be read.
func (c *Cycle) Run(ctx context.Context) (Summary, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if c.AssignWorkers > 0 {
		results, err := c.Store.AssignAll(ctx, c.AssignWorkers)
		if err != nil {
			return Summary{}, fmt.Errorf("assign clocks: %w", err)
		}
		for _, res := range results {
			if res.Err != nil {
				logger.Warn("clock assignment failed", "user_id", res.State.UserID, "error", res.Err)
			}
		}
	}

	states, err := c.Store.ListUserClocks(ctx)
	if err != nil {
		return Summary{}, err
	}
	return c.Pass.Run(ctx, c.Arena, PrimaryUsers(c.Arena, c.Endpoint, states)), nil
}

// PrimaryUsers keeps the users whose replica set names endpoint as primary.
// Users missing from the arena are kept so the pass reports them. An empty
// endpoint keeps everyone.
func PrimaryUsers(arena Arena, endpoint string, users []clock.UserState) []clock.UserState {
	if endpoint == "" {
		return users
	}
	out := make([]clock.UserState, 0, len(users))
	for _, u := range users {
		set, err := arena.Lookup(u.UserID)
		if err != nil || sameEndpoint(set.Primary, endpoint) {
			out = append(out, u)
		}
	}
	return out
}

func sameEndpoint(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
