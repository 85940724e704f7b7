package replication

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/testutil"
)

func TestConvergence_TriggerThenPull(t *testing.T) {
	ctx := context.Background()
	primary := newTestNode(t)
	secA := newTestNode(t)
	secB := newTestNode(t)

	state := seedClocked(t, primary.store, 42, 5)
	set := ReplicaSet{Primary: primary.URL(), Secondaries: []string{secA.URL(), secB.URL()}, Wallet: walletOf(42)}
	r := newTestReconciler()

	outcomes := r.Reconcile(ctx, set, 42, state.MaxClock)
	for _, o := range outcomes {
		require.Equal(t, OutcomeTriggered, o.Kind, "secondary %s: %v", o.Secondary, o.Err)
		assert.Equal(t, int64(-1), o.SecondaryClock)
	}
	secA.api.Wait()
	secB.api.Wait()

	for _, sec := range []*testNode{secA, secB} {
		got, err := sec.store.UserClock(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, state.MaxClock, got.MaxClock)
	}

	// No new writes: the second pass triggers nothing.
	for _, o := range r.Reconcile(ctx, set, 42, state.MaxClock) {
		assert.Equal(t, OutcomeUpToDate, o.Kind)
		assert.Equal(t, state.MaxClock, o.SecondaryClock)
	}
}

func TestConvergence_IncrementalWrites(t *testing.T) {
	ctx := context.Background()
	primary := newTestNode(t)
	secondary := newTestNode(t)

	state := seedClocked(t, primary.store, 1, 2)
	arena, err := NewArena([]ArenaEntry{{UserID: 1, Primary: primary.URL(), Secondaries: []string{secondary.URL()}, Wallet: walletOf(1)}})
	require.NoError(t, err)
	p := NewPass(newTestReconciler(), WithPassLogger(discardLogger()))

	sum := p.Run(ctx, arena, []clock.UserState{state})
	require.Equal(t, 1, sum.Triggered)
	secondary.api.Wait()

	// Three more writes on the primary, clocked in a later transaction.
	tl := testutil.NewTimelineAt(testutil.Epoch.Add(time.Hour), time.Second)
	for i := 0; i < 3; i++ {
		_, err := primary.store.WriteRecord(ctx, clock.Record{
			UserID:    1,
			Type:      clock.RecordProfile,
			CreatedAt: tl.Next(),
			Metadata:  json.RawMessage(`{"bio":"v` + string(rune('1'+i)) + `"}`),
		})
		require.NoError(t, err)
	}
	state, err = primary.store.AssignClocks(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), state.MaxClock)

	sum = p.Run(ctx, arena, []clock.UserState{state})
	require.Equal(t, 1, sum.Triggered)
	assert.Equal(t, int64(3), sum.MaxLag)
	secondary.api.Wait()

	got, err := secondary.store.UserClock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.MaxClock)

	sum = p.Run(ctx, arena, []clock.UserState{state})
	assert.Equal(t, 0, sum.Triggered)
	assert.Equal(t, 1, sum.UpToDate)
}
