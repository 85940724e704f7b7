package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/store"
	"github.com/roach88/contentnode/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func walletOf(userID int64) string {
	return fmt.Sprintf("0x%040x", userID)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// testNode is a full node: store, replication server and HTTP listener.
type testNode struct {
	store *store.Store
	api   *Server
	http  *httptest.Server
}

func (n *testNode) URL() string { return n.http.URL }

func newTestNode(t *testing.T, opts ...ServerOption) *testNode {
	t.Helper()
	st := openStore(t)
	syncer := NewSyncer(st, NewClient(2*time.Second), discardLogger())
	api := NewServer(st, syncer, append([]ServerOption{WithServerLogger(discardLogger())}, opts...)...)
	srv := httptest.NewServer(api)
	t.Cleanup(func() {
		api.Close()
		srv.Close()
	})
	return &testNode{store: st, api: api, http: srv}
}

// seedClocked writes n records for a user and assigns their clocks.
func seedClocked(t *testing.T, st *store.Store, userID int64, n int) clock.UserState {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnsureUser(ctx, userID, walletOf(userID)))

	tl := testutil.NewTimeline()
	ids := testutil.NewSequentialIDs(fmt.Sprintf("u%d", userID))
	for i := 0; i < n; i++ {
		_, err := st.WriteRecord(ctx, clock.Record{
			ID:        ids.Generate(),
			UserID:    userID,
			Type:      clock.RecordTrack,
			CreatedAt: tl.Next(),
			Metadata:  json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		})
		require.NoError(t, err)
	}
	state, err := st.AssignClocks(ctx, userID)
	require.NoError(t, err)
	return state
}

// fakeSecondary answers clock probes with a fixed clock and records triggers.
type fakeSecondary struct {
	clock   atomic.Int64
	status  atomic.Int32
	delay   atomic.Int64
	probes  atomic.Int32
	srv     *httptest.Server
	mu      sync.Mutex
	reqs    []SyncRequest
	firedAt []time.Time
}

func newFakeSecondary(t *testing.T, clockValue int64) *fakeSecondary {
	t.Helper()
	f := &fakeSecondary{}
	f.clock.Store(clockValue)
	f.status.Store(http.StatusAccepted)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/clock_status/{wallet}", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)
		json.NewEncoder(w).Encode(ClockStatus{ClockValue: f.clock.Load()})
	})
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		if d := time.Duration(f.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		var req SyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.reqs = append(f.reqs, req)
		f.firedAt = append(f.firedAt, time.Now())
		f.mu.Unlock()
		status := int(f.status.Load())
		w.WriteHeader(status)
		if status >= 300 {
			fmt.Fprint(w, "secondary unavailable")
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSecondary) URL() string { return f.srv.URL }

func (f *fakeSecondary) triggers() []SyncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SyncRequest(nil), f.reqs...)
}

func (f *fakeSecondary) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.firedAt...)
}
