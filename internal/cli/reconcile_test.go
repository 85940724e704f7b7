package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contentnode/internal/replication"
	"github.com/roach88/contentnode/internal/store"
)

// secondaryStub reports a fixed clock for every wallet and records triggers.
type secondaryStub struct {
	srv    *httptest.Server
	mu     sync.Mutex
	synced []replication.SyncRequest
}

func newSecondaryStub(t *testing.T, clockValue int64, status int) *secondaryStub {
	t.Helper()
	s := &secondaryStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/clock_status/{wallet}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(replication.ClockStatus{ClockValue: clockValue})
	})
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		var req replication.SyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		s.mu.Lock()
		s.synced = append(s.synced, req)
		s.mu.Unlock()
		w.WriteHeader(status)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *secondaryStub) requests() []replication.SyncRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]replication.SyncRequest(nil), s.synced...)
}

func writeReplicaSets(t *testing.T, primary string, secondaries []string, users ...int64) string {
	t.Helper()
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "- user_id: %d\n  primary: %s\n  wallet: %q\n  secondaries:\n", u, primary, walletOf(u))
		for _, s := range secondaries {
			fmt.Fprintf(&b, "    - %s\n", s)
		}
	}
	path := filepath.Join(t.TempDir(), "replica_sets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

type reconcileResponse struct {
	Status string              `json:"status"`
	Data   replication.Summary `json:"data"`
	Error  *CLIError           `json:"error"`
}

func TestReconcile_TriggersLaggingSecondaries(t *testing.T) {
	db := testDB(t)
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 42, 3)
	})
	behind := newSecondaryStub(t, 1, http.StatusOK)
	current := newSecondaryStub(t, 3, http.StatusOK)
	rs := writeReplicaSets(t, "http://primary.example", []string{behind.srv.URL, current.srv.URL}, 42)

	stdout, _, err := executeCommand(t, "reconcile", "--db", db, "--replica-sets", rs,
		"--assign", "--pacing", "0s", "--format", "json")
	require.NoError(t, err)

	var resp reconcileResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Users)
	assert.Equal(t, 1, resp.Data.Triggered)
	assert.Equal(t, 1, resp.Data.UpToDate)
	assert.Equal(t, int64(2), resp.Data.MaxLag)

	reqs := behind.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{walletOf(42)}, reqs[0].Wallet)
	assert.Equal(t, "http://primary.example", reqs[0].CreatorNodeEndpoint)
	assert.True(t, reqs[0].Immediate)
	assert.Empty(t, current.requests())
}

func TestReconcile_WithoutAssignUsesCommittedClock(t *testing.T) {
	db := testDB(t)
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 42, 3)
	})
	sec := newSecondaryStub(t, 0, http.StatusOK)
	rs := writeReplicaSets(t, "http://primary.example", []string{sec.srv.URL}, 42)

	stdout, _, err := executeCommand(t, "reconcile", "--db", db, "--replica-sets", rs)
	require.NoError(t, err)
	assert.Contains(t, stdout, "up_to_date (primary 0, secondary 0)")
	assert.Contains(t, stdout, "1 up to date, 0 triggered, 0 failed")
	assert.Empty(t, sec.requests())
}

func TestReconcile_FailedTriggerExitsNonZero(t *testing.T) {
	db := testDB(t)
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 8, 2)
	})
	sec := newSecondaryStub(t, -1, http.StatusServiceUnavailable)
	rs := writeReplicaSets(t, "http://primary.example", []string{sec.srv.URL}, 8)

	stdout, _, err := executeCommand(t, "reconcile", "--db", db, "--replica-sets", rs, "--assign", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp reconcileResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeReconcile, resp.Error.Code)
	assert.Len(t, sec.requests(), 1, "no retry within a pass")
}

func TestReconcile_UserMissingFromReplicaSets(t *testing.T) {
	db := testDB(t)
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 1, 1)
		seedRecords(t, st, 2, 1)
	})
	sec := newSecondaryStub(t, 1, http.StatusOK)
	rs := writeReplicaSets(t, "http://primary.example", []string{sec.srv.URL}, 1)

	stdout, _, err := executeCommand(t, "reconcile", "--db", db, "--replica-sets", rs, "--assign")
	require.Error(t, err)
	assert.Contains(t, stdout, "user 1 "+sec.srv.URL+": up_to_date")
	assert.Contains(t, stdout, "user 2 : failed")
	assert.Contains(t, stdout, "no replica set")
}

func TestReconcile_OnlyUsersOfThisPrimary(t *testing.T) {
	db := testDB(t)
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 1, 2)
	})
	sec := newSecondaryStub(t, 0, http.StatusOK)
	rs := writeReplicaSets(t, "http://other.example", []string{sec.srv.URL}, 1)

	stdout, _, err := executeCommand(t, "reconcile", "--db", db, "--replica-sets", rs,
		"--assign", "--endpoint", "http://me.example")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 user(s)")
	assert.Empty(t, sec.requests())
}

func TestReconcile_ConfigErrors(t *testing.T) {
	db := testDB(t)

	_, _, err := executeCommand(t, "reconcile", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no replica sets")

	_, _, err = executeCommand(t, "reconcile", "--db", db, "--replica-sets", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = executeCommand(t, "reconcile", "--db", db, "--replica-sets", "x.yaml", "--endpoint", "node1:4000")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
}

func TestReconcile_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "node.db")
	withStore(t, db, func(st *store.Store) {
		seedRecords(t, st, 5, 1)
	})
	sec := newSecondaryStub(t, -1, http.StatusAccepted)
	rs := writeReplicaSets(t, "http://primary.example", []string{sec.srv.URL}, 5)

	cfgPath := filepath.Join(dir, "node.yaml")
	cfg := fmt.Sprintf("node:\n  db: %s\n  replica_sets: %s\nsync:\n  pacing: 0s\n", db, rs)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	stdout, _, err := executeCommand(t, "reconcile", "--config", cfgPath, "--assign")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 up to date, 1 triggered, 0 failed")
	require.Len(t, sec.requests(), 1)
}
