package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/testutil"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustExec runs a statement against the store's database or fails the test.
func mustExec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if _, err := s.db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// mustEnsureUser registers a user with a wallet derived from its id.
func mustEnsureUser(t *testing.T, s *Store, userID int64) {
	t.Helper()
	if err := s.EnsureUser(context.Background(), userID, testWallet(userID)); err != nil {
		t.Fatalf("EnsureUser(%d) failed: %v", userID, err)
	}
}

func testWallet(userID int64) string {
	return fmt.Sprintf("0x%040x", userID)
}

// writeTestRecord writes an unclocked track record with the given id and time.
func writeTestRecord(t *testing.T, s *Store, userID int64, id string, createdAt time.Time) clock.Record {
	t.Helper()
	rec, err := s.WriteRecord(context.Background(), clock.Record{
		ID:        id,
		UserID:    userID,
		Type:      clock.RecordTrack,
		CreatedAt: createdAt,
		Metadata:  json.RawMessage(`{"title":"` + id + `"}`),
	})
	if err != nil {
		t.Fatalf("WriteRecord(%s) failed: %v", id, err)
	}
	return rec
}

// writeTestRecords writes n records for a user, one timeline step apart.
func writeTestRecords(t *testing.T, s *Store, userID int64, n int, tl *testutil.Timeline, ids *testutil.SequentialIDs) []clock.Record {
	t.Helper()
	out := make([]clock.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, writeTestRecord(t, s, userID, ids.Generate(), tl.Next()))
	}
	return out
}

// clocksByID reads the clock of every record of a user.
func clocksByID(t *testing.T, s *Store, userID int64) map[string]int64 {
	t.Helper()
	rows, err := s.db.Query(`SELECT id, clock FROM records WHERE user_id = ? AND clock IS NOT NULL`, userID)
	if err != nil {
		t.Fatalf("query clocks: %v", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var c int64
		if err := rows.Scan(&id, &c); err != nil {
			t.Fatalf("scan clock: %v", err)
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate clocks: %v", err)
	}
	return out
}
