package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contentnode/internal/clock"
	"github.com/roach88/contentnode/internal/store"
	"github.com/roach88/contentnode/internal/testutil"
)

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "node.db")
}

func walletOf(userID int64) string {
	return fmt.Sprintf("0x%040x", userID)
}

// withStore opens the database at path, runs fn and closes it again so the
// command under test is the only open handle.
func withStore(t *testing.T, path string, fn func(st *store.Store)) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	fn(st)
}

// seedRecords writes n unclocked track records for a user.
func seedRecords(t *testing.T, st *store.Store, userID int64, n int) {
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
}

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const waitFor = 5 * time.Second
