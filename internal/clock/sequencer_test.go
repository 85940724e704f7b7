package clock

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestAssignClocks_ProfileAndTracks(t *testing.T) {
	records := []Record{
		{ID: "track-t2", UserID: 42, Type: RecordTrack, CreatedAt: at(2 * time.Second), Seq: 1},
		{ID: "profile-t1", UserID: 42, Type: RecordProfile, CreatedAt: at(1 * time.Second), Seq: 2},
		{ID: "track-t3", UserID: 42, Type: RecordTrack, CreatedAt: at(3 * time.Second), Seq: 3},
	}

	out, maxClock, err := AssignClocks(42, records)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxClock)

	got := map[string]int64{}
	for _, r := range out {
		got[r.ID] = r.Clock
	}
	assert.Equal(t, map[string]int64{"profile-t1": 1, "track-t2": 2, "track-t3": 3}, got)

	for _, r := range records {
		assert.Zero(t, r.Clock, "input must not be modified")
	}
}

func TestAssignClocks_GaplessOneToN(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 500
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			ID:        string(rune('a'+i%26)) + time.Duration(i).String(),
			UserID:    9,
			CreatedAt: at(time.Duration(rng.Intn(50)) * time.Millisecond),
			Seq:       int64(i + 1),
		}
	}

	out, maxClock, err := AssignClocks(9, records)
	require.NoError(t, err)
	assert.Equal(t, int64(n), maxClock)

	last, err := CheckContiguous(0, out)
	require.NoError(t, err)
	assert.Equal(t, int64(n), last)

	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, Compare(out[i-1], out[i]), 0)
	}
}

func TestAssignClocks_TieBreakIsDeterministic(t *testing.T) {
	same := at(0)
	records := []Record{
		{ID: "c", UserID: 1, CreatedAt: same, Seq: 3},
		{ID: "a", UserID: 1, CreatedAt: same, Seq: 1},
		{ID: "b", UserID: 1, CreatedAt: same, Seq: 2},
	}

	// Every permutation of the input yields the same assignment.
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		in := []Record{records[p[0]], records[p[1]], records[p[2]]}
		out, _, err := AssignClocks(1, in)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(out), "perm %v", p)
	}
}

func TestAssignClocks_TieBreakFallsBackToID(t *testing.T) {
	records := []Record{
		{ID: "z", UserID: 1, CreatedAt: at(0)},
		{ID: "m", UserID: 1, CreatedAt: at(0)},
	}
	out, _, err := AssignClocks(1, records)
	require.NoError(t, err)
	assert.Equal(t, []string{"m", "z"}, ids(out))
}

func TestAssignClocks_Empty(t *testing.T) {
	out, maxClock, err := AssignClocks(1, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, maxClock)
}

func TestAssignClocks_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    error
	}{
		{"foreign", []Record{{ID: "a", UserID: 2}}, ErrForeignRecord},
		{"clocked", []Record{{ID: "a", UserID: 1, Clock: 4}}, ErrAlreadyClocked},
		{"duplicate", []Record{{ID: "a", UserID: 1}, {ID: "a", UserID: 1}}, ErrDuplicateRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := AssignClocks(1, tt.records)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSequence_ContinuesFromBase(t *testing.T) {
	records := []Record{
		{ID: "x", UserID: 5, CreatedAt: at(2)},
		{ID: "y", UserID: 5, CreatedAt: at(1)},
	}
	out, maxClock, err := Sequence(5, 10, records)
	require.NoError(t, err)
	assert.Equal(t, int64(12), maxClock)
	assert.Equal(t, []string{"y", "x"}, ids(out))
	assert.Equal(t, int64(11), out[0].Clock)

	_, _, err = Sequence(5, -1, records)
	assert.Error(t, err)
}

func TestCheckContiguous(t *testing.T) {
	ok := []Record{{ID: "a", Clock: 4}, {ID: "b", Clock: 5}}
	last, err := CheckContiguous(3, ok)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)

	gap := []Record{{ID: "a", Clock: 4}, {ID: "b", Clock: 6}}
	_, err = CheckContiguous(3, gap)
	assert.ErrorIs(t, err, ErrClockGap)

	_, err = CheckContiguous(0, []Record{{ID: "a", Clock: 2}})
	assert.ErrorIs(t, err, ErrClockGap)

	last, err = CheckContiguous(7, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), last)
}

func TestRecordType_Valid(t *testing.T) {
	assert.True(t, RecordProfile.Valid())
	assert.True(t, RecordTrack.Valid())
	assert.True(t, RecordFile.Valid())
	assert.False(t, RecordType("playlist").Valid())
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
