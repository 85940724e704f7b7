// Package clock assigns per-user clock values to durable records.
//
// A user's clock is a gapless sequence 1..N over every durable mutation of
// their data. Secondaries use it as a replication cursor: "give me everything
// after clock N" is an integer comparison.
//
// # Ordering
//
// Unclocked records are ordered by CreatedAt, then by Seq (the store's
// insertion order), then by ID bytewise. The order is total, so every node
// that recomputes it for the same records assigns the same clocks.
//
// Sequencing is pure. Persisting the result atomically per user is the
// store's job (store.AssignClocks).
package clock

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// RecordType names the table a record belongs to.
type RecordType string

const (
	RecordProfile RecordType = "profile"
	RecordTrack   RecordType = "track"
	RecordFile    RecordType = "file"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordProfile, RecordTrack, RecordFile:
		return true
	}
	return false
}

// Record is one durable mutation of a user's data.
type Record struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	Type      RecordType `json:"record_type"`
	CreatedAt time.Time  `json:"created_at"`

	// Seq is the insertion order on the node that created the record.
	Seq int64 `json:"seq"`

	// Clock is 0 until assigned.
	Clock int64 `json:"clock"`

	// CID optionally names the content the record refers to
	// (metadata document, file, image set root).
	CID string `json:"cid,omitempty"`

	// Metadata is the canonical JSON document for profile and track records.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UserState is a user's current clock version.
type UserState struct {
	UserID   int64 `json:"user_id"`
	MaxClock int64 `json:"max_clock"`
}

var (
	// ErrForeignRecord is returned when a record belongs to another user.
	ErrForeignRecord = errors.New("clock: record belongs to another user")

	// ErrAlreadyClocked is returned when a record already carries a clock.
	ErrAlreadyClocked = errors.New("clock: record already clocked")

	// ErrDuplicateRecord is returned when the same record ID appears twice.
	ErrDuplicateRecord = errors.New("clock: duplicate record id")

	// ErrClockGap is returned when a clock sequence is not contiguous.
	ErrClockGap = errors.New("clock: sequence is not gapless")
)

// Compare orders two unclocked records for assignment.
func Compare(a, b Record) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// AssignClocks clocks every record of a user that has none yet, starting
// from 1. It returns the records in clock order and the new max clock.
func AssignClocks(userID int64, records []Record) ([]Record, int64, error) {
	return Sequence(userID, 0, records)
}

// Sequence is AssignClocks continuing from base, the user's current max
// clock: records receive base+1 .. base+len(records).
// The input slice is not modified.
func Sequence(userID, base int64, records []Record) ([]Record, int64, error) {
	if base < 0 {
		return nil, 0, fmt.Errorf("clock: negative base %d", base)
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.UserID != userID {
			return nil, 0, fmt.Errorf("%w: record %s has user %d, want %d", ErrForeignRecord, r.ID, r.UserID, userID)
		}
		if r.Clock != 0 {
			return nil, 0, fmt.Errorf("%w: record %s has clock %d", ErrAlreadyClocked, r.ID, r.Clock)
		}
		if seen[r.ID] {
			return nil, 0, fmt.Errorf("%w: %s", ErrDuplicateRecord, r.ID)
		}
		seen[r.ID] = true
	}

	out := slices.Clone(records)
	slices.SortStableFunc(out, Compare)

	counter := NewCounter(base)
	for i := range out {
		out[i].Clock = counter.Next()
	}
	return out, counter.Current(), nil
}

// CheckContiguous verifies that records, in the given order, carry clocks
// after, after+1, ... with no gap or duplicate. It returns the last clock.
func CheckContiguous(after int64, records []Record) (int64, error) {
	want := after
	for _, r := range records {
		want++
		if r.Clock != want {
			return after, fmt.Errorf("%w: record %s has clock %d, want %d", ErrClockGap, r.ID, r.Clock, want)
		}
	}
	return want, nil
}
