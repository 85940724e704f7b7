package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/contentnode/internal/clock"
)

// recordColumns is the column list scanned by scanRecord.
const recordColumns = `id, user_id, record_type, created_at, seq, clock, cid, metadata`

// EnsureUser creates the user if missing. The wallet of an existing user
// never changes.
func (s *Store) EnsureUser(ctx context.Context, userID int64, wallet string) error {
	return ensureUser(ctx, s.db, userID, wallet)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureUser(ctx context.Context, db execer, userID int64, wallet string) error {
	if wallet == "" {
		return fmt.Errorf("ensure user %d: empty wallet", userID)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (user_id, wallet) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, wallet)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}

	var stored string
	if err := db.QueryRowContext(ctx, `SELECT wallet FROM users WHERE user_id = ?`, userID).Scan(&stored); err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	if stored != wallet {
		return fmt.Errorf("ensure user %d: wallet %q does not match stored %q", userID, wallet, stored)
	}
	return nil
}

// UserByWallet resolves a wallet address to a user id.
// Returns ErrUserNotFound if the wallet is unknown.
func (s *Store) UserByWallet(ctx context.Context, wallet string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM users WHERE wallet = ?`, wallet).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("user by wallet: %w", err)
	}
	return userID, nil
}

// UserWallet returns the wallet of a user.
func (s *Store) UserWallet(ctx context.Context, userID int64) (string, error) {
	var wallet string
	err := s.db.QueryRowContext(ctx, `SELECT wallet FROM users WHERE user_id = ?`, userID).Scan(&wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("user wallet: %w", err)
	}
	return wallet, nil
}

// UserClock returns the committed clock state of a user.
func (s *Store) UserClock(ctx context.Context, userID int64) (clock.UserState, error) {
	state := clock.UserState{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT max_clock FROM users WHERE user_id = ?`, userID).Scan(&state.MaxClock)
	if errors.Is(err, sql.ErrNoRows) {
		return state, ErrUserNotFound
	}
	if err != nil {
		return state, fmt.Errorf("user clock: %w", err)
	}
	return state, nil
}

// ListUserClocks returns the committed clock state of every user, ordered by user id.
func (s *Store) ListUserClocks(ctx context.Context) ([]clock.UserState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, max_clock FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list user clocks: %w", err)
	}
	defer rows.Close()

	states := []clock.UserState{}
	for rows.Next() {
		var st clock.UserState
		if err := rows.Scan(&st.UserID, &st.MaxClock); err != nil {
			return nil, fmt.Errorf("scan user clock: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user clocks: %w", err)
	}
	return states, nil
}

// WriteRecord persists a new, unclocked record and returns it with its
// store-assigned Seq. An empty ID is filled with a UUIDv7; a zero CreatedAt
// with the current time. Metadata is stored in canonical form, and when the
// record has no CID the metadata CID is used.
//
// The user must exist (see EnsureUser).
func (s *Store) WriteRecord(ctx context.Context, rec clock.Record) (clock.Record, error) {
	if rec.Clock != 0 {
		return rec, fmt.Errorf("write record: %w", clock.ErrAlreadyClocked)
	}
	if !rec.Type.Valid() {
		return rec, fmt.Errorf("write record: unknown record type %q", rec.Type)
	}
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	meta, metaCID, err := canonicalMetadata(rec.Metadata)
	if err != nil {
		return rec, fmt.Errorf("write record: %w", err)
	}
	rec.Metadata = meta
	if rec.CID == "" {
		rec.CID = metaCID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, user_id, record_type, created_at, cid, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.UserID, string(rec.Type), rec.CreatedAt.UnixNano(), rec.CID, string(meta))
	if err != nil {
		return rec, fmt.Errorf("write record: %w", err)
	}
	rec.Seq, err = res.LastInsertId()
	if err != nil {
		return rec, fmt.Errorf("write record: last insert id: %w", err)
	}
	return rec, nil
}

// ReadRecord retrieves a single record by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRecord(ctx context.Context, id string) (clock.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

// UsersWithUnclockedRecords returns the ids of users that have pending
// records, in ascending order.
func (s *Store) UsersWithUnclockedRecords(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM records
		WHERE clock IS NULL
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending users: %w", err)
	}
	defer rows.Close()

	users := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (clock.Record, error) {
	var (
		rec       clock.Record
		recType   string
		createdAt int64
		clk       sql.NullInt64
		meta      string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &recType, &createdAt, &rec.Seq, &clk, &rec.CID, &meta); err != nil {
		return rec, err
	}
	rec.Type = clock.RecordType(recType)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.Clock = clk.Int64
	if meta != "" {
		rec.Metadata = []byte(meta)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]clock.Record, error) {
	defer rows.Close()

	records := []clock.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
