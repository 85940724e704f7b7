package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/contentnode/internal/clock"
)

// Export is the delta a primary serves to a secondary: records with clock at
// or above a lower bound, in clock order, plus the primary's max clock.
type Export struct {
	UserID   int64          `json:"user_id"`
	Wallet   string         `json:"wallet"`
	MaxClock int64          `json:"max_clock"`
	Records  []clock.Record `json:"records"`
}

// RecordsSince returns the clocked records of a user with clock >= minClock,
// ordered by clock. limit <= 0 means no limit.
func (s *Store) RecordsSince(ctx context.Context, userID, minClock int64, limit int) ([]clock.Record, error) {
	records, err := recordsSince(ctx, s.db, userID, minClock, limit)
	if err != nil {
		return nil, fmt.Errorf("records since: %w", err)
	}
	return records, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func recordsSince(ctx context.Context, q queryer, userID, minClock int64, limit int) ([]clock.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE user_id = ? AND clock IS NOT NULL AND clock >= ?
		ORDER BY clock ASC`
	args := []any{userID, minClock}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ExportSince builds the export for a wallet. Reads happen in one
// transaction so MaxClock and Records describe the same committed state.
func (s *Store) ExportSince(ctx context.Context, wallet string, minClock int64, limit int) (Export, error) {
	exp := Export{Wallet: wallet, Records: []clock.Record{}}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT user_id, max_clock FROM users WHERE wallet = ?`, wallet).
			Scan(&exp.UserID, &exp.MaxClock)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("read user: %w", err)
		}

		exp.Records, err = recordsSince(ctx, tx, exp.UserID, minClock, limit)
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}
		return nil
	})
	if err != nil {
		return Export{}, fmt.Errorf("export %s: %w", wallet, err)
	}
	return exp, nil
}

// ApplyExport appends a primary's delta on a secondary and advances the
// user's replicated clock, all in one transaction.
//
// Records at or below the local clock are skipped, so re-applying an export
// is a no-op. The remainder must continue the local sequence without a gap
// and must not pass the primary's MaxClock; otherwise nothing is written and
// clock.ErrClockGap is returned.
func (s *Store) ApplyExport(ctx context.Context, exp Export) (clock.UserState, error) {
	state := clock.UserState{UserID: exp.UserID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureUser(ctx, tx, exp.UserID, exp.Wallet); err != nil {
			return err
		}
		var local int64
		if err := tx.QueryRowContext(ctx, `SELECT max_clock FROM users WHERE user_id = ?`, exp.UserID).Scan(&local); err != nil {
			return fmt.Errorf("read local clock: %w", err)
		}
		state.MaxClock = local

		var fresh []clock.Record
		for _, rec := range exp.Records {
			if rec.UserID != exp.UserID {
				return fmt.Errorf("%w: record %s", clock.ErrForeignRecord, rec.ID)
			}
			if rec.Clock > local {
				fresh = append(fresh, rec)
			}
		}
		last, err := clock.CheckContiguous(local, fresh)
		if err != nil {
			return err
		}
		if last > exp.MaxClock {
			return fmt.Errorf("%w: delta reaches %d beyond primary max %d", clock.ErrClockGap, last, exp.MaxClock)
		}
		if len(fresh) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (id, user_id, record_type, created_at, clock, cid, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range fresh {
			meta, _, err := canonicalMetadata(rec.Metadata)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx, rec.ID, rec.UserID, string(rec.Type),
				rec.CreatedAt.UTC().UnixNano(), rec.Clock, rec.CID, string(meta))
			if err != nil {
				return fmt.Errorf("insert record %s: %w", rec.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE users SET max_clock = ?, updated_at = strftime('%s','now')
			WHERE user_id = ?
		`, last, exp.UserID)
		if err != nil {
			return fmt.Errorf("advance clock: %w", err)
		}
		state.MaxClock = last
		return nil
	})
	if err != nil {
		return clock.UserState{UserID: exp.UserID}, fmt.Errorf("apply export for user %d: %w", exp.UserID, err)
	}
	return state, nil
}
