package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/contentnode/internal/clock"
)

// AssignClocks clocks every unclocked record of one user inside a single
// transaction and returns the committed state.
//
// The transaction covers exactly this user: the read of max_clock, the read
// of the pending records, every per-record update and the max_clock update
// commit together or not at all.
func (s *Store) AssignClocks(ctx context.Context, userID int64) (clock.UserState, error) {
	state := clock.UserState{UserID: userID}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var base int64
		err := tx.QueryRowContext(ctx, `SELECT max_clock FROM users WHERE user_id = ?`, userID).Scan(&base)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("read max clock: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+recordColumns+` FROM records
			WHERE user_id = ? AND clock IS NULL
			ORDER BY created_at ASC, seq ASC, id COLLATE BINARY ASC
		`, userID)
		if err != nil {
			return fmt.Errorf("read pending records: %w", err)
		}
		pending, err := scanRecords(rows)
		if err != nil {
			return err
		}

		clocked, maxClock, err := clock.Sequence(userID, base, pending)
		if err != nil {
			return err
		}
		state.MaxClock = maxClock
		if len(clocked) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `UPDATE records SET clock = ? WHERE id = ? AND clock IS NULL`)
		if err != nil {
			return fmt.Errorf("prepare clock update: %w", err)
		}
		defer stmt.Close()

		for _, rec := range clocked {
			res, err := stmt.ExecContext(ctx, rec.Clock, rec.ID)
			if err != nil {
				return fmt.Errorf("set clock of %s: %w", rec.ID, err)
			}
			if err := expectOneRow(res); err != nil {
				return fmt.Errorf("set clock of %s: %w", rec.ID, err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE users SET max_clock = ?, updated_at = strftime('%s','now')
			WHERE user_id = ? AND max_clock = ?
		`, maxClock, userID, base)
		if err != nil {
			return fmt.Errorf("set max clock: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return fmt.Errorf("set max clock from %d: %w", base, err)
		}
		return nil
	})
	if err != nil {
		return clock.UserState{UserID: userID}, fmt.Errorf("assign clocks for user %d: %w", userID, err)
	}
	return state, nil
}

// errConcurrentChange reports an update that matched no row because another
// writer got there first.
var errConcurrentChange = errors.New("changed concurrently")

// rowsAffecter is the part of sql.Result expectOneRow reads.
type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return errConcurrentChange
	}
	return nil
}

// AssignResult is the outcome of one user's clock transaction in a batch.
type AssignResult struct {
	State clock.UserState
	Err   error
}

// AssignAll runs AssignClocks for every user with pending records, at most
// workers users at a time. A failed user is reported in its result and left
// for the next pass; it never stops the others. The returned error is only
// set when the pending users cannot be listed or ctx is cancelled.
func (s *Store) AssignAll(ctx context.Context, workers int) ([]AssignResult, error) {
	users, err := s.UsersWithUnclockedRecords(ctx)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	// Each goroutine writes only its own index.
	results := make([]AssignResult, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, userID := range users {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			state, err := s.AssignClocks(gctx, userID)
			results[i] = AssignResult{State: state, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
