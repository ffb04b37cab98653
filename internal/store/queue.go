package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// QueueItem is one planned slot of a run date.
type QueueItem struct {
	Slot      int
	URL       string
	PlannedAt time.Time
	Status    string
}

// UpsertPlan writes (or rewrites) the planned URL for one slot. A conflicting
// (run_date, slot_index) row keeps its status: rebuilding a day only replaces
// assignments, never undoes a claim that already happened.
func (s *Store) UpsertPlan(ctx context.Context, day string, slot int, url string, plannedAt time.Time) error {
	q, args, err := sq.Insert("daily_queue").
		Columns("run_date", "slot_index", "url", "planned_at", "status").
		Values(day, slot, url, plannedAt.UnixMilli(), StatusPending).
		Suffix("ON CONFLICT(run_date, slot_index) DO UPDATE SET url=excluded.url, planned_at=excluded.planned_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// Claim atomically transitions one slot pending→posting and returns its
// planned URL. Returns ok=false when the row is absent or not pending.
//
// The status check and the status update are one conditional UPDATE, so at
// most one concurrent caller observes the transition. The URL read afterwards
// is safe: only this caller holds the posting state.
func (s *Store) Claim(ctx context.Context, day string, slot int) (url string, ok bool, err error) {
	q, args, err := sq.Update("daily_queue").
		Set("status", StatusPosting).
		Where(sq.Eq{"run_date": day, "slot_index": slot, "status": StatusPending}).
		ToSql()
	if err != nil {
		return "", false, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return "", false, fmt.Errorf("claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("claim: %w", err)
	}
	if n == 0 {
		return "", false, nil
	}

	sel, args, err := sq.Select("url").
		From("daily_queue").
		Where(sq.Eq{"run_date": day, "slot_index": slot}).
		ToSql()
	if err != nil {
		return "", false, err
	}
	if err := s.db.QueryRowContext(ctx, sel, args...).Scan(&url); err != nil {
		return "", false, fmt.Errorf("claim read: %w", err)
	}
	return url, true, nil
}

// Finish sets a terminal status on a claimed slot. Idempotent when repeated
// with the same status; a different terminal status is a no-op (the first
// outcome wins).
func (s *Store) Finish(ctx context.Context, day string, slot int, status string) error {
	if !isTerminal(status) {
		return fmt.Errorf("%w: %q", ErrBadStatus, status)
	}
	q, args, err := sq.Update("daily_queue").
		Set("status", status).
		Where(sq.Eq{"run_date": day, "slot_index": slot}).
		Where(sq.Eq{"status": []string{StatusPosting, status}}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	return nil
}

// SlotStatus returns the current status of one slot row.
func (s *Store) SlotStatus(ctx context.Context, day string, slot int) (status string, ok bool, err error) {
	q, args, err := sq.Select("status").
		From("daily_queue").
		Where(sq.Eq{"run_date": day, "slot_index": slot}).
		ToSql()
	if err != nil {
		return "", false, err
	}
	err = s.db.QueryRowContext(ctx, q, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("slot status: %w", err)
	}
	return status, true, nil
}

// ListDay returns the day's queue ordered by slot.
func (s *Store) ListDay(ctx context.Context, day string) ([]QueueItem, error) {
	q, args, err := sq.Select("slot_index", "url", "planned_at", "status").
		From("daily_queue").
		Where(sq.Eq{"run_date": day}).
		OrderBy("slot_index").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()
	var out []QueueItem
	for rows.Next() {
		var it QueueItem
		var plannedMS sql.NullInt64
		if err := rows.Scan(&it.Slot, &it.URL, &plannedMS, &it.Status); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		if plannedMS.Valid {
			it.PlannedAt = time.UnixMilli(plannedMS.Int64)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

// ReapStale finishes as skipped any row still in posting state from a day
// before the given run date. A process crash between claim and finish leaves
// such rows behind; the next daily build calls this so they cannot linger
// forever. Rows from the current day are left alone — their firing may still
// be in flight.
func (s *Store) ReapStale(ctx context.Context, day string) (int64, error) {
	q, args, err := sq.Update("daily_queue").
		Set("status", StatusSkipped).
		Where(sq.Eq{"status": StatusPosting}).
		Where(sq.Lt{"run_date": day}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("reap stale: %w", err)
	}
	return res.RowsAffected()
}
