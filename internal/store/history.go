package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// AddHistory records one confirmed real publish. Append-only: history rows
// are never updated or deleted, they only age out of cooldown queries.
func (s *Store) AddHistory(ctx context.Context, url string, at time.Time) error {
	q, args, err := sq.Insert("post_history").
		Columns("url", "posted_at").
		Values(url, at.UnixMilli()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	return nil
}

// PostedSince returns, for each given URL that appears in history at or
// after since, its most recent publish time. URLs with no recent history
// are absent from the map.
func (s *Store) PostedSince(ctx context.Context, urls []string, since time.Time) (map[string]time.Time, error) {
	out := map[string]time.Time{}
	if len(urls) == 0 {
		return out, nil
	}
	q, args, err := sq.Select("url", "MAX(posted_at)").
		From("post_history").
		Where(sq.Eq{"url": urls}).
		Where(sq.GtOrEq{"posted_at": since.UnixMilli()}).
		GroupBy("url").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		var ms int64
		if err := rows.Scan(&url, &ms); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out[url] = time.UnixMilli(ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}
