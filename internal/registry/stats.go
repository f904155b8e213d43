package registry

import (
	"context"
	"database/sql"
)

// Stats returns aggregate registry counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains`).Scan(&stats.Total)
	if err != nil {
		return nil, err
	}
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains WHERE is_active = 1`).Scan(&stats.Active)
	if err != nil {
		return nil, err
	}
	stats.Inactive = stats.Total - stats.Active
	err = s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains WHERE has_profile = 1`).Scan(&stats.WithProfile)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT category, COUNT(*) FROM domains GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats.ByCategory = make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[category] = count
	}
	return &stats, rows.Err()
}

// RecentActivity returns the latest scan observations across all domains.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT d.domain, d.category, h.checked_at, h.is_active,
		h.content_changed, h.screenshot_taken
		FROM domain_history h
		JOIN domains d ON d.id = h.domain_id
		ORDER BY h.checked_at DESC, h.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivity(rows)
}

// RecentChanges returns the latest observations whose content fingerprint
// differed from the previous successful scan.
func (s *Store) RecentChanges(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT d.domain, d.category, h.checked_at, h.is_active,
		h.content_changed, h.screenshot_taken
		FROM domain_history h
		JOIN domains d ON d.id = h.domain_id
		WHERE h.content_changed = 1
		ORDER BY h.checked_at DESC, h.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivity(rows)
}

// FirstSeenTimeline buckets domains by first-seen date, most recent first.
func (s *Store) FirstSeenTimeline(ctx context.Context, limit int) ([]*TimelineBucket, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT substr(first_seen, 1, 10) AS day, COUNT(*)
		FROM domains
		WHERE first_seen != ''
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*TimelineBucket
	for rows.Next() {
		var b TimelineBucket
		if err := rows.Scan(&b.Date, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

func scanActivity(rows *sql.Rows) ([]*ActivityEntry, error) {
	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var isActive, contentChanged, screenshotTaken int
		if err := rows.Scan(&e.Domain, &e.Category, &e.CheckedAt, &isActive,
			&contentChanged, &screenshotTaken); err != nil {
			return nil, err
		}
		e.IsActive = isActive != 0
		e.ContentChanged = contentChanged != 0
		e.ScreenshotTaken = screenshotTaken != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
