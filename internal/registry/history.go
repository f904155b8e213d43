package registry

import (
	"context"
	"fmt"

	"github.com/csirt-za/nrdwatch/internal/idgen"
)

// AddHistory appends one scan observation to a domain's history.
func (s *Store) AddHistory(ctx context.Context, e *HistoryEntry) error {
	if e.ID == "" {
		e.ID = idgen.Default()
	}
	if e.CheckedAt == "" {
		e.CheckedAt = nowRFC3339()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO domain_history (id, domain_id, checked_at, is_active,
		content_hash, content_changed, screenshot_taken)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DomainID, e.CheckedAt, e.IsActive,
		e.ContentHash, e.ContentChanged, e.ScreenshotTaken,
	)
	if err != nil {
		return fmt.Errorf("add history for %s: %w", e.DomainID, err)
	}
	return nil
}

// History returns a domain's scan history, newest first.
func (s *Store) History(ctx context.Context, domainID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, domain_id, checked_at, is_active, content_hash,
		content_changed, screenshot_taken
		FROM domain_history
		WHERE domain_id = ?
		ORDER BY checked_at DESC, rowid DESC
		LIMIT ?`, domainID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var isActive, contentChanged, screenshotTaken int
		if err := rows.Scan(&e.ID, &e.DomainID, &e.CheckedAt, &isActive,
			&e.ContentHash, &contentChanged, &screenshotTaken); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.IsActive = isActive != 0
		e.ContentChanged = contentChanged != 0
		e.ScreenshotTaken = screenshotTaken != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MarkScreenshotTaken flips screenshot_taken on the domain's most recent
// history entry. The capturer calls this after a validated capture; older
// entries stay untouched so the history remains an honest per-scan record.
func (s *Store) MarkScreenshotTaken(ctx context.Context, domainID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE domain_history SET screenshot_taken = 1
		WHERE id = (
			SELECT id FROM domain_history
			WHERE domain_id = ?
			ORDER BY checked_at DESC, rowid DESC
			LIMIT 1
		)`, domainID)
	if err != nil {
		return fmt.Errorf("mark screenshot for %s: %w", domainID, err)
	}
	return nil
}
