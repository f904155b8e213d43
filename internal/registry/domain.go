package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/csirt-za/nrdwatch/internal/idgen"
)

// SeedClassified inserts a newly classified domain or refreshes the
// classification of an existing one. Only category and tags are written on
// conflict: first_seen is write-once and the scanner-owned columns are
// never touched from this path.
func (s *Store) SeedClassified(ctx context.Context, name, category string, tags []string, firstSeen string) error {
	now := nowRFC3339()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO domains (id, domain, category, tags, first_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			category   = excluded.category,
			tags       = excluded.tags,
			updated_at = excluded.updated_at`,
		idgen.Default(), name, category, joinTags(tags), firstSeen, now, now,
	)
	if err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	return nil
}

// ScanObservation is one scan outcome to record on a domain row.
type ScanObservation struct {
	Domain         string
	FirstSeen      string // used only when the row is created here
	CheckedAt      string
	IsActive       bool
	ContentHash    string
	ContentChanged bool
}

// UpsertScan records a scan observation, creating the row if the scanner
// saw a domain the classifier never seeded. On conflict only the
// scanner-owned columns change; category, tags, notes, has_profile,
// risk_level and first_seen are preserved. Returns the domain row ID.
func (s *Store) UpsertScan(ctx context.Context, obs ScanObservation) (string, error) {
	now := nowRFC3339()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO domains (id, domain, first_seen, last_checked, is_active,
		content_hash, content_changed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			last_checked    = excluded.last_checked,
			is_active       = excluded.is_active,
			content_hash    = excluded.content_hash,
			content_changed = excluded.content_changed,
			updated_at      = excluded.updated_at`,
		idgen.Default(), obs.Domain, obs.FirstSeen, obs.CheckedAt, obs.IsActive,
		obs.ContentHash, obs.ContentChanged, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upsert %s: %w", obs.Domain, err)
	}

	var id string
	err = s.DB.QueryRowContext(ctx, `SELECT id FROM domains WHERE domain = ?`, obs.Domain).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert %s: resolve id: %w", obs.Domain, err)
	}
	return id, nil
}

// Get retrieves a domain by row ID. Returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Domain, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, domain, category, tags, first_seen, last_checked, is_active,
		content_hash, content_changed, has_profile, notes, risk_level,
		created_at, updated_at
		FROM domains WHERE id = ?`, id)
	return scanDomain(row)
}

// GetByName retrieves a domain by its normalized name. Returns (nil, nil)
// when absent.
func (s *Store) GetByName(ctx context.Context, name string) (*Domain, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, domain, category, tags, first_seen, last_checked, is_active,
		content_hash, content_changed, has_profile, notes, risk_level,
		created_at, updated_at
		FROM domains WHERE domain = ?`, name)
	return scanDomain(row)
}

// where builds the WHERE clause and args for a Filter.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Active != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, *f.Active)
	}
	if f.Changed != nil {
		conds = append(conds, "content_changed = ?")
		args = append(args, *f.Changed)
	}
	if f.WithProfile != nil {
		conds = append(conds, "has_profile = ?")
		args = append(args, *f.WithProfile)
	}
	if f.Tag != "" {
		// tags is a comma-joined column; pad both sides for exact match.
		conds = append(conds, "(',' || tags || ',') LIKE ?")
		args = append(args, "%,"+f.Tag+",%")
	}
	if f.Search != "" {
		conds = append(conds, "domain LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderBy maps the filter's sort key onto a whitelisted ORDER BY clause.
func (f Filter) orderBy() string {
	switch f.Sort {
	case "domain":
		return " ORDER BY domain ASC"
	case "last_checked":
		return " ORDER BY last_checked DESC, domain ASC"
	default:
		return " ORDER BY first_seen DESC, domain ASC"
	}
}

// List returns domains matching the filter, newest first-seen first unless
// the filter picks another sort key.
func (s *Store) List(ctx context.Context, f Filter) ([]*Domain, error) {
	where, args := f.where()
	q := `SELECT id, domain, category, tags, first_seen, last_checked, is_active,
		content_hash, content_changed, has_profile, notes, risk_level,
		created_at, updated_at
		FROM domains` + where + f.orderBy()
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []*Domain
	for rows.Next() {
		d, err := scanDomainRows(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// Count returns the number of domains matching the filter.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM domains`+where, args...).Scan(&count)
	return count, err
}

// Snapshot returns every domain keyed by name. The scanner uses it to
// partition targets and look up prior fingerprints without per-domain
// queries.
func (s *Store) Snapshot(ctx context.Context) (map[string]*Domain, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, domain, category, tags, first_seen, last_checked, is_active,
		content_hash, content_changed, has_profile, notes, risk_level,
		created_at, updated_at
		FROM domains`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := make(map[string]*Domain)
	for rows.Next() {
		d, err := scanDomainRows(rows)
		if err != nil {
			return nil, err
		}
		snap[d.Domain] = d
	}
	return snap, rows.Err()
}

// ActiveDomains returns all currently active domains, ordered by name.
// This is the capturer's target set.
func (s *Store) ActiveDomains(ctx context.Context) ([]*Domain, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, domain, category, tags, first_seen, last_checked, is_active,
		content_hash, content_changed, has_profile, notes, risk_level,
		created_at, updated_at
		FROM domains WHERE is_active = 1 ORDER BY domain ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []*Domain
	for rows.Next() {
		d, err := scanDomainRows(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// UpdateNotes sets the operator notes on a domain.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE domains SET notes = ?, updated_at = ? WHERE id = ?`,
		notes, nowRFC3339(), id)
	return err
}

// UpdateTags replaces the tag set on a domain.
func (s *Store) UpdateTags(ctx context.Context, id string, tags []string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE domains SET tags = ?, updated_at = ? WHERE id = ?`,
		joinTags(tags), nowRFC3339(), id)
	return err
}

// SetProfile flags whether an enrichment profile artifact exists.
func (s *Store) SetProfile(ctx context.Context, id string, has bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE domains SET has_profile = ?, updated_at = ? WHERE id = ?`,
		has, nowRFC3339(), id)
	return err
}

// SetRiskLevel sets the analyst-assigned risk overlay.
func (s *Store) SetRiskLevel(ctx context.Context, id, level string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE domains SET risk_level = ?, updated_at = ? WHERE id = ?`,
		level, nowRFC3339(), id)
	return err
}

// Delete removes a domain (cascades to its history). Operator action only;
// the pipeline itself never deletes.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id)
	return err
}

func scanDomain(row *sql.Row) (*Domain, error) {
	var d Domain
	var tags string
	var isActive, contentChanged, hasProfile int
	err := row.Scan(
		&d.ID, &d.Domain, &d.Category, &tags, &d.FirstSeen, &d.LastChecked,
		&isActive, &d.ContentHash, &contentChanged, &hasProfile, &d.Notes,
		&d.RiskLevel, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan domain: %w", err)
	}
	d.Tags = splitTags(tags)
	d.IsActive = isActive != 0
	d.ContentChanged = contentChanged != 0
	d.HasProfile = hasProfile != 0
	return &d, nil
}

func scanDomainRows(rows *sql.Rows) (*Domain, error) {
	var d Domain
	var tags string
	var isActive, contentChanged, hasProfile int
	err := rows.Scan(
		&d.ID, &d.Domain, &d.Category, &tags, &d.FirstSeen, &d.LastChecked,
		&isActive, &d.ContentHash, &contentChanged, &hasProfile, &d.Notes,
		&d.RiskLevel, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan domain: %w", err)
	}
	d.Tags = splitTags(tags)
	d.IsActive = isActive != 0
	d.ContentChanged = contentChanged != 0
	d.HasProfile = hasProfile != 0
	return &d, nil
}
