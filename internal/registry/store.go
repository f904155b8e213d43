// Package registry is the durable domain registry backing the pipeline and
// the HTTP API.
//
// One SQLite database holds tracked domains, their append-only scan history
// and the pipeline run log. Writes are partitioned by stage: the classifier
// seeds rows, the scanner upserts liveness, the capturer flips the
// screenshot flag, and the API owns the operator overlay fields.
package registry

import (
	"database/sql"
	"strings"
	"time"

	"github.com/csirt-za/nrdwatch/internal/dbopen"
)

// Store wraps the registry database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
// The schema must have been applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Open opens (creating if needed) the registry database at path and applies
// the schema. The connection pool is capped at one connection so the
// per-connection pragmas (foreign_keys in particular) hold for every query.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// joinTags flattens a tag set to its stored form. Tags are comma-separated
// in the column; empty set stores as ''.
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// splitTags is the inverse of joinTags.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
