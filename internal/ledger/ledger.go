// Package ledger persists the first-seen date of every candidate domain.
//
// The ledger is write-once per key: once a domain has a first-seen date,
// later observations never change it. On disk it is a two-column CSV with
// header "domain,first_seen", sorted by domain, rewritten atomically.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/csirt-za/nrdwatch/internal/normalize"
)

// Ledger maps normalized domain to the date (YYYY-MM-DD) it was first
// observed in any feed. Not safe for concurrent use; the pipeline accesses
// it from one goroutine.
type Ledger struct {
	path    string
	entries map[string]string
	dirty   bool
}

// Load reads the ledger at path. A missing file yields an empty ledger;
// malformed rows are skipped.
func Load(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]string),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", path, err)
	}

	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		domain := normalize.Domain(row[0])
		date := strings.TrimSpace(row[1])
		// Header row.
		if i == 0 && domain == "domain" {
			continue
		}
		if domain == "" || date == "" {
			continue
		}
		l.entries[domain] = date
	}
	return l, nil
}

// FirstSeen returns the recorded date for a domain, if any.
func (l *Ledger) FirstSeen(domain string) (string, bool) {
	date, ok := l.entries[normalize.Domain(domain)]
	return date, ok
}

// Record stores the first-seen date for a domain if none exists yet.
// Returns true when a new entry was written; an existing entry is never
// overwritten.
func (l *Ledger) Record(domain, date string) bool {
	key := normalize.Domain(domain)
	if key == "" {
		return false
	}
	if _, ok := l.entries[key]; ok {
		return false
	}
	l.entries[key] = date
	l.dirty = true
	return true
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Save writes the ledger back to disk, sorted by domain, via a temp file
// and rename so a crash never leaves a truncated ledger. A clean ledger
// (no new entries since Load) is not rewritten.
func (l *Ledger) Save() error {
	if !l.dirty {
		return nil
	}

	domains := make([]string, 0, len(l.entries))
	for d := range l.entries {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("ledger: temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write([]string{"domain", "first_seen"}); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write header: %w", err)
	}
	for _, d := range domains {
		if err := w.Write([]string{d, l.entries[d]}); err != nil {
			tmp.Close()
			return fmt.Errorf("ledger: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("ledger: rename: %w", err)
	}
	l.dirty = false
	return nil
}
