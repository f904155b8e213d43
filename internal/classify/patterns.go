package classify

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Family is one named group of detection regexes loaded from a single
// pattern file. All patterns are compiled case-insensitive.
type Family struct {
	Name     string
	patterns []*regexp.Regexp
}

// Match reports whether any pattern in the family matches the domain.
func (f *Family) Match(domain string) bool {
	for _, p := range f.patterns {
		if p.MatchString(domain) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns in the family.
func (f *Family) Len() int { return len(f.patterns) }

// familyFiles maps family name to its file under the patterns directory.
// The order here fixes the tag order on classified domains.
var familyFiles = []struct {
	name string
	file string
}{
	{"typos", "typos.txt"},
	{"presuf", "presuf.txt"},
	{"tld", "TLD.txt"},
	{"keywords", "keywords.txt"},
}

// PatternSet holds every pattern family for one run. Pattern files are
// re-read at the start of each run so edits take effect without restart.
type PatternSet struct {
	Families []*Family
}

// LoadPatterns reads all family files under dir. A missing or empty file
// yields an empty family (it matches nothing); a malformed regex line is
// logged and skipped, never fatal.
func LoadPatterns(dir string, logger *slog.Logger) (*PatternSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &PatternSet{}
	for _, ff := range familyFiles {
		fam, err := loadFamily(ff.name, filepath.Join(dir, ff.file), logger)
		if err != nil {
			return nil, err
		}
		set.Families = append(set.Families, fam)
	}
	return set, nil
}

// MatchFamilies returns the names of every family with at least one
// pattern matching the domain, in load order.
func (s *PatternSet) MatchFamilies(domain string) []string {
	var names []string
	for _, fam := range s.Families {
		if fam.Match(domain) {
			names = append(names, fam.Name)
		}
	}
	return names
}

// Len returns the total pattern count across families.
func (s *PatternSet) Len() int {
	n := 0
	for _, fam := range s.Families {
		n += fam.Len()
	}
	return n
}

func loadFamily(name, path string, logger *slog.Logger) (*Family, error) {
	fam := &Family{Name: name}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("pattern file missing", "family", name, "path", path)
			return fam, nil
		}
		return nil, fmt.Errorf("patterns: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		re, err := regexp.Compile("(?i)" + line)
		if err != nil {
			logger.Warn("skipping malformed pattern", "family", name, "pattern", line, "error", err)
			continue
		}
		fam.patterns = append(fam.patterns, re)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("patterns: read %s: %w", path, err)
	}
	return fam, nil
}
