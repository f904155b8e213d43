// Package classify turns raw daily NRD lists into categorized brand-risk
// candidates.
//
// Each unprocessed (source, day) artifact is matched against structural
// rules and the external pattern families, written out as a per-day summary
// and clean list, and recorded in the first-seen ledger. A strict second
// pass over the run's combined matches keeps only domains anchored on the
// brand token; the survivors, merged with the include list, are appended to
// the cumulative candidate file that feeds the scanner.
package classify

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/csirt-za/nrdwatch/internal/ledger"
	"github.com/csirt-za/nrdwatch/internal/normalize"
)

// Categories assigned by the classifier, from strongest to weakest signal.
// The brand-only category is named after the brand token itself.
const (
	CategoryGolden  = "golden"
	CategoryCoZa    = "coza"
	CategoryAfrica  = "africa"
	CategoryPattern = "pattern"
)

// Config carries the file layout and brand token for one classifier.
type Config struct {
	Brand          string
	DownloadsDir   string
	ByDateDir      string
	PatternsDir    string
	IgnoreFile     string
	IncludeFile    string
	LedgerPath     string
	CumulativePath string
}

// Seeder receives classified domains for registry upsert. Satisfied by
// *registry.Store; nil disables seeding.
type Seeder interface {
	SeedClassified(ctx context.Context, domain, category string, tags []string, firstSeen string) error
}

// Match is one classified domain. Raw preserves the feed's original form
// for the strict brand-anchor pass; Domain is the normalized form used
// everywhere else.
type Match struct {
	Raw      string
	Domain   string
	Category string
	Tags     []string
}

// Summary reports the outcome of one classification run.
type Summary struct {
	Days     int `json:"days"`
	Matched  int `json:"matched"`
	Seeded   int `json:"seeded"`
	Appended int `json:"appended"`
}

// Service classifies pending day artifacts. Construct with New.
type Service struct {
	cfg      Config
	registry Seeder
	logger   *slog.Logger
}

// New builds a classifier. reg may be nil when no registry seeding is
// wanted (file-only operation).
func New(cfg Config, reg Seeder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Brand = strings.ToLower(strings.TrimSpace(cfg.Brand))
	return &Service{cfg: cfg, registry: reg, logger: logger}
}

// Run processes every unprocessed day artifact under the downloads
// directory. A day that fails is logged and skipped; the run aborts only
// on ctx cancellation or when an output cannot be written.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	patterns, err := LoadPatterns(s.cfg.PatternsDir, s.logger)
	if err != nil {
		return sum, err
	}
	ignore, err := LoadDomainSet(s.cfg.IgnoreFile)
	if err != nil {
		return sum, err
	}
	include, err := LoadDomainList(s.cfg.IncludeFile)
	if err != nil {
		return sum, err
	}
	led, err := ledger.Load(s.cfg.LedgerPath)
	if err != nil {
		return sum, err
	}

	days, err := s.pendingDays()
	if err != nil {
		return sum, err
	}
	if len(days) == 0 {
		s.logger.Info("classify: no unprocessed day artifacts")
		return sum, nil
	}
	s.logger.Info("classify: starting",
		"days", len(days), "patterns", patterns.Len(),
		"ignore", len(ignore), "include", len(include))

	var batch []Match
	seenRun := make(map[string]struct{})
	for _, art := range days {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		matches, err := s.processDay(ctx, art, patterns, ignore, led, &sum)
		if err != nil {
			s.logger.Warn("classify: day failed",
				"day", art.day, "source", art.source, "error", err)
			continue
		}
		sum.Days++
		sum.Matched += len(matches)
		for _, m := range matches {
			if _, dup := seenRun[m.Domain]; dup {
				continue
			}
			seenRun[m.Domain] = struct{}{}
			batch = append(batch, m)
		}
	}

	if err := led.Save(); err != nil {
		return sum, err
	}

	strict := strictFilter(batch, s.cfg.Brand)
	final := mergeInclude(strict, include, ignore)

	appended, err := s.appendCumulative(final)
	if err != nil {
		return sum, err
	}
	sum.Appended = appended

	s.logger.Info("classify: done",
		"days", sum.Days, "matched", sum.Matched,
		"strict", len(strict), "appended", sum.Appended, "seeded", sum.Seeded)
	return sum, nil
}

// dayArtifact is one downloaded (source, day) list awaiting classification.
type dayArtifact struct {
	source string
	day    string
	path   string
}

// pendingDays lists artifacts with no clean-list output yet, ordered by
// day then source. A missing downloads directory is a configuration error.
func (s *Service) pendingDays() ([]dayArtifact, error) {
	sources, err := os.ReadDir(s.cfg.DownloadsDir)
	if err != nil {
		return nil, fmt.Errorf("classify: downloads dir: %w", err)
	}

	var out []dayArtifact
	for _, src := range sources {
		if !src.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.cfg.DownloadsDir, src.Name()))
		if err != nil {
			return nil, fmt.Errorf("classify: source dir %s: %w", src.Name(), err)
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".txt") {
				continue
			}
			day := strings.TrimSuffix(name, ".txt")
			if _, err := time.Parse("2006-01-02", day); err != nil {
				continue
			}
			if _, err := os.Stat(s.cleanPath(day, src.Name())); err == nil {
				continue
			}
			out = append(out, dayArtifact{
				source: src.Name(),
				day:    day,
				path:   filepath.Join(s.cfg.DownloadsDir, src.Name(), name),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].day != out[j].day {
			return out[i].day < out[j].day
		}
		return out[i].source < out[j].source
	})
	return out, nil
}

func (s *Service) summaryPath(day, source string) string {
	return filepath.Join(s.cfg.ByDateDir, fmt.Sprintf("%s_%s_summary.txt", day, source))
}

func (s *Service) cleanPath(day, source string) string {
	return filepath.Join(s.cfg.ByDateDir, fmt.Sprintf("%s_%s_clean.txt", day, source))
}

// processDay classifies one artifact, writes its summary and clean list,
// records first-seen dates, and seeds the registry.
func (s *Service) processDay(ctx context.Context, art dayArtifact, patterns *PatternSet, ignore map[string]struct{}, led *ledger.Ledger, sum *Summary) ([]Match, error) {
	f, err := os.Open(art.path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var kept []Match
	seen := make(map[string]struct{})
	total := 0

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		total++
		norm := normalize.Domain(raw)
		if norm == "" {
			continue
		}
		if _, ig := ignore[norm]; ig {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		m, ok := s.classifyDomain(raw, norm, patterns)
		if !ok {
			continue
		}
		seen[norm] = struct{}{}
		kept = append(kept, m)
		led.Record(norm, art.day)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	if err := s.writeDayOutputs(art, kept); err != nil {
		return nil, err
	}

	if s.registry != nil {
		for _, m := range kept {
			firstSeen, ok := led.FirstSeen(m.Domain)
			if !ok {
				firstSeen = art.day
			}
			if err := s.registry.SeedClassified(ctx, m.Domain, m.Category, m.Tags, midnightUTC(firstSeen)); err != nil {
				s.logger.Warn("classify: seed failed", "domain", m.Domain, "error", err)
				continue
			}
			sum.Seeded++
		}
	}

	s.logger.Info("classify: day done",
		"day", art.day, "source", art.source,
		"scanned", total, "matched", len(kept))
	return kept, nil
}

// classifyDomain assigns the single strongest category, or reports false
// when the domain matches nothing. Structural signals are tested on the
// normalized form.
func (s *Service) classifyDomain(raw, norm string, patterns *PatternSet) (Match, bool) {
	brand := s.cfg.Brand
	hasBrand := brand != "" && strings.Contains(norm, brand)
	hasCoZa := strings.HasSuffix(norm, ".co.za")
	hasAfrica := strings.HasSuffix(norm, ".africa")
	families := patterns.MatchFamilies(norm)

	var category string
	switch {
	case (hasCoZa || hasAfrica) && hasBrand:
		category = CategoryGolden
	case hasBrand:
		category = brand
	case hasCoZa:
		category = CategoryCoZa
	case hasAfrica:
		category = CategoryAfrica
	case len(families) > 0:
		category = CategoryPattern
	default:
		return Match{}, false
	}

	tags := make([]string, 0, len(families)+1)
	for _, fam := range families {
		tags = append(tags, "pattern:"+fam)
	}
	if hasBrand {
		switch {
		case strings.HasPrefix(norm, brand):
			tags = append(tags, "starts-with-brand")
		case strings.HasSuffix(norm, brand):
			tags = append(tags, "ends-with-brand")
		default:
			tags = append(tags, "contains-brand")
		}
	}

	return Match{Raw: raw, Domain: norm, Category: category, Tags: tags}, true
}

// strictFilter keeps only matches whose raw feed form starts or ends with
// the brand token, case-insensitive. This gate decides what the scanner
// sees; the per-day outputs above it keep the full match set.
func strictFilter(matches []Match, brand string) []Match {
	if brand == "" {
		return nil
	}
	var out []Match
	for _, m := range matches {
		lower := strings.ToLower(m.Raw)
		if strings.HasPrefix(lower, brand) || strings.HasSuffix(lower, brand) {
			out = append(out, m)
		}
	}
	return out
}

// mergeInclude unions the strict survivors with the include list,
// de-duplicated on first occurrence. The ignore list wins over include.
func mergeInclude(strict []Match, include []string, ignore map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range strict {
		if _, dup := seen[m.Domain]; dup {
			continue
		}
		seen[m.Domain] = struct{}{}
		out = append(out, m.Domain)
	}
	for _, d := range include {
		if _, ig := ignore[d]; ig {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// appendCumulative appends the batch, sorted, to the cumulative candidate
// file. The file is append-only: earlier runs' entries are never rewritten.
func (s *Service) appendCumulative(domains []string) (int, error) {
	if len(domains) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.CumulativePath), 0o755); err != nil {
		return 0, fmt.Errorf("classify: cumulative dir: %w", err)
	}

	batch := make([]string, len(domains))
	copy(batch, domains)
	sort.Strings(batch)

	f, err := os.OpenFile(s.cfg.CumulativePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("classify: open cumulative: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, d := range batch {
		fmt.Fprintln(w, d)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("classify: write cumulative: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("classify: close cumulative: %w", err)
	}
	return len(batch), nil
}

// midnightUTC turns a YYYY-MM-DD ledger date into an RFC3339 timestamp at
// midnight UTC. Values that are not bare dates pass through unchanged.
func midnightUTC(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return day
	}
	return t.UTC().Format(time.RFC3339)
}
