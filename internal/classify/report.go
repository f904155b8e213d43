package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// categoryOrder fixes the section order in day summaries, strongest signal
// first. The brand category slot is filled in at render time.
var categoryOrder = []string{CategoryGolden, "", CategoryCoZa, CategoryAfrica, CategoryPattern}

// writeDayOutputs writes the human-readable summary and the clean domain
// list for one day. The clean list goes last: its existence marks the day
// as processed, so a crash between the two writes re-processes the day.
func (s *Service) writeDayOutputs(art dayArtifact, matches []Match) error {
	if err := os.MkdirAll(s.cfg.ByDateDir, 0o755); err != nil {
		return fmt.Errorf("bydate dir: %w", err)
	}

	summary := s.renderDaySummary(art, matches)
	if err := writeFileAtomic(s.summaryPath(art.day, art.source), summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	var clean strings.Builder
	for _, m := range matches {
		clean.WriteString(m.Domain)
		clean.WriteByte('\n')
	}
	if err := writeFileAtomic(s.cleanPath(art.day, art.source), clean.String()); err != nil {
		return fmt.Errorf("write clean list: %w", err)
	}
	return nil
}

// renderDaySummary produces the per-day report: category counts up top,
// then one section per category listing its domains.
func (s *Service) renderDaySummary(art dayArtifact, matches []Match) string {
	byCategory := make(map[string][]string)
	for _, m := range matches {
		byCategory[m.Category] = append(byCategory[m.Category], m.Domain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary for %s (%s):\n", art.day, art.source)
	for _, cat := range s.summaryCategories() {
		fmt.Fprintf(&b, "  - %s: %d\n", s.sectionTitle(cat), len(byCategory[cat]))
	}
	fmt.Fprintf(&b, "  - Total: %d\n", len(matches))
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	for _, cat := range s.summaryCategories() {
		domains := byCategory[cat]
		if len(domains) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n=== %s ===\n", s.sectionTitle(cat))
		for _, d := range domains {
			b.WriteString(d)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (s *Service) summaryCategories() []string {
	cats := make([]string, len(categoryOrder))
	copy(cats, categoryOrder)
	cats[1] = s.cfg.Brand
	return cats
}

func (s *Service) sectionTitle(category string) string {
	switch category {
	case CategoryGolden:
		return "Golden Matches"
	case CategoryCoZa:
		return ".co.za Only"
	case CategoryAfrica:
		return ".africa Only"
	case CategoryPattern:
		return "Pattern Matches"
	case s.cfg.Brand:
		return s.cfg.Brand + " Only"
	default:
		return category
	}
}

// writeFileAtomic writes content via a temp file and rename so a reader
// never sees a partial file.
func writeFileAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
