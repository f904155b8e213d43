package scan

import (
	"bufio"
	"fmt"
	"os"

	"github.com/csirt-za/nrdwatch/internal/normalize"
)

// LoadCandidates reads the cumulative candidate file into a normalized,
// de-duplicated list (first occurrence wins) minus the ignore set. The
// cumulative file is append-only and accumulates repeats across runs;
// this is where they collapse.
func LoadCandidates(path string, ignore map[string]struct{}) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scan: open candidates %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		d := normalize.Domain(sc.Text())
		if d == "" {
			continue
		}
		if _, ig := ignore[d]; ig {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: read candidates: %w", err)
	}
	return out, nil
}
