package classify

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/csirt-za/nrdwatch/internal/normalize"
)

// LoadDomainSet reads a one-domain-per-line list file into a set keyed by
// normalized form. Blank lines and lines starting with '#' are skipped.
// A missing file yields an empty set: both the ignore and include lists
// are optional.
func LoadDomainSet(path string) (map[string]struct{}, error) {
	set := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("lists: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if d := normalize.Domain(line); d != "" {
			set[d] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lists: read %s: %w", path, err)
	}
	return set, nil
}

// LoadDomainList reads a one-domain-per-line list file preserving order,
// normalized and de-duplicated on first occurrence.
func LoadDomainList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lists: open %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d := normalize.Domain(line)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lists: read %s: %w", path, err)
	}
	return out, nil
}
