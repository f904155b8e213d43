package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IndexEntry records one domain's last capture.
type IndexEntry struct {
	LastContentHash    string `json:"last_content_hash"`
	LastScreenshot     string `json:"last_screenshot"`
	LastScreenshotPath string `json:"last_screenshot_path"`
	CaptureMethod      string `json:"capture_method"`
}

// Index is the on-disk capture index. It keys each domain to the content
// hash current at its last screenshot, so a domain whose content has not
// changed is skipped without touching the network. Corrupt or missing
// index means re-capturing everything, never losing shots.
type Index struct {
	path string

	Domains map[string]IndexEntry `json:"domains"`
}

// LoadIndex reads the index at path. A missing file is an empty index.
func LoadIndex(path string) (*Index, error) {
	idx := &Index{path: path, Domains: make(map[string]IndexEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("capture: read index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("capture: parse index %s: %w", path, err)
	}
	if idx.Domains == nil {
		idx.Domains = make(map[string]IndexEntry)
	}
	return idx, nil
}

// NeedsCapture reports whether domain must be shot again given the content
// hash currently in the registry.
func (i *Index) NeedsCapture(domain, contentHash string) bool {
	entry, ok := i.Domains[domain]
	if !ok {
		return true
	}
	return contentHash == "" || entry.LastContentHash != contentHash
}

// Save rewrites the whole index atomically.
func (i *Index) Save() error {
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("capture: index dir: %w", err)
	}
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: encode index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(i.path), ".index-*")
	if err != nil {
		return fmt.Errorf("capture: index temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("capture: write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("capture: close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), i.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("capture: rename index: %w", err)
	}
	return nil
}
