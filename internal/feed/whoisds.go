package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WhoisDS fetches daily NRD lists from whoisds.com. The provider serves
// each day as a zip archive addressed by a base64 token derived from the
// date.
type WhoisDS struct {
	baseURL   string
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewWhoisDS builds a WhoisDS source rooted at baseURL.
func NewWhoisDS(baseURL string, cfg ClientConfig) *WhoisDS {
	cfg.defaults()
	return &WhoisDS{
		baseURL:   baseURL,
		client:    newClient(cfg),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
	}
}

func (w *WhoisDS) Name() string { return "whoisds" }

// dayToken derives the provider's URL token for a day: base64 of
// "YYYY-MM-DD.zip" with the final character dropped. The trailing "="
// padding upsets their router, and the scheme survives even for dates
// whose encoding ends mid-group.
func dayToken(day time.Time) string {
	enc := base64.StdEncoding.EncodeToString([]byte(day.Format("2006-01-02") + ".zip"))
	return enc[:len(enc)-1]
}

// FetchDay downloads and unpacks the archive for one day.
func (w *WhoisDS) FetchDay(ctx context.Context, day time.Time) ([]string, error) {
	url := fmt.Sprintf("%s/%s/nrd", w.baseURL, dayToken(day))

	body, err := get(ctx, w.client, url, w.userAgent, w.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", day.Format("2006-01-02"), err)
	}

	// The endpoint answers 200 with an HTML error page when the day is
	// not (yet) published. Only a real zip is worth parsing.
	if len(body) < 4 || !bytes.HasPrefix(body, []byte("PK")) {
		return nil, fmt.Errorf("fetch %s: response is not a zip archive (%d bytes)", day.Format("2006-01-02"), len(body))
	}

	lines, err := unzipFirstEntry(body)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", day.Format("2006-01-02"), err)
	}
	return lines, nil
}

func unzipFirstEntry(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("zip archive has no entries")
	}

	f := zr.File[0]
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", f.Name, err)
	}
	return splitLines(raw), nil
}
