package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SANS fetches daily NRD lists from the SANS ISC feed. The provider
// serves gzip-compressed JSON arrays, with a distinct path for the
// current day versus archived days.
type SANS struct {
	baseURL   string
	client    *http.Client
	userAgent string
	maxBytes  int64
	now       func() time.Time
}

// NewSANS builds a SANS source rooted at baseURL.
func NewSANS(baseURL string, cfg ClientConfig) *SANS {
	cfg.defaults()
	return &SANS{
		baseURL:   baseURL,
		client:    newClient(cfg),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		now:       time.Now,
	}
}

func (s *SANS) Name() string { return "sans" }

// dayPath maps a day to the provider's artifact path. Today's list lives
// at the undated alias; past days are addressed by date.
func (s *SANS) dayPath(day time.Time) string {
	today := s.now().UTC().Format("2006-01-02")
	if day.UTC().Format("2006-01-02") == today {
		return "/domaindata.json.gz"
	}
	return fmt.Sprintf("/domaindata.%s.json.gz", day.UTC().Format("2006-01-02"))
}

// FetchDay downloads and decodes the list for one day.
func (s *SANS) FetchDay(ctx context.Context, day time.Time) ([]string, error) {
	url := s.baseURL + s.dayPath(day)

	body, err := get(ctx, s.client, url, s.userAgent, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", day.Format("2006-01-02"), err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gunzip %s: %w", day.Format("2006-01-02"), err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(io.LimitReader(gz, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", day.Format("2006-01-02"), err)
	}

	var records []struct {
		DomainName string `json:"domainname"`
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", day.Format("2006-01-02"), err)
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.DomainName == "" {
			continue
		}
		lines = append(lines, rec.DomainName)
	}
	return lines, nil
}
