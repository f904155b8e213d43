// Package e2e tests the surveillance pipeline chain end to end: feed
// ingest, classification, activity scanning, screenshot capture and the
// HTTP API, wired together the way cmd/nrdwatch wires them.
package e2e

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/csirt-za/nrdwatch/internal/api"
	"github.com/csirt-za/nrdwatch/internal/capture"
	"github.com/csirt-za/nrdwatch/internal/classify"
	"github.com/csirt-za/nrdwatch/internal/dbopen"
	"github.com/csirt-za/nrdwatch/internal/feed"
	"github.com/csirt-za/nrdwatch/internal/ledger"
	"github.com/csirt-za/nrdwatch/internal/registry"
	"github.com/csirt-za/nrdwatch/internal/scan"

	_ "modernc.org/sqlite"
)

// --- test helpers ---

// pipeEnv is the on-disk layout cmd/nrdwatch derives from one data dir,
// plus an in-memory registry.
type pipeEnv struct {
	downloads  string
	bydate     string
	patterns   string
	ignore     string
	include    string
	ledgerPath string
	cumulative string
	shots      string
	indexPath  string

	store  *registry.Store
	logger *slog.Logger
}

func newPipeEnv(t *testing.T) *pipeEnv {
	t.Helper()
	dir := t.TempDir()

	e := &pipeEnv{
		downloads:  filepath.Join(dir, "downloads"),
		bydate:     filepath.Join(dir, "bydate"),
		patterns:   filepath.Join(dir, "patterns"),
		ignore:     filepath.Join(dir, "lists", "ignore.txt"),
		include:    filepath.Join(dir, "lists", "include.txt"),
		ledgerPath: filepath.Join(dir, "first_seen_dates.csv"),
		cumulative: filepath.Join(dir, "total_filtered_domains.txt"),
		shots:      filepath.Join(dir, "screenshots"),
		indexPath:  filepath.Join(dir, "screenshots", "index.json"),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, d := range []string{e.patterns, filepath.Join(dir, "lists")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	db := dbopen.OpenMemory(t)
	if err := registry.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	e.store = registry.NewStore(db)
	return e
}

func (e *pipeEnv) classifier() *classify.Service {
	return classify.New(classify.Config{
		Brand:          "absa",
		DownloadsDir:   e.downloads,
		ByDateDir:      e.bydate,
		PatternsDir:    e.patterns,
		IgnoreFile:     e.ignore,
		IncludeFile:    e.include,
		LedgerPath:     e.ledgerPath,
		CumulativePath: e.cumulative,
	}, e.store, e.logger)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// zipPayload builds a one-entry zip archive the way the NRD provider
// packages its daily lists.
func zipPayload(t *testing.T, domains []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("domain-names.txt")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	for _, d := range domains {
		fmt.Fprintln(f, d)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// feedServer serves the same daily list for every requested day token.
func feedServer(t *testing.T, domains []string) *httptest.Server {
	t.Helper()
	body := zipPayload(t, domains)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

// artifactDay returns the single day artifact name under a source dir.
func artifactDay(t *testing.T, sourceDir string) string {
	t.Helper()
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		t.Fatalf("read %s: %v", sourceDir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(entries))
	}
	return strings.TrimSuffix(entries[0].Name(), ".txt")
}

// fakeShot is a capture strategy that writes a fixed payload.
type fakeShot struct {
	payload []byte
	calls   atomic.Int32
}

func (f *fakeShot) Name() string    { return "fake" }
func (f *fakeShot) Available() bool { return true }

func (f *fakeShot) Capture(_ context.Context, _ string, outPath string) error {
	f.calls.Add(1)
	return os.WriteFile(outPath, f.payload, 0o644)
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s: decode: %v", url, err)
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

// --- E2E: feed → classify → scan → capture → API ---

func TestE2E_PipelineChain(t *testing.T) {
	env := newPipeEnv(t)
	ctx := context.Background()

	// A live "candidate site" the scanner and capturer can actually reach.
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "<html><body>internet banking login</body></html>")
	}))
	defer site.Close()
	target := strings.TrimPrefix(site.URL, "http://")

	writeLines(t, filepath.Join(env.patterns, "typos.txt"), "a[b8]sa")
	writeLines(t, env.ignore, "ignored-absa.net")
	writeLines(t, env.include, target)

	// Step 1: Ingest one feed day.
	feedSrv := feedServer(t, []string{
		"myabsa-portal.net",     // brand hit, not a strict anchor
		"fintech-savings.co.za", // .co.za only
		"ignored-absa.net",      // whitelisted away
		"plain-news.example",    // no signal at all
	})
	defer feedSrv.Close()

	src := feed.NewWhoisDS(feedSrv.URL, feed.ClientConfig{Timeout: 5 * time.Second})
	ingested, err := feed.NewIngestor(env.downloads, []feed.Source{src}, env.logger).Run(ctx, 1)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if ingested.Fetched != 1 {
		t.Fatalf("fetched = %d, want 1", ingested.Fetched)
	}
	day := artifactDay(t, filepath.Join(env.downloads, "whoisds"))

	// Step 2: Classify the day.
	sum, err := env.classifier().Run(ctx)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if sum.Days != 1 {
		t.Errorf("days = %d, want 1", sum.Days)
	}
	if sum.Matched != 2 {
		t.Errorf("matched = %d, want 2", sum.Matched)
	}
	if sum.Seeded != 2 {
		t.Errorf("seeded = %d, want 2", sum.Seeded)
	}

	if _, err := os.Stat(filepath.Join(env.bydate, day+"_whoisds_summary.txt")); err != nil {
		t.Errorf("day summary missing: %v", err)
	}

	// Brand-only matches stay out of the scan candidates; the include
	// list is what put the test site in.
	ignore, err := classify.LoadDomainSet(env.ignore)
	if err != nil {
		t.Fatal(err)
	}
	candidates, err := scan.LoadCandidates(env.cumulative, ignore)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != target {
		t.Fatalf("candidates = %v, want [%s]", candidates, target)
	}

	led, err := ledger.Load(env.ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := led.FirstSeen("myabsa-portal.net"); !ok || got != day {
		t.Errorf("ledger first_seen = %q, %v; want %q", got, ok, day)
	}

	// Step 3: Scan the candidate.
	runner := scan.New(scan.Config{
		BatchSize: 4,
		Prober:    scan.ProberConfig{Timeout: 2 * time.Second},
	}, env.store, env.logger, scan.WithFirstSeen(led.FirstSeen))
	scanned, err := runner.Scan(ctx, candidates)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned.Scanned != 1 || scanned.Active != 1 {
		t.Fatalf("scan summary = %+v, want 1 scanned 1 active", scanned)
	}

	// Step 4: Capture the active site with a stub strategy.
	index, err := capture.LoadIndex(env.indexPath)
	if err != nil {
		t.Fatal(err)
	}
	shot := &fakeShot{payload: bytes.Repeat([]byte{0x89}, 64)}
	stats, err := capture.New(capture.Config{
		Dir:      env.shots,
		MinBytes: 16,
	}, []capture.Strategy{shot}, env.store, index, env.logger).Run(ctx)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if stats.Captured != 1 {
		t.Fatalf("captured = %d, want 1: %+v", stats.Captured, stats)
	}

	// Step 5: Read everything back through the API.
	apiSrv := httptest.NewServer(api.New(env.store, env.shots, env.indexPath, env.logger).Router())
	defer apiSrv.Close()

	var listing struct {
		Total   int `json:"total"`
		Domains []struct {
			Domain   string `json:"domain"`
			IsActive bool   `json:"is_active"`
		} `json:"domains"`
	}
	getJSON(t, apiSrv.URL+"/api/domains?active=true", &listing)
	if listing.Total != 1 || len(listing.Domains) != 1 || listing.Domains[0].Domain != target {
		t.Errorf("active listing = %+v, want just %s", listing, target)
	}

	var st struct {
		Total      int            `json:"total"`
		Active     int            `json:"active"`
		ByCategory map[string]int `json:"by_category"`
	}
	getJSON(t, apiSrv.URL+"/api/stats", &st)
	// 2 classified domains plus the include-list target the scanner created.
	if st.Total != 3 {
		t.Errorf("stats total = %d, want 3", st.Total)
	}
	if st.Active != 1 {
		t.Errorf("stats active = %d, want 1", st.Active)
	}
	if st.ByCategory["absa"] != 1 {
		t.Errorf("by_category[absa] = %d, want 1", st.ByCategory["absa"])
	}

	var shots struct {
		Total       int `json:"total"`
		Screenshots []struct {
			Domain string `json:"domain"`
			Method string `json:"capture_method"`
		} `json:"screenshots"`
	}
	getJSON(t, apiSrv.URL+"/api/screenshots", &shots)
	if shots.Total != 1 || shots.Screenshots[0].Method != "fake" {
		t.Fatalf("screenshot listing = %+v", shots)
	}

	resp, err := http.Get(apiSrv.URL + "/api/screenshots/" + target)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("screenshot file status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("screenshot content-type = %q, want image/png", ct)
	}

	// Classified but never probed: still served with its overlay fields.
	var one struct {
		Domain   string   `json:"domain"`
		Category string   `json:"category"`
		Tags     []string `json:"tags"`
	}
	getJSON(t, apiSrv.URL+"/api/domains/myabsa-portal.net", &one)
	if one.Category != "absa" {
		t.Errorf("category = %q, want absa", one.Category)
	}
	if !hasTag(one.Tags, "pattern:typos") || !hasTag(one.Tags, "contains-brand") {
		t.Errorf("tags = %v, want pattern:typos and contains-brand", one.Tags)
	}
}

// --- E2E: rescan flags content drift, capture retakes on it ---

func TestE2E_RescanDetectsContentChange(t *testing.T) {
	env := newPipeEnv(t)
	ctx := context.Background()

	var version atomic.Int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html>release %d</html>", version.Load())
	}))
	defer site.Close()
	target := strings.TrimPrefix(site.URL, "http://")

	newRunner := func() *scan.Runner {
		return scan.New(scan.Config{
			Prober: scan.ProberConfig{Timeout: 2 * time.Second},
		}, env.store, env.logger)
	}

	// Step 1: First scan establishes the content baseline.
	first, err := newRunner().Scan(ctx, []string{target})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Active != 1 || first.Changed != 0 {
		t.Fatalf("first scan = %+v, want active 1 changed 0", first)
	}

	// Step 2: Same content, no change flagged.
	second, err := newRunner().Scan(ctx, []string{target})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Changed != 0 {
		t.Fatalf("second scan changed = %d, want 0", second.Changed)
	}

	// Step 3: The site mutates; the next scan flags it.
	version.Add(1)
	third, err := newRunner().Scan(ctx, []string{target})
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if third.Changed != 1 {
		t.Fatalf("third scan changed = %d, want 1", third.Changed)
	}

	d, err := env.store.GetByName(ctx, target)
	if err != nil || d == nil {
		t.Fatalf("get %s: %v, %v", target, d, err)
	}
	if !d.ContentChanged {
		t.Error("domain should be flagged content_changed")
	}

	hist, err := env.store.History(ctx, d.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history = %d entries, want 3", len(hist))
	}
	if !hist[0].ContentChanged {
		t.Error("newest history entry should record the change")
	}

	// Step 4: The capturer shoots once, then skips until content moves on.
	index, err := capture.LoadIndex(env.indexPath)
	if err != nil {
		t.Fatal(err)
	}
	shot := &fakeShot{payload: bytes.Repeat([]byte{1}, 32)}
	capturer := capture.New(capture.Config{
		Dir:      env.shots,
		MinBytes: 8,
	}, []capture.Strategy{shot}, env.store, index, env.logger)

	if _, err := capturer.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shot.calls.Load(); got != 1 {
		t.Fatalf("capture calls = %d, want 1", got)
	}

	if _, err := capturer.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shot.calls.Load(); got != 1 {
		t.Fatalf("capture calls after no-op run = %d, want 1", got)
	}

	version.Add(1)
	if _, err := newRunner().Scan(ctx, []string{target}); err != nil {
		t.Fatal(err)
	}
	if _, err := capturer.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := shot.calls.Load(); got != 2 {
		t.Fatalf("capture calls after change = %d, want 2", got)
	}
}

// --- E2E: reruns fetch nothing, classify nothing, append nothing ---

func TestE2E_RerunsAreIdempotent(t *testing.T) {
	env := newPipeEnv(t)
	ctx := context.Background()

	writeLines(t, env.include, "pinned-absa.co.za")

	feedSrv := feedServer(t, []string{"absa-rewards.co.za"})
	defer feedSrv.Close()
	src := feed.NewWhoisDS(feedSrv.URL, feed.ClientConfig{Timeout: 5 * time.Second})
	ing := feed.NewIngestor(env.downloads, []feed.Source{src}, env.logger)

	// Step 1: First round fetches and classifies the day.
	got, err := ing.Run(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fetched != 1 {
		t.Fatalf("fetched = %d, want 1", got.Fetched)
	}

	sum, err := env.classifier().Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Days != 1 || sum.Matched != 1 {
		t.Fatalf("first classify = %+v, want 1 day 1 match", sum)
	}

	before, err := os.ReadFile(env.cumulative)
	if err != nil {
		t.Fatal(err)
	}

	// Step 2: Re-running fetches nothing and classifies nothing.
	again, err := ing.Run(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if again.Fetched != 0 || again.Skipped != 1 {
		t.Fatalf("second ingest = %+v, want 0 fetched 1 skipped", again)
	}

	sum2, err := env.classifier().Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum2.Days != 0 || sum2.Appended != 0 {
		t.Fatalf("second classify = %+v, want a no-op", sum2)
	}

	after, err := os.ReadFile(env.cumulative)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("cumulative candidate file must not grow on a no-op rerun")
	}

	// The ledger keeps the original first-seen day.
	led, err := ledger.Load(env.ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	day := artifactDay(t, filepath.Join(env.downloads, "whoisds"))
	if gotDay, ok := led.FirstSeen("absa-rewards.co.za"); !ok || gotDay != day {
		t.Errorf("ledger first_seen = %q, %v; want %q", gotDay, ok, day)
	}
}
