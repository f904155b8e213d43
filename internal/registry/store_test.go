package registry

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/csirt-za/nrdwatch/internal/dbopen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewStore(db)
}

func TestApplySchema(t *testing.T) {
	// WHAT: Verify schema creates all tables and the migrated column.
	// WHY: Schema is the foundation; the risk_level migration must also
	// land on a fresh database.
	s := openTestStore(t)
	for _, table := range []string{"domains", "domain_history", "pipeline_runs"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
	var count int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('domains') WHERE name='risk_level'`).Scan(&count)
	if err != nil || count != 1 {
		t.Errorf("risk_level column missing (count=%d, err=%v)", count, err)
	}
}

func TestSeedClassified_FirstSeenWriteOnce(t *testing.T) {
	// WHAT: Re-seeding a domain updates category and tags but never
	// first_seen.
	// WHY: first_seen is the earliest observation and immutable once set;
	// re-running classification over the same feed day must not move it.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SeedClassified(ctx, "absa-login.co.za", "golden", []string{"contains-brand"}, "2025-07-01T00:00:00Z"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SeedClassified(ctx, "absa-login.co.za", "absa", []string{"starts-with-brand"}, "2025-07-05T00:00:00Z"); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	d, err := s.GetByName(ctx, "absa-login.co.za")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d == nil {
		t.Fatal("domain not found")
	}
	if d.FirstSeen != "2025-07-01T00:00:00Z" {
		t.Errorf("first_seen: got %q, want the original date", d.FirstSeen)
	}
	if d.Category != "absa" {
		t.Errorf("category: got %q, want re-seeded %q", d.Category, "absa")
	}
	if len(d.Tags) != 1 || d.Tags[0] != "starts-with-brand" {
		t.Errorf("tags: got %v, want re-seeded set", d.Tags)
	}
}

func TestUpsertScan_PreservesClassifierAndOverlayFields(t *testing.T) {
	// WHAT: A scan upsert touches only the scanner-owned columns.
	// WHY: Field ownership is what makes independent stage re-runs safe;
	// a scan must never clobber category, tags, notes or first_seen.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SeedClassified(ctx, "myabsa.net", "absa", []string{"contains-brand"}, "2025-07-01T00:00:00Z"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seeded, _ := s.GetByName(ctx, "myabsa.net")
	if err := s.UpdateNotes(ctx, seeded.ID, "reported to registrar"); err != nil {
		t.Fatalf("notes: %v", err)
	}

	id, err := s.UpsertScan(ctx, ScanObservation{
		Domain:         "myabsa.net",
		FirstSeen:      "2025-07-09T00:00:00Z",
		CheckedAt:      "2025-07-09T06:30:00Z",
		IsActive:       true,
		ContentHash:    "h1",
		ContentChanged: false,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id != seeded.ID {
		t.Errorf("upsert resolved id %q, want seeded id %q", id, seeded.ID)
	}

	d, _ := s.GetByName(ctx, "myabsa.net")
	if !d.IsActive || d.ContentHash != "h1" || d.LastChecked != "2025-07-09T06:30:00Z" {
		t.Errorf("scanner fields not applied: %+v", d)
	}
	if d.Category != "absa" || d.Notes != "reported to registrar" {
		t.Errorf("classifier/overlay fields clobbered: category=%q notes=%q", d.Category, d.Notes)
	}
	if d.FirstSeen != "2025-07-01T00:00:00Z" {
		t.Errorf("first_seen moved to %q", d.FirstSeen)
	}
	if len(d.Tags) != 1 || d.Tags[0] != "contains-brand" {
		t.Errorf("tags clobbered: %v", d.Tags)
	}
}

func TestUpsertScan_CreatesUnseededRow(t *testing.T) {
	// WHAT: Scanning a domain the classifier never seeded creates the row
	// with the observation's first_seen.
	// WHY: The scanner can run standalone against an older candidate list.
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertScan(ctx, ScanObservation{
		Domain:      "securebank.co.za",
		FirstSeen:   "2025-07-02T00:00:00Z",
		CheckedAt:   "2025-07-09T06:30:00Z",
		IsActive:    false,
		ContentHash: "",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d == nil {
		t.Fatal("row not created")
	}
	if d.FirstSeen != "2025-07-02T00:00:00Z" {
		t.Errorf("first_seen: got %q", d.FirstSeen)
	}
	if d.IsActive {
		t.Error("is_active should be false")
	}
	if d.Category != "" {
		t.Errorf("category should be empty for unseeded row, got %q", d.Category)
	}
}

func TestMarkScreenshotTaken_LatestEntryOnly(t *testing.T) {
	// WHAT: The screenshot flag lands on the newest history entry only.
	// WHY: History is per-scan; flagging an older entry would claim a
	// capture for a scan that never had one.
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertScan(ctx, ScanObservation{
		Domain:    "absa-update.africa",
		FirstSeen: "2025-07-01T00:00:00Z",
		CheckedAt: "2025-07-09T06:30:00Z",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	older := &HistoryEntry{DomainID: id, CheckedAt: "2025-07-08T06:30:00Z", IsActive: true, ContentHash: "h1"}
	newer := &HistoryEntry{DomainID: id, CheckedAt: "2025-07-09T06:30:00Z", IsActive: true, ContentHash: "h2", ContentChanged: true}
	if err := s.AddHistory(ctx, older); err != nil {
		t.Fatalf("older: %v", err)
	}
	if err := s.AddHistory(ctx, newer); err != nil {
		t.Fatalf("newer: %v", err)
	}

	if err := s.MarkScreenshotTaken(ctx, id); err != nil {
		t.Fatalf("mark: %v", err)
	}

	entries, err := s.History(ctx, id, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history count: got %d, want 2", len(entries))
	}
	if !entries[0].ScreenshotTaken {
		t.Error("newest entry should carry the screenshot flag")
	}
	if entries[1].ScreenshotTaken {
		t.Error("older entry must stay unflagged")
	}
}

func TestList_FilterComposition(t *testing.T) {
	// WHAT: Category, active and search filters compose with AND.
	// WHY: The API exposes all three together; a dropped condition leaks
	// unrelated rows into analyst views.
	s := openTestStore(t)
	ctx := context.Background()

	seed := []struct {
		name, category string
		active         bool
	}{
		{"absa-login.co.za", "golden", true},
		{"absa-verify.africa", "golden", false},
		{"myabsa.net", "absa", true},
		{"securebank.co.za", "coza", true},
	}
	for _, row := range seed {
		if err := s.SeedClassified(ctx, row.name, row.category, nil, "2025-07-01T00:00:00Z"); err != nil {
			t.Fatalf("seed %s: %v", row.name, err)
		}
		if row.active {
			if _, err := s.UpsertScan(ctx, ScanObservation{
				Domain: row.name, FirstSeen: "2025-07-01T00:00:00Z",
				CheckedAt: "2025-07-09T06:30:00Z", IsActive: true,
			}); err != nil {
				t.Fatalf("activate %s: %v", row.name, err)
			}
		}
	}

	active := true
	got, err := s.List(ctx, Filter{Category: "golden", Active: &active, Search: "login"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Domain != "absa-login.co.za" {
		t.Fatalf("filtered list = %v, want only absa-login.co.za", names(got))
	}

	count, err := s.Count(ctx, Filter{Category: "golden"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("golden count: got %d, want 2", count)
	}
}

func names(domains []*Domain) []string {
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = d.Domain
	}
	return out
}

func TestList_TagOverlayAndSortFilters(t *testing.T) {
	// WHAT: Tag matching is exact within the comma-joined column, the
	// changed/profile filters hit their own flags, and the sort key
	// switches the row order.
	// WHY: "brand" must not match "starts-with-brand", and the changed-only
	// dashboard view depends on content_changed rather than activity.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SeedClassified(ctx, "absa-one.co.za", "golden",
		[]string{"starts-with-brand", "pattern:typos"}, "2025-07-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := s.SeedClassified(ctx, "absa-two.co.za", "golden",
		[]string{"brand"}, "2025-07-02T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	byTag, err := s.List(ctx, Filter{Tag: "brand"})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Domain != "absa-two.co.za" {
		t.Fatalf("tag filter = %v, want only absa-two.co.za", names(byTag))
	}

	if _, err := s.UpsertScan(ctx, ScanObservation{
		Domain: "absa-one.co.za", FirstSeen: "2025-07-01T00:00:00Z",
		CheckedAt: "2025-07-09T06:30:00Z", IsActive: true,
		ContentHash: "h2", ContentChanged: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProfile(ctx, byTag[0].ID, true); err != nil {
		t.Fatal(err)
	}

	changed := true
	got, err := s.List(ctx, Filter{Changed: &changed})
	if err != nil {
		t.Fatalf("list changed: %v", err)
	}
	if len(got) != 1 || got[0].Domain != "absa-one.co.za" {
		t.Fatalf("changed filter = %v, want only absa-one.co.za", names(got))
	}

	withProfile := true
	got, err = s.List(ctx, Filter{WithProfile: &withProfile})
	if err != nil {
		t.Fatalf("list with profile: %v", err)
	}
	if len(got) != 1 || got[0].Domain != "absa-two.co.za" {
		t.Fatalf("profile filter = %v, want only absa-two.co.za", names(got))
	}

	// Default order is first_seen DESC; the domain key flips it here.
	got, err = s.List(ctx, Filter{Sort: "domain"})
	if err != nil {
		t.Fatalf("list sorted: %v", err)
	}
	if len(got) != 2 || got[0].Domain != "absa-one.co.za" {
		t.Fatalf("domain sort = %v, want absa-one.co.za first", names(got))
	}
}

func TestDelete_CascadesHistory(t *testing.T) {
	// WHAT: Deleting a domain removes its history rows via the FK cascade.
	// WHY: Orphaned history would surface ghost domains in analytics.
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertScan(ctx, ScanObservation{
		Domain: "gone.co.za", FirstSeen: "2025-07-01T00:00:00Z",
		CheckedAt: "2025-07-09T06:30:00Z", IsActive: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AddHistory(ctx, &HistoryEntry{DomainID: id, CheckedAt: "2025-07-09T06:30:00Z", IsActive: true}); err != nil {
		t.Fatalf("history: %v", err)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d != nil {
		t.Error("domain should be gone")
	}
	var count int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM domain_history WHERE domain_id = ?`, id).Scan(&count); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if count != 0 {
		t.Errorf("history rows remain: %d", count)
	}
}

func TestStats_Aggregates(t *testing.T) {
	// WHAT: Stats counts totals, liveness split and per-category buckets.
	// WHY: The dashboard reads these numbers verbatim.
	s := openTestStore(t)
	ctx := context.Background()

	s.SeedClassified(ctx, "a.co.za", "coza", nil, "2025-07-01T00:00:00Z")
	s.SeedClassified(ctx, "b.co.za", "coza", nil, "2025-07-01T00:00:00Z")
	s.SeedClassified(ctx, "c.africa", "africa", nil, "2025-07-02T00:00:00Z")
	s.UpsertScan(ctx, ScanObservation{Domain: "a.co.za", CheckedAt: "2025-07-09T06:30:00Z", IsActive: true})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 1 || stats.Inactive != 2 {
		t.Errorf("liveness split: %+v", stats)
	}
	if stats.ByCategory["coza"] != 2 || stats.ByCategory["africa"] != 1 {
		t.Errorf("by_category: %v", stats.ByCategory)
	}

	timeline, err := s.FirstSeenTimeline(ctx, 10)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline buckets: got %d, want 2", len(timeline))
	}
	if timeline[0].Date != "2025-07-02" || timeline[0].Count != 1 {
		t.Errorf("newest bucket: %+v", timeline[0])
	}
}

func TestRecentChanges_OnlyChangedEntries(t *testing.T) {
	// WHAT: RecentChanges returns only history rows with content_changed.
	// WHY: The endpoint drives the "what moved" analyst view; unchanged
	// scans are noise there.
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.UpsertScan(ctx, ScanObservation{
		Domain: "watch.co.za", FirstSeen: "2025-07-01T00:00:00Z",
		CheckedAt: "2025-07-09T06:30:00Z", IsActive: true,
	})
	s.AddHistory(ctx, &HistoryEntry{DomainID: id, CheckedAt: "2025-07-08T06:30:00Z", IsActive: true, ContentHash: "h1"})
	s.AddHistory(ctx, &HistoryEntry{DomainID: id, CheckedAt: "2025-07-09T06:30:00Z", IsActive: true, ContentHash: "h2", ContentChanged: true})

	changes, err := s.RecentChanges(ctx, 10)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes count: got %d, want 1", len(changes))
	}
	if changes[0].Domain != "watch.co.za" || !changes[0].ContentChanged {
		t.Errorf("change entry: %+v", changes[0])
	}

	activity, err := s.RecentActivity(ctx, 10)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(activity) != 2 {
		t.Errorf("activity count: got %d, want 2", len(activity))
	}
}

func TestRecordRun_RoundTrip(t *testing.T) {
	// WHAT: Run records store and list newest first.
	// WHY: The run log is the operator's audit trail for scheduled runs.
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordRun(ctx, &Run{Stage: "scan", StartedAt: "2025-07-08T06:30:00Z", FinishedAt: "2025-07-08T06:31:00Z", Result: "ok", Detail: "42 scanned"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordRun(ctx, &Run{Stage: "capture", StartedAt: "2025-07-09T06:30:00Z", FinishedAt: "2025-07-09T06:32:00Z", Result: "error", Detail: "browser unavailable"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs count: got %d, want 2", len(runs))
	}
	if runs[0].Stage != "capture" || runs[0].Result != "error" {
		t.Errorf("newest run: %+v", runs[0])
	}
}
