package registry

// Domain is one tracked candidate domain.
//
// Field ownership is split by pipeline stage: the classifier owns category
// and tags and creates the row; the scanner owns last_checked, is_active,
// content_hash and content_changed; notes, risk_level and has_profile are
// operator/enrichment overlays written only through the API. first_seen is
// immutable once set.
type Domain struct {
	ID             string   `json:"id"`
	Domain         string   `json:"domain"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	FirstSeen      string   `json:"first_seen"`
	LastChecked    string   `json:"last_checked,omitempty"`
	IsActive       bool     `json:"is_active"`
	ContentHash    string   `json:"content_hash"`
	ContentChanged bool     `json:"content_changed"`
	HasProfile     bool     `json:"has_profile"`
	Notes          string   `json:"notes"`
	RiskLevel      string   `json:"risk_level"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// HistoryEntry is one scan observation. Append-only: entries are never
// mutated after insert except for the screenshot_taken flag, which the
// capturer sets on the entry produced by the scan it follows.
type HistoryEntry struct {
	ID              string `json:"id"`
	DomainID        string `json:"domain_id"`
	CheckedAt       string `json:"checked_at"`
	IsActive        bool   `json:"is_active"`
	ContentHash     string `json:"content_hash"`
	ContentChanged  bool   `json:"content_changed"`
	ScreenshotTaken bool   `json:"screenshot_taken"`
}

// Run records one pipeline stage execution.
type Run struct {
	ID         string `json:"id"`
	Stage      string `json:"stage"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Result     string `json:"result"` // "ok" | "error"
	Detail     string `json:"detail"`
}

// Stats holds aggregate registry counters.
type Stats struct {
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	Inactive    int            `json:"inactive"`
	WithProfile int            `json:"with_profile"`
	ByCategory  map[string]int `json:"by_category"`
}

// TimelineBucket is one first-seen date with its domain count.
type TimelineBucket struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ActivityEntry is one scan observation joined with its domain name, as
// served by the analytics endpoints.
type ActivityEntry struct {
	Domain          string `json:"domain"`
	Category        string `json:"category"`
	CheckedAt       string `json:"checked_at"`
	IsActive        bool   `json:"is_active"`
	ContentChanged  bool   `json:"content_changed"`
	ScreenshotTaken bool   `json:"screenshot_taken"`
}

// Filter narrows List queries. Zero values mean "no constraint"; pointer
// fields distinguish "filter on false" from unset.
type Filter struct {
	Category    string
	Active      *bool
	Changed     *bool
	WithProfile *bool
	Tag         string // exact match against one tag
	Search      string // substring match on the domain name
	Sort        string // first_seen (default), last_checked, or domain
	Limit       int
	Offset      int
}
