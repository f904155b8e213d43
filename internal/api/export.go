package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/csirt-za/nrdwatch/internal/capture"
)

var csvHeader = []string{
	"domain", "category", "tags", "first_seen", "last_checked",
	"is_active", "content_changed", "has_profile", "risk_level", "notes",
}

// handleExportCSV streams the filtered domain set as a CSV attachment.
// Pagination params are ignored: an export is always the full match set.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, 500, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=domains_%s.csv", time.Now().UTC().Format("20060102")))

	cw := csv.NewWriter(w)
	cw.Write(csvHeader)
	for _, d := range domains {
		cw.Write([]string{
			d.Domain,
			d.Category,
			strings.Join(d.Tags, ";"),
			d.FirstSeen,
			d.LastChecked,
			strconv.FormatBool(d.IsActive),
			strconv.FormatBool(d.ContentChanged),
			strconv.FormatBool(d.HasProfile),
			d.RiskLevel,
			d.Notes,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Warn("api: csv export truncated", "error", err)
	}
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.List(r.Context(), filterFromQuery(r))
	if err != nil {
		writeError(w, 500, err)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=domains_%s.json", time.Now().UTC().Format("20060102")))
	writeJSON(w, 200, map[string]any{
		"exported_at": time.Now().UTC().Format(time.RFC3339),
		"total":       len(domains),
		"domains":     domains,
	})
}

// handleListScreenshots returns the capture index, sorted by domain.
func (s *Server) handleListScreenshots(w http.ResponseWriter, r *http.Request) {
	idx, err := capture.LoadIndex(s.indexPath)
	if err != nil {
		writeError(w, 500, err)
		return
	}

	type shot struct {
		Domain string `json:"domain"`
		capture.IndexEntry
	}
	shots := make([]shot, 0, len(idx.Domains))
	for domain, entry := range idx.Domains {
		shots = append(shots, shot{Domain: domain, IndexEntry: entry})
	}
	sort.Slice(shots, func(i, j int) bool { return shots[i].Domain < shots[j].Domain })
	writeJSON(w, 200, map[string]any{"screenshots": shots, "total": len(shots)})
}

func (s *Server) handleGetScreenshot(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if strings.ContainsAny(domain, "/\\") {
		writeJSON(w, 404, map[string]string{"error": "screenshot not found"})
		return
	}
	path := filepath.Join(s.screenshotsDir, strings.ReplaceAll(domain, ".", "_")+".png")
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, 404, map[string]string{"error": "screenshot not found"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}
