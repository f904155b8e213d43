package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/csirt-za/nrdwatch/internal/registry"
)

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	f.Limit = queryInt(r, "limit", 100)
	f.Offset = queryInt(r, "offset", 0)

	total, err := s.store.Count(r.Context(), f)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	domains, err := s.store.List(r.Context(), f)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if domains == nil {
		domains = []*registry.Domain{}
	}
	writeJSON(w, 200, map[string]any{
		"domains": domains,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

// getDomain resolves the {domain} URL param to a registry row, writing the
// 404 itself. Callers bail out on nil.
func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) *registry.Domain {
	d, err := s.store.GetByName(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, 500, err)
		return nil
	}
	if d == nil {
		writeJSON(w, 404, map[string]string{"error": "domain not found"})
		return nil
	}
	return d
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	writeJSON(w, 200, d)
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	if err := s.store.Delete(r.Context(), d.ID); err != nil {
		writeError(w, 500, err)
		return
	}
	s.logger.Info("api: domain deleted", "domain", d.Domain)
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	entries, err := s.store.History(r.Context(), d.ID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []*registry.HistoryEntry{}
	}
	writeJSON(w, 200, map[string]any{"domain": d.Domain, "history": entries})
}

func (s *Server) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.store.UpdateNotes(r.Context(), d.ID, req.Notes); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdateTags(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.store.UpdateTags(r.Context(), d.ID, req.Tags); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "updated"})
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	var req struct {
		HasProfile bool `json:"has_profile"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.store.SetProfile(r.Context(), d.ID, req.HasProfile); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "updated"})
}

var riskLevels = map[string]bool{
	"": true, "low": true, "medium": true, "high": true, "critical": true,
}

func (s *Server) handleSetRisk(w http.ResponseWriter, r *http.Request) {
	d := s.getDomain(w, r)
	if d == nil {
		return
	}
	var req struct {
		RiskLevel string `json:"risk_level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, err)
		return
	}
	if !riskLevels[req.RiskLevel] {
		writeJSON(w, 400, map[string]string{"error": "invalid risk_level"})
		return
	}
	if err := s.store.SetRiskLevel(r.Context(), d.ID, req.RiskLevel); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "updated"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, stats)
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.RecentActivity(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []*registry.ActivityEntry{}
	}
	writeJSON(w, 200, map[string]any{"recent_activity": entries})
}

func (s *Server) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.RecentChanges(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if entries == nil {
		entries = []*registry.ActivityEntry{}
	}
	writeJSON(w, 200, map[string]any{"recent_changes": entries})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.store.FirstSeenTimeline(r.Context(), queryInt(r, "days", 30))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if buckets == nil {
		buckets = []*registry.TimelineBucket{}
	}
	writeJSON(w, 200, map[string]any{"timeline": buckets})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if runs == nil {
		runs = []*registry.Run{}
	}
	writeJSON(w, 200, map[string]any{"runs": runs})
}
