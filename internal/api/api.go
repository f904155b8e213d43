// Package api exposes the domain registry and pipeline artifacts over HTTP.
//
// The surface is read-mostly: list/detail/history/analytics plus CSV and
// JSON exports and the screenshot artifacts. The only writes are analyst
// overlay mutations (notes, tags, profile flag, risk level) and domain
// deletion; the pipeline itself never writes through this API.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/csirt-za/nrdwatch/internal/metrics"
	"github.com/csirt-za/nrdwatch/internal/registry"
)

// Server serves the registry API. Construct with New.
type Server struct {
	store          *registry.Store
	screenshotsDir string
	indexPath      string
	logger         *slog.Logger
}

// New builds a Server reading from store and serving screenshot artifacts
// from screenshotsDir with their index at indexPath.
func New(store *registry.Store, screenshotsDir, indexPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:          store,
		screenshotsDir: screenshotsDir,
		indexPath:      indexPath,
		logger:         logger,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/domains", s.handleListDomains)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Get("/", s.handleGetDomain)
			r.Delete("/", s.handleDeleteDomain)
			r.Get("/history", s.handleHistory)
			r.Put("/notes", s.handleUpdateNotes)
			r.Put("/tags", s.handleUpdateTags)
			r.Put("/profile", s.handleSetProfile)
			r.Put("/risk", s.handleSetRisk)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/analytics/recent-activity", s.handleRecentActivity)
		r.Get("/analytics/recent-changes", s.handleRecentChanges)
		r.Get("/analytics/timeline", s.handleTimeline)
		r.Get("/runs", s.handleRuns)

		r.Get("/export/csv", s.handleExportCSV)
		r.Get("/export/json", s.handleExportJSON)

		r.Get("/screenshots", s.handleListScreenshots)
		r.Get("/screenshots/{domain}", s.handleGetScreenshot)
	})
	return r
}

// requestLogger logs each request at debug level; scheduled scrapes of
// /metrics would drown info logs.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("http request",
				"method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
		})
	}
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// queryBool parses a tri-state boolean query param; absent or malformed
// means "no constraint".
func queryBool(r *http.Request, key string) *bool {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}

// filterFromQuery maps the shared filter params used by both the list
// endpoint and the exports.
func filterFromQuery(r *http.Request) registry.Filter {
	f := registry.Filter{
		Category: r.URL.Query().Get("category"),
		Tag:      r.URL.Query().Get("tag"),
		Search:   r.URL.Query().Get("search"),
		Sort:     r.URL.Query().Get("sort"),
	}
	f.Active = queryBool(r, "active")
	f.Changed = queryBool(r, "changed")
	f.WithProfile = queryBool(r, "with_profile")
	return f
}
