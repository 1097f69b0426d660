// Package server exposes the sync engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyagen/guidevault/api"
	"github.com/voyagen/guidevault/internal/config"
	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
)

// JobRecords reads persisted jobs for polling.
type JobRecords interface {
	GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error)
	GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error)
}

// Server holds dependencies for the HTTP API.
type Server struct {
	svc     *service.Service
	jobs    *jobs.Manager
	records JobRecords
	cfg     *config.Config
	ping    func(context.Context) error // nil skips the database check
	mux     *http.ServeMux
}

// New creates a Server and registers routes.
func New(svc *service.Service, mgr *jobs.Manager, records JobRecords, cfg *config.Config) *Server {
	srv := &Server{svc: svc, jobs: mgr, records: records, cfg: cfg, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// SetHealthCheck makes /api/health report 503 while fn fails.
func (s *Server) SetHealthCheck(fn func(context.Context) error) {
	s.ping = fn
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Jobs
	s.mux.HandleFunc("POST /sync/{kind}/{id}", s.handleStartSync)
	s.mux.HandleFunc("GET /sync-job/{id}", s.handleGetSyncJob)
	s.mux.HandleFunc("DELETE /sync-job-lock/{kind}/{id}", s.handleReap)
	s.mux.HandleFunc("POST /import/{playlistId}", s.handleStartImport)
	s.mux.HandleFunc("POST /import/{playlistId}/copy", s.handleStartCopy)
	s.mux.HandleFunc("GET /import-job/{id}", s.handleGetImportJob)

	// Playlists
	s.mux.HandleFunc("GET /playlists", s.handleListPlaylists)
	s.mux.HandleFunc("POST /playlists", s.handleCreatePlaylist)
	s.mux.HandleFunc("GET /playlists/{id}", s.handleGetPlaylist)
	s.mux.HandleFunc("DELETE /playlists/{id}", s.handleDeletePlaylist)
	s.mux.HandleFunc("GET /playlists/{id}/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /playlists/{id}/export", s.handleExport)

	// Categories
	s.mux.HandleFunc("GET /playlists/{id}/categories", s.handleListCategories)
	s.mux.HandleFunc("PUT /playlists/{id}/categories/selection", s.handleSetSelection)
	s.mux.HandleFunc("PUT /playlists/{id}/categories/reorder", s.handleReorderCategories)
	s.mux.HandleFunc("PUT /playlists/{id}/categories/{categoryId}", s.handleRenameCategory)

	// Channels
	s.mux.HandleFunc("PUT /channel-lineup/reorder", s.handleReorderChannels)
	s.mux.HandleFunc("PUT /channels/{id}/mapping", s.handleSetMapping)
	s.mux.HandleFunc("DELETE /channels/{id}/mapping", s.handleClearMapping)
	s.mux.HandleFunc("PUT /channels/{id}/flags", s.handleUpdateFlags)

	// Program guides
	s.mux.HandleFunc("GET /epg-files", s.handleListEpgFiles)
	s.mux.HandleFunc("POST /epg-files", s.handleCreateEpgFile)
	s.mux.HandleFunc("GET /epg-files/{id}", s.handleGetEpgFile)
	s.mux.HandleFunc("POST /epg-groups", s.handleCreateEpgGroup)
	s.mux.HandleFunc("GET /epg-groups/{id}", s.handleGetEpgGroup)
	s.mux.HandleFunc("GET /channel-lineup", s.handleLineup)

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPI)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the routes wrapped in the CORS and logging middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(withLogging(s))
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := ":" + s.cfg.ServerPort
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("server shutdown")
		}
	}()

	logging.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": len(s.jobs.Registry().Active()),
	})
}

// --- docs handlers ---

func handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(api.OpenAPI)
}

func handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, swaggerUIHTML)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>GuideVault API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/api/docs/openapi.yaml", dom_id: "#swagger-ui"});
  </script>
</body>
</html>`
