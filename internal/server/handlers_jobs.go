package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/voyagen/guidevault/internal/models"
)

type jobCreated struct {
	JobID int64 `json:"job_id"`
}

type syncRequest struct {
	// CategoryIDs is the provider API category selection; nil keeps the stored one.
	CategoryIDs []string `json:"category_ids" validate:"omitempty,dive,required"`
}

func parseTarget(r *http.Request) (models.Target, error) {
	kind, ok := models.ParseTargetKind(r.PathValue("kind"))
	if !ok {
		return models.Target{}, fmt.Errorf("unknown target kind %q", r.PathValue("kind"))
	}
	id, err := parseID(r, "id")
	if err != nil {
		return models.Target{}, err
	}
	return models.Target{Kind: kind, ID: id}, nil
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	target, err := parseTarget(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req syncRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.CheckSync(r.Context(), target, req.CategoryIDs); err != nil {
		fail(w, r, err)
		return
	}
	id, err := s.jobs.StartSync(r.Context(), target, req.CategoryIDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreated{JobID: id})
}

func (s *Server) handleGetSyncJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	j, err := s.records.GetSyncJob(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("sync job %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	target, err := parseTarget(r)
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	report, err := s.jobs.Reap(r.Context(), target)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	playlistID, err := parseID(r, "playlistId")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var entries []models.MappingEntry
	if err := decodeJSON(w, r, &entries, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if entries == nil {
		writeErr(w, r, http.StatusBadRequest, errors.New("body must be a JSON array of mapping entries"))
		return
	}
	if _, err := s.svc.Playlist(r.Context(), playlistID); err != nil {
		fail(w, r, fmt.Errorf("playlist %d: %w", playlistID, err))
		return
	}
	id, err := s.jobs.StartImport(r.Context(), playlistID, entries)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreated{JobID: id})
}

func (s *Server) handleStartCopy(w http.ResponseWriter, r *http.Request) {
	playlistID, err := parseID(r, "playlistId")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	sourceID, err := queryID(r, "from")
	if err == nil && sourceID == 0 {
		err = errors.New("from is required")
	}
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.CheckCopy(r.Context(), playlistID, sourceID); err != nil {
		fail(w, r, err)
		return
	}
	id, err := s.jobs.StartCopy(r.Context(), playlistID, sourceID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobCreated{JobID: id})
}

func (s *Server) handleGetImportJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	j, err := s.records.GetImportJob(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("import job %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, j)
}
