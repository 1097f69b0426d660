package server

import (
	"fmt"
	"net/http"

	"github.com/voyagen/guidevault/internal/models"
)

type createEpgFileRequest struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required,http_url"`
}

type createEpgGroupRequest struct {
	Name    string  `json:"name" validate:"required"`
	FileIDs []int64 `json:"epg_file_ids" validate:"required,min=1,dive,gt=0"`
}

func (s *Server) handleListEpgFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.EpgFiles(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.EpgFile{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateEpgFile(w http.ResponseWriter, r *http.Request) {
	var req createEpgFileRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	f := &models.EpgFile{Name: req.Name, URL: req.URL}
	if err := s.svc.CreateEpgFile(r.Context(), f); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetEpgFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	f, err := s.svc.EpgFile(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("guide file %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCreateEpgGroup(w http.ResponseWriter, r *http.Request) {
	var req createEpgGroupRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	g := &models.EpgGroup{Name: req.Name, FileIDs: req.FileIDs}
	if err := s.svc.CreateEpgGroup(r.Context(), g); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetEpgGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	g, err := s.svc.EpgGroup(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("guide group %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleLineup serves GET /channel-lineup?epgFileId=N or ?epgGroupId=N.
func (s *Server) handleLineup(w http.ResponseWriter, r *http.Request) {
	fileID, err := queryID(r, "epgFileId")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	groupID, err := queryID(r, "epgGroupId")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	lineup, err := s.svc.Lineup(r.Context(), fileID, groupID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lineup)
}
