package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/sortorder"
	"github.com/voyagen/guidevault/internal/store"
)

type createPlaylistRequest struct {
	Name       string `json:"name" validate:"required"`
	URL        string `json:"url" validate:"required,http_url"`
	SourceType int16  `json:"source_type" validate:"oneof=0 2"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	StreamExt  string `json:"stream_ext" validate:"omitempty,oneof=ts m3u8"`
	UserAgent  string `json:"user_agent"`

	IdentifierSource      string `json:"identifier_source"`
	IdentifierRegex       string `json:"identifier_regex"`
	IdentifierMetadataKey string `json:"identifier_metadata_key"`

	Enabled *bool `json:"enabled"`
}

func (req *createPlaylistRequest) playlist() *models.Playlist {
	p := &models.Playlist{
		Name:                  req.Name,
		URL:                   req.URL,
		SourceType:            req.SourceType,
		Username:              req.Username,
		Password:              req.Password,
		StreamExt:             req.StreamExt,
		UserAgent:             req.UserAgent,
		IdentifierSource:      req.IdentifierSource,
		IdentifierRegex:       req.IdentifierRegex,
		IdentifierMetadataKey: req.IdentifierMetadataKey,
		Enabled:               true,
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	return p
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Playlists(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.Playlist{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	p := req.playlist()
	if err := s.svc.CreatePlaylist(r.Context(), p); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	p, err := s.svc.Playlist(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("playlist %d: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeletePlaylist(r.Context(), id); err != nil {
		fail(w, r, fmt.Errorf("playlist %d: %w", id, err))
		return
	}
	writeNoContent(w)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	list, err := s.svc.Channels(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("playlist %d: %w", id, err))
		return
	}
	if list == nil {
		list = []models.Channel{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.FormatM3U
	}
	var all bool
	if v := r.URL.Query().Get("all"); v != "" {
		if all, err = strconv.ParseBool(v); err != nil {
			writeErr(w, r, http.StatusBadRequest, fmt.Errorf("invalid all: %s", v))
			return
		}
	}

	var buf bytes.Buffer
	if err := s.svc.Export(r.Context(), &buf, id, format, all); err != nil {
		fail(w, r, err)
		return
	}
	contentType, ext := "audio/x-mpegurl", "m3u"
	if format == service.FormatJSON {
		contentType, ext = "application/json", "json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="playlist-%d.%s"`, id, ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// --- categories ---

type selectionRequest struct {
	CategoryIDs []string `json:"category_ids" validate:"required,dive,required"`
}

type reorderCategoriesRequest struct {
	CategoryIDs []string `json:"category_ids" validate:"required,min=1,dive,required"`
}

type renameCategoryRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	list, err := s.svc.Categories(r.Context(), id)
	if err != nil {
		fail(w, r, fmt.Errorf("playlist %d: %w", id, err))
		return
	}
	if list == nil {
		list = []models.Category{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req selectionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetCategorySelection(r.Context(), id, req.CategoryIDs); err != nil {
		fail(w, r, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleReorderCategories(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req reorderCategoriesRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	updates, err := s.svc.ReorderCategories(r.Context(), id, req.CategoryIDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var req renameCategoryRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	categoryID := r.PathValue("categoryId")
	if err := s.svc.RenameCategory(r.Context(), id, categoryID, req.Name); err != nil {
		fail(w, r, fmt.Errorf("category %q: %w", categoryID, err))
		return
	}
	writeNoContent(w)
}

// --- channels ---

type reorderItem struct {
	ID        int64 `json:"id" validate:"required"`
	SortOrder *int  `json:"sort_order" validate:"required,min=0"`
}

func (s *Server) handleReorderChannels(w http.ResponseWriter, r *http.Request) {
	var items []reorderItem
	if err := decodeJSON(w, r, &items, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if len(items) == 0 {
		writeErr(w, r, http.StatusBadRequest, errors.New("body must be a non-empty JSON array of {id, sort_order}"))
		return
	}
	updates := make([]sortorder.Update, len(items))
	for i, it := range items {
		updates[i] = sortorder.Update{ChannelID: it.ID, SortOrder: *it.SortOrder}
	}
	applied, err := s.svc.ReorderChannels(r.Context(), updates)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var m models.ChannelMapping
	if err := decodeJSON(w, r, &m, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetMapping(r.Context(), id, &m); err != nil {
		fail(w, r, fmt.Errorf("channel %d: %w", id, err))
		return
	}
	writeNoContent(w)
}

func (s *Server) handleClearMapping(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.SetMapping(r.Context(), id, nil); err != nil {
		fail(w, r, fmt.Errorf("channel %d: %w", id, err))
		return
	}
	writeNoContent(w)
}

func (s *Server) handleUpdateFlags(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	var f store.ChannelFlags
	if err := decodeJSON(w, r, &f, false); err != nil {
		writeErr(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.UpdateChannelFlags(r.Context(), id, f); err != nil {
		fail(w, r, fmt.Errorf("channel %d: %w", id, err))
		return
	}
	writeNoContent(w)
}
