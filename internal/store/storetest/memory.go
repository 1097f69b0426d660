// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
	"github.com/voyagen/guidevault/internal/store"
)

// Memory is an in-memory store.Store. It is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	nextID      int64
	playlists   map[int64]*models.Playlist
	categories  map[int64][]models.Category
	channels    map[int64][]models.Channel
	epgFiles    map[int64]*models.EpgFile
	epgChannels map[int64][]models.EpgChannel
	epgGroups   map[int64]*models.EpgGroup
	syncs       map[int64]*models.SyncJob
	imports     map[int64]*models.ImportJob

	// ApplyErr is returned by ApplyPlaylistSync when set.
	ApplyErr error
}

var _ store.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		playlists:   map[int64]*models.Playlist{},
		categories:  map[int64][]models.Category{},
		channels:    map[int64][]models.Channel{},
		epgFiles:    map[int64]*models.EpgFile{},
		epgChannels: map[int64][]models.EpgChannel{},
		epgGroups:   map[int64]*models.EpgGroup{},
		syncs:       map[int64]*models.SyncJob{},
		imports:     map[int64]*models.ImportJob{},
	}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Memory) CreateSyncJob(_ context.Context, j *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = s.id()
	c := *j
	s.syncs[j.ID] = &c
	return nil
}

func (s *Memory) UpdateSyncJob(_ context.Context, j *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.syncs[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status.Terminal() {
		return models.ErrJobFinished
	}
	c := *j
	s.syncs[j.ID] = &c
	return nil
}

func (s *Memory) GetSyncJob(_ context.Context, id int64) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.syncs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *Memory) CreateImportJob(_ context.Context, j *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = s.id()
	c := *j
	s.imports[j.ID] = &c
	return nil
}

func (s *Memory) UpdateImportJob(_ context.Context, j *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.imports[j.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status.Terminal() {
		return models.ErrJobFinished
	}
	c := *j
	s.imports[j.ID] = &c
	return nil
}

func (s *Memory) GetImportJob(_ context.Context, id int64) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.imports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (s *Memory) ListActiveJobs(_ context.Context, t models.Target) ([]models.JobRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobRef
	for _, j := range s.syncs {
		if j.Target() == t && !j.Status.Terminal() {
			out = append(out, models.JobRef{ID: j.ID, Type: models.JobTypeSync, Target: t, Status: j.Status, UpdatedAt: j.UpdatedAt})
		}
	}
	for _, j := range s.imports {
		if j.Target() == t && !j.Status.Terminal() {
			out = append(out, models.JobRef{ID: j.ID, Type: models.JobTypeImport, Target: t, Status: j.Status, UpdatedAt: j.UpdatedAt})
		}
	}
	return out, nil
}

func (s *Memory) FailJob(_ context.Context, ref models.JobRef, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.syncs[ref.ID]; ok && ref.Type == models.JobTypeSync && !j.Status.Terminal() {
		j.Status, j.Message, j.Error = models.JobFailed, message, &message
		return nil
	}
	if j, ok := s.imports[ref.ID]; ok && !j.Status.Terminal() {
		j.Status, j.Message, j.Error = models.JobFailed, message, &message
		return nil
	}
	return models.ErrJobFinished
}

func (s *Memory) CreatePlaylist(_ context.Context, p *models.Playlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	c := *p
	s.playlists[p.ID] = &c
	return nil
}

func (s *Memory) GetPlaylist(_ context.Context, id int64) (*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playlists[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Memory) ListPlaylists(_ context.Context) ([]models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Playlist
	for _, p := range s.playlists {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Memory) DeletePlaylist(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playlists[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.playlists, id)
	delete(s.categories, id)
	delete(s.channels, id)
	return nil
}

func (s *Memory) ListCategories(_ context.Context, playlistID int64) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Category(nil), s.categories[playlistID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *Memory) SetCategorySelection(_ context.Context, playlistID int64, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectLocked(playlistID, ids)
	return nil
}

func (s *Memory) selectLocked(playlistID int64, ids []string) {
	pick := map[string]bool{}
	for _, id := range ids {
		pick[id] = true
	}
	cats := s.categories[playlistID]
	for i := range cats {
		cats[i].IsSelected = pick[cats[i].CategoryID]
	}
}

func (s *Memory) RenameCategory(_ context.Context, playlistID int64, categoryID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.categories[playlistID]
	found := false
	for i := range cats {
		if cats[i].CategoryID == categoryID {
			cats[i].CategoryName, found = name, true
		}
	}
	if !found {
		return store.ErrNotFound
	}
	chs := s.channels[playlistID]
	for i := range chs {
		if chs[i].CategoryID != nil && *chs[i].CategoryID == categoryID {
			n := name
			chs[i].CategoryName = &n
		}
	}
	return nil
}

func (s *Memory) ListChannels(_ context.Context, playlistID int64) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Channel(nil), s.channels[playlistID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) findLocked(id int64) (*models.Channel, bool) {
	for pid := range s.channels {
		chs := s.channels[pid]
		for i := range chs {
			if chs[i].ID == id {
				return &chs[i], true
			}
		}
	}
	return nil, false
}

func (s *Memory) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.findLocked(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *ch
	return &c, nil
}

func (s *Memory) SetMapping(_ context.Context, channelID int64, m *models.ChannelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.findLocked(channelID)
	if !ok {
		return store.ErrNotFound
	}
	ch.Mapping = m
	return nil
}

func (s *Memory) ApplyMappings(_ context.Context, playlistID int64, mappings map[int64]models.ChannelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chs := s.channels[playlistID]
	for i := range chs {
		if m, ok := mappings[chs[i].ID]; ok {
			chs[i].Mapping = &m
		}
	}
	return nil
}

func (s *Memory) UpdateChannelFlags(_ context.Context, channelID int64, f store.ChannelFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.findLocked(channelID)
	if !ok {
		return store.ErrNotFound
	}
	if f.ClearManual {
		ch.IsOperationalManual, ch.HasArchiveManual = false, false
	}
	if f.IsOperational != nil {
		ch.IsOperational, ch.IsOperationalManual = *f.IsOperational, true
	}
	if f.HasArchive != nil {
		ch.HasArchive, ch.HasArchiveManual = *f.HasArchive, true
	}
	return nil
}

func (s *Memory) ApplySortOrder(_ context.Context, playlistID int64, channels []sortorder.Update, categories []sortorder.CategoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := map[int64]int{}
	for _, u := range channels {
		keys[u.ChannelID] = u.SortOrder
	}
	chs := s.channels[playlistID]
	for i := range chs {
		if k, ok := keys[chs[i].ID]; ok {
			chs[i].SortOrder = k
		}
	}
	pos := map[string]int{}
	for _, u := range categories {
		pos[u.CategoryID] = u.SortOrder
	}
	cats := s.categories[playlistID]
	for i := range cats {
		if p, ok := pos[cats[i].CategoryID]; ok {
			cats[i].SortOrder = p
		}
	}
	return nil
}

func (s *Memory) ApplyPlaylistSync(_ context.Context, ps *store.PlaylistSync) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ApplyErr != nil {
		return s.ApplyErr
	}
	pl, ok := s.playlists[ps.PlaylistID]
	if !ok {
		return store.ErrNotFound
	}
	if ps.Categories != nil {
		old := map[string]models.Category{}
		for _, c := range s.categories[ps.PlaylistID] {
			old[c.CategoryID] = c
		}
		cats := make([]models.Category, 0, len(ps.Categories))
		for _, c := range ps.Categories {
			if prev, ok := old[c.CategoryID]; ok {
				c.ID, c.IsSelected, c.IsHidden = prev.ID, prev.IsSelected, prev.IsHidden
			} else {
				c.ID = s.id()
			}
			c.PlaylistID = ps.PlaylistID
			cats = append(cats, c)
		}
		s.categories[ps.PlaylistID] = cats
	}
	if ps.Selection != nil {
		s.selectLocked(ps.PlaylistID, ps.Selection)
	}

	removed := map[int64]bool{}
	for _, id := range ps.Removed {
		removed[id] = true
	}
	updated := map[int64]models.Channel{}
	for _, ch := range ps.Updated {
		updated[ch.ID] = ch
	}
	var next []models.Channel
	for _, ch := range s.channels[ps.PlaylistID] {
		if removed[ch.ID] {
			continue
		}
		if u, ok := updated[ch.ID]; ok {
			ch = u
		}
		next = append(next, ch)
	}
	for _, ch := range ps.Added {
		ch.ID = s.id()
		ch.PlaylistID = ps.PlaylistID
		next = append(next, ch)
	}
	s.channels[ps.PlaylistID] = next
	now := time.Now()
	pl.LastUpdated = &now
	if ps.GuideURL != nil {
		g := *ps.GuideURL
		pl.GuideURL = &g
	}
	return nil
}

func (s *Memory) CreateEpgFile(_ context.Context, f *models.EpgFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = s.id()
	c := *f
	s.epgFiles[f.ID] = &c
	return nil
}

func (s *Memory) GetEpgFile(_ context.Context, id int64) (*models.EpgFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.epgFiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *f
	return &c, nil
}

func (s *Memory) ListEpgFiles(_ context.Context) ([]models.EpgFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EpgFile
	for _, f := range s.epgFiles {
		out = append(out, *f)
	}
	return out, nil
}

func (s *Memory) CreateEpgGroup(_ context.Context, g *models.EpgGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.id()
	c := *g
	s.epgGroups[g.ID] = &c
	return nil
}

func (s *Memory) GetEpgGroup(_ context.Context, id int64) (*models.EpgGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.epgGroups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *Memory) ListEpgChannels(_ context.Context, fileID int64) ([]models.EpgChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EpgChannel(nil), s.epgChannels[fileID]...), nil
}

func (s *Memory) ApplyEpgSync(_ context.Context, fileID int64, channels []models.EpgChannel, programmeCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.epgFiles[fileID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	f.ChannelCount, f.ProgrammeCount, f.LastUpdated = len(channels), programmeCount, &now
	s.epgChannels[fileID] = append([]models.EpgChannel(nil), channels...)
	return nil
}

