// Package service implements the sync engine's operations over the store:
// the job runner (playlist and guide syncs, mapping imports and copies) and
// the operator edits that must not interleave with a running job.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/store"
)

// Fetcher downloads a source body, already decompressed.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, format string) ([]byte, error)
}

// ProviderAPI lists categories and streams from a provider query API.
type ProviderAPI interface {
	Categories(ctx context.Context, src fetcher.XtreamSource) ([]models.CategoryHint, error)
	Streams(ctx context.Context, src fetcher.XtreamSource, categories []models.CategoryHint) (*fetcher.Result, error)
}

// Guard serializes an edit of t against job admission (jobs.Manager).
type Guard interface {
	Exclusive(ctx context.Context, t models.Target, fn func() error) error
}

type noGuard struct{}

func (noGuard) Exclusive(_ context.Context, _ models.Target, fn func() error) error { return fn() }

// ErrInvalid marks a request the service refuses to act on.
var ErrInvalid = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Service runs jobs and edits against a Store.
type Service struct {
	store store.Store
	fetch Fetcher
	api   ProviderAPI
	guard Guard
}

// New returns a Service. Edits are unguarded until SetGuard is called.
func New(s store.Store, f Fetcher, api ProviderAPI) *Service {
	return &Service{store: s, fetch: f, api: api, guard: noGuard{}}
}

// SetGuard installs the exclusivity guard for edits. The job manager needs
// the service as its runner, so it is wired after construction.
func (s *Service) SetGuard(g Guard) {
	s.guard = g
}

func playlistTarget(id int64) models.Target {
	return models.Target{Kind: models.TargetPlaylist, ID: id}
}

// CreatePlaylist validates and stores a playlist.
func (s *Service) CreatePlaylist(ctx context.Context, p *models.Playlist) error {
	if _, err := identity.ForPlaylist(p); err != nil {
		return invalid("identifier: %v", err)
	}
	switch p.SourceType {
	case models.SourceTypeM3U:
		if p.URL == "" {
			return invalid("url is required")
		}
	case models.SourceTypeXtream:
		if p.URL == "" || p.Username == "" || p.Password == "" {
			return invalid("url, username and password are required for provider API playlists")
		}
	default:
		return invalid("unknown source type %d", p.SourceType)
	}
	return s.store.CreatePlaylist(ctx, p)
}

// Playlist returns a playlist.
func (s *Service) Playlist(ctx context.Context, id int64) (*models.Playlist, error) {
	return s.store.GetPlaylist(ctx, id)
}

// Playlists lists all playlists.
func (s *Service) Playlists(ctx context.Context) ([]models.Playlist, error) {
	return s.store.ListPlaylists(ctx)
}

// DeletePlaylist removes a playlist once no job is running for it.
func (s *Service) DeletePlaylist(ctx context.Context, id int64) error {
	return s.guard.Exclusive(ctx, playlistTarget(id), func() error {
		return s.store.DeletePlaylist(ctx, id)
	})
}

// Channels lists a playlist's channels in display order.
func (s *Service) Channels(ctx context.Context, playlistID int64) ([]models.Channel, error) {
	if _, err := s.store.GetPlaylist(ctx, playlistID); err != nil {
		return nil, err
	}
	return s.store.ListChannels(ctx, playlistID)
}

// Categories lists a playlist's categories in display order.
func (s *Service) Categories(ctx context.Context, playlistID int64) ([]models.Category, error) {
	if _, err := s.store.GetPlaylist(ctx, playlistID); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, playlistID)
}

// CreateEpgFile stores a guide source.
func (s *Service) CreateEpgFile(ctx context.Context, f *models.EpgFile) error {
	if f.URL == "" {
		return invalid("url is required")
	}
	return s.store.CreateEpgFile(ctx, f)
}

// EpgFiles lists guide sources.
func (s *Service) EpgFiles(ctx context.Context) ([]models.EpgFile, error) {
	return s.store.ListEpgFiles(ctx)
}

// CreateEpgGroup stores a group over existing guide files.
func (s *Service) CreateEpgGroup(ctx context.Context, g *models.EpgGroup) error {
	if len(g.FileIDs) == 0 {
		return invalid("a group needs at least one guide file")
	}
	seen := make(map[int64]bool, len(g.FileIDs))
	for _, id := range g.FileIDs {
		if seen[id] {
			return invalid("guide file %d listed twice", id)
		}
		seen[id] = true
		if _, err := s.store.GetEpgFile(ctx, id); err != nil {
			return fmt.Errorf("guide file %d: %w", id, err)
		}
	}
	return s.store.CreateEpgGroup(ctx, g)
}

// EpgGroup returns a guide group.
func (s *Service) EpgGroup(ctx context.Context, id int64) (*models.EpgGroup, error) {
	return s.store.GetEpgGroup(ctx, id)
}

// EpgFile returns a guide source.
func (s *Service) EpgFile(ctx context.Context, id int64) (*models.EpgFile, error) {
	return s.store.GetEpgFile(ctx, id)
}

// CheckSync validates a sync request before a job is admitted for it.
// A category selection only applies to provider API playlists.
func (s *Service) CheckSync(ctx context.Context, t models.Target, categoryIDs []string) error {
	switch t.Kind {
	case models.TargetPlaylist:
		pl, err := s.store.GetPlaylist(ctx, t.ID)
		if err != nil {
			return err
		}
		if categoryIDs != nil && !pl.IsProviderAPI() {
			return invalid("category selection only applies to provider API playlists")
		}
		return nil
	case models.TargetEpgFile:
		if categoryIDs != nil {
			return invalid("category selection does not apply to guide files")
		}
		_, err := s.store.GetEpgFile(ctx, t.ID)
		return err
	}
	return invalid("unknown target kind %q", t.Kind)
}

// CheckCopy validates a mapping copy from sourceID onto playlistID.
func (s *Service) CheckCopy(ctx context.Context, playlistID, sourceID int64) error {
	if playlistID == sourceID {
		return invalid("cannot copy mappings of a playlist onto itself")
	}
	for _, id := range []int64{playlistID, sourceID} {
		if _, err := s.store.GetPlaylist(ctx, id); err != nil {
			return fmt.Errorf("playlist %d: %w", id, err)
		}
	}
	return nil
}
