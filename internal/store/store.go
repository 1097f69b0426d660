// Package store persists playlists, channels, categories, program guides and
// jobs.
package store

import (
	"context"
	"errors"

	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
)

// ErrNotFound is returned when an addressed row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines persistence for the sync engine.
type Store interface {
	jobs.Store
	GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error)
	GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error)

	CreatePlaylist(ctx context.Context, p *models.Playlist) error
	GetPlaylist(ctx context.Context, id int64) (*models.Playlist, error)
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)
	DeletePlaylist(ctx context.Context, id int64) error

	// ListCategories returns a playlist's categories by sort order.
	ListCategories(ctx context.Context, playlistID int64) ([]models.Category, error)
	// SetCategorySelection selects exactly the given category ids.
	SetCategorySelection(ctx context.Context, playlistID int64, categoryIDs []string) error
	// RenameCategory renames a category and the category name of its channels.
	RenameCategory(ctx context.Context, playlistID int64, categoryID, name string) error

	// ListChannels returns a playlist's channels by sort order, then id.
	ListChannels(ctx context.Context, playlistID int64) ([]models.Channel, error)
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	// SetMapping stores m on a channel; nil clears it.
	SetMapping(ctx context.Context, channelID int64, m *models.ChannelMapping) error
	// ApplyMappings stores several mappings of one playlist atomically.
	ApplyMappings(ctx context.Context, playlistID int64, mappings map[int64]models.ChannelMapping) error
	// UpdateChannelFlags sets operator overrides; a set field also sets its manual flag.
	UpdateChannelFlags(ctx context.Context, channelID int64, f ChannelFlags) error
	// ApplySortOrder writes channel and category sort orders atomically.
	ApplySortOrder(ctx context.Context, playlistID int64, channels []sortorder.Update, categories []sortorder.CategoryUpdate) error
	// ApplyPlaylistSync commits one reconciled playlist sync atomically.
	ApplyPlaylistSync(ctx context.Context, s *PlaylistSync) error

	CreateEpgFile(ctx context.Context, f *models.EpgFile) error
	GetEpgFile(ctx context.Context, id int64) (*models.EpgFile, error)
	ListEpgFiles(ctx context.Context) ([]models.EpgFile, error)
	CreateEpgGroup(ctx context.Context, g *models.EpgGroup) error
	GetEpgGroup(ctx context.Context, id int64) (*models.EpgGroup, error)
	// ListEpgChannels returns a guide's channels in document order.
	ListEpgChannels(ctx context.Context, fileID int64) ([]models.EpgChannel, error)
	// ApplyEpgSync replaces a guide's channels and counts atomically.
	ApplyEpgSync(ctx context.Context, fileID int64, channels []models.EpgChannel, programmeCount int) error
}

// PlaylistSync is the write set of one playlist sync, computed in memory
// before anything is written.
type PlaylistSync struct {
	PlaylistID int64
	// Categories replaces the playlist's category set. Existing categories keep
	// is_selected and is_hidden; new ones take IsSelected from here.
	Categories []models.Category
	// Selection, when non-nil, replaces is_selected on every category.
	Selection []string
	Removed   []int64
	// Updated are matched channels, rewritten in place by ID.
	Updated []models.Channel
	Added   []models.Channel
	// GuideURL is stored when non-nil.
	GuideURL *string
}

// ChannelFlags are operator overrides. Nil fields are left unchanged.
type ChannelFlags struct {
	IsOperational *bool `json:"is_operational"`
	HasArchive    *bool `json:"has_archive"`
	// ClearManual drops both manual flags so the next sync decides again.
	ClearManual bool `json:"clear_manual"`
}
