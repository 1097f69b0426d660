package service

import (
	"context"
	"fmt"
	"io"

	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/identity"
	"github.com/voyagen/guidevault/internal/mapping"
	"github.com/voyagen/guidevault/internal/models"
)

// Export formats.
const (
	FormatM3U  = "m3u"
	FormatJSON = "json"
)

// Lineup returns the mapping targets of one guide file, or the merged
// lineup of a guide group when groupID is set instead.
func (s *Service) Lineup(ctx context.Context, fileID, groupID int64) ([]models.LineupEntry, error) {
	var fileIDs []int64
	switch {
	case fileID > 0 && groupID > 0:
		return nil, invalid("pass either a guide file or a guide group")
	case fileID > 0:
		if _, err := s.store.GetEpgFile(ctx, fileID); err != nil {
			return nil, err
		}
		fileIDs = []int64{fileID}
	case groupID > 0:
		g, err := s.store.GetEpgGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		fileIDs = g.FileIDs
	default:
		return nil, invalid("a guide file or a guide group is required")
	}

	files := make([][]models.EpgChannel, 0, len(fileIDs))
	for _, id := range fileIDs {
		channels, err := s.store.ListEpgChannels(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("guide file %d: %w", id, err)
		}
		files = append(files, channels)
	}
	out := mapping.MergeLineup(files...)
	if out == nil {
		out = []models.LineupEntry{}
	}
	return out, nil
}

// Export writes a playlist in format. Only channels of selected, visible
// categories and uncategorized channels are written unless all is set.
func (s *Service) Export(ctx context.Context, w io.Writer, playlistID int64, format string, all bool) error {
	pl, err := s.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}
	if format != FormatM3U && format != FormatJSON {
		return invalid("unknown export format %q", format)
	}
	channels, err := s.store.ListChannels(ctx, playlistID)
	if err != nil {
		return err
	}
	if !all {
		cats, err := s.store.ListCategories(ctx, playlistID)
		if err != nil {
			return err
		}
		channels = exported(channels, cats)
	}

	if format == FormatM3U {
		var guide string
		if pl.GuideURL != nil {
			guide = *pl.GuideURL
		}
		return fetcher.WriteM3U(w, channels, guide)
	}
	strategy, err := identity.ForPlaylist(pl)
	if err != nil {
		return fmt.Errorf("identifier: %w", err)
	}
	return fetcher.WriteJSON(w, channels, strategy)
}

func exported(channels []models.Channel, cats []models.Category) []models.Channel {
	shown := make(map[string]bool, len(cats))
	for _, c := range cats {
		shown[c.CategoryID] = c.IsSelected && !c.IsHidden
	}
	out := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.CategoryID != nil {
			if ok, known := shown[*ch.CategoryID]; known && !ok {
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}
