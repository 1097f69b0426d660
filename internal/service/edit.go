package service

import (
	"context"
	"strings"

	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
	"github.com/voyagen/guidevault/internal/store"
)

// ReorderChannels moves channels within their category. Each update's
// SortOrder is the wanted position inside the category: either a plain index
// or a key inside the category's block. Channels are rekeyed only within the
// blocks they belong to. All channels must belong to one playlist.
func (s *Service) ReorderChannels(ctx context.Context, updates []sortorder.Update) ([]sortorder.Update, error) {
	if len(updates) == 0 {
		return nil, invalid("no channels to reorder")
	}
	first, err := s.store.GetChannel(ctx, updates[0].ChannelID)
	if err != nil {
		return nil, err
	}
	playlistID := first.PlaylistID

	var out []sortorder.Update
	err = s.guard.Exclusive(ctx, playlistTarget(playlistID), func() error {
		layout, err := s.layout(ctx, playlistID)
		if err != nil {
			return err
		}
		bucketOf := make(map[int64]string)
		for id, list := range layout.Channels {
			for _, ch := range list {
				bucketOf[ch.ID] = id
			}
		}
		const orphans = "\x00"
		for _, ch := range layout.Orphans {
			bucketOf[ch.ID] = orphans
		}

		wanted := make(map[string]map[int64]int)
		for _, u := range updates {
			bucket, ok := bucketOf[u.ChannelID]
			if !ok {
				return invalid("channel %d is not in playlist %d", u.ChannelID, playlistID)
			}
			if u.SortOrder < 0 {
				return invalid("channel %d: negative position", u.ChannelID)
			}
			if wanted[bucket] == nil {
				wanted[bucket] = make(map[int64]int)
			}
			wanted[bucket][u.ChannelID] = u.SortOrder
		}

		for bucket, positions := range wanted {
			list, base := layout.Orphans, sortorder.UncategorizedBase
			if bucket != orphans {
				list, base = layout.Channels[bucket], layout.Base(&bucket)
			}
			for id, p := range positions {
				if p >= base && base > 0 {
					positions[id] = p - base
				}
			}
			out = append(out, sortorder.AssignForChannelOrder(list, positions, base)...)
		}
		return s.store.ApplySortOrder(ctx, playlistID, out, nil)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReorderCategories puts the listed categories first, in the given order,
// followed by the others in their current order, and rekeys every channel.
func (s *Service) ReorderCategories(ctx context.Context, playlistID int64, categoryIDs []string) ([]sortorder.CategoryUpdate, error) {
	if _, err := s.store.GetPlaylist(ctx, playlistID); err != nil {
		return nil, err
	}
	var out []sortorder.CategoryUpdate
	err := s.guard.Exclusive(ctx, playlistTarget(playlistID), func() error {
		layout, err := s.layout(ctx, playlistID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(layout.Categories))
		for _, id := range layout.Categories {
			known[id] = true
		}
		listed := make(map[string]bool, len(categoryIDs))
		order := make([]string, 0, len(layout.Categories))
		for _, id := range categoryIDs {
			if !known[id] {
				return invalid("unknown category %q", id)
			}
			if listed[id] {
				return invalid("category %q listed twice", id)
			}
			listed[id] = true
			order = append(order, id)
		}
		for _, id := range layout.Categories {
			if !listed[id] {
				order = append(order, id)
			}
		}

		byCat := make(map[string][]models.Channel, len(layout.Channels)+1)
		for id, list := range layout.Channels {
			byCat[id] = list
		}
		byCat[""] = layout.Orphans
		channels, cats, err := sortorder.AssignForCategoryOrder(order, byCat)
		if err != nil {
			return invalid("%v", err)
		}
		out = cats
		return s.store.ApplySortOrder(ctx, playlistID, channels, cats)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) layout(ctx context.Context, playlistID int64) (sortorder.Layout, error) {
	cats, err := s.store.ListCategories(ctx, playlistID)
	if err != nil {
		return sortorder.Layout{}, err
	}
	channels, err := s.store.ListChannels(ctx, playlistID)
	if err != nil {
		return sortorder.Layout{}, err
	}
	return sortorder.NewLayout(cats, channels), nil
}

// RenameCategory renames a category of a playlist.
func (s *Service) RenameCategory(ctx context.Context, playlistID int64, categoryID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("category name is required")
	}
	return s.guard.Exclusive(ctx, playlistTarget(playlistID), func() error {
		return s.store.RenameCategory(ctx, playlistID, categoryID, name)
	})
}

// SetCategorySelection stores which provider categories the next sync lists.
func (s *Service) SetCategorySelection(ctx context.Context, playlistID int64, categoryIDs []string) error {
	return s.guard.Exclusive(ctx, playlistTarget(playlistID), func() error {
		cats, err := s.store.ListCategories(ctx, playlistID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(cats))
		for _, c := range cats {
			known[c.CategoryID] = true
		}
		for _, id := range categoryIDs {
			if !known[id] {
				return invalid("unknown category %q", id)
			}
		}
		return s.store.SetCategorySelection(ctx, playlistID, categoryIDs)
	})
}

// SetMapping attaches m to a channel; a nil m clears it.
func (s *Service) SetMapping(ctx context.Context, channelID int64, m *models.ChannelMapping) error {
	if m != nil && strings.TrimSpace(m.Name) == "" {
		return invalid("mapping name is required")
	}
	return s.channelEdit(ctx, channelID, func() error {
		return s.store.SetMapping(ctx, channelID, m)
	})
}

// UpdateChannelFlags sets operator overrides on a channel.
func (s *Service) UpdateChannelFlags(ctx context.Context, channelID int64, f store.ChannelFlags) error {
	if f.IsOperational == nil && f.HasArchive == nil && !f.ClearManual {
		return invalid("no flags to update")
	}
	return s.channelEdit(ctx, channelID, func() error {
		return s.store.UpdateChannelFlags(ctx, channelID, f)
	})
}

func (s *Service) channelEdit(ctx context.Context, channelID int64, fn func() error) error {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	return s.guard.Exclusive(ctx, playlistTarget(ch.PlaylistID), fn)
}
