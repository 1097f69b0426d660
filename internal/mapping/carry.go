// Package mapping keeps operator-set channel state (guide mappings and manual
// flags) attached to the right channels across resyncs, imports and copies.
package mapping

import (
	"github.com/voyagen/guidevault/internal/diff"
	"github.com/voyagen/guidevault/internal/models"
)

// NewChannel builds the channel row a source record implies, before any
// operator state is applied.
func NewChannel(playlistID int64, r *models.SourceRecord) models.Channel {
	ch := models.Channel{
		PlaylistID:    playlistID,
		StreamID:      r.IdentityHint,
		Name:          r.DisplayName,
		StreamURL:     r.StreamRef,
		Attributes:    r.Attributes,
		IsOperational: true,
		HasArchive:    r.HasArchive(),
	}
	if r.IconRef != "" {
		icon := r.IconRef
		ch.StreamIcon = &icon
	}
	if r.CategoryHint != "" || r.CategoryID != "" {
		id, name := r.CategoryID, r.CategoryHint
		if id == "" {
			id = name
		}
		ch.CategoryID, ch.CategoryName = &id, &name
	}
	return ch
}

// CarryForward returns the updated rows for matched channels. Each row keeps
// the old id and sort key; the mapping is kept verbatim, and each manual flag
// that is set pins its value. Everything else comes from the new record.
// Flags are applied per field, independently of the mapping.
func CarryForward(pairs []diff.Pair[models.Channel, models.SourceRecord]) []models.Channel {
	out := make([]models.Channel, 0, len(pairs))
	for _, p := range pairs {
		ch := NewChannel(p.Old.PlaylistID, &p.New)
		ch.ID = p.Old.ID
		ch.SortOrder = p.Old.SortOrder
		ch.Mapping = p.Old.Mapping
		if p.Old.IsOperationalManual {
			ch.IsOperational = p.Old.IsOperational
			ch.IsOperationalManual = true
		}
		if p.Old.HasArchiveManual {
			ch.HasArchive = p.Old.HasArchive
			ch.HasArchiveManual = true
		}
		out = append(out, ch)
	}
	return out
}
