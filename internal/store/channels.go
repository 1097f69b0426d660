package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
)

const channelColumns = `id, playlist_id, stream_id, name, stream_url, stream_icon, category_id, category_name,
	sort_order, mapping, attributes, is_operational, is_operational_manual, has_archive, has_archive_manual, updated_at`

func scanChannel(row pgx.Row) (models.Channel, error) {
	var (
		ch             models.Channel
		mapping, attrs []byte
		updatedAt      time.Time
	)
	err := row.Scan(&ch.ID, &ch.PlaylistID, &ch.StreamID, &ch.Name, &ch.StreamURL, &ch.StreamIcon,
		&ch.CategoryID, &ch.CategoryName, &ch.SortOrder, &mapping, &attrs,
		&ch.IsOperational, &ch.IsOperationalManual, &ch.HasArchive, &ch.HasArchiveManual, &updatedAt)
	if err != nil {
		return ch, err
	}
	// A malformed stored mapping reads as no mapping.
	ch.Mapping = models.ParseChannelMapping(mapping)
	ch.Attributes = decodeAttrs(ch.ID, attrs)
	ch.UpdatedAt = &updatedAt
	return ch, nil
}

// decodeAttrs reads a stored attributes blob. A malformed blob reads as no
// attributes and is logged, since metadata identity keys depend on it.
func decodeAttrs(channelID int64, raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		logging.Warn().Err(err).Int64("channel_id", channelID).Msg("channel attributes unreadable")
		return nil
	}
	return attrs
}

func attrsJSON(attrs map[string]string) []byte {
	if len(attrs) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// ListChannels returns a playlist's channels by sort order, then id.
func (p *Postgres) ListChannels(ctx context.Context, playlistID int64) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE playlist_id = $1 ORDER BY sort_order, id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()
	var out []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("ListChannels scan: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetChannel returns one channel.
func (p *Postgres) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetChannel: %w", notFound(err))
	}
	return &ch, nil
}

// SetMapping stores m on a channel; nil clears it.
func (p *Postgres) SetMapping(ctx context.Context, channelID int64, m *models.ChannelMapping) error {
	raw, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("SetMapping: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE channels SET mapping = $2, updated_at = NOW() WHERE id = $1`, channelID, raw)
	if err != nil {
		return fmt.Errorf("SetMapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("SetMapping: %w", ErrNotFound)
	}
	return nil
}

// ApplyMappings stores several mappings of one playlist in one transaction.
func (p *Postgres) ApplyMappings(ctx context.Context, playlistID int64, mappings map[int64]models.ChannelMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for id, m := range mappings {
		raw, err := m.Marshal()
		if err != nil {
			return fmt.Errorf("ApplyMappings: %w", err)
		}
		b.Queue(`UPDATE channels SET mapping = $1, updated_at = NOW() WHERE id = $2 AND playlist_id = $3`, raw, id, playlistID)
	}
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("ApplyMappings: %w", err)
	}
	return nil
}

// UpdateChannelFlags sets operator overrides on a channel.
func (p *Postgres) UpdateChannelFlags(ctx context.Context, channelID int64, f ChannelFlags) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE channels SET
		   is_operational = COALESCE($2, is_operational),
		   is_operational_manual = CASE WHEN $2::boolean IS NOT NULL THEN TRUE WHEN $4 THEN FALSE ELSE is_operational_manual END,
		   has_archive = COALESCE($3, has_archive),
		   has_archive_manual = CASE WHEN $3::boolean IS NOT NULL THEN TRUE WHEN $4 THEN FALSE ELSE has_archive_manual END,
		   updated_at = NOW()
		 WHERE id = $1`,
		channelID, f.IsOperational, f.HasArchive, f.ClearManual,
	)
	if err != nil {
		return fmt.Errorf("UpdateChannelFlags: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateChannelFlags: %w", ErrNotFound)
	}
	return nil
}

// ApplySortOrder writes channel and category sort orders in one transaction.
func (p *Postgres) ApplySortOrder(ctx context.Context, playlistID int64, channels []sortorder.Update, categories []sortorder.CategoryUpdate) error {
	b := &pgx.Batch{}
	for _, u := range channels {
		b.Queue(`UPDATE channels SET sort_order = $1 WHERE id = $2 AND playlist_id = $3`, u.SortOrder, u.ChannelID, playlistID)
	}
	for _, u := range categories {
		b.Queue(`UPDATE categories SET sort_order = $1 WHERE category_id = $2 AND playlist_id = $3`, u.SortOrder, u.CategoryID, playlistID)
	}
	if b.Len() == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("ApplySortOrder: %w", err)
	}
	return nil
}

// ListCategories returns a playlist's categories by sort order.
func (p *Postgres) ListCategories(ctx context.Context, playlistID int64) ([]models.Category, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, playlist_id, category_id, category_name, is_selected, is_hidden, sort_order
		 FROM categories WHERE playlist_id = $1 ORDER BY sort_order, id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Category])
	if err != nil {
		return nil, fmt.Errorf("ListCategories scan: %w", err)
	}
	return cats, nil
}

// SetCategorySelection selects exactly the given category ids.
func (p *Postgres) SetCategorySelection(ctx context.Context, playlistID int64, categoryIDs []string) error {
	if categoryIDs == nil {
		categoryIDs = []string{}
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE categories SET is_selected = (category_id = ANY($2)) WHERE playlist_id = $1`, playlistID, categoryIDs)
	if err != nil {
		return fmt.Errorf("SetCategorySelection: %w", err)
	}
	return nil
}

// RenameCategory renames a category and the category name of its channels.
func (p *Postgres) RenameCategory(ctx context.Context, playlistID int64, categoryID, name string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE categories SET category_name = $3 WHERE playlist_id = $1 AND category_id = $2`,
			playlistID, categoryID, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx,
			`UPDATE channels SET category_name = $3, updated_at = NOW() WHERE playlist_id = $1 AND category_id = $2`,
			playlistID, categoryID, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("RenameCategory: %w", err)
	}
	return nil
}

// ApplyPlaylistSync commits a reconciled sync in one transaction: categories,
// removals, in-place updates of matched channels, inserts, playlist metadata.
// Nothing is written if any step fails.
func (p *Postgres) ApplyPlaylistSync(ctx context.Context, s *PlaylistSync) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if s.Categories != nil {
			ids := make([]string, len(s.Categories))
			for i, c := range s.Categories {
				ids[i] = c.CategoryID
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM categories WHERE playlist_id = $1 AND NOT (category_id = ANY($2))`, s.PlaylistID, ids); err != nil {
				return fmt.Errorf("delete categories: %w", err)
			}
			b := &pgx.Batch{}
			for _, c := range s.Categories {
				b.Queue(`INSERT INTO categories (playlist_id, category_id, category_name, is_selected, sort_order)
					 VALUES ($1, $2, $3, $4, $5)
					 ON CONFLICT (playlist_id, category_id) DO UPDATE SET
					   category_name = EXCLUDED.category_name, sort_order = EXCLUDED.sort_order`,
					s.PlaylistID, c.CategoryID, c.CategoryName, c.IsSelected, c.SortOrder)
			}
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return fmt.Errorf("upsert categories: %w", err)
			}
		}
		if s.Selection != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE categories SET is_selected = (category_id = ANY($2)) WHERE playlist_id = $1`,
				s.PlaylistID, s.Selection); err != nil {
				return fmt.Errorf("select categories: %w", err)
			}
		}

		if len(s.Removed) > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM channels WHERE playlist_id = $1 AND id = ANY($2)`, s.PlaylistID, s.Removed); err != nil {
				return fmt.Errorf("delete channels: %w", err)
			}
		}

		if len(s.Updated) > 0 {
			b := &pgx.Batch{}
			for i := range s.Updated {
				ch := &s.Updated[i]
				mapping, err := ch.Mapping.Marshal()
				if err != nil {
					return fmt.Errorf("marshal mapping %d: %w", ch.ID, err)
				}
				b.Queue(`UPDATE channels SET stream_id = $3, name = $4, stream_url = $5, stream_icon = $6,
					   category_id = $7, category_name = $8, sort_order = $9, mapping = $10, attributes = $11,
					   is_operational = $12, is_operational_manual = $13, has_archive = $14, has_archive_manual = $15,
					   updated_at = NOW()
					 WHERE id = $1 AND playlist_id = $2`,
					ch.ID, s.PlaylistID, ch.StreamID, ch.Name, ch.StreamURL, ch.StreamIcon,
					ch.CategoryID, ch.CategoryName, ch.SortOrder, mapping, attrsJSON(ch.Attributes),
					ch.IsOperational, ch.IsOperationalManual, ch.HasArchive, ch.HasArchiveManual)
			}
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return fmt.Errorf("update channels: %w", err)
			}
		}

		if len(s.Added) > 0 {
			cols := []string{"playlist_id", "stream_id", "name", "stream_url", "stream_icon", "category_id",
				"category_name", "sort_order", "mapping", "attributes", "is_operational", "is_operational_manual",
				"has_archive", "has_archive_manual"}
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"channels"}, cols, pgx.CopyFromSlice(len(s.Added), func(i int) ([]any, error) {
				ch := &s.Added[i]
				mapping, err := ch.Mapping.Marshal()
				if err != nil {
					return nil, err
				}
				return []any{s.PlaylistID, ch.StreamID, ch.Name, ch.StreamURL, ch.StreamIcon, ch.CategoryID,
					ch.CategoryName, ch.SortOrder, mapping, attrsJSON(ch.Attributes), ch.IsOperational,
					ch.IsOperationalManual, ch.HasArchive, ch.HasArchiveManual}, nil
			}))
			if err != nil {
				return fmt.Errorf("insert channels: %w", err)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE playlists SET last_updated = NOW(), guide_url = COALESCE($2, guide_url) WHERE id = $1`,
			s.PlaylistID, s.GuideURL); err != nil {
			return fmt.Errorf("update playlist: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ApplyPlaylistSync: %w", err)
	}
	return nil
}
