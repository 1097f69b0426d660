package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/models"
)

// CreateEpgFile inserts a guide file and sets its ID.
func (p *Postgres) CreateEpgFile(ctx context.Context, f *models.EpgFile) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO epg_files (name, url) VALUES ($1, $2) RETURNING id`, f.Name, f.URL,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("CreateEpgFile: %w", err)
	}
	return nil
}

// GetEpgFile returns a guide file by id.
func (p *Postgres) GetEpgFile(ctx context.Context, id int64) (*models.EpgFile, error) {
	var f models.EpgFile
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, url, channel_count, programme_count, last_updated FROM epg_files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.URL, &f.ChannelCount, &f.ProgrammeCount, &f.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("GetEpgFile: %w", notFound(err))
	}
	return &f, nil
}

// ListEpgFiles returns all guide files by name.
func (p *Postgres) ListEpgFiles(ctx context.Context) ([]models.EpgFile, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, url, channel_count, programme_count, last_updated FROM epg_files ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ListEpgFiles: %w", err)
	}
	files, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.EpgFile])
	if err != nil {
		return nil, fmt.Errorf("ListEpgFiles scan: %w", err)
	}
	return files, nil
}

// CreateEpgGroup inserts a group with its member files in order.
func (p *Postgres) CreateEpgGroup(ctx context.Context, g *models.EpgGroup) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO epg_groups (name) VALUES ($1) RETURNING id`, g.Name).Scan(&g.ID); err != nil {
			return err
		}
		b := &pgx.Batch{}
		for i, fileID := range g.FileIDs {
			b.Queue(`INSERT INTO epg_group_files (epg_group_id, epg_file_id, position) VALUES ($1, $2, $3)`, g.ID, fileID, i)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("CreateEpgGroup: %w", err)
	}
	return nil
}

// GetEpgGroup returns a group with its member file ids in order.
func (p *Postgres) GetEpgGroup(ctx context.Context, id int64) (*models.EpgGroup, error) {
	var g models.EpgGroup
	err := p.pool.QueryRow(ctx,
		`SELECT g.id, g.name, COALESCE(array_agg(f.epg_file_id ORDER BY f.position)
		   FILTER (WHERE f.epg_file_id IS NOT NULL), '{}')
		 FROM epg_groups g LEFT JOIN epg_group_files f ON f.epg_group_id = g.id
		 WHERE g.id = $1 GROUP BY g.id`, id,
	).Scan(&g.ID, &g.Name, &g.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("GetEpgGroup: %w", notFound(err))
	}
	return &g, nil
}

// ListEpgChannels returns a guide's channels in document order.
func (p *Postgres) ListEpgChannels(ctx context.Context, fileID int64) ([]models.EpgChannel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT epg_file_id, channel_id, name, logo, grp, programme_count
		 FROM epg_channels WHERE epg_file_id = $1 ORDER BY position`, fileID)
	if err != nil {
		return nil, fmt.Errorf("ListEpgChannels: %w", err)
	}
	channels, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.EpgChannel])
	if err != nil {
		return nil, fmt.Errorf("ListEpgChannels scan: %w", err)
	}
	return channels, nil
}

// ApplyEpgSync replaces a guide's channels and counts in one transaction.
func (p *Postgres) ApplyEpgSync(ctx context.Context, fileID int64, channels []models.EpgChannel, programmeCount int) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE epg_files SET channel_count = $2, programme_count = $3, last_updated = NOW() WHERE id = $1`,
			fileID, len(channels), programmeCount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM epg_channels WHERE epg_file_id = $1`, fileID); err != nil {
			return err
		}
		cols := []string{"epg_file_id", "position", "channel_id", "name", "logo", "grp", "programme_count"}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"epg_channels"}, cols, pgx.CopyFromSlice(len(channels), func(i int) ([]any, error) {
			c := &channels[i]
			return []any{fileID, i, c.ChannelID, c.Name, c.Logo, c.Group, c.ProgrammeCount}, nil
		}))
		return err
	})
	if err != nil {
		return fmt.Errorf("ApplyEpgSync: %w", err)
	}
	return nil
}
