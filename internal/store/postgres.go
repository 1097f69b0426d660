package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/guidevault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const playlistColumns = `id, name, url, source_type, COALESCE(username,''), COALESCE(password,''),
	COALESCE(stream_ext,''), COALESCE(user_agent,''), identifier_source, COALESCE(identifier_regex,''),
	COALESCE(identifier_metadata_key,''), guide_url, enabled, last_updated, created_at`

func scanPlaylist(row pgx.Row) (*models.Playlist, error) {
	var pl models.Playlist
	err := row.Scan(&pl.ID, &pl.Name, &pl.URL, &pl.SourceType, &pl.Username, &pl.Password,
		&pl.StreamExt, &pl.UserAgent, &pl.IdentifierSource, &pl.IdentifierRegex,
		&pl.IdentifierMetadataKey, &pl.GuideURL, &pl.Enabled, &pl.LastUpdated, &pl.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

// CreatePlaylist inserts a playlist and sets its ID.
func (p *Postgres) CreatePlaylist(ctx context.Context, pl *models.Playlist) error {
	if pl.IdentifierSource == "" {
		pl.IdentifierSource = models.IdentifierByName
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO playlists (name, url, source_type, username, password, stream_ext, user_agent,
		   identifier_source, identifier_regex, identifier_metadata_key, enabled)
		 VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''),
		   $8, NULLIF($9,''), NULLIF($10,''), $11)
		 RETURNING id, created_at`,
		pl.Name, pl.URL, pl.SourceType, pl.Username, pl.Password, pl.StreamExt, pl.UserAgent,
		pl.IdentifierSource, pl.IdentifierRegex, pl.IdentifierMetadataKey, pl.Enabled,
	).Scan(&pl.ID, &pl.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreatePlaylist: %w", err)
	}
	return nil
}

// GetPlaylist returns a playlist by id.
func (p *Postgres) GetPlaylist(ctx context.Context, id int64) (*models.Playlist, error) {
	pl, err := scanPlaylist(p.pool.QueryRow(ctx, `SELECT `+playlistColumns+` FROM playlists WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("GetPlaylist: %w", notFound(err))
	}
	return pl, nil
}

// ListPlaylists returns all playlists by name.
func (p *Postgres) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+playlistColumns+` FROM playlists ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ListPlaylists: %w", err)
	}
	defer rows.Close()
	var out []models.Playlist
	for rows.Next() {
		pl, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPlaylists scan: %w", err)
		}
		out = append(out, *pl)
	}
	return out, rows.Err()
}

// DeletePlaylist deletes a playlist; categories and channels cascade.
func (p *Postgres) DeletePlaylist(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM playlists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeletePlaylist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("DeletePlaylist: %w", ErrNotFound)
	}
	return nil
}
