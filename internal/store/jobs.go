package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/voyagen/guidevault/internal/models"
)

const activeClause = `status NOT IN ('completed', 'failed')`

// CreateSyncJob inserts a sync job and sets its ID and timestamps.
func (p *Postgres) CreateSyncJob(ctx context.Context, j *models.SyncJob) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO sync_jobs (target_kind, target_id, status, progress, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		string(j.TargetKind), j.TargetID, string(j.Status), j.Progress, j.Message,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("CreateSyncJob: %w", err)
	}
	return nil
}

// UpdateSyncJob writes the mutable fields of a non-terminal sync job.
func (p *Postgres) UpdateSyncJob(ctx context.Context, j *models.SyncJob) error {
	var summary []byte
	if j.Summary != nil {
		b, err := json.Marshal(j.Summary)
		if err != nil {
			return fmt.Errorf("UpdateSyncJob: %w", err)
		}
		summary = b
	}
	err := p.pool.QueryRow(ctx,
		`UPDATE sync_jobs SET status = $2, progress = $3, message = $4, error = $5, summary = $6,
		   total_channels = $7, total_categories = $8, updated_at = NOW(),
		   finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE NULL END
		 WHERE id = $1 AND `+activeClause+`
		 RETURNING updated_at, finished_at`,
		j.ID, string(j.Status), j.Progress, j.Message, j.Error, summary, j.TotalChannels, j.TotalCategories,
	).Scan(&j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return fmt.Errorf("UpdateSyncJob: %w", p.finishedOrMissing(ctx, err, "sync_jobs", j.ID))
	}
	return nil
}

// GetSyncJob returns a sync job by id.
func (p *Postgres) GetSyncJob(ctx context.Context, id int64) (*models.SyncJob, error) {
	var (
		j       models.SyncJob
		summary []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, target_kind, target_id, status, progress, message, error, summary,
		   total_channels, total_categories, created_at, updated_at, finished_at
		 FROM sync_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.TargetKind, &j.TargetID, &j.Status, &j.Progress, &j.Message, &j.Error, &summary,
		&j.TotalChannels, &j.TotalCategories, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("GetSyncJob: %w", notFound(err))
	}
	if len(summary) > 0 {
		var s models.SyncSummary
		if err := json.Unmarshal(summary, &s); err == nil {
			j.Summary = &s
		}
	}
	return &j, nil
}

// CreateImportJob inserts an import job and sets its ID and timestamps.
func (p *Postgres) CreateImportJob(ctx context.Context, j *models.ImportJob) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO import_jobs (playlist_id, source_playlist_id, status, progress, message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		j.PlaylistID, j.SourcePlaylistID, string(j.Status), j.Progress, j.Message,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("CreateImportJob: %w", err)
	}
	return nil
}

func stringList(list []string) []byte {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return b
}

// UpdateImportJob writes the mutable fields of a non-terminal import job.
func (p *Postgres) UpdateImportJob(ctx context.Context, j *models.ImportJob) error {
	err := p.pool.QueryRow(ctx,
		`UPDATE import_jobs SET status = $2, progress = $3, message = $4, error = $5,
		   mapped = $6, not_found = $7, not_in_playlist = $8, not_in_json = $9, updated_at = NOW(),
		   finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE NULL END
		 WHERE id = $1 AND `+activeClause+`
		 RETURNING updated_at, finished_at`,
		j.ID, string(j.Status), j.Progress, j.Message, j.Error, j.Mapped, j.NotFound,
		stringList(j.ChannelsInJSONNotInPlaylist), stringList(j.ChannelsInPlaylistNotInJSON),
	).Scan(&j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return fmt.Errorf("UpdateImportJob: %w", p.finishedOrMissing(ctx, err, "import_jobs", j.ID))
	}
	return nil
}

// GetImportJob returns an import job by id.
func (p *Postgres) GetImportJob(ctx context.Context, id int64) (*models.ImportJob, error) {
	var (
		j                        models.ImportJob
		notInPlaylist, notInJSON []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, playlist_id, source_playlist_id, status, progress, message, error, mapped, not_found,
		   not_in_playlist, not_in_json, created_at, updated_at, finished_at
		 FROM import_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.PlaylistID, &j.SourcePlaylistID, &j.Status, &j.Progress, &j.Message, &j.Error,
		&j.Mapped, &j.NotFound, &notInPlaylist, &notInJSON, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("GetImportJob: %w", notFound(err))
	}
	j.ChannelsInJSONNotInPlaylist = []string{}
	j.ChannelsInPlaylistNotInJSON = []string{}
	_ = json.Unmarshal(notInPlaylist, &j.ChannelsInJSONNotInPlaylist)
	_ = json.Unmarshal(notInJSON, &j.ChannelsInPlaylistNotInJSON)
	return &j, nil
}

// ListActiveJobs returns the non-terminal sync and import jobs of a target,
// oldest first.
func (p *Postgres) ListActiveJobs(ctx context.Context, t models.Target) ([]models.JobRef, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, 'sync' AS type, status, created_at, updated_at FROM sync_jobs
		   WHERE target_kind = $1 AND target_id = $2 AND `+activeClause+`
		 UNION ALL
		 SELECT id, 'import', status, created_at, updated_at FROM import_jobs
		   WHERE $1 = 'playlist' AND playlist_id = $2 AND `+activeClause+`
		 ORDER BY created_at`,
		string(t.Kind), t.ID)
	if err != nil {
		return nil, fmt.Errorf("ListActiveJobs: %w", err)
	}
	defer rows.Close()
	var out []models.JobRef
	for rows.Next() {
		ref := models.JobRef{Target: t}
		if err := rows.Scan(&ref.ID, &ref.Type, &ref.Status, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListActiveJobs scan: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// FailJob moves a non-terminal job to failed.
func (p *Postgres) FailJob(ctx context.Context, ref models.JobRef, message string) error {
	table := "sync_jobs"
	if ref.Type == models.JobTypeImport {
		table = "import_jobs"
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+table+` SET status = 'failed', message = $2, error = $2, updated_at = NOW(), finished_at = NOW()
		 WHERE id = $1 AND `+activeClause, ref.ID, message)
	if err != nil {
		return fmt.Errorf("FailJob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("FailJob: %w", models.ErrJobFinished)
	}
	return nil
}

// finishedOrMissing tells a terminal job from a missing one after a guarded
// update matched no row.
func (p *Postgres) finishedOrMissing(ctx context.Context, err error, table string, id int64) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var exists bool
	if qErr := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); qErr != nil {
		return qErr
	}
	if exists {
		return models.ErrJobFinished
	}
	return ErrNotFound
}
