package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
	"github.com/voyagen/guidevault/internal/models"
)

// Reporter moves one job through the state machine. Status only moves
// forward and progress never decreases; updates after the job was reaped
// return models.ErrJobFinished so the runner can stop before writing.
type Reporter struct {
	m   *Manager
	req Request
	log zerolog.Logger

	mu        sync.Mutex
	done      bool
	syncJob   *models.SyncJob
	importJob *models.ImportJob
}

func newReporter(m *Manager, req Request) *Reporter {
	now := m.now()
	r := &Reporter{
		m:   m,
		req: req,
		log: logging.With().Int64("job_id", req.JobID).Str("target_kind", string(req.Target.Kind)).
			Int64("target_id", req.Target.ID).Logger(),
	}
	if req.Type == models.JobTypeImport {
		r.importJob = &models.ImportJob{ID: req.JobID, PlaylistID: req.Target.ID, SourcePlaylistID: req.SourcePlaylistID,
			Status: models.JobPending, UpdatedAt: now}
	} else {
		r.syncJob = &models.SyncJob{ID: req.JobID, TargetKind: req.Target.Kind, TargetID: req.Target.ID,
			Status: models.JobPending, UpdatedAt: now}
	}
	return r
}

// JobID returns the id of the reported job.
func (r *Reporter) JobID() int64 { return r.req.JobID }

// Status returns the current status.
func (r *Reporter) Status() models.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, _, _ := r.fields()
	return *status
}

// Progress returns the current progress.
func (r *Reporter) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, progress, _ := r.fields()
	return *progress
}

// Advance enters status (or stays in it) with progress and message. It
// rejects terminal statuses; those are set by the Manager.
func (r *Reporter) Advance(ctx context.Context, status models.JobStatus, progress int, message string) error {
	if status.Terminal() {
		return fmt.Errorf("jobs: %s is set by the manager", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(ctx, status, progress, message, nil)
}

// SetTotals records the channel and category counts of a sync; they are
// persisted with the next update.
func (r *Reporter) SetTotals(channels, categories int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncJob != nil {
		r.syncJob.TotalChannels = channels
		r.syncJob.TotalCategories = categories
	}
}

func (r *Reporter) completeSync(ctx context.Context, sum *models.SyncSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncJob != nil {
		r.syncJob.Summary = sum
	}
	msg := "sync completed"
	if sum != nil {
		msg = fmt.Sprintf("sync completed: %d added, %d removed, %d unchanged", sum.AddedCount, sum.RemovedCount, sum.UnchangedCount)
	}
	r.finish(ctx, models.JobCompleted, msg, nil)
}

func (r *Reporter) completeImport(ctx context.Context, out *ImportOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out == nil {
		out = &ImportOutcome{}
	}
	if r.importJob != nil {
		r.importJob.Mapped = out.Mapped
		r.importJob.NotFound = len(out.NotFound)
		r.importJob.ChannelsInJSONNotInPlaylist = nonNil(out.NotFound)
		r.importJob.ChannelsInPlaylistNotInJSON = nonNil(out.Unmatched)
	}
	r.finish(ctx, models.JobCompleted, fmt.Sprintf("import completed: %d mapped, %d not found", out.Mapped, len(out.NotFound)), nil)
}

func (r *Reporter) fail(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, models.ErrJobFinished) {
		r.done = true
		return
	}
	if r.syncJob != nil {
		r.syncJob.Summary = nil
	}
	r.finish(ctx, models.JobFailed, err.Error(), err)
}

func (r *Reporter) finish(ctx context.Context, status models.JobStatus, message string, cause error) {
	if r.done {
		return
	}
	progress := 100
	if status == models.JobFailed {
		_, p, _ := r.fields()
		progress = *p
	}
	// The outcome must be recorded even when the runner's context is gone.
	if err := r.update(context.WithoutCancel(ctx), status, progress, message, cause); err != nil {
		if !errors.Is(err, models.ErrJobFinished) {
			r.log.Error().Err(err).Msg("record job outcome")
		}
		return
	}
	metrics.JobsFinished.WithLabelValues(string(r.req.Type), string(r.req.Target.Kind), string(status)).Inc()
}

// update must be called with mu held.
func (r *Reporter) update(ctx context.Context, status models.JobStatus, progress int, message string, cause error) error {
	if r.done || r.m.reg.isReaped(r.req.JobID) {
		r.done = true
		return models.ErrJobFinished
	}
	cur, curProgress, msg := r.fields()
	if status != *cur && !cur.CanTransition(status) {
		return fmt.Errorf("jobs: invalid transition %s -> %s", *cur, status)
	}
	progress = min(max(progress, *curProgress, 0), 100)

	now := r.m.now()
	*cur, *curProgress, *msg = status, progress, message
	if status.Terminal() {
		r.done = true
	}
	var err error
	if r.syncJob != nil {
		r.syncJob.UpdatedAt = now
		if status.Terminal() {
			r.syncJob.FinishedAt = &now
		}
		if cause != nil {
			s := cause.Error()
			r.syncJob.Error = &s
		}
		err = r.m.store.UpdateSyncJob(ctx, r.syncJob)
	} else {
		r.importJob.UpdatedAt = now
		if status.Terminal() {
			r.importJob.FinishedAt = &now
		}
		if cause != nil {
			s := cause.Error()
			r.importJob.Error = &s
		}
		err = r.m.store.UpdateImportJob(ctx, r.importJob)
	}
	if errors.Is(err, models.ErrJobFinished) {
		r.done = true
		r.m.reg.markReaped(r.req.JobID)
		return err
	}
	if err != nil {
		return fmt.Errorf("update job %d: %w", r.req.JobID, err)
	}
	r.m.reg.touch(r.req.JobID, status, now)

	ev := r.log.Info()
	if status == models.JobFailed {
		ev = r.log.Warn().Err(cause)
	}
	ev.Str("status", string(status)).Int("progress", progress).Msg(message)
	return nil
}

// fields returns pointers to the state shared by both record types.
func (r *Reporter) fields() (*models.JobStatus, *int, *string) {
	if r.syncJob != nil {
		return &r.syncJob.Status, &r.syncJob.Progress, &r.syncJob.Message
	}
	return &r.importJob.Status, &r.importJob.Progress, &r.importJob.Message
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
