// Package jobs runs sync and import jobs: admission with per-target
// exclusivity, the status state machine, progress reporting and the
// stuck-job reaper.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/metrics"
	"github.com/voyagen/guidevault/internal/models"
)

// DefaultStuckAfter is used when Options.StuckAfter is unset.
const DefaultStuckAfter = 30 * time.Minute

// editLockTTL bounds how long a manual edit may hold a target lock.
const editLockTTL = time.Minute

// Request is one unit of work handed from admission to execution. It is also
// the payload of the Redis job queue.
type Request struct {
	JobID            int64                 `json:"job_id"`
	Type             models.JobType        `json:"type"`
	Target           models.Target         `json:"target"`
	CategoryIDs      []string              `json:"category_ids,omitempty"`
	Entries          []models.MappingEntry `json:"entries,omitempty"`
	SourcePlaylistID *int64                `json:"source_playlist_id,omitempty"`
}

// Store persists job records. Update methods return models.ErrJobFinished
// when the stored job is already terminal.
type Store interface {
	CreateSyncJob(ctx context.Context, j *models.SyncJob) error
	UpdateSyncJob(ctx context.Context, j *models.SyncJob) error
	CreateImportJob(ctx context.Context, j *models.ImportJob) error
	UpdateImportJob(ctx context.Context, j *models.ImportJob) error
	// ListActiveJobs returns the non-terminal jobs of a target.
	ListActiveJobs(ctx context.Context, t models.Target) ([]models.JobRef, error)
	// FailJob moves a non-terminal job to failed with message.
	FailJob(ctx context.Context, ref models.JobRef, message string) error
}

// ImportOutcome is what a completed import job records.
type ImportOutcome struct {
	Mapped    int
	NotFound  []string // entries with no matching channel
	Unmatched []string // channels no entry matched
}

// Runner does the work of a job, reporting phases through rep.
type Runner interface {
	RunSync(ctx context.Context, req Request, rep *Reporter) (*models.SyncSummary, error)
	RunImport(ctx context.Context, req Request, rep *Reporter) (*ImportOutcome, error)
}

// Locker provides cross-process target locks (cache.Locks).
type Locker interface {
	// Acquire returns cache.ErrLocked when name is held.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
	// Release drops name regardless of holder.
	Release(ctx context.Context, name string) error
}

// Options configures a Manager.
type Options struct {
	// StuckAfter is the idle time after which Reap fails a job.
	StuckAfter time.Duration
	// Locks extends exclusivity across processes. Nil keeps it in-process.
	Locks Locker
	// Dispatcher hands admitted jobs to execution. Nil runs each job in its
	// own goroutine.
	Dispatcher Dispatcher
	Now        func() time.Time
}

// Manager admits, executes and reaps jobs.
type Manager struct {
	store      Store
	runner     Runner
	reg        *Registry
	locks      Locker
	dispatch   Dispatcher
	stuckAfter time.Duration
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewManager returns a Manager that persists jobs in store and executes them with runner.
func NewManager(store Store, runner Runner, opts Options) *Manager {
	m := &Manager{
		store:      store,
		runner:     runner,
		reg:        NewRegistry(),
		locks:      opts.Locks,
		dispatch:   opts.Dispatcher,
		stuckAfter: opts.StuckAfter,
		now:        opts.Now,
	}
	if m.stuckAfter <= 0 {
		m.stuckAfter = DefaultStuckAfter
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.dispatch == nil {
		m.dispatch = goDispatcher{m: m}
	}
	return m
}

// Registry exposes the in-process job registry.
func (m *Manager) Registry() *Registry { return m.reg }

// StuckAfter returns the reaping threshold.
func (m *Manager) StuckAfter() time.Duration { return m.stuckAfter }

// Wait blocks until every in-process job has finished.
func (m *Manager) Wait() { m.wg.Wait() }

// StartSync admits a sync of target. categoryIDs, when non-nil, is the
// provider-API category selection to store before syncing.
func (m *Manager) StartSync(ctx context.Context, target models.Target, categoryIDs []string) (int64, error) {
	return m.start(ctx, Request{Type: models.JobTypeSync, Target: target, CategoryIDs: categoryIDs})
}

// StartImport admits a JSON mapping import into a playlist.
func (m *Manager) StartImport(ctx context.Context, playlistID int64, entries []models.MappingEntry) (int64, error) {
	return m.start(ctx, Request{
		Type:    models.JobTypeImport,
		Target:  models.Target{Kind: models.TargetPlaylist, ID: playlistID},
		Entries: entries,
	})
}

// StartCopy admits a copy of the mappings of sourceID onto playlistID.
func (m *Manager) StartCopy(ctx context.Context, playlistID, sourceID int64) (int64, error) {
	return m.start(ctx, Request{
		Type:             models.JobTypeImport,
		Target:           models.Target{Kind: models.TargetPlaylist, ID: playlistID},
		SourcePlaylistID: &sourceID,
	})
}

func (m *Manager) start(ctx context.Context, req Request) (int64, error) {
	if !req.Target.Kind.Valid() || req.Target.ID <= 0 {
		return 0, fmt.Errorf("jobs: invalid target %s", req.Target)
	}
	if req.Type == models.JobTypeImport && req.Target.Kind != models.TargetPlaylist {
		return 0, fmt.Errorf("jobs: import target must be a playlist, got %s", req.Target)
	}
	g := m.reg.guard(req.Target)
	g.Lock()
	defer g.Unlock()

	release, err := m.admit(ctx, req.Type, req.Target, m.stuckAfter)
	if err != nil {
		return 0, err
	}

	now := m.now()
	ref := models.JobRef{Type: req.Type, Target: req.Target, Status: models.JobPending, CreatedAt: now, UpdatedAt: now}
	switch req.Type {
	case models.JobTypeSync:
		j := &models.SyncJob{TargetKind: req.Target.Kind, TargetID: req.Target.ID, Status: models.JobPending, Message: "queued", CreatedAt: now, UpdatedAt: now}
		err = m.store.CreateSyncJob(ctx, j)
		ref.ID = j.ID
	case models.JobTypeImport:
		j := &models.ImportJob{PlaylistID: req.Target.ID, SourcePlaylistID: req.SourcePlaylistID, Status: models.JobPending, Message: "queued", CreatedAt: now, UpdatedAt: now}
		err = m.store.CreateImportJob(ctx, j)
		ref.ID = j.ID
	default:
		err = fmt.Errorf("jobs: unknown job type %q", req.Type)
	}
	if err != nil {
		release()
		return 0, fmt.Errorf("create %s job: %w", req.Type, err)
	}
	req.JobID = ref.ID

	_, queued := m.dispatch.(*QueueDispatcher)
	if !queued {
		m.reg.add(ref, release)
	}
	if err := m.dispatch.Dispatch(ctx, req); err != nil {
		m.reg.remove(ref.ID)
		release()
		_ = m.store.FailJob(context.WithoutCancel(ctx), ref, "dispatch: "+err.Error())
		return 0, fmt.Errorf("dispatch %s job: %w", req.Type, err)
	}
	metrics.JobsStarted.WithLabelValues(string(req.Type), string(req.Target.Kind)).Inc()
	logging.Info().Int64("job_id", ref.ID).Str("type", string(req.Type)).
		Str("target_kind", string(req.Target.Kind)).Int64("target_id", req.Target.ID).
		Msg("job admitted")
	return ref.ID, nil
}

// admit checks, in order, the registry, the cross-process lock and the
// stored jobs of t. It must be called with the target guard held. On success
// the returned release drops the lock taken (a no-op without Locks).
func (m *Manager) admit(ctx context.Context, typ models.JobType, t models.Target, ttl time.Duration) (func(), error) {
	reject := func(id int64) error {
		metrics.JobsRejected.WithLabelValues(string(typ), string(t.Kind)).Inc()
		return &ConflictError{Target: t, ActiveJobID: id}
	}
	if id, ok := m.reg.ActiveFor(t); ok {
		return nil, reject(id)
	}
	release := func() {}
	if m.locks != nil {
		rel, err := m.locks.Acquire(ctx, t.String(), ttl)
		if errors.Is(err, cache.ErrLocked) {
			var id int64
			if refs, lerr := m.store.ListActiveJobs(ctx, t); lerr == nil && len(refs) > 0 {
				id = refs[0].ID
			}
			return nil, reject(id)
		}
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", t, err)
		}
		release = rel
	}
	refs, err := m.store.ListActiveJobs(ctx, t)
	if err != nil {
		release()
		return nil, fmt.Errorf("ListActiveJobs: %w", err)
	}
	if len(refs) > 0 {
		release()
		return nil, reject(refs[0].ID)
	}
	return release, nil
}

// Exclusive runs fn while no job can be admitted for t. It fails with a
// *ConflictError when a job for t is already active.
func (m *Manager) Exclusive(ctx context.Context, t models.Target, fn func() error) error {
	g := m.reg.guard(t)
	g.Lock()
	defer g.Unlock()

	release, err := m.admit(ctx, "edit", t, editLockTTL)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Execute runs one admitted job to a terminal status. Dispatchers call it;
// it never returns an error because the outcome is recorded on the job.
func (m *Manager) Execute(ctx context.Context, req Request) {
	now := m.now()
	e := m.reg.add(models.JobRef{
		ID: req.JobID, Type: req.Type, Target: req.Target,
		Status: models.JobPending, CreatedAt: now, UpdatedAt: now,
	}, nil)
	rep := newReporter(m, req)

	metrics.JobsActive.Inc()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobDuration.WithLabelValues(string(req.Type), string(req.Target.Kind)).Observe(m.now().Sub(now).Seconds())
		m.finish(req, e)
	}()
	defer func() {
		if p := recover(); p != nil {
			rep.fail(ctx, fmt.Errorf("panic: %v", p))
		}
	}()

	switch req.Type {
	case models.JobTypeSync:
		sum, err := m.runner.RunSync(ctx, req, rep)
		if err != nil {
			rep.fail(ctx, err)
			return
		}
		rep.completeSync(ctx, sum)
	case models.JobTypeImport:
		out, err := m.runner.RunImport(ctx, req, rep)
		if err != nil {
			rep.fail(ctx, err)
			return
		}
		rep.completeImport(ctx, out)
	default:
		rep.fail(ctx, fmt.Errorf("unknown job type %q", req.Type))
	}
}

// finish drops the registry entry and the target lock, unless the reaper has
// already handed the target on.
func (m *Manager) finish(req Request, e *entry) {
	reaped := m.reg.isReaped(req.JobID)
	m.reg.remove(req.JobID)
	if reaped {
		return
	}
	switch {
	case e.release != nil:
		e.release()
	case m.locks != nil:
		if err := m.locks.Release(context.Background(), req.Target.String()); err != nil {
			logging.Warn().Err(err).Int64("job_id", req.JobID).Msg("release target lock")
		}
	}
}

// Reap fails every non-terminal job of t idle for longer than StuckAfter and
// clears the target's exclusivity so a new job may be admitted.
func (m *Manager) Reap(ctx context.Context, t models.Target) (*ReapReport, error) {
	g := m.reg.guard(t)
	g.Lock()
	defer g.Unlock()

	now := m.now()
	cutoff := now.Add(-m.stuckAfter)
	report := &ReapReport{Target: t, Jobs: []*StuckJobError{}}
	seen := make(map[int64]bool)

	for _, ref := range m.reg.stale(t, cutoff) {
		seen[ref.ID] = true
		stuck := &StuckJobError{JobID: ref.ID, Type: ref.Type, Status: ref.Status, Idle: now.Sub(ref.UpdatedAt)}
		if err := m.store.FailJob(ctx, ref, stuck.Error()); err != nil && !errors.Is(err, models.ErrJobFinished) {
			return nil, fmt.Errorf("FailJob %d: %w", ref.ID, err)
		}
		report.Jobs = append(report.Jobs, stuck)
	}

	refs, err := m.store.ListActiveJobs(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("ListActiveJobs: %w", err)
	}
	remaining := 0
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		if ref.UpdatedAt.After(cutoff) {
			remaining++
			continue
		}
		stuck := &StuckJobError{JobID: ref.ID, Type: ref.Type, Status: ref.Status, Idle: now.Sub(ref.UpdatedAt)}
		if err := m.store.FailJob(ctx, ref, stuck.Error()); err != nil && !errors.Is(err, models.ErrJobFinished) {
			return nil, fmt.Errorf("FailJob %d: %w", ref.ID, err)
		}
		m.reg.markReaped(ref.ID)
		report.Jobs = append(report.Jobs, stuck)
	}
	if _, live := m.reg.ActiveFor(t); remaining == 0 && !live && m.locks != nil {
		if err := m.locks.Release(ctx, t.String()); err != nil {
			return nil, fmt.Errorf("release %s: %w", t, err)
		}
	}

	report.Cleaned = len(report.Jobs)
	if report.Cleaned > 0 {
		metrics.JobsReaped.Add(float64(report.Cleaned))
		for _, j := range report.Jobs {
			metrics.JobsFinished.WithLabelValues(string(j.Type), string(t.Kind), string(models.JobFailed)).Inc()
			logging.Warn().Int64("job_id", j.JobID).Str("target_kind", string(t.Kind)).Int64("target_id", t.ID).
				Str("status", string(models.JobFailed)).Dur("idle", j.Idle).Msg("job reaped")
		}
	}
	return report, nil
}
