package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voyagen/guidevault/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	syncs   map[int64]*models.SyncJob
	imports map[int64]*models.ImportJob
	updates []models.SyncJob
}

func newMemStore() *memStore {
	return &memStore{syncs: map[int64]*models.SyncJob{}, imports: map[int64]*models.ImportJob{}}
}

func (s *memStore) CreateSyncJob(_ context.Context, j *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j.ID = s.nextID
	c := *j
	s.syncs[j.ID] = &c
	return nil
}

func (s *memStore) UpdateSyncJob(_ context.Context, j *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.syncs[j.ID]
	if !ok {
		return errors.New("not found")
	}
	if cur.Status.Terminal() {
		return models.ErrJobFinished
	}
	c := *j
	c.CreatedAt = cur.CreatedAt
	s.syncs[j.ID] = &c
	s.updates = append(s.updates, c)
	return nil
}

func (s *memStore) CreateImportJob(_ context.Context, j *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j.ID = s.nextID
	c := *j
	s.imports[j.ID] = &c
	return nil
}

func (s *memStore) UpdateImportJob(_ context.Context, j *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.imports[j.ID]
	if !ok {
		return errors.New("not found")
	}
	if cur.Status.Terminal() {
		return models.ErrJobFinished
	}
	c := *j
	c.CreatedAt = cur.CreatedAt
	s.imports[j.ID] = &c
	return nil
}

func (s *memStore) ListActiveJobs(_ context.Context, t models.Target) ([]models.JobRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.JobRef
	for _, j := range s.syncs {
		if j.Target() == t && !j.Status.Terminal() {
			out = append(out, models.JobRef{ID: j.ID, Type: models.JobTypeSync, Target: t, Status: j.Status, CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt})
		}
	}
	for _, j := range s.imports {
		if j.Target() == t && !j.Status.Terminal() {
			out = append(out, models.JobRef{ID: j.ID, Type: models.JobTypeImport, Target: t, Status: j.Status, CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt})
		}
	}
	return out, nil
}

func (s *memStore) FailJob(_ context.Context, ref models.JobRef, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.syncs[ref.ID]; ok && ref.Type == models.JobTypeSync {
		if j.Status.Terminal() {
			return models.ErrJobFinished
		}
		j.Status, j.Message, j.Error, j.Summary = models.JobFailed, message, &message, nil
		return nil
	}
	if j, ok := s.imports[ref.ID]; ok {
		if j.Status.Terminal() {
			return models.ErrJobFinished
		}
		j.Status, j.Message, j.Error = models.JobFailed, message, &message
		return nil
	}
	return errors.New("not found")
}

func (s *memStore) getSync(id int64) models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.syncs[id]
}

func (s *memStore) getImport(id int64) models.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.imports[id]
}

// gateRunner blocks each sync until released, then runs script.
type gateRunner struct {
	started chan int64
	release chan struct{}
	script  func(ctx context.Context, rep *Reporter) (*models.SyncSummary, error)
	outcome *ImportOutcome
}

func newGateRunner() *gateRunner {
	return &gateRunner{started: make(chan int64, 8), release: make(chan struct{})}
}

func (g *gateRunner) RunSync(ctx context.Context, req Request, rep *Reporter) (*models.SyncSummary, error) {
	if err := rep.Advance(ctx, models.JobDownloading, 5, "downloading"); err != nil {
		return nil, err
	}
	g.started <- req.JobID
	<-g.release
	if g.script != nil {
		return g.script(ctx, rep)
	}
	return &models.SyncSummary{AddedCount: 1, AddedChannels: []string{"Z"}}, nil
}

func (g *gateRunner) RunImport(ctx context.Context, req Request, rep *Reporter) (*ImportOutcome, error) {
	if err := rep.Advance(ctx, models.JobImporting, 60, "importing"); err != nil {
		return nil, err
	}
	return g.outcome, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var playlist1 = models.Target{Kind: models.TargetPlaylist, ID: 1}

func TestConflictWhileActive(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	m := NewManager(st, run, Options{})
	ctx := context.Background()

	first, err := m.StartSync(ctx, playlist1, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.started

	_, err = m.StartSync(ctx, playlist1, nil)
	var ce *ConflictError
	if !errors.As(err, &ce) || !errors.Is(err, ErrConflict) {
		t.Fatalf("second start err = %v, want conflict", err)
	}
	if ce.ActiveJobID != first {
		t.Errorf("conflict names job %d, want %d", ce.ActiveJobID, first)
	}
	if _, err := m.StartImport(ctx, 1, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("import on busy playlist err = %v", err)
	}

	// Other targets are independent.
	other, err := m.StartSync(ctx, models.Target{Kind: models.TargetEpgFile, ID: 1}, nil)
	if err != nil {
		t.Fatalf("other target: %v", err)
	}
	<-run.started

	close(run.release)
	m.Wait()

	j := st.getSync(first)
	if j.Status != models.JobCompleted || j.Progress != 100 || j.Summary == nil || j.Summary.AddedCount != 1 {
		t.Errorf("first job = %+v", j)
	}
	if j.FinishedAt == nil || j.Error != nil {
		t.Errorf("first job finish fields = %+v", j)
	}
	if st.getSync(other).Status != models.JobCompleted {
		t.Errorf("other job = %+v", st.getSync(other))
	}
	if _, ok := m.Registry().ActiveFor(playlist1); ok {
		t.Error("target still active after completion")
	}
	if _, err := m.StartSync(ctx, playlist1, nil); err != nil {
		t.Errorf("admission after completion: %v", err)
	}
}

func TestFailedJob(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	run.script = func(ctx context.Context, rep *Reporter) (*models.SyncSummary, error) {
		if err := rep.Advance(ctx, models.JobParsing, 40, "parsing"); err != nil {
			return nil, err
		}
		return nil, errors.New("parse m3u (header): missing #EXTM3U header")
	}
	close(run.release)
	m := NewManager(st, run, Options{})

	id, err := m.StartSync(context.Background(), playlist1, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	j := st.getSync(id)
	if j.Status != models.JobFailed || j.Error == nil || j.Summary != nil {
		t.Fatalf("job = %+v", j)
	}
	if j.Message != "parse m3u (header): missing #EXTM3U header" || j.Progress != 40 {
		t.Errorf("message %q progress %d", j.Message, j.Progress)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	var backErr error
	run.script = func(ctx context.Context, rep *Reporter) (*models.SyncSummary, error) {
		rep.Advance(ctx, models.JobParsing, 50, "parsing")
		rep.Advance(ctx, models.JobParsing, 30, "still parsing")
		backErr = rep.Advance(ctx, models.JobDownloading, 60, "again")
		rep.SetTotals(10, 2)
		rep.Advance(ctx, models.JobImporting, 70, "importing")
		return &models.SyncSummary{}, nil
	}
	close(run.release)
	m := NewManager(st, run, Options{})
	id, err := m.StartSync(context.Background(), playlist1, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	if backErr == nil {
		t.Error("backward transition accepted")
	}
	last := -1
	var lastStatus models.JobStatus = models.JobPending
	for _, u := range st.updates {
		if u.Progress < last {
			t.Errorf("progress decreased: %d after %d", u.Progress, last)
		}
		if u.Status != lastStatus && !lastStatus.CanTransition(u.Status) {
			t.Errorf("illegal transition %s -> %s", lastStatus, u.Status)
		}
		last, lastStatus = u.Progress, u.Status
	}
	j := st.getSync(id)
	if j.TotalChannels != 10 || j.TotalCategories != 2 || j.Status != models.JobCompleted {
		t.Errorf("job = %+v", j)
	}
}

func TestAdvanceRejectsTerminal(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	var termErr error
	run.script = func(ctx context.Context, rep *Reporter) (*models.SyncSummary, error) {
		termErr = rep.Advance(ctx, models.JobCompleted, 100, "done early")
		return &models.SyncSummary{}, nil
	}
	close(run.release)
	m := NewManager(st, run, Options{})
	if _, err := m.StartSync(context.Background(), playlist1, nil); err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if termErr == nil {
		t.Error("runner set a terminal status")
	}
}

func TestReapStuckJob(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var (
		stuck   int64
		lateErr error
	)
	run.script = func(ctx context.Context, rep *Reporter) (*models.SyncSummary, error) {
		err := rep.Advance(ctx, models.JobImporting, 80, "late")
		if rep.JobID() == stuck {
			lateErr = err
		}
		return &models.SyncSummary{AddedCount: 9}, err
	}
	m := NewManager(st, run, Options{StuckAfter: 10 * time.Minute, Now: clk.Now})
	ctx := context.Background()

	stuck, err := m.StartSync(ctx, playlist1, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-run.started

	report, err := m.Reap(ctx, playlist1)
	if err != nil {
		t.Fatal(err)
	}
	if report.Cleaned != 0 {
		t.Fatalf("fresh job reaped: %+v", report)
	}
	if _, err := m.StartSync(ctx, playlist1, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want conflict before reaping", err)
	}

	clk.Add(11 * time.Minute)
	report, err = m.Reap(ctx, playlist1)
	if err != nil {
		t.Fatal(err)
	}
	if report.Cleaned != 1 || report.Jobs[0].JobID != stuck {
		t.Fatalf("report = %+v", report)
	}
	if j := st.getSync(stuck); j.Status != models.JobFailed || j.Error == nil {
		t.Fatalf("stuck job = %+v", j)
	}

	next, err := m.StartSync(ctx, playlist1, nil)
	if err != nil {
		t.Fatalf("admission after reap: %v", err)
	}
	<-run.started

	close(run.release)
	m.Wait()
	if !errors.Is(lateErr, models.ErrJobFinished) {
		t.Errorf("late advance err = %v", lateErr)
	}
	if j := st.getSync(stuck); j.Status != models.JobFailed {
		t.Errorf("reaped job overwritten: %+v", j)
	}
	if j := st.getSync(next); j.Status != models.JobFailed && j.Status != models.JobCompleted {
		t.Errorf("next job = %+v", j)
	}
}

func TestReapOrphanedStoredJob(t *testing.T) {
	st := newMemStore()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	// Left behind by a crashed process.
	orphan := &models.SyncJob{TargetKind: playlist1.Kind, TargetID: playlist1.ID, Status: models.JobDownloading,
		CreatedAt: clk.Now().Add(-time.Hour), UpdatedAt: clk.Now().Add(-time.Hour)}
	st.CreateSyncJob(context.Background(), orphan)

	run := newGateRunner()
	close(run.release)
	m := NewManager(st, run, Options{StuckAfter: 30 * time.Minute, Now: clk.Now})
	ctx := context.Background()

	if _, err := m.StartSync(ctx, playlist1, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want conflict with stored job", err)
	}
	report, err := m.Reap(ctx, playlist1)
	if err != nil {
		t.Fatal(err)
	}
	if report.Cleaned != 1 {
		t.Fatalf("report = %+v", report)
	}
	if _, err := m.StartSync(ctx, playlist1, nil); err != nil {
		t.Fatalf("admission after reap: %v", err)
	}
	m.Wait()
}

func TestExclusive(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	m := NewManager(st, run, Options{})
	ctx := context.Background()

	ran := false
	if err := m.Exclusive(ctx, playlist1, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("idle edit: ran=%v err=%v", ran, err)
	}

	if _, err := m.StartSync(ctx, playlist1, nil); err != nil {
		t.Fatal(err)
	}
	<-run.started
	err := m.Exclusive(ctx, playlist1, func() error {
		t.Error("edit ran during an active job")
		return nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
	close(run.release)
	m.Wait()
}

func TestImportOutcome(t *testing.T) {
	st, run := newMemStore(), newGateRunner()
	run.outcome = &ImportOutcome{Mapped: 2, NotFound: []string{"Ghost"}}
	m := NewManager(st, run, Options{})

	id, err := m.StartImport(context.Background(), 1, []models.MappingEntry{{Name: "A"}})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()
	j := st.getImport(id)
	if j.Status != models.JobCompleted || j.Mapped != 2 || j.NotFound != 1 {
		t.Fatalf("job = %+v", j)
	}
	if len(j.ChannelsInJSONNotInPlaylist) != 1 || j.ChannelsInJSONNotInPlaylist[0] != "Ghost" {
		t.Errorf("not found list = %v", j.ChannelsInJSONNotInPlaylist)
	}
	if j.ChannelsInPlaylistNotInJSON == nil {
		t.Error("unmatched list should be empty, not nil")
	}
}

func TestImportRequiresPlaylist(t *testing.T) {
	m := NewManager(newMemStore(), newGateRunner(), Options{})
	_, err := m.start(context.Background(), Request{Type: models.JobTypeImport, Target: models.Target{Kind: models.TargetEpgFile, ID: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.StartSync(context.Background(), models.Target{Kind: "bogus", ID: 1}, nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

type panicRunner struct{}

func (panicRunner) RunSync(context.Context, Request, *Reporter) (*models.SyncSummary, error) {
	panic("boom")
}

func (panicRunner) RunImport(context.Context, Request, *Reporter) (*ImportOutcome, error) {
	panic("boom")
}

func TestPanicFailsJob(t *testing.T) {
	st := newMemStore()
	m := NewManager(st, panicRunner{}, Options{})
	id, err := m.StartSync(context.Background(), playlist1, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if j := st.getSync(id); j.Status != models.JobFailed {
		t.Fatalf("job = %+v", j)
	}
	if _, ok := m.Registry().ActiveFor(playlist1); ok {
		t.Error("target still active")
	}
}
