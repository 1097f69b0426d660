package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/voyagen/guidevault/internal/models"
)

// Registry is the in-process view of live jobs: job id to state, plus a
// per-target index of the active job and a per-target guard that serializes
// admission, reaping and manual edits.
type Registry struct {
	mu     sync.Mutex
	jobs   map[int64]*entry
	active map[string]int64
	guards map[string]*sync.Mutex
}

type entry struct {
	ref     models.JobRef
	reaped  bool
	release func() // nil when the target lock was taken by another process
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[int64]*entry),
		active: make(map[string]int64),
		guards: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) guard(t models.Target) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := t.String()
	g, ok := r.guards[key]
	if !ok {
		g = &sync.Mutex{}
		r.guards[key] = g
	}
	return g
}

// ActiveFor returns the live job of t, if any.
func (r *Registry) ActiveFor(t models.Target) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[t.String()]
	return id, ok
}

// Get returns a snapshot of a live job.
func (r *Registry) Get(id int64) (models.JobRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return models.JobRef{}, false
	}
	return e.ref, true
}

// Active lists live jobs ordered by id.
func (r *Registry) Active() []models.JobRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.JobRef, 0, len(r.jobs))
	for _, e := range r.jobs {
		if !e.reaped {
			out = append(out, e.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// add registers a job and makes it the target's active job. It is a no-op
// for an id already present.
func (r *Registry) add(ref models.JobRef, release func()) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[ref.ID]; ok {
		return e
	}
	e := &entry{ref: ref, release: release}
	r.jobs[ref.ID] = e
	r.active[ref.Target.String()] = ref.ID
	return e
}

// touch records a status change. It returns false once the job was reaped.
func (r *Registry) touch(id int64, status models.JobStatus, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok || e.reaped {
		return false
	}
	e.ref.Status = status
	e.ref.UpdatedAt = at
	return true
}

func (r *Registry) markReaped(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		e.reaped = true
		r.dropActive(e)
	}
}

func (r *Registry) isReaped(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	return ok && e.reaped
}

// remove forgets a job and returns its entry.
func (r *Registry) remove(id int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil
	}
	delete(r.jobs, id)
	r.dropActive(e)
	return e
}

// stale marks every live job of t idle since before cutoff as reaped and
// returns snapshots of them.
func (r *Registry) stale(t models.Target, cutoff time.Time) []models.JobRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JobRef
	for _, e := range r.jobs {
		if e.reaped || e.ref.Target != t || !e.ref.UpdatedAt.Before(cutoff) {
			continue
		}
		e.reaped = true
		r.dropActive(e)
		out = append(out, e.ref)
	}
	return out
}

// dropActive must be called with mu held.
func (r *Registry) dropActive(e *entry) {
	key := e.ref.Target.String()
	if r.active[key] == e.ref.ID {
		delete(r.active, key)
	}
}
