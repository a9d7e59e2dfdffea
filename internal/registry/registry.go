// Package registry owns the canonical task table.
//
// All mutations go through the registry so concurrent readers (the scheduler
// loop, the CLI surface) always see a consistent record, and every mutation
// is mirrored to durable storage.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"taskd/internal/storage"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

var ErrNotFound = errors.New("task not found")

type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task

	store *storage.Store // nil disables persistence
	log   logx.Logger
}

func New(store *storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		tasks: map[string]*task.Task{},
		store: store,
		log:   log,
	}
}

// Load restores persisted definitions. A missing or unreadable store is
// tolerated: the registry starts empty and the problem is logged.
func (r *Registry) Load(ctx context.Context) int {
	if r.store == nil {
		return 0
	}
	tasks, err := r.store.LoadTasks(ctx)
	if err != nil {
		r.log.Error("task table unreadable, starting empty", logx.Err(err))
		return 0
	}
	r.mu.Lock()
	for _, t := range tasks {
		r.tasks[t.ID] = t
	}
	n := len(r.tasks)
	r.mu.Unlock()
	return n
}

// Add registers a task. An existing id is overwritten (logged as an update,
// not an error); the returned flag reports whether that happened.
func (r *Registry) Add(ctx context.Context, t *task.Task) (updated bool) {
	cp := t.Clone()
	r.mu.Lock()
	_, updated = r.tasks[cp.ID]
	r.tasks[cp.ID] = cp
	r.mu.Unlock()

	if updated {
		r.log.Info("task updated", logx.String("task", cp.ID), logx.String("name", cp.Name))
	} else {
		r.log.Info("task added", logx.String("task", cp.ID), logx.String("name", cp.Name))
	}
	r.persist(ctx, cp)
	return updated
}

// Remove deletes a task record. The caller is responsible for tearing down
// the task's trigger before calling.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if r.store != nil {
		if err := r.store.DeleteTask(ctx, id); err != nil && !errors.Is(err, storage.ErrTaskNotFound) {
			r.log.Error("task delete not persisted", logx.String("task", id), logx.Err(err))
		}
	}
	r.log.Info("task removed", logx.String("task", id), logx.String("name", t.Name))
	return nil
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (*task.Task, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns copies of all tasks, ordered by id.
func (r *Registry) List() []*task.Task {
	r.mu.RLock()
	out := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LastRun returns the task's last-run timestamp (zero if never ran).
func (r *Registry) LastRun(id string) (time.Time, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return t.LastRun, true
}

// RecordRun stamps the last-run time after an executed attempt. A successful
// run also resets the retry counter.
func (r *Registry) RecordRun(ctx context.Context, id string, startedAt time.Time, success bool) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		t.LastRun = startedAt
		if success {
			t.RetryCount = 0
		}
	}
	var cp *task.Task
	if ok {
		cp = t.Clone()
	}
	r.mu.Unlock()
	if cp != nil {
		r.persist(ctx, cp)
	}
}

// IncRetry bumps the retry counter and returns the new value.
func (r *Registry) IncRetry(ctx context.Context, id string) int {
	r.mu.Lock()
	t, ok := r.tasks[id]
	var n int
	var cp *task.Task
	if ok {
		t.RetryCount++
		n = t.RetryCount
		cp = t.Clone()
	}
	r.mu.Unlock()
	if cp != nil {
		r.persist(ctx, cp)
	}
	return n
}

// SetNextRun records the informational next-run estimate.
func (r *Registry) SetNextRun(ctx context.Context, id string, at time.Time) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	var cp *task.Task
	if ok {
		t.NextRun = at
		cp = t.Clone()
	}
	r.mu.Unlock()
	if cp != nil {
		r.persist(ctx, cp)
	}
}

func (r *Registry) persist(ctx context.Context, t *task.Task) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertTask(ctx, t); err != nil {
		r.log.Error("task not persisted", logx.String("task", t.ID), logx.Err(err))
	}
}
