package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/executor"
	"taskd/internal/notifier"
	"taskd/internal/registry"
	"taskd/internal/storage"
	"taskd/internal/sysmon"
	"taskd/internal/task"
	"taskd/internal/trigger"
	logx "taskd/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

func New(cfg Config, reg *registry.Registry, exec *executor.Executor, store *storage.Store, notify *notifier.Service, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	diskPath := cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}

	return &Service{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		exec:    exec,
		store:   store,
		notify:  notify,
		sampler: sysmon.New(diskPath),
		loc:     loc,
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		handles: make(map[string]*triggerHandle),
		fires:   make(chan trigger.Ready, 256),
		retryAt: make(map[string]time.Time),
		states:  make(map[string]*runState),
	}, nil
}

// Start installs triggers for every enabled task and begins consuming
// readiness events. It returns once the loop is running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.watchCtx, s.watchCancel = context.WithCancel(context.Background())
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	var loopCtx context.Context
	loopCtx, s.loopCancel = context.WithCancel(context.Background())
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	installed := 0
	for _, t := range s.reg.List() {
		if !t.Enabled {
			continue
		}
		if err := s.install(ctx, t); err != nil {
			s.log.Warn("trigger install failed",
				logx.String("task", t.ID), logx.Err(err))
			continue
		}
		installed++
	}

	s.c.Start()
	go s.loop(loopCtx)

	s.log.Info("scheduler started",
		logx.Int("tasks", installed),
		logx.String("timezone", s.loc.String()))
	return nil
}

// Stop halts trigger intake and waits, bounded by StopGrace and ctx, for
// the loop and in-flight dispatches to settle. Executions past the grace
// period keep running under their own timeouts; Stop does not kill them.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	c := s.c
	watchCancel := s.watchCancel
	loopCancel := s.loopCancel
	loopDone := s.loopDone
	runCancel := s.runCancel
	s.handles = make(map[string]*triggerHandle)
	s.mu.Unlock()

	// One shared deadline bounds the whole teardown.
	graceCtx, graceDone := context.WithTimeout(context.Background(), s.cfg.StopGrace)
	defer graceDone()

	watchCancel()
	cronDone := c.Stop().Done()

	loopCancel()
	select {
	case <-loopDone:
	case <-graceCtx.Done():
		s.log.Warn("scheduler loop did not exit within grace period")
	case <-ctx.Done():
		runCancel()
		return ctx.Err()
	}

	runsDone := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(runsDone)
	}()
	select {
	case <-runsDone:
	case <-graceCtx.Done():
		s.log.Warn("in-flight tasks still running at shutdown",
			logx.Duration("grace", s.cfg.StopGrace))
	case <-ctx.Done():
		runCancel()
		return ctx.Err()
	}
	// Stragglers past the grace period are cancelled rather than abandoned.
	runCancel()

	select {
	case <-cronDone:
	default:
	}

	s.rmu.Lock()
	s.retryAt = make(map[string]time.Time)
	s.rmu.Unlock()

	s.log.Info("scheduler stopped")
	return nil
}

// AddTask registers the task and, when the loop is running and the task is
// enabled, installs its trigger. Re-adding an existing id replaces both
// the definition and the trigger.
func (s *Service) AddTask(ctx context.Context, t *task.Task) error {
	if _, err := trigger.Parse(t.Schedule); err != nil {
		return fmt.Errorf("schedule %q: %w", t.Schedule, err)
	}
	s.reg.Add(ctx, t)

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	s.uninstall(t.ID)
	if !t.Enabled {
		return nil
	}
	return s.install(ctx, t)
}

// RemoveTask tears down the task's trigger first so no new fires arrive,
// then drops it from the registry. History rows are kept.
func (s *Service) RemoveTask(ctx context.Context, id string) error {
	s.uninstall(id)
	s.rmu.Lock()
	delete(s.retryAt, id)
	s.rmu.Unlock()
	return s.reg.Remove(ctx, id)
}

// RunNow executes the task immediately and synchronously, bypassing its
// trigger. The is-running guard and the dependency gate still apply.
func (s *Service) RunNow(ctx context.Context, id string) (*task.Result, error) {
	t, ok := s.reg.Get(id)
	if !ok {
		return nil, registry.ErrNotFound
	}
	st := s.state(id)
	if !st.tryAcquire() {
		return nil, fmt.Errorf("task %s is already running", id)
	}
	defer st.release()
	return s.runPipeline(ctx, t, "manual"), nil
}

// Fire posts a readiness event for the task onto the loop's channel.
func (s *Service) Fire(id, reason string) {
	s.postFire(trigger.Ready{TaskID: id, Reason: reason})
}

// Status reports the list/status view of all registered tasks.
func (s *Service) Status() []TaskStatus {
	tasks := s.reg.List()
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskStatus{
			ID:        t.ID,
			Name:      t.Name,
			Schedule:  t.Schedule,
			Enabled:   t.Enabled,
			IsRunning: s.state(t.ID).running(),
			LastRun:   t.LastRun,
			NextRun:   t.NextRun,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) state(id string) *runState {
	s.smu.Lock()
	defer s.smu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = &runState{}
		s.states[id] = st
	}
	return st
}

// postFire never blocks the caller: cron jobs and watchers must not stall
// behind a busy loop. A full channel drops the event with a warning; the
// next scheduled fire covers for it.
func (s *Service) postFire(r trigger.Ready) {
	select {
	case s.fires <- r:
	default:
		s.log.Warn("fire channel full, dropping readiness event",
			logx.String("task", r.TaskID), logx.String("reason", r.Reason))
	}
}

func (s *Service) scheduleRetry(id string, due time.Time) {
	s.rmu.Lock()
	s.retryAt[id] = due
	s.rmu.Unlock()
}

func (s *Service) dueRetries(now time.Time) []string {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	var due []string
	for id, at := range s.retryAt {
		if !at.After(now) {
			due = append(due, id)
			delete(s.retryAt, id)
		}
	}
	return due
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.fires:
			s.dispatch(r)
		case now := <-ticker.C:
			for _, id := range s.dueRetries(now) {
				s.dispatch(trigger.Ready{TaskID: id, Reason: "retry"})
			}
		}
	}
}
