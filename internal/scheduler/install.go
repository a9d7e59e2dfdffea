package scheduler

import (
	"context"
	"fmt"

	"taskd/internal/task"
	"taskd/internal/trigger"
	logx "taskd/pkg/logx"
)

// install parses the task's schedule and wires the matching trigger
// source. Timer triggers become cron entries; change and resource
// triggers become watcher goroutines. Every source ends up posting onto
// the same fire channel.
func (s *Service) install(ctx context.Context, t *task.Task) error {
	spec, err := trigger.Parse(t.Schedule)
	if err != nil {
		return err
	}

	h := &triggerHandle{spec: spec}
	id := t.ID

	switch spec.Kind {
	case trigger.KindCron, trigger.KindInterval:
		expr := spec.Cron
		if spec.Kind == trigger.KindInterval {
			expr = fmt.Sprintf("@every %s", spec.Every)
		}
		entryID, err := s.c.AddFunc(expr, func() {
			s.postFire(trigger.Ready{TaskID: id, Reason: "schedule"})
		})
		if err != nil {
			return fmt.Errorf("cron entry %q: %w", expr, err)
		}
		h.entryID = entryID
		if next := s.c.Entry(entryID).Next; !next.IsZero() {
			s.reg.SetNextRun(ctx, id, next)
		}

	case trigger.KindFileWatch:
		wctx, cancel := context.WithCancel(s.watchCtx)
		h.cancel = cancel
		w := trigger.NewFileWatch(id, spec.Path, s.fires, s.log)
		go w.Run(wctx)

	case trigger.KindURLWatch:
		wctx, cancel := context.WithCancel(s.watchCtx)
		h.cancel = cancel
		w := trigger.NewURLWatch(id, spec.URL, s.cfg.URLPollInterval, s.fires, s.log)
		go w.Run(wctx)

	case trigger.KindResource:
		wctx, cancel := context.WithCancel(s.watchCtx)
		h.cancel = cancel
		w := trigger.NewResourceWatch(id, s.cfg.Thresholds, s.cfg.ResourcePollInterval, s.sampler, s.fires, s.log)
		go w.Run(wctx)

	default:
		return fmt.Errorf("unsupported trigger kind %s", spec.Kind)
	}

	s.mu.Lock()
	if old, ok := s.handles[id]; ok && old.cancel != nil {
		old.cancel()
	}
	s.handles[id] = h
	s.mu.Unlock()

	s.log.Debug("trigger installed",
		logx.String("task", id),
		logx.String("kind", spec.Kind.String()),
		logx.String("schedule", t.Schedule))
	return nil
}

// uninstall tears down the task's trigger, if any. Safe to call for
// unknown ids.
func (s *Service) uninstall(id string) {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	c := s.c
	s.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case h.cancel != nil:
		h.cancel()
	case c != nil:
		c.Remove(h.entryID)
	}
	s.log.Debug("trigger removed",
		logx.String("task", id), logx.String("kind", h.spec.Kind.String()))
}
