package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"taskd/internal/notifier"
	"taskd/internal/task"
	"taskd/internal/trigger"
	logx "taskd/pkg/logx"
)

// dispatch resolves a readiness event into a task run. Runs happen on
// their own goroutines so a long task never blocks the loop.
func (s *Service) dispatch(r trigger.Ready) {
	t, ok := s.reg.Get(r.TaskID)
	if !ok {
		// Trigger fired after removal; the teardown race is harmless.
		s.log.Debug("fire for unknown task", logx.String("task", r.TaskID))
		return
	}
	if !t.Enabled {
		s.log.Debug("fire for disabled task", logx.String("task", t.ID))
		return
	}

	st := s.state(t.ID)
	if !st.tryAcquire() {
		s.log.Warn("task already running, skipping fire",
			logx.String("task", t.ID), logx.String("reason", r.Reason))
		return
	}

	// Snapshot under the lock: Start replaces runCtx on a restart while
	// stragglers from the previous run may still be dispatching.
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer st.release()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("task dispatch panicked",
					logx.String("task", t.ID),
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.runPipeline(runCtx, t, r.Reason)
	}()
}

// runPipeline is the single execution path shared by scheduled fires,
// watcher fires, retries and manual runs: dependency gate, execute,
// record, notify, maybe schedule a retry.
func (s *Service) runPipeline(ctx context.Context, t *task.Task, reason string) *task.Result {
	if res := s.gateDependencies(ctx, t); res != nil {
		return res
	}

	s.log.Info("task starting",
		logx.String("task", t.ID),
		logx.String("reason", reason))

	res := s.exec.Execute(ctx, t)
	s.reg.RecordRun(ctx, t.ID, res.StartTime, res.Status == task.StatusCompleted)
	s.saveResult(ctx, res)

	switch res.Status {
	case task.StatusCompleted:
		s.log.Info("task completed",
			logx.String("task", t.ID),
			logx.Duration("duration", res.Duration))
	default:
		s.log.Warn("task failed",
			logx.String("task", t.ID),
			logx.String("status", string(res.Status)),
			logx.String("error", res.Error))
	}

	if s.notify != nil && notifier.ShouldNotify(t, res) {
		s.notify.Notify(t, res)
	}

	if res.Status == task.StatusFailed {
		s.maybeRetry(ctx, t.ID)
	}
	return res
}

// gateDependencies enforces the freshness window on every prerequisite.
// An unsatisfied dependency records a skipped result and consumes no
// retry. Returns nil when the task may run.
func (s *Service) gateDependencies(ctx context.Context, t *task.Task) *task.Result {
	if len(t.DependsOn) == 0 {
		return nil
	}
	now := time.Now()
	for _, dep := range t.DependsOn {
		last, ok := s.reg.LastRun(dep)
		var why string
		switch {
		case !ok:
			why = fmt.Sprintf("dependency %s is not registered", dep)
		case last.IsZero():
			why = fmt.Sprintf("dependency %s has never run", dep)
		case now.Sub(last) > s.cfg.DependencyWindow:
			why = fmt.Sprintf("dependency %s last ran %s ago, outside the %s window",
				dep, now.Sub(last).Round(time.Second), s.cfg.DependencyWindow)
		default:
			continue
		}

		s.log.Info("task skipped",
			logx.String("task", t.ID),
			logx.String("cause", why))
		res := task.NewRunningResult(t.ID)
		res.Finish(task.StatusSkipped, "", why)
		s.saveResult(ctx, res)
		return res
	}
	return nil
}

// maybeRetry arms the single fixed-delay retry while the task's
// consecutive-failure count is below its cap.
func (s *Service) maybeRetry(ctx context.Context, id string) {
	t, ok := s.reg.Get(id)
	if !ok {
		return
	}
	if t.RetryCount >= t.MaxRetries {
		if t.MaxRetries > 0 {
			s.log.Warn("task exhausted retries",
				logx.String("task", id),
				logx.Int("retries", t.RetryCount))
		}
		return
	}
	n := s.reg.IncRetry(ctx, id)
	due := time.Now().Add(s.cfg.RetryDelay)
	s.scheduleRetry(id, due)
	s.log.Info("retry scheduled",
		logx.String("task", id),
		logx.Int("attempt", n),
		logx.Int("max", t.MaxRetries),
		logx.Duration("delay", s.cfg.RetryDelay))
}

func (s *Service) saveResult(ctx context.Context, res *task.Result) {
	if s.store == nil {
		return
	}
	if _, err := s.store.AppendResult(ctx, res); err != nil {
		s.log.Error("result not recorded",
			logx.String("task", res.TaskID), logx.Err(err))
	}
}
