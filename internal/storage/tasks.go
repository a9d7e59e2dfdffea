package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// UpsertTask writes the full definition row for a task, replacing any
// existing row with the same id.
func (s *Store) UpsertTask(ctx context.Context, t *task.Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, name, command, schedule_expr, enabled, max_retries,
		                   timeout_seconds, dependencies, notify_on_success, notify_on_failure,
		                   last_run, next_run, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(task_id) DO UPDATE SET
			name = excluded.name,
			command = excluded.command,
			schedule_expr = excluded.schedule_expr,
			enabled = excluded.enabled,
			max_retries = excluded.max_retries,
			timeout_seconds = excluded.timeout_seconds,
			dependencies = excluded.dependencies,
			notify_on_success = excluded.notify_on_success,
			notify_on_failure = excluded.notify_on_failure,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Action.Raw(), t.Schedule, boolInt(t.Enabled), t.MaxRetries,
		int(t.Timeout/time.Second), string(deps), boolInt(t.NotifyOnSuccess), boolInt(t.NotifyOnFailure),
		nullTime(t.LastRun), nullTime(t.NextRun), timeText(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a definition row. Missing rows return ErrTaskNotFound.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// LoadTasks reads every persisted definition. Rows that fail to decode are
// skipped with a warning so one bad row cannot block startup.
func (s *Store) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, command, schedule_expr, enabled, max_retries,
		       timeout_seconds, dependencies, notify_on_success, notify_on_failure,
		       last_run, next_run
		FROM tasks ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			s.log.Warn("skipping unreadable task row", logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*task.Task, error) {
	var (
		d        task.Definition
		enabled  int
		notifyOK int
		notifyKO int
		deps     string
		lastRun  nullString
		nextRun  nullString
	)
	err := r.Scan(&d.ID, &d.Name, &d.Command, &d.Schedule, &enabled, &d.MaxRetries,
		&d.TimeoutSeconds, &deps, &notifyOK, &notifyKO, &lastRun, &nextRun)
	if err != nil {
		return nil, err
	}
	en := enabled != 0
	ok := notifyOK != 0
	ko := notifyKO != 0
	d.Enabled = &en
	d.NotifyOnSuccess = ok
	d.NotifyOnFailure = &ko
	d.LastRun = lastRun.String
	d.NextRun = nextRun.String
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &d.Dependencies); err != nil {
			return nil, fmt.Errorf("task %s: decode dependencies: %w", d.ID, err)
		}
	}
	return task.FromDefinition(d)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
