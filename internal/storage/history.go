package storage

import (
	"context"
	"fmt"
	"time"

	"taskd/internal/task"
)

// AppendResult persists a finalized execution record as an immutable row and
// returns the assigned row id. Rows are never updated afterwards.
func (s *Store) AppendResult(ctx context.Context, r *task.Result) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, status, start_time, end_time, output, error, duration_ms)
		VALUES (?,?,?,?,?,?,?)`,
		r.TaskID, string(r.Status),
		timeText(r.StartTime), nullTime(r.EndTime),
		r.Output, nullStr(r.Error), r.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("append result for %s: %w", r.TaskID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// RecentResults returns up to limit results for a task, most recent first.
func (s *Store) RecentResults(ctx context.Context, taskID string, limit int) ([]task.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, status, start_time, end_time, output, error, duration_ms
		FROM task_history
		WHERE task_id = ?
		ORDER BY start_time DESC, id DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []task.Result
	for rows.Next() {
		var (
			r      task.Result
			status string
			start  string
			end    nullString
			errTxt nullString
			durMS  int64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &status, &start, &end, &r.Output, &errTxt, &durMS); err != nil {
			return nil, err
		}
		r.Status = task.Status(status)
		r.StartTime, err = time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return nil, fmt.Errorf("history row %d: bad start_time: %w", r.ID, err)
		}
		r.EndTime, err = parseTime(end)
		if err != nil {
			return nil, fmt.Errorf("history row %d: bad end_time: %w", r.ID, err)
		}
		r.Error = errTxt.String
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Purge deletes history rows whose start time predates the cutoff and
// returns how many were removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := timeText(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return res.RowsAffected()
}
