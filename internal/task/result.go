package task

import "time"

// Status is the lifecycle state of one execution attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status marks a finished attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	default:
		return false
	}
}

// Result records one execution attempt.
//
// The executor owns it until Finish() is called; after that it is persisted
// as-is and never mutated again.
type Result struct {
	ID        int64 // assigned by the history store
	TaskID    string
	Status    Status
	StartTime time.Time
	EndTime   time.Time // zero until finished
	Output    string
	Error     string
	Duration  time.Duration
}

// NewRunningResult creates the dispatch-time record.
func NewRunningResult(taskID string) *Result {
	return &Result{
		TaskID:    taskID,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
}

// Finish moves the result to a terminal status and stamps end time/duration.
func (r *Result) Finish(status Status, output, errText string) {
	r.Status = status
	r.EndTime = time.Now()
	if r.EndTime.Before(r.StartTime) {
		r.EndTime = r.StartTime
	}
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Output = output
	r.Error = errText
}
