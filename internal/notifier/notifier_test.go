package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

type fakeTransport struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(_ context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func flaggedTask(onSuccess, onFailure bool) *task.Task {
	return &task.Task{
		ID:              "job",
		Name:            "Job",
		NotifyOnSuccess: onSuccess,
		NotifyOnFailure: onFailure,
	}
}

func finished(status task.Status, errText string) *task.Result {
	r := task.NewRunningResult("job")
	r.Finish(status, "some output", errText)
	return r
}

func TestShouldNotify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		t      *task.Task
		status task.Status
		want   bool
	}{
		{"success wanted", flaggedTask(true, false), task.StatusCompleted, true},
		{"success unwanted", flaggedTask(false, true), task.StatusCompleted, false},
		{"failure wanted", flaggedTask(false, true), task.StatusFailed, true},
		{"failure unwanted", flaggedTask(true, false), task.StatusFailed, false},
		{"skipped never notifies", flaggedTask(true, true), task.StatusSkipped, false},
		{"cancelled never notifies", flaggedTask(true, true), task.StatusCancelled, false},
	}
	for _, tc := range cases {
		r := finished(tc.status, "")
		if got := ShouldNotify(tc.t, r); got != tc.want {
			t.Errorf("%s: ShouldNotify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	tk := flaggedTask(true, true)
	r := finished(task.StatusFailed, "exit status 1")
	msg := Render(tk, r)

	if msg.Subject != "Task Failed: Job" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"Task: Job (job)", "Status: Failed", "Start Time:", "Duration:", "Output:\nsome output", "Error: exit status 1"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestPipelineDeliversBeforeStop(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, []Transport{ft}, logx.Nop())
	s.Start(context.Background())

	s.Notify(flaggedTask(true, true), finished(task.StatusCompleted, ""))
	s.Notify(flaggedTask(true, true), finished(task.StatusFailed, "boom"))
	// Flags off: must not enqueue anything.
	s.Notify(flaggedTask(false, false), finished(task.StatusFailed, "quiet"))

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	got := ft.sent()
	if len(got) != 2 {
		t.Fatalf("delivered %d messages, want 2: %v", len(got), got)
	}
}

func TestNotifyWithoutTransportsIsNoop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop())
	s.Start(context.Background())
	// Must not panic or block.
	s.Notify(flaggedTask(true, true), finished(task.StatusCompleted, ""))
	s.Stop(context.Background())
}

func TestNotifyAfterStopIsNoop(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	s := New(Config{Workers: 1}, []Transport{ft}, logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Notify(flaggedTask(true, true), finished(task.StatusCompleted, ""))
	if got := ft.sent(); len(got) != 0 {
		t.Fatalf("delivered %d messages after stop", len(got))
	}
}
