package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskd/internal/executor"
	"taskd/internal/registry"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		RetryDelay:   50 * time.Millisecond,
		StopGrace:    500 * time.Millisecond,
	}
}

func newTestService(t *testing.T, funcs *executor.Funcs) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, logx.Nop())
	exec := executor.New(funcs, logx.Nop())
	s, err := New(testConfig(), reg, exec, nil, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s, reg
}

func funcTask(id, fn string) *task.Task {
	return &task.Task{
		ID:       id,
		Name:     id,
		Action:   task.Action{Kind: task.ActionFunc, Func: fn},
		Schedule: "every hour",
		Enabled:  true,
		Timeout:  5 * time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRunNowExecutesAndRecords(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	funcs.Register("hello", func(context.Context) (string, error) { return "hi", nil })
	s, reg := newTestService(t, funcs)
	reg.Add(context.Background(), funcTask("greet", "hello"))

	res, err := s.RunNow(context.Background(), "greet")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != task.StatusCompleted || res.Output != "hi" {
		t.Fatalf("result = %+v", res)
	}
	if last, _ := reg.LastRun("greet"); last.IsZero() {
		t.Fatal("run was not recorded in the registry")
	}
}

func TestRunNowUnknownTask(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, executor.NewFuncs())
	if _, err := s.RunNow(context.Background(), "ghost"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDependencyGateSkips(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	var ran atomic.Int32
	funcs.Register("work", func(context.Context) (string, error) {
		ran.Add(1)
		return "done", nil
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()

	parent := funcTask("parent", "work")
	child := funcTask("child", "work")
	child.DependsOn = []string{"parent"}
	reg.Add(ctx, parent)
	reg.Add(ctx, child)

	// Parent never ran: child must be skipped, not failed.
	res, err := s.RunNow(ctx, "child")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != task.StatusSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
	if ran.Load() != 0 {
		t.Fatal("gated task must not execute")
	}
	// A skip must leave the retry counter alone.
	if got, _ := reg.Get("child"); got.RetryCount != 0 {
		t.Fatalf("retry count = %d after skip", got.RetryCount)
	}

	// Fresh parent run satisfies the gate.
	reg.RecordRun(ctx, "parent", time.Now(), true)
	res, err = s.RunNow(ctx, "child")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}

	// A stale parent run falls outside the window again.
	reg.RecordRun(ctx, "parent", time.Now().Add(-25*time.Hour), true)
	res, err = s.RunNow(ctx, "child")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != task.StatusSkipped {
		t.Fatalf("status = %s, want skipped for stale dependency", res.Status)
	}
}

func TestGuardRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	release := make(chan struct{})
	started := make(chan struct{})
	funcs.Register("block", func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "", nil
	})
	s, reg := newTestService(t, funcs)
	reg.Add(context.Background(), funcTask("slow", "block"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), "slow")
	}()
	<-started

	if _, err := s.RunNow(context.Background(), "slow"); err == nil {
		t.Fatal("second concurrent run must be rejected")
	}
	close(release)
	<-done

	// After the first run finishes the task is runnable again.
	if _, err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestRetryFiresOnceThenStops(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	var attempts atomic.Int32
	funcs.Register("flaky", func(context.Context) (string, error) {
		attempts.Add(1)
		return "", errors.New("always fails")
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()

	tk := funcTask("flaky", "flaky")
	tk.MaxRetries = 1
	reg.Add(ctx, tk)

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	s.Fire("flaky", "test")

	// One initial attempt plus exactly one retry.
	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 2 })
	time.Sleep(200 * time.Millisecond)
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if got, _ := reg.Get("flaky"); got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1 (held at max)", got.RetryCount)
	}
}

func TestRetryCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	var attempts atomic.Int32
	funcs.Register("flaky_then_ok", func(context.Context) (string, error) {
		if attempts.Add(1) == 1 {
			return "", errors.New("first attempt fails")
		}
		return "recovered", nil
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()

	tk := funcTask("heal", "flaky_then_ok")
	tk.MaxRetries = 3
	reg.Add(ctx, tk)

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	s.Fire("heal", "test")
	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 2 })
	waitFor(t, time.Second, func() bool {
		got, _ := reg.Get("heal")
		return got.RetryCount == 0
	})
}

func TestFireIgnoresDisabledAndRemoved(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	var ran atomic.Int32
	funcs.Register("work", func(context.Context) (string, error) {
		ran.Add(1)
		return "", nil
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()

	off := funcTask("off", "work")
	off.Enabled = false
	reg.Add(ctx, off)

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	s.Fire("off", "test")
	s.Fire("never-registered", "test")
	time.Sleep(150 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("ran %d times, want 0", ran.Load())
	}
}

func TestAddRemoveTask(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	funcs.Register("work", func(context.Context) (string, error) { return "", nil })
	s, _ := newTestService(t, funcs)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	bad := funcTask("bad", "work")
	bad.Schedule = "whenever it feels right"
	if err := s.AddTask(ctx, bad); err == nil {
		t.Fatal("unparseable schedule must be rejected")
	}

	if err := s.AddTask(ctx, funcTask("good", "work")); err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if len(st) != 1 || st[0].ID != "good" {
		t.Fatalf("status = %+v", st)
	}

	if err := s.RemoveTask(ctx, "good"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveTask(ctx, "good"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second remove err = %v", err)
	}
	if len(s.Status()) != 0 {
		t.Fatal("status should be empty after removal")
	}
}

func TestStopIsBounded(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	funcs.Register("stubborn", func(ctx context.Context) (string, error) {
		// Ignores cancellation on purpose.
		time.Sleep(3 * time.Second)
		return "", nil
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()
	reg.Add(ctx, funcTask("stubborn", "stubborn"))

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.Fire("stubborn", "test")
	time.Sleep(50 * time.Millisecond) // let the dispatch begin

	start := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("stop took %s, want bounded by grace period", took)
	}
}

func TestRestartWithStragglerUsesFreshContext(t *testing.T) {
	t.Parallel()
	funcs := executor.NewFuncs()
	funcs.Register("stubborn", func(ctx context.Context) (string, error) {
		// Ignores cancellation on purpose.
		time.Sleep(3 * time.Second)
		return "", nil
	})
	var ran atomic.Int32
	funcs.Register("quick", func(ctx context.Context) (string, error) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		ran.Add(1)
		return "ok", nil
	})
	s, reg := newTestService(t, funcs)
	ctx := context.Background()
	reg.Add(ctx, funcTask("stubborn", "stubborn"))
	quick := funcTask("quick", "quick")
	reg.Add(ctx, quick)

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.Fire("stubborn", "test")
	time.Sleep(50 * time.Millisecond) // let the dispatch begin
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The straggler is still sleeping past its cancelled run context.
	// A task fired after the restart must run on the new one.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	s.Fire("quick", "test")
	waitFor(t, 2*time.Second, func() bool { return ran.Load() == 1 })
	if got, _ := reg.Get("quick"); got.RetryCount != 0 {
		t.Fatalf("quick task failed after restart, retry count = %d", got.RetryCount)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, executor.NewFuncs())
	ctx := context.Background()

	if err := s.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop before start err = %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("double start err = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	// Restart must work after a clean stop.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
