// Package executor runs a task's action under its timeout and produces the
// execution record. It does not retry and does not touch the registry; the
// scheduler pipeline owns both.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime/debug"
	"syscall"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// maxCapture bounds captured output/error text per execution so a chatty
// command cannot bloat the history store.
const maxCapture = 64 * 1024

type Executor struct {
	funcs *Funcs
	http  *http.Client
	log   logx.Logger
}

func New(funcs *Funcs, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if funcs == nil {
		funcs = NewFuncs()
	}
	return &Executor{
		funcs: funcs,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log,
	}
}

// Execute runs the task's action and returns a finalized result. The result
// always has end >= start and a terminal status; errors never escape as Go
// errors, they land in the result.
func (e *Executor) Execute(ctx context.Context, t *task.Task) *task.Result {
	res := task.NewRunningResult(t.ID)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = task.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.log.Info("executing task", logx.String("task", t.ID), logx.String("name", t.Name), logx.String("kind", t.Action.Kind.String()))

	var (
		output string
		runErr error
	)
	switch t.Action.Kind {
	case task.ActionShell:
		output, runErr = e.runShell(runCtx, t.Action.Command, timeout)
	case task.ActionHTTP:
		output, runErr = e.runHTTP(runCtx, t.Action.URL)
	case task.ActionFunc:
		output, runErr = e.runFunc(runCtx, t.Action.Func)
	default:
		runErr = fmt.Errorf("unsupported action kind %d", t.Action.Kind)
	}

	if runErr != nil {
		res.Finish(task.StatusFailed, truncate(output), truncate(runErr.Error()))
		e.log.Warn("task failed", logx.String("task", t.ID), logx.Duration("dur", res.Duration), logx.Err(runErr))
	} else {
		res.Finish(task.StatusCompleted, truncate(output), "")
		e.log.Info("task completed", logx.String("task", t.ID), logx.Duration("dur", res.Duration))
	}
	return res
}

func (e *Executor) runShell(ctx context.Context, command string, timeout time.Duration) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Prefer SIGTERM on timeout; WaitDelay escalates to SIGKILL if the
	// process ignores it.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.String(), fmt.Errorf("timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := bytes.TrimSpace(stderr.Bytes())
			if len(msg) == 0 {
				return stdout.String(), fmt.Errorf("exit status %d", exitErr.ExitCode())
			}
			return stdout.String(), fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), msg)
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func (e *Executor) runHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Any response, including non-2xx, is a summarized success; only
	// network-level failures count as errors.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 200))
	if err != nil {
		return "", fmt.Errorf("http read failed: %w", err)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body), nil
}

func (e *Executor) runFunc(ctx context.Context, name string) (out string, err error) {
	fn, err := e.funcs.lookup(name)
	if err != nil {
		return "", err
	}
	// One panicking function must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("task function panicked", logx.String("func", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(ctx)
}

func truncate(s string) string {
	if len(s) <= maxCapture {
		return s
	}
	return s[:maxCapture-3] + "..."
}
