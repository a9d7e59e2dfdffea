package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskd/internal/sysmon"
	logx "taskd/pkg/logx"
)

func TestURLWatchObserve(t *testing.T) {
	t.Parallel()

	fires := make(chan Ready, 4)
	w := NewURLWatch("t1", "https://example.com", time.Minute, fires, logx.Nop())
	ctx := context.Background()

	if w.Observe(ctx, []byte("v1")) {
		t.Fatal("baseline observation must not fire")
	}
	if w.Observe(ctx, []byte("v1")) {
		t.Fatal("unchanged content must not fire")
	}
	if !w.Observe(ctx, []byte("v2")) {
		t.Fatal("changed content must fire")
	}
	if w.Observe(ctx, []byte("v2")) {
		t.Fatal("repeat of new content must not fire")
	}

	select {
	case r := <-fires:
		if r.TaskID != "t1" {
			t.Fatalf("fired task = %q, want t1", r.TaskID)
		}
	default:
		t.Fatal("expected a readiness event on the channel")
	}
	select {
	case r := <-fires:
		t.Fatalf("unexpected extra event %+v", r)
	default:
	}
}

func TestFileWatchFiresOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "watched.txt")
	if err := os.WriteFile(target, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	fires := make(chan Ready, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewFileWatch("t2", target, fires, logx.Nop())
	go w.Run(ctx)

	// Give the watcher time to install before mutating the file.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(target, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Sibling files must be filtered out.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-fires:
		if r.TaskID != "t2" {
			t.Fatalf("fired task = %q, want t2", r.TaskID)
		}
		if !strings.Contains(r.Reason, "watched.txt") {
			t.Fatalf("reason %q should name the watched file", r.Reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no readiness event after file write")
	}
}

func TestThresholdsExceeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		th   Thresholds
		u    sysmon.Usage
		want bool
	}{
		{"all below", Thresholds{CPU: 80, Memory: 80, Disk: 90}, sysmon.Usage{CPU: 10, Memory: 20, Disk: 30}, false},
		{"cpu above", Thresholds{CPU: 80, Memory: 80, Disk: 90}, sysmon.Usage{CPU: 93.5}, true},
		{"memory above", Thresholds{CPU: 80, Memory: 80, Disk: 90}, sysmon.Usage{Memory: 81}, true},
		{"disk above", Thresholds{CPU: 80, Memory: 80, Disk: 90}, sysmon.Usage{Disk: 95}, true},
		{"at threshold is not above", Thresholds{CPU: 80}, sysmon.Usage{CPU: 80}, false},
		{"zero disables check", Thresholds{}, sysmon.Usage{CPU: 99, Memory: 99, Disk: 99}, false},
	}
	for _, tc := range cases {
		reason, got := tc.th.Exceeded(tc.u)
		if got != tc.want {
			t.Errorf("%s: Exceeded = %v, want %v", tc.name, got, tc.want)
		}
		if got && reason == "" {
			t.Errorf("%s: expected a reason string", tc.name)
		}
	}
}
