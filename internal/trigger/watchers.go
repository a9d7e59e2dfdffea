package trigger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskd/internal/sysmon"
	logx "taskd/pkg/logx"
)

// Ready announces that a task's trigger condition fired.
type Ready struct {
	TaskID string
	Reason string
}

// post delivers a Ready event unless the context is already cancelled.
func post(ctx context.Context, fires chan<- Ready, r Ready) {
	select {
	case fires <- r:
	case <-ctx.Done():
	}
}

// ---- file watch ----

// FileWatch reports modifications of a path onto the fire channel.
//
// For a regular file the parent directory is watched and events are filtered
// by name, so editors that replace-by-rename don't silently kill the watch.
type FileWatch struct {
	taskID string
	path   string
	fires  chan<- Ready
	log    logx.Logger
}

func NewFileWatch(taskID, path string, fires chan<- Ready, log logx.Logger) *FileWatch {
	return &FileWatch{taskID: taskID, path: filepath.Clean(path), fires: fires, log: log}
}

// Run blocks until ctx is cancelled.
func (w *FileWatch) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error("file watch unavailable", logx.String("task", w.taskID), logx.Err(err))
		return
	}
	defer watcher.Close()

	watchTarget := w.path
	filterName := ""
	if fi, err := os.Stat(w.path); err == nil && !fi.IsDir() {
		watchTarget = filepath.Dir(w.path)
		filterName = filepath.Base(w.path)
	}
	if err := watcher.Add(watchTarget); err != nil {
		w.log.Error("file watch failed", logx.String("task", w.taskID), logx.String("path", watchTarget), logx.Err(err))
		return
	}
	w.log.Debug("file watch installed", logx.String("task", w.taskID), logx.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filterName != "" && filepath.Base(ev.Name) != filterName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.log.Debug("file changed", logx.String("task", w.taskID), logx.String("path", ev.Name), logx.String("op", ev.Op.String()))
			post(ctx, w.fires, Ready{TaskID: w.taskID, Reason: "file change: " + ev.Name})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watch error", logx.String("task", w.taskID), logx.Err(err))
		}
	}
}

// ---- url watch ----

// URLWatch polls a URL and fires when the content hash changes.
// The first poll only records the baseline and never fires.
type URLWatch struct {
	taskID   string
	url      string
	interval time.Duration
	fires    chan<- Ready
	log      logx.Logger
	client   *http.Client

	lastHash [sha256.Size]byte
	primed   bool
}

func NewURLWatch(taskID, url string, interval time.Duration, fires chan<- Ready, log logx.Logger) *URLWatch {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &URLWatch{
		taskID:   taskID,
		url:      url,
		interval: interval,
		fires:    fires,
		log:      log,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Run blocks until ctx is cancelled.
func (w *URLWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *URLWatch) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		w.log.Warn("url watch request failed", logx.String("task", w.taskID), logx.Err(err))
		return
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Warn("url watch fetch failed", logx.String("task", w.taskID), logx.String("url", w.url), logx.Err(err))
		return
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		w.log.Warn("url watch read failed", logx.String("task", w.taskID), logx.String("url", w.url), logx.Err(err))
		return
	}

	hash := sha256.Sum256(body)
	if !w.primed {
		w.primed = true
		w.lastHash = hash
		w.log.Debug("url baseline recorded", logx.String("task", w.taskID), logx.String("url", w.url))
		return
	}
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash
	post(ctx, w.fires, Ready{TaskID: w.taskID, Reason: "url content changed: " + w.url})
}

// Observe feeds a poll result directly, bypassing HTTP. Used by tests and by
// forced re-checks; returns whether the observation fired.
func (w *URLWatch) Observe(ctx context.Context, body []byte) bool {
	hash := sha256.Sum256(body)
	if !w.primed {
		w.primed = true
		w.lastHash = hash
		return false
	}
	if hash == w.lastHash {
		return false
	}
	w.lastHash = hash
	post(ctx, w.fires, Ready{TaskID: w.taskID, Reason: "url content changed: " + w.url})
	return true
}

// ---- resource watch ----

// Thresholds are usage percentages; a zero value disables that check.
type Thresholds struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// ResourceWatch polls system usage and fires when any threshold is exceeded.
type ResourceWatch struct {
	taskID     string
	thresholds Thresholds
	interval   time.Duration
	sampler    *sysmon.Sampler
	fires      chan<- Ready
	log        logx.Logger
}

func NewResourceWatch(taskID string, th Thresholds, interval time.Duration, sampler *sysmon.Sampler, fires chan<- Ready, log logx.Logger) *ResourceWatch {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ResourceWatch{
		taskID:     taskID,
		thresholds: th,
		interval:   interval,
		sampler:    sampler,
		fires:      fires,
		log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (w *ResourceWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u, err := w.sampler.Sample()
			if err != nil {
				w.log.Warn("resource sample failed", logx.String("task", w.taskID), logx.Err(err))
				continue
			}
			if reason, crossed := w.thresholds.Exceeded(u); crossed {
				post(ctx, w.fires, Ready{TaskID: w.taskID, Reason: reason})
			}
		}
	}
}

// Exceeded reports whether any configured threshold is crossed.
func (t Thresholds) Exceeded(u sysmon.Usage) (string, bool) {
	switch {
	case t.CPU > 0 && u.CPU > t.CPU:
		return formatExceeded("cpu", u.CPU, t.CPU), true
	case t.Memory > 0 && u.Memory > t.Memory:
		return formatExceeded("memory", u.Memory, t.Memory), true
	case t.Disk > 0 && u.Disk > t.Disk:
		return formatExceeded("disk", u.Disk, t.Disk), true
	}
	return "", false
}

func formatExceeded(what string, got, limit float64) string {
	return fmt.Sprintf("%s usage %.1f%% above threshold %.1f%%", what, got, limit)
}
