package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskd/internal/executor"
	"taskd/internal/notifier"
	"taskd/internal/registry"
	"taskd/internal/storage"
	"taskd/internal/sysmon"
	"taskd/internal/trigger"
	logx "taskd/pkg/logx"
)

// Config controls the scheduler loop and trigger behavior.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"

	// PollInterval paces the retry-readiness check. Default 1s.
	PollInterval time.Duration
	// URLPollInterval paces url-change watchers. Default 5m.
	URLPollInterval time.Duration
	// ResourcePollInterval paces resource-threshold watchers. Default 1m.
	ResourcePollInterval time.Duration

	// RetryDelay is the fixed delay before a failed task's single automatic
	// retry. Default 60s. Deliberately not exponential: schedule-driven
	// tasks re-fire on their own cadence anyway.
	RetryDelay time.Duration

	// DependencyWindow is the freshness window a prerequisite's last run
	// must fall within. Default 24h.
	DependencyWindow time.Duration

	// StopGrace bounds how long Stop waits for the loop and in-flight
	// dispatches. Default 5s.
	StopGrace time.Duration

	Thresholds trigger.Thresholds
	DiskPath   string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.URLPollInterval <= 0 {
		c.URLPollInterval = 5 * time.Minute
	}
	if c.ResourcePollInterval <= 0 {
		c.ResourcePollInterval = time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 60 * time.Second
	}
	if c.DependencyWindow <= 0 {
		c.DependencyWindow = 24 * time.Hour
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// runState tracks whether a task is already in-flight. "Skip if running"
// means skip if running or already claimed by a concurrent fire.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *runState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// triggerHandle is the installed trigger of one task.
type triggerHandle struct {
	spec    trigger.Spec
	entryID cron.EntryID       // cron/interval triggers
	cancel  context.CancelFunc // watcher triggers
}

// Service owns the trigger table and the single control loop that turns
// readiness events into executions.
type Service struct {
	cfg    Config
	log    logx.Logger
	reg    *registry.Registry
	exec   *executor.Executor
	store  *storage.Store
	notify *notifier.Service

	sampler *sysmon.Sampler

	mu      sync.Mutex
	loc     *time.Location
	parser  cron.Parser
	c       *cron.Cron
	handles map[string]*triggerHandle
	running bool

	// All trigger sources (cron jobs, watchers, retry timers) funnel into
	// this one channel; the loop is the only consumer.
	fires chan trigger.Ready

	// Pending retries: task id -> due time. At most one per task.
	rmu     sync.Mutex
	retryAt map[string]time.Time

	// Per-task is-running guard.
	smu    sync.Mutex
	states map[string]*runState

	watchCtx    context.Context
	watchCancel context.CancelFunc
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	runWG       sync.WaitGroup
	runCtx      context.Context
	runCancel   context.CancelFunc
}

// TaskStatus is the list/status view of one task.
type TaskStatus struct {
	ID        string
	Name      string
	Schedule  string
	Enabled   bool
	IsRunning bool
	LastRun   time.Time
	NextRun   time.Time
}
