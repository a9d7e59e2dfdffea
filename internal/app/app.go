package app

import (
	"context"
	"fmt"
	"time"

	"taskd/internal/config"
	"taskd/internal/executor"
	"taskd/internal/notifier"
	"taskd/internal/registry"
	"taskd/internal/scheduler"
	"taskd/internal/storage"
	"taskd/internal/trigger"
	logx "taskd/pkg/logx"
)

// App wires configuration, storage, the task registry, the executor, the
// notification pipeline and the scheduler into one lifecycle.
type App struct {
	cfg config.Config

	log  logx.Logger
	logs *logx.Service

	store *storage.Store
	reg   *registry.Registry
	funcs *executor.Funcs
	exec  *executor.Executor
	notif *notifier.Service
	sched *scheduler.Service
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "./taskd.db"
	}
	store, err := storage.Open(storage.Config{
		Path:        dbPath,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.New(store, log.With(logx.String("comp", "registry")))

	funcs := executor.NewFuncs()
	registerBuiltins(funcs, store)
	exec := executor.New(funcs, log.With(logx.String("comp", "executor")))

	notif := notifier.New(notifier.Config{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		RatePerSec: cfg.Notify.RatePerSec,
	}, buildTransports(cfg.Notify, log), log.With(logx.String("comp", "notifier")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}
	sched, err := scheduler.New(schedCfg, reg, exec, store, notif,
		log.With(logx.String("comp", "scheduler")))
	if err != nil {
		store.Close()
		logSvc.Close()
		return nil, err
	}

	return &App{
		cfg:   cfg,
		log:   log,
		logs:  logSvc,
		store: store,
		reg:   reg,
		funcs: funcs,
		exec:  exec,
		notif: notif,
		sched: sched,
	}, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Registry() *registry.Registry  { return a.reg }
func (a *App) Store() *storage.Store         { return a.store }
func (a *App) Logger() logx.Logger           { return a.log }

// LoadTasks pulls persisted task definitions into the registry. Safe to
// call before Start for the one-shot commands.
func (a *App) LoadTasks(ctx context.Context) int {
	return a.reg.Load(ctx)
}

func (a *App) Start(ctx context.Context) error {
	n := a.reg.Load(ctx)
	a.log.Info("tasks loaded", logx.Int("count", n))

	a.notif.Start(ctx)
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	notifyStopping(a.log)

	// One stalled component must not starve the rest of the shutdown.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error",
				logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end",
			logx.String("name", name),
			logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 10*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// Close releases resources without the full Stop sequence. Used by the
// one-shot commands that never call Start.
func (a *App) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.logs.Close()
}

func buildTransports(cfg config.NotifyConfig, log logx.Logger) []notifier.Transport {
	var transports []notifier.Transport
	if em := notifier.NewEmail(cfg.Email); em != nil {
		transports = append(transports, em)
	}
	tg, err := notifier.NewTelegram(cfg.Telegram)
	if err != nil {
		log.Warn("telegram transport unavailable", logx.Err(err))
	} else if tg != nil {
		transports = append(transports, tg)
	}
	return transports
}

func mapSchedulerConfig(cfg config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	poll, err := config.ParseDurationField("scheduler.poll_interval", sc.PollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	urlPoll, err := config.ParseDurationField("scheduler.url_poll_interval", sc.URLPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	resPoll, err := config.ParseDurationField("scheduler.resource_poll_interval", sc.ResourcePollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	retryDelay, err := config.ParseDurationField("scheduler.retry_delay", sc.RetryDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	depWindow, err := config.ParseDurationField("scheduler.dependency_window", sc.DependencyWindow)
	if err != nil {
		return scheduler.Config{}, err
	}
	stopGrace, err := config.ParseDurationField("scheduler.stop_grace", sc.StopGrace)
	if err != nil {
		return scheduler.Config{}, err
	}

	mon := cfg.Monitor
	th := trigger.Thresholds{
		CPU:    mon.CPUThreshold,
		Memory: mon.MemoryThreshold,
		Disk:   mon.DiskThreshold,
	}
	if th.CPU == 0 {
		th.CPU = 80
	}
	if th.Memory == 0 {
		th.Memory = 80
	}
	if th.Disk == 0 {
		th.Disk = 90
	}

	return scheduler.Config{
		Timezone:             sc.Timezone,
		PollInterval:         poll,
		URLPollInterval:      urlPoll,
		ResourcePollInterval: resPoll,
		RetryDelay:           retryDelay,
		DependencyWindow:     depWindow,
		StopGrace:            stopGrace,
		Thresholds:           th,
		DiskPath:             mon.DiskPath,
	}, nil
}
