// Package notifier delivers task outcome summaries through configured
// messaging transports. Delivery is asynchronous and best-effort: transport
// failures are logged and never affect task status.
package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Transport sends one rendered message somewhere external.
type Transport interface {
	Name() string
	Send(ctx context.Context, subject, body string) error
}

type Message struct {
	Subject string
	Body    string
}

type Config struct {
	Workers    int // default 2
	QueueSize  int // default 256
	RatePerSec int // default 3
}

// Service is the async notification pipeline: queue + worker pool + rate
// limit. With no transports configured, Notify is a silent no-op.
type Service struct {
	cfg        Config
	log        logx.Logger
	transports []Transport
	limiter    *rate.Limiter

	mu        sync.Mutex
	queue     chan Message
	accepting bool
	sendWG    sync.WaitGroup

	cancel   context.CancelFunc
	workerWG sync.WaitGroup
}

func New(cfg Config, transports []Transport, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		transports: transports,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || len(s.transports) == 0 {
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i := 0; i < s.cfg.Workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(runCtx)
		}()
	}
}

// Stop blocks new intake and waits for workers, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.cancel
	s.accepting = false
	s.queue = nil
	s.cancel = nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	// Wait for in-flight enqueues before closing so Notify never hits a
	// closed channel.
	s.sendWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// ShouldNotify applies the per-task notification flags to an outcome.
func ShouldNotify(t *task.Task, r *task.Result) bool {
	return (r.Status == task.StatusCompleted && t.NotifyOnSuccess) ||
		(r.Status == task.StatusFailed && t.NotifyOnFailure)
}

// Notify enqueues an outcome summary if the task's flags ask for one.
// A full queue drops the message with a warning; Notify never blocks.
func (s *Service) Notify(t *task.Task, r *task.Result) {
	if !ShouldNotify(t, r) {
		return
	}

	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	if accepting {
		s.sendWG.Add(1)
	}
	s.mu.Unlock()
	if q == nil || !accepting {
		// No transports configured (or already stopped): suppress silently.
		return
	}
	defer s.sendWG.Done()

	msg := Render(t, r)
	select {
	case q <- msg:
	default:
		s.log.Warn("notification dropped, queue full", logx.String("task", t.ID))
	}
}

func (s *Service) workerLoop(ctx context.Context) {
	for msg := range s.queue0() {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		for _, tr := range s.transports {
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := tr.Send(sendCtx, msg.Subject, msg.Body)
			cancel()
			if err != nil {
				s.log.Warn("notification send failed", logx.String("transport", tr.Name()), logx.Err(err))
			} else {
				s.log.Debug("notification sent", logx.String("transport", tr.Name()), logx.String("subject", msg.Subject))
			}
		}
	}
}

func (s *Service) queue0() chan Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// Render builds the human-readable outcome summary.
func Render(t *task.Task, r *task.Result) Message {
	subject := fmt.Sprintf("Task %s: %s", titleStatus(r.Status), t.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s (%s)\n", t.Name, t.ID)
	fmt.Fprintf(&b, "Status: %s\n", titleStatus(r.Status))
	fmt.Fprintf(&b, "Start Time: %s\n", r.StartTime.Format(time.RFC3339))
	if !r.EndTime.IsZero() {
		fmt.Fprintf(&b, "End Time: %s\n", r.EndTime.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Duration: %.2f seconds\n", r.Duration.Seconds())
	if r.Output != "" {
		fmt.Fprintf(&b, "\nOutput:\n%s\n", r.Output)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s\n", r.Error)
	}
	return Message{Subject: subject, Body: b.String()}
}

func titleStatus(s task.Status) string {
	v := string(s)
	if v == "" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}
