package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionKind selects how a task's work is performed.
type ActionKind int

const (
	// ActionShell runs a command via the system shell.
	ActionShell ActionKind = iota
	// ActionHTTP performs a GET against a URL and records the response summary.
	ActionHTTP
	// ActionFunc invokes a named in-process function.
	ActionFunc
)

func (k ActionKind) String() string {
	switch k {
	case ActionShell:
		return "shell"
	case ActionHTTP:
		return "http"
	case ActionFunc:
		return "func"
	default:
		return "unknown"
	}
}

// Action is the tagged work descriptor of a task.
//
// The kind is decided once at registration time (ParseAction); execution
// never re-sniffs the raw string.
type Action struct {
	Kind    ActionKind
	Command string // shell command (ActionShell)
	URL     string // target URL (ActionHTTP)
	Func    string // registered function name (ActionFunc)
}

// ParseAction classifies a raw command string into an Action.
//
// Accepted forms:
//   - "func:report_disk_usage"  -> in-process function
//   - "http://..." / "https://..." -> HTTP GET
//   - anything else -> shell command
func ParseAction(raw string) (Action, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Action{}, errors.New("command required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "func:"):
		name := strings.TrimSpace(s[len("func:"):])
		if name == "" {
			return Action{}, errors.New("function name required after 'func:'")
		}
		return Action{Kind: ActionFunc, Func: name}, nil
	case strings.HasPrefix(low, "http://"), strings.HasPrefix(low, "https://"):
		return Action{Kind: ActionHTTP, URL: s}, nil
	default:
		return Action{Kind: ActionShell, Command: s}, nil
	}
}

// Raw returns the serialized command form the action was parsed from.
func (a Action) Raw() string {
	switch a.Kind {
	case ActionHTTP:
		return a.URL
	case ActionFunc:
		return "func:" + a.Func
	default:
		return a.Command
	}
}

// Task is a schedulable unit of work.
//
// The registry owns the canonical record; LastRun/NextRun/RetryCount are
// runtime fields mutated only through the registry so concurrent readers
// see consistent state.
type Task struct {
	ID       string
	Name     string
	Action   Action
	Schedule string
	Enabled  bool

	MaxRetries int
	Timeout    time.Duration
	DependsOn  []string

	NotifyOnSuccess bool
	NotifyOnFailure bool

	LastRun    time.Time // zero means never ran
	NextRun    time.Time // informational
	RetryCount int
}

// DefaultTimeout applies when a definition omits the timeout.
const DefaultTimeout = 300 * time.Second

// Definition is the wire/storage form of a Task.
//
// Field names follow the persisted JSON layout so existing task descriptions
// keep working: timeouts are plain seconds, timestamps RFC 3339.
type Definition struct {
	ID              string   `json:"task_id"`
	Name            string   `json:"name"`
	Command         string   `json:"command"`
	Schedule        string   `json:"schedule_expr"`
	Enabled         *bool    `json:"enabled,omitempty"`
	MaxRetries      int      `json:"max_retries,omitempty"`
	TimeoutSeconds  int      `json:"timeout,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	NotifyOnSuccess bool     `json:"notify_on_success,omitempty"`
	NotifyOnFailure *bool    `json:"notify_on_failure,omitempty"`
	LastRun         string   `json:"last_run,omitempty"`
	NextRun         string   `json:"next_run,omitempty"`
}

// FromDefinition validates a definition and builds the runtime Task.
func FromDefinition(d Definition) (*Task, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return nil, errors.New("task_id required")
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = id
	}
	act, err := ParseAction(d.Command)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	if strings.TrimSpace(d.Schedule) == "" {
		return nil, fmt.Errorf("task %s: schedule_expr required", id)
	}

	t := &Task{
		ID:              id,
		Name:            name,
		Action:          act,
		Schedule:        strings.TrimSpace(d.Schedule),
		Enabled:         true,
		MaxRetries:      d.MaxRetries,
		Timeout:         DefaultTimeout,
		DependsOn:       append([]string(nil), d.Dependencies...),
		NotifyOnFailure: true,
		NotifyOnSuccess: d.NotifyOnSuccess,
	}
	if d.Enabled != nil {
		t.Enabled = *d.Enabled
	}
	if d.NotifyOnFailure != nil {
		t.NotifyOnFailure = *d.NotifyOnFailure
	}
	if d.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(d.TimeoutSeconds) * time.Second
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if d.LastRun != "" {
		ts, err := time.Parse(time.RFC3339Nano, d.LastRun)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid last_run: %w", id, err)
		}
		t.LastRun = ts
	}
	if d.NextRun != "" {
		ts, err := time.Parse(time.RFC3339Nano, d.NextRun)
		if err != nil {
			return nil, fmt.Errorf("task %s: invalid next_run: %w", id, err)
		}
		t.NextRun = ts
	}
	return t, nil
}

// Definition converts the task back into its wire/storage form.
func (t *Task) Definition() Definition {
	en := t.Enabled
	nf := t.NotifyOnFailure
	d := Definition{
		ID:              t.ID,
		Name:            t.Name,
		Command:         t.Action.Raw(),
		Schedule:        t.Schedule,
		Enabled:         &en,
		MaxRetries:      t.MaxRetries,
		TimeoutSeconds:  int(t.Timeout / time.Second),
		Dependencies:    append([]string(nil), t.DependsOn...),
		NotifyOnSuccess: t.NotifyOnSuccess,
		NotifyOnFailure: &nf,
	}
	if !t.LastRun.IsZero() {
		d.LastRun = t.LastRun.Format(time.RFC3339Nano)
	}
	if !t.NextRun.IsZero() {
		d.NextRun = t.NextRun.Format(time.RFC3339Nano)
	}
	return d
}

// ParseDefinition decodes a JSON task description (the -add-task payload).
func ParseDefinition(data []byte) (*Task, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return FromDefinition(d)
}

// Clone returns a copy safe to hand to other goroutines.
func (t *Task) Clone() *Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	return &cp
}
