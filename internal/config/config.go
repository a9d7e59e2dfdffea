package config

// Config is the daemon's global configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file may be JSON or YAML; YAML is coerced to JSON and both are decoded
// strictly (unknown fields are rejected).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"` // trace|debug|info|warn|error (default info)
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`         // default "./taskd.db"
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls trigger polling and execution defaults.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "1s"
//   - url_poll_interval: "5m"
//   - resource_poll_interval: "1m"
//   - retry_delay: "60s"
//   - dependency_window: "24h"
//   - stop_grace: "5s"
type SchedulerConfig struct {
	Timezone             string `json:"timezone,omitempty"` // IANA TZ
	PollInterval         string `json:"poll_interval,omitempty"`
	URLPollInterval      string `json:"url_poll_interval,omitempty"`
	ResourcePollInterval string `json:"resource_poll_interval,omitempty"`
	RetryDelay           string `json:"retry_delay,omitempty"`
	DependencyWindow     string `json:"dependency_window,omitempty"`
	StopGrace            string `json:"stop_grace,omitempty"`
}

// NotifyConfig controls the async notification pipeline.
//
// A transport with empty credentials is treated as unconfigured and its
// notifications are silently suppressed.
type NotifyConfig struct {
	Workers    int `json:"workers,omitempty"`      // default 2
	QueueSize  int `json:"queue_size,omitempty"`   // default 256
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 3

	Email    *EmailConfig    `json:"email,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type EmailConfig struct {
	SMTPServer string `json:"smtp_server"`
	SMTPPort   int    `json:"smtp_port,omitempty"` // default 587
	Username   string `json:"username"`
	Password   string `json:"password"`
	To         string `json:"to,omitempty"` // defaults to username
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// MonitorConfig holds the resource-threshold trigger knobs (percentages).
type MonitorConfig struct {
	CPUThreshold    float64 `json:"cpu_threshold,omitempty"`    // default 80
	MemoryThreshold float64 `json:"memory_threshold,omitempty"` // default 80
	DiskThreshold   float64 `json:"disk_threshold,omitempty"`   // default 90
	DiskPath        string  `json:"disk_path,omitempty"`        // default "/"
}
