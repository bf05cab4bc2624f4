package config

// Config is the bot's on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Times of day are "HH:MM". Both JSON and YAML files are accepted; YAML is
// coerced to JSON and decoded strictly, so unknown keys are rejected in
// either format.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Reminder ReminderConfig `json:"reminder"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OperatorChatID receives admin alerts and dead-job reports.
	OperatorChatID int64 `json:"operator_chat_id"`

	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sprintbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig tunes the delivery engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - rate_per_sec: 10
//   - send_timeout: "10s"
//   - retry_base: "1s"
//   - retry_max_delay: "1m"
//   - max_attempts: 5
//   - dedup_horizon: "1h" (reminders always use 24h)
//   - defer_max: "24h"
//   - shutdown_grace: "15s"
type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`

	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`

	DedupHorizon  string `json:"dedup_horizon,omitempty"`
	DeferMax      string `json:"defer_max,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`

	// QuietHours is the global default window; per-chat overrides win.
	QuietHours *QuietHoursConfig `json:"quiet_hours,omitempty"`
}

type QuietHoursConfig struct {
	Start    string `json:"start"` // "22:00"
	End      string `json:"end"`   // "07:00"
	Timezone string `json:"timezone,omitempty"`
}

// ReminderConfig is the sprint reminder plan.
// Weekdays use 0=Sunday..6=Saturday; default is Mon/Wed/Fri at 09:00.
type ReminderConfig struct {
	Weekdays []int  `json:"weekdays,omitempty"`
	Time     string `json:"time,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
