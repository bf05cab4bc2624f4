package config

import (
	"fmt"
	"time"
)

// Validate checks the parse-level constraints that do not require any running
// component: required fields, clock/duration formats, timezone names. It is
// used both at startup and as the watcher's pre-commit gate.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token: required")
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"notifier.send_timeout", c.Notifier.SendTimeout},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.dedup_horizon", c.Notifier.DedupHorizon},
		{"notifier.defer_max", c.Notifier.DeferMax},
		{"notifier.shutdown_grace", c.Notifier.ShutdownGrace},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Notifier.Workers < 0 {
		return fmt.Errorf("notifier.workers: must be >= 0")
	}
	if c.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec: must be >= 0")
	}
	if c.Notifier.MaxAttempts < 0 {
		return fmt.Errorf("notifier.max_attempts: must be >= 0")
	}

	if qh := c.Notifier.QuietHours; qh != nil {
		if err := checkClock("notifier.quiet_hours.start", qh.Start); err != nil {
			return err
		}
		if err := checkClock("notifier.quiet_hours.end", qh.End); err != nil {
			return err
		}
		if err := checkTimezone("notifier.quiet_hours.timezone", qh.Timezone); err != nil {
			return err
		}
	}

	for i, d := range c.Reminder.Weekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("reminder.weekdays[%d]: %d out of range 0..6", i, d)
		}
	}
	if c.Reminder.Time != "" {
		if err := checkClock("reminder.time", c.Reminder.Time); err != nil {
			return err
		}
	}
	if err := checkTimezone("reminder.timezone", c.Reminder.Timezone); err != nil {
		return err
	}

	return nil
}

func checkClock(path, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: required", path)
	}
	if _, err := time.Parse("15:04", raw); err != nil {
		return fmt.Errorf("%s: invalid time %q (want HH:MM)", path, raw)
	}
	return nil
}

func checkTimezone(path, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := time.LoadLocation(raw); err != nil {
		return fmt.Errorf("%s: unknown timezone %q", path, raw)
	}
	return nil
}
