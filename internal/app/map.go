package app

import (
	"fmt"
	"strings"
	"time"

	"sprintbot/internal/config"
	"sprintbot/internal/notify"
	"sprintbot/internal/storage"
	logx "sprintbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" && driver == "sqlite" {
		path = "./sprintbot.db"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (notify.DispatcherConfig, error) {
	n := cfg.Notifier
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notify.DispatcherConfig{}, err
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notify.DispatcherConfig{}, err
	}
	retryMax, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notify.DispatcherConfig{}, err
	}
	return notify.DispatcherConfig{
		Workers:       n.Workers,
		RatePerSec:    n.RatePerSec,
		SendTimeout:   sendTimeout,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMax,
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return notify.Config{}, err
	}

	n := cfg.Notifier
	dedupHorizon, err := config.ParseDurationField("notifier.dedup_horizon", n.DedupHorizon)
	if err != nil {
		return notify.Config{}, err
	}
	deferMax, err := config.ParseDurationField("notifier.defer_max", n.DeferMax)
	if err != nil {
		return notify.Config{}, err
	}
	grace, err := config.ParseDurationField("notifier.shutdown_grace", n.ShutdownGrace)
	if err != nil {
		return notify.Config{}, err
	}

	var quiet notify.Window
	if qh := n.QuietHours; qh != nil {
		quiet, err = notify.NewWindow(qh.Start, qh.End, qh.Timezone)
		if err != nil {
			return notify.Config{}, fmt.Errorf("notifier.quiet_hours: %w", err)
		}
	}

	plan, err := mapReminderPlan(cfg.Reminder)
	if err != nil {
		return notify.Config{}, err
	}

	return notify.Config{
		Queue: notify.QueueConfig{
			DedupHorizon: dedupHorizon,
			DeferMax:     deferMax,
		},
		Dispatcher:    dcfg,
		MaxAttempts:   n.MaxAttempts,
		QuietDefault:  quiet,
		Reminder:      plan,
		OperatorChat:  cfg.Telegram.OperatorChatID,
		ShutdownGrace: grace,
	}, nil
}

func mapReminderPlan(rc config.ReminderConfig) (notify.ReminderPlan, error) {
	loc := time.Local
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return notify.ReminderPlan{}, fmt.Errorf("reminder.timezone: %w", err)
		}
		loc = l
	}

	plan := notify.DefaultReminderPlan(loc)

	if len(rc.Weekdays) > 0 {
		days := make([]time.Weekday, 0, len(rc.Weekdays))
		for _, d := range rc.Weekdays {
			if d < 0 || d > 6 {
				return notify.ReminderPlan{}, fmt.Errorf("reminder.weekdays: %d out of range 0..6", d)
			}
			days = append(days, time.Weekday(d))
		}
		plan.Weekdays = days
	}
	if t := strings.TrimSpace(rc.Time); t != "" {
		at, err := time.Parse("15:04", t)
		if err != nil {
			return notify.ReminderPlan{}, fmt.Errorf("reminder.time: invalid %q (want HH:MM)", rc.Time)
		}
		plan.Hour, plan.Minute = at.Hour(), at.Minute()
	}
	return plan, nil
}
