package config

import "reflect"

// ChangedSections names the top-level sections that differ between two
// configs. Used to log a compact reload summary and to warn about sections
// that only take effect after a restart.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		out = append(out, "telegram")
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		out = append(out, "logging")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		out = append(out, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Reminder, newCfg.Reminder) {
		out = append(out, "reminder")
	}
	return out
}
