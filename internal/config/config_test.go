package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validJSON = `{
  "telegram": {"token": "123:abc", "operator_chat_id": 99},
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "./bot.db", "busy_timeout": "2s"},
  "notifier": {
    "workers": 8,
    "rate_per_sec": 20,
    "send_timeout": "5s",
    "retry_base": "500ms",
    "quiet_hours": {"start": "22:00", "end": "07:00", "timezone": "UTC"}
  },
  "reminder": {"weekdays": [1, 3, 5], "time": "09:00", "timezone": "UTC"}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.OperatorChatID != 99 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Notifier.Workers != 8 || cfg.Notifier.QuietHours == nil || cfg.Notifier.QuietHours.Start != "22:00" {
		t.Fatalf("notifier section = %+v", cfg.Notifier)
	}
	if len(cfg.Reminder.Weekdays) != 3 || cfg.Reminder.Weekdays[1] != 3 {
		t.Fatalf("reminder section = %+v", cfg.Reminder)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Load did not commit the config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
  operator_chat_id: 99
logging:
  console: true
notifier:
  send_timeout: 5s
  quiet_hours:
    start: "22:00"
    end: "07:00"
`
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Notifier.SendTimeout != "5s" {
		t.Fatalf("yaml config = %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"telegram": {"token": "t", "typo_field": 1}}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"telegram": {"token": "t"}} {"extra": true}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("trailing JSON document accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "missing token", mutate: func(cfg *Config) { cfg.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad duration", mutate: func(cfg *Config) { cfg.Notifier.SendTimeout = "5 parsecs" }, wantErr: "send_timeout"},
		{name: "negative workers", mutate: func(cfg *Config) { cfg.Notifier.Workers = -1 }, wantErr: "workers"},
		{name: "bad quiet clock", mutate: func(cfg *Config) { cfg.Notifier.QuietHours = &QuietHoursConfig{Start: "25:00", End: "07:00"} }, wantErr: "quiet_hours.start"},
		{name: "bad timezone", mutate: func(cfg *Config) {
			cfg.Notifier.QuietHours = &QuietHoursConfig{Start: "22:00", End: "07:00", Timezone: "Nowhere/Zone"}
		}, wantErr: "timezone"},
		{name: "weekday out of range", mutate: func(cfg *Config) { cfg.Reminder.Weekdays = []int{1, 9} }, wantErr: "weekdays"},
		{name: "bad reminder time", mutate: func(cfg *Config) { cfg.Reminder.Time = "9am" }, wantErr: "reminder.time"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}

	good := &Config{Telegram: TelegramConfig{Token: "t"}}
	if err := good.Validate(); err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "t"}, Notifier: NotifierConfig{Workers: 4}}
	b := &Config{Telegram: TelegramConfig{Token: "t"}, Notifier: NotifierConfig{Workers: 8}}

	got := ChangedSections(a, b)
	if len(got) != 1 || got[0] != "notifier" {
		t.Fatalf("ChangedSections = %v, want [notifier]", got)
	}
	if got := ChangedSections(a, a); len(got) != 0 {
		t.Fatalf("identical configs reported changes: %v", got)
	}
}

func TestReloadKeepsLastGoodConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", validJSON)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// A broken edit must not replace the committed config.
	if err := os.WriteFile(path, []byte("{ not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.reload()
	if got := m.Get(); got != cfg {
		t.Fatal("broken reload replaced the committed config")
	}

	// A valid edit is committed and published.
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	fixed := strings.Replace(validJSON, `"workers": 8`, `"workers": 2`, 1)
	if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.reload()
	select {
	case got := <-sub:
		if got.Notifier.Workers != 2 {
			t.Fatalf("published workers = %d, want 2", got.Notifier.Workers)
		}
	case <-time.After(time.Second):
		t.Fatal("valid reload not published")
	}
}
