package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chime/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
log:
  level: debug
scheduler:
  max_concurrent: 8
  admission_delay: 3s
  default_timeout: 45s
alerts:
  quiet_hours:
    enabled: true
    start: "22:00"
    end: "08:00"
storage:
  path: /var/lib/chime/chime.db
http:
  enabled: true
  addr: 127.0.0.1:8321
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "chime.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Fatalf("max_concurrent = %d", cfg.Scheduler.MaxConcurrent)
	}
	if !cfg.Alerts.Quiet.Enabled || cfg.Alerts.Quiet.Start != "22:00" {
		t.Fatalf("quiet hours = %+v", cfg.Alerts.Quiet)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}

	settings, err := cfg.Scheduler.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if settings.AdmissionDelay != 3*time.Second || settings.DefaultTimeout != 45*time.Second {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "chime.yaml", "schedulr:\n  max_concurrent: 2\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("typo'd section must be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "chime.yaml", "scheduler:\n  admission_delay: fast\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("bad duration must be rejected")
	}
}

func TestValidateQuietHours(t *testing.T) {
	t.Parallel()
	body := "alerts:\n  quiet_hours:\n    enabled: true\n    start: \"26:00\"\n    end: \"08:00\"\n"
	m := NewManager(writeConfig(t, "chime.yaml", body), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("bad quiet hours must be rejected")
	}
}

func TestValidateTelegramSection(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "chime.yaml", "telegram:\n  chat_id: 42\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("telegram section without token must be rejected")
	}
}

func TestLogConfigDefaults(t *testing.T) {
	t.Parallel()
	lc := LogConfig{Level: "info"}.Logx()
	if !lc.Console {
		t.Fatal("console must default to on")
	}
	if lc.File.Enabled {
		t.Fatal("file sink must default to off")
	}

	off := false
	lc = LogConfig{Console: &off, File: "/tmp/chime.log"}.Logx()
	if lc.Console || !lc.File.Enabled {
		t.Fatalf("explicit config ignored: %+v", lc)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "chime.yaml", sampleYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{}
	m.commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got != next {
			t.Fatal("subscriber got a stale config")
		}
	default:
		t.Fatal("publish did not reach subscriber")
	}
}
