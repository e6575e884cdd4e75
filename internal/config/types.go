// Package config loads, validates and hot-reloads the daemon configuration.
//
// Config files are YAML (or JSON); YAML is coerced to JSON so one strict
// decoder with DisallowUnknownFields covers both formats. All durations are
// Go duration strings ("30s", "5m").
package config

import (
	"fmt"
	"time"

	"chime/internal/alert"
	"chime/pkg/logx"
)

type Config struct {
	Log       LogConfig       `json:"log"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alerts    AlertsConfig    `json:"alerts"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`

	// Console is a pointer so "omitted" (default true) differs from an
	// explicit false.
	Console *bool  `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

// Logx maps the section onto the logging service config.
func (c LogConfig) Logx() logx.Config {
	console := true
	if c.Console != nil {
		console = *c.Console
	}
	return logx.Config{
		Level:   c.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.File != "",
			Path:    c.File,
		},
	}
}

type SchedulerConfig struct {
	MaxConcurrent     int    `json:"max_concurrent,omitempty"`
	AdmissionDelay    string `json:"admission_delay,omitempty"`
	DefaultMaxRetries int    `json:"default_max_retries,omitempty"`
	DefaultTimeout    string `json:"default_timeout,omitempty"`
	HistorySize       int    `json:"history_size,omitempty"`
}

type AlertsConfig struct {
	// Enabled is the master alert switch; omitted means on.
	Enabled *bool       `json:"enabled,omitempty"`
	Quiet   QuietConfig `json:"quiet_hours"`
}

func (c AlertsConfig) On() bool { return c.Enabled == nil || *c.Enabled }

type QuietConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

func (c QuietConfig) QuietHours() alert.QuietHours {
	return alert.QuietHours{Enabled: c.Enabled, Start: c.Start, End: c.End}
}

type TelegramConfig struct {
	Token             string `json:"token"`
	ChatID            int64  `json:"chat_id"`
	MinPriority       string `json:"min_priority,omitempty"`
	MessagesPerMinute int    `json:"messages_per_minute,omitempty"`
}

type StorageConfig struct {
	// Path to the sqlite database. Empty runs memory-only: the schedule is
	// lost on restart.
	Path string `json:"path,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
}

// Validate rejects configs that would misbehave at runtime. It parses every
// duration and the quiet-hours bounds so a bad reload never reaches the
// running services.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("scheduler.admission_delay", c.Scheduler.AdmissionDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return fmt.Errorf("scheduler.max_concurrent: must be >= 0")
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		return fmt.Errorf("scheduler.default_max_retries: must be >= 0")
	}
	if err := c.Alerts.Quiet.QuietHours().Validate(); err != nil {
		return fmt.Errorf("alerts.quiet_hours: %w", err)
	}
	if c.Telegram != nil {
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token: required when the telegram section is present")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id: required when the telegram section is present")
		}
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr: required when http.enabled is true")
	}
	return nil
}

// SchedulerSettings materializes the scheduler section with durations parsed.
type SchedulerSettings struct {
	MaxConcurrent     int
	AdmissionDelay    time.Duration
	DefaultMaxRetries int
	DefaultTimeout    time.Duration
	HistorySize       int
}

func (c SchedulerConfig) Settings() (SchedulerSettings, error) {
	admission, err := ParseDurationField("scheduler.admission_delay", c.AdmissionDelay)
	if err != nil {
		return SchedulerSettings{}, err
	}
	timeout, err := ParseDurationField("scheduler.default_timeout", c.DefaultTimeout)
	if err != nil {
		return SchedulerSettings{}, err
	}
	return SchedulerSettings{
		MaxConcurrent:     c.MaxConcurrent,
		AdmissionDelay:    admission,
		DefaultMaxRetries: c.DefaultMaxRetries,
		DefaultTimeout:    timeout,
		HistorySize:       c.HistorySize,
	}, nil
}
