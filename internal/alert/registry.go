package alert

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chime/internal/clock"
	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/pkg/logx"
)

// QuietHours is a daily window during which all alerts are suppressed.
// Start and End are wall-clock "HH:MM"; the window may wrap midnight
// (e.g. 22:00 to 08:00).
type QuietHours struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

// Validate checks the window bounds. A disabled window is always valid.
func (q QuietHours) Validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := parseWallClock(q.Start); err != nil {
		return fmt.Errorf("quiet hours start: %w", err)
	}
	if _, err := parseWallClock(q.End); err != nil {
		return fmt.Errorf("quiet hours end: %w", err)
	}
	return nil
}

// Settings is the registry's global gate state.
type Settings struct {
	Enabled   bool       `json:"enabled"`
	MuteUntil time.Time  `json:"mute_until,omitzero"`
	Quiet     QuietHours `json:"quiet_hours"`
}

// Registry owns the alert channel handlers and the global suppress gate.
type Registry struct {
	clk clock.Clock
	bus eventbus.Bus
	log logx.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	settings Settings
}

func NewRegistry(clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Registry {
	if clk == nil {
		clk = clock.System()
	}
	return &Registry{
		clk:      clk,
		bus:      bus,
		log:      log.With(logx.String("component", "alert")),
		handlers: map[string]Handler{},
		settings: Settings{Enabled: true},
	}
}

// Register installs a handler under its own name, replacing any previous
// handler with that name.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Channels returns the registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Settings returns a snapshot of the gate state.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// SetEnabled flips the master switch.
func (r *Registry) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.Enabled = on
}

// Mute suppresses all alerts for the given duration from now.
func (r *Registry) Mute(d time.Duration) time.Time {
	until := r.clk.Now().Add(d)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.MuteUntil = until
	return until
}

// Unmute clears any active mute.
func (r *Registry) Unmute() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.MuteUntil = time.Time{}
}

// SetQuietHours replaces the quiet-hours window. Start/End must parse as
// "HH:MM" when the window is enabled.
func (r *Registry) SetQuietHours(q QuietHours) error {
	if err := q.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.Quiet = q
	return nil
}

// Dispatch runs an intent through the gate and, if it passes, fans it out to
// every requested channel concurrently, waiting for all of them to settle.
//
// A suppressed dispatch returns a *SuppressedError and publishes a
// dispatch.suppressed event; it is not a channel failure. Per-channel
// outcomes (including failures and skips) are reported in the results, and
// never abort the siblings.
func (r *Registry) Dispatch(ctx context.Context, intent Intent) ([]ChannelResult, error) {
	if len(intent.Channels) == 0 {
		return nil, ErrNoChannels
	}

	if reason, suppressed := r.gate(r.clk.Now()); suppressed {
		r.bus.Publish(eventbus.Event{
			Kind: eventbus.KindDispatchSuppressed,
			Data: map[string]any{
				"task_id": intent.TaskID,
				"title":   intent.Title,
				"reason":  reason,
			},
		})
		r.log.Debug("alert suppressed",
			logx.String("task_id", intent.TaskID),
			logx.String("reason", reason))
		return nil, &SuppressedError{Reason: reason}
	}

	results := r.fanout(ctx, intent)
	for _, res := range results {
		switch {
		case res.Skipped:
			r.log.Debug("channel skipped",
				logx.String("task_id", intent.TaskID),
				logx.String("channel", res.Channel))
		case !res.OK:
			r.log.Warn("channel failed",
				logx.String("task_id", intent.TaskID),
				logx.String("channel", res.Channel),
				logx.String("err", res.Err))
		}
	}
	return results, nil
}

// TestChannel fires a synthetic intent at a single channel, bypassing the
// gate. Used by the HTTP API to let operators verify channel wiring.
func (r *Registry) TestChannel(ctx context.Context, name string) error {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown channel %q", name)
	}
	now := r.clk.Now()
	return h.Handle(ctx, Intent{
		TaskID:      "test",
		Title:       "Test alert",
		Message:     "channel " + name + " is wired",
		Priority:    task.PriorityNormal,
		Channels:    []string{name},
		ScheduledAt: now,
		FiredAt:     now,
	})
}

func (r *Registry) fanout(ctx context.Context, intent Intent) []ChannelResult {
	r.mu.RLock()
	handlers := make([]Handler, len(intent.Channels))
	for i, name := range intent.Channels {
		handlers[i] = r.handlers[name] // nil when unregistered
	}
	r.mu.RUnlock()

	results := make([]ChannelResult, len(intent.Channels))
	var wg sync.WaitGroup
	for i, name := range intent.Channels {
		results[i].Channel = name
		h := handlers[i]
		if h == nil {
			results[i].Err = "no handler registered"
			continue
		}
		if !h.SupportsPriority(intent.Priority) {
			results[i].Skipped = true
			continue
		}
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, intent); err != nil {
				results[i].Err = err.Error()
				return
			}
			results[i].OK = true
		}(i, h)
	}
	wg.Wait()
	return results
}

// gate evaluates the suppression stages in order: master switch, mute,
// quiet hours. Returns the first matching reason.
func (r *Registry) gate(now time.Time) (string, bool) {
	r.mu.RLock()
	s := r.settings
	r.mu.RUnlock()

	if !s.Enabled {
		return ReasonDisabled, true
	}
	if !s.MuteUntil.IsZero() && now.Before(s.MuteUntil) {
		return ReasonMuted, true
	}
	if s.Quiet.Enabled && inWindow(now, s.Quiet.Start, s.Quiet.End) {
		return ReasonQuietHours, true
	}
	return "", false
}

// inWindow reports whether now's wall-clock time falls in [start, end),
// handling windows that wrap midnight. Malformed bounds fail open.
func inWindow(now time.Time, start, end string) bool {
	s, err := parseWallClock(start)
	if err != nil {
		return false
	}
	e, err := parseWallClock(end)
	if err != nil {
		return false
	}
	m := now.Hour()*60 + now.Minute()
	if s == e {
		return false
	}
	if s < e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

// parseWallClock parses "HH:MM" into minutes since midnight.
func parseWallClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("bad wall clock %q", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", v)
	}
	return h*60 + m, nil
}
