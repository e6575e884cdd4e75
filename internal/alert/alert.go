// Package alert routes a firing task to its requested alert channels.
//
// The registry applies a global suppress gate (disabled / muted / quiet
// hours) before any channel is touched, then fans out to every requested
// channel concurrently and waits for all of them to settle. Channel failures
// are isolated: one broken or unregistered channel never blocks the others.
package alert

import (
	"context"
	"time"

	"chime/internal/task"
)

// Intent is the ephemeral alert request produced once per firing.
type Intent struct {
	TaskID      string        `json:"task_id"`
	Title       string        `json:"title"`
	Message     string        `json:"message,omitempty"`
	Priority    task.Priority `json:"priority"`
	Channels    []string      `json:"channels"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	FiredAt     time.Time     `json:"fired_at"`
}

// IntentFromTask builds the alert intent for a firing.
func IntentFromTask(t task.Task, firedAt time.Time) Intent {
	return Intent{
		TaskID:      t.ID,
		Title:       t.Name,
		Message:     t.Description,
		Priority:    t.Priority,
		Channels:    append([]string(nil), t.Channels...),
		ScheduledAt: t.ScheduledAt,
		FiredAt:     firedAt,
	}
}

// ChannelResult is the per-channel outcome of one dispatch.
type ChannelResult struct {
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	// Skipped marks a channel whose handler does not support the intent's
	// priority. A skip is a no-op, not an error.
	Skipped bool   `json:"skipped,omitempty"`
	Err     string `json:"err,omitempty"`
}

// Handler is the contract an alert channel implements. Handlers are expected
// to be cheap fire-and-forget triggers; the registry imposes no extra
// deadline on them beyond the caller's context.
type Handler interface {
	Name() string
	SupportsPriority(p task.Priority) bool
	Handle(ctx context.Context, intent Intent) error
}
