// Package task defines the scheduled-task record, its lifecycle states, and
// the event payloads the scheduler publishes.
package task

import (
	"encoding/json"
	"strings"
	"time"

	"chime/internal/rule"
)

// Priority orders tasks and drives default alert-channel parameters.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its value. Unknown names default to
// normal (the scheduler never rejects a task over a priority typo).
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Status is the task state machine.
//
// PENDING -> RUNNING -> {PENDING (retry/recur), COMPLETED, FAILED}
// Any non-terminal state -> CANCELLED via CancelTask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a unit of scheduled work. While scheduled it is owned exclusively
// by the store; callers only ever see copies.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Kind tags payload semantics for interested subscribers; the scheduler
	// itself never interprets it.
	Kind string `json:"kind,omitempty"`

	// Payload is opaque caller data, returned unchanged on firing.
	Payload json.RawMessage `json:"payload,omitempty"`

	ScheduledAt time.Time `json:"scheduled_at"`
	Recurrence  rule.Rule `json:"recurrence,omitempty"`

	Priority Priority `json:"priority"`
	Channels []string `json:"channels"`

	Status Status `json:"status"`

	ExecutionCount int `json:"execution_count"`
	Retries        int `json:"retries"`
	MaxRetries     int `json:"max_retries"`

	// Timeout bounds a single execution. 0 means the scheduler default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Enabled is a soft kill-switch; a disabled task is never armed.
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (t Task) Clone() Task {
	cp := t
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Channels != nil {
		cp.Channels = append([]string(nil), t.Channels...)
	}
	return cp
}

// Event is the payload published on the event bus for task lifecycle events.
type Event struct {
	TaskID      string          `json:"task_id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	FiredAt     time.Time       `json:"fired_at"`
	Duration    time.Duration   `json:"duration,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	Retries     int             `json:"retries,omitempty"`
	NextAt      time.Time       `json:"next_at,omitzero"`
	RetryIn     time.Duration   `json:"retry_in,omitempty"`
	Error       string          `json:"error,omitempty"`
}
