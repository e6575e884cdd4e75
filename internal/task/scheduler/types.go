package scheduler

import (
	"context"
	"time"

	"chime/internal/rule"
	"chime/internal/task"
)

// Executor performs the work a firing task stands for. The scheduler owns
// timing, retries and timeouts; the executor owns the side effect.
type Executor interface {
	Execute(ctx context.Context, t task.Task, firedAt time.Time) error
}

// Repository persists task records across restarts. All methods must be safe
// for concurrent use. The scheduler works fine with a nil repository; it just
// forgets everything on exit.
type Repository interface {
	UpsertTask(ctx context.Context, t task.Task) error
	MarkStatus(ctx context.Context, id string, st task.Status, at time.Time) error
	// ListActive returns every non-terminal task for restore on startup.
	ListActive(ctx context.Context) ([]task.Task, error)
}

type Config struct {
	// MaxConcurrent bounds simultaneously executing tasks.
	MaxConcurrent int

	// AdmissionDelay is how long a firing is pushed back when every permit
	// is taken. Admission pushback does not consume a retry.
	AdmissionDelay time.Duration

	// DefaultMaxRetries applies to tasks created with MaxRetries == 0.
	DefaultMaxRetries int

	// DefaultTimeout bounds executions of tasks with Timeout == 0.
	DefaultTimeout time.Duration

	// HistorySize is the execution history ring capacity.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.AdmissionDelay <= 0 {
		c.AdmissionDelay = 5 * time.Second
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 128
	}
	return c
}

// Update is a partial task modification; nil fields are left untouched.
type Update struct {
	Name        *string
	Description *string
	ScheduledAt *time.Time
	Recurrence  *rule.Rule
	Priority    *task.Priority
	Channels    *[]string
	MaxRetries  *int
	Timeout     *time.Duration
	Enabled     *bool
}

// Record is one entry of the execution history ring.
type Record struct {
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Outcome  string        `json:"outcome"`
	FiredAt  time.Time     `json:"fired_at"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempt  int           `json:"attempt,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Record outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeRetried   = "retried"
	OutcomeCancelled = "cancelled"
)

// Snapshot is a point-in-time diagnostic view of the scheduler.
type Snapshot struct {
	Pending        int      `json:"pending"`
	Running        int      `json:"running"`
	PermitsInUse   int      `json:"permits_in_use"`
	PermitCapacity int      `json:"permit_capacity"`
	Recent         []Record `json:"recent,omitempty"`
}
