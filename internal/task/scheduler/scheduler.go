// Package scheduler turns task records into timer-driven executions: it owns
// arming, firing, retries with exponential backoff, execution timeouts and a
// bounded concurrency permit pool.
//
// One rule keeps the whole package honest: every (status, timer) transition
// goes through the store under its lock, guarded by a per-task generation.
// Cancelling, updating or rescheduling bumps the generation, so a timer that
// already left the gate can never act on a task it no longer owns.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chime/internal/clock"
	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/internal/task/store"
	"chime/pkg/logx"
)

// Deps are the scheduler's collaborators. Clock defaults to the system
// clock; Repo may be nil for a memory-only scheduler.
type Deps struct {
	Clock    clock.Clock
	Bus      eventbus.Bus
	Executor Executor
	Repo     Repository
	Log      logx.Logger
}

type Scheduler struct {
	cfg  Config
	clk  clock.Clock
	bus  eventbus.Bus
	exec Executor
	repo Repository
	log  logx.Logger

	store   *store.Store
	hist    *history
	permits chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Scheduler {
	cfg = cfg.withDefaults()
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		clk:     clk,
		bus:     deps.Bus,
		exec:    deps.Executor,
		repo:    deps.Repo,
		log:     deps.Log.With(logx.String("component", "scheduler")),
		store:   store.New(),
		hist:    newHistory(cfg.HistorySize),
		permits: make(chan struct{}, cfg.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start restores persisted tasks and arms their timers. Tasks that came due
// while the process was down fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	tasks, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: restore: %w", err)
	}
	now := s.clk.Now()
	restored, overdue := 0, 0
	for _, t := range tasks {
		// A task that was RUNNING when the process died never finished;
		// treat the interrupted attempt as if it had not started.
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPending
		}
		if t.Status != task.StatusPending {
			continue
		}
		gen := s.store.Put(t)
		if t.Enabled {
			if !t.ScheduledAt.After(now) {
				overdue++
			}
			s.arm(t.ID, gen, t.ScheduledAt)
		}
		restored++
	}
	s.log.Info("schedule restored",
		logx.Int("tasks", restored),
		logx.Int("overdue", overdue))
	return nil
}

// Stop disarms everything and waits for in-flight executions to finish, up
// to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: drain: %w", ctx.Err())
	}
}

// CreateTask validates, persists and arms a new task. Every violated rule is
// reported, not just the first. A scheduled time already in the past is
// accepted and fires immediately. A task created with Enabled == false is
// registered without a timer and stays dormant until an update enables it.
func (s *Scheduler) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	now := s.clk.Now()

	var violations []string
	if t.Name == "" {
		violations = append(violations, "name is required")
	}
	if t.ScheduledAt.IsZero() {
		violations = append(violations, "scheduled_at is required")
	}
	if len(t.Channels) == 0 {
		violations = append(violations, "at least one alert channel is required")
	}
	if !t.Recurrence.IsZero() {
		if err := t.Recurrence.Validate(); err != nil {
			violations = append(violations, err.Error())
		}
	}
	if t.Timeout < 0 {
		violations = append(violations, "timeout must not be negative")
	}
	if len(violations) > 0 {
		return task.Task{}, &task.ValidationError{Violations: violations}
	}

	t.ID = "tsk_" + uuid.NewString()
	t.Status = task.StatusPending
	t.ExecutionCount = 0
	t.Retries = 0
	if t.MaxRetries == 0 {
		t.MaxRetries = s.cfg.DefaultMaxRetries
	} else if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if t.Timeout == 0 {
		t.Timeout = s.cfg.DefaultTimeout
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	if t.Enabled && !t.ScheduledAt.After(now) {
		s.log.Warn("scheduled time is in the past, firing immediately",
			logx.String("task_id", t.ID),
			logx.Time("scheduled_at", t.ScheduledAt))
	}

	gen := s.store.Put(t)
	if t.Enabled {
		s.arm(t.ID, gen, t.ScheduledAt)
	}
	s.persist(ctx, t)

	s.log.Info("task created",
		logx.String("task_id", t.ID),
		logx.String("name", t.Name),
		logx.Time("scheduled_at", t.ScheduledAt),
		logx.Bool("enabled", t.Enabled),
		logx.Bool("recurring", !t.Recurrence.IsZero()))
	return t, nil
}

// CancelTask removes a task from the schedule. It reports false when the id
// is unknown or the task already reached a terminal state; cancelling twice
// is a harmless no-op.
func (s *Scheduler) CancelTask(ctx context.Context, id string) bool {
	t, ok := s.store.Remove(id)
	if !ok {
		return false
	}
	s.hist.add(Record{
		TaskID:  t.ID,
		Name:    t.Name,
		Outcome: OutcomeCancelled,
		FiredAt: s.clk.Now(),
	})
	s.markStatus(ctx, id, task.StatusCancelled)
	s.log.Info("task cancelled", logx.String("task_id", id))
	return true
}

// UpdateTask applies a partial update and re-arms the timer when the change
// affects scheduling. Updating a running task only affects future attempts.
func (s *Scheduler) UpdateTask(ctx context.Context, id string, u Update) (task.Task, error) {
	var violations []string
	if u.Name != nil && *u.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if u.Channels != nil && len(*u.Channels) == 0 {
		violations = append(violations, "at least one alert channel is required")
	}
	if u.ScheduledAt != nil && u.ScheduledAt.IsZero() {
		violations = append(violations, "scheduled_at must not be zero")
	}
	if u.Recurrence != nil && !u.Recurrence.IsZero() {
		if err := u.Recurrence.Validate(); err != nil {
			violations = append(violations, err.Error())
		}
	}
	if u.Timeout != nil && *u.Timeout < 0 {
		violations = append(violations, "timeout must not be negative")
	}
	if len(violations) > 0 {
		return task.Task{}, &task.ValidationError{Violations: violations}
	}

	updated, gen, ok := s.store.Rearm(id, func(tk *task.Task) {
		if u.Name != nil {
			tk.Name = *u.Name
		}
		if u.Description != nil {
			tk.Description = *u.Description
		}
		if u.ScheduledAt != nil {
			tk.ScheduledAt = *u.ScheduledAt
			tk.Retries = 0
		}
		if u.Recurrence != nil {
			tk.Recurrence = *u.Recurrence
		}
		if u.Priority != nil {
			tk.Priority = *u.Priority
		}
		if u.Channels != nil {
			tk.Channels = append([]string(nil), (*u.Channels)...)
		}
		if u.MaxRetries != nil {
			tk.MaxRetries = *u.MaxRetries
		}
		if u.Timeout != nil {
			tk.Timeout = *u.Timeout
		}
		if u.Enabled != nil {
			tk.Enabled = *u.Enabled
		}
		tk.UpdatedAt = s.clk.Now()
	})
	if !ok {
		return task.Task{}, ErrNotFound
	}
	if updated.Status == task.StatusPending && updated.Enabled {
		s.arm(id, gen, updated.ScheduledAt)
	}
	s.persist(ctx, updated)
	s.log.Info("task updated", logx.String("task_id", id))
	return updated, nil
}

// SnoozeTask pushes a pending task's next fire to now+delay. The retry
// counter is left alone: snoozing a retrying task delays the retry, it does
// not grant extra attempts.
func (s *Scheduler) SnoozeTask(ctx context.Context, id string, delay time.Duration) (task.Task, error) {
	if delay <= 0 {
		return task.Task{}, &task.ValidationError{Violations: []string{"snooze delay must be positive"}}
	}
	at := s.clk.Now().Add(delay)
	snoozed := false
	t, gen, ok := s.store.Rearm(id, func(tk *task.Task) {
		if tk.Status != task.StatusPending {
			return
		}
		snoozed = true
		tk.ScheduledAt = at
		tk.UpdatedAt = s.clk.Now()
	})
	if !ok {
		return task.Task{}, ErrNotFound
	}
	if !snoozed {
		return task.Task{}, ErrNotPending
	}
	if t.Enabled {
		s.arm(id, gen, at)
	}
	s.persist(ctx, t)
	s.log.Info("task snoozed",
		logx.String("task_id", id),
		logx.Time("until", at))
	return t, nil
}

// GetTask returns a scheduled task by id.
func (s *Scheduler) GetTask(id string) (task.Task, error) {
	t, ok := s.store.Get(id)
	if !ok {
		return task.Task{}, ErrNotFound
	}
	return t, nil
}

// ListTasks returns every currently scheduled task.
func (s *Scheduler) ListTasks() []task.Task {
	return s.store.List()
}

// UpcomingTasks returns pending tasks due within the window.
func (s *Scheduler) UpcomingTasks(window time.Duration) []task.Task {
	return s.store.Upcoming(s.clk.Now(), window)
}

// History returns up to max recent execution records, newest first.
func (s *Scheduler) History(max int) []Record {
	return s.hist.recent(max)
}

// Snapshot reports current scheduler state for diagnostics.
func (s *Scheduler) Snapshot() Snapshot {
	pending, running := 0, 0
	for _, t := range s.store.List() {
		switch t.Status {
		case task.StatusPending:
			pending++
		case task.StatusRunning:
			running++
		}
	}
	return Snapshot{
		Pending:        pending,
		Running:        running,
		PermitsInUse:   len(s.permits),
		PermitCapacity: cap(s.permits),
		Recent:         s.hist.recent(10),
	}
}

// arm installs the timer that will fire the task at the given instant. The
// generation pins the timer to the task revision that armed it.
func (s *Scheduler) arm(id string, gen uint64, at time.Time) {
	delay := at.Sub(s.clk.Now())
	if delay < 0 {
		delay = 0
	}
	s.store.Arm(id, gen, func() clock.Timer {
		return s.clk.AfterFunc(delay, func() {
			if s.ctx.Err() != nil {
				return
			}
			s.wg.Add(1)
			go s.fire(id, gen)
		})
	})
}

func (s *Scheduler) persist(ctx context.Context, t task.Task) {
	if s.repo == nil {
		return
	}
	if err := s.repo.UpsertTask(ctx, t); err != nil {
		s.log.Error("persist task", logx.String("task_id", t.ID), logx.Err(err))
	}
}

func (s *Scheduler) markStatus(ctx context.Context, id string, st task.Status) {
	if s.repo == nil {
		return
	}
	if err := s.repo.MarkStatus(ctx, id, st, s.clk.Now()); err != nil {
		s.log.Error("mark task status", logx.String("task_id", id), logx.Err(err))
	}
}

func (s *Scheduler) publish(kind eventbus.Kind, ev task.Event) {
	s.bus.Publish(eventbus.Event{Kind: kind, Time: s.clk.Now(), Data: ev})
}

func eventFor(t task.Task, firedAt time.Time) task.Event {
	return task.Event{
		TaskID:      t.ID,
		Name:        t.Name,
		Kind:        t.Kind,
		Payload:     t.Payload,
		ScheduledAt: t.ScheduledAt,
		FiredAt:     firedAt,
	}
}
