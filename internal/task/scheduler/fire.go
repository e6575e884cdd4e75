package scheduler

import (
	"context"
	"errors"
	"time"

	"chime/internal/eventbus"
	"chime/internal/rule"
	"chime/internal/task"
	"chime/pkg/logx"
)

const (
	baseRetryDelay = time.Minute
	maxRetryDelay  = time.Hour
)

// retryDelay doubles per consecutive failure: 1m, 2m, 4m, 8m... capped at 1h.
func retryDelay(failures int) time.Duration {
	d := baseRetryDelay
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// fire is the timer callback's goroutine. The generation check inside
// BeginFire is what resolves the cancel-vs-fire race: if the task was
// cancelled, updated or rescheduled after this timer was armed, the claim
// fails and the firing evaporates without a trace.
func (s *Scheduler) fire(id string, gen uint64) {
	defer s.wg.Done()

	t, ok := s.store.BeginFire(id, gen)
	if !ok {
		return
	}

	// Admission control: when every permit is taken, push the firing back
	// instead of queueing. Pushback is not a retry; the task keeps its
	// attempt budget.
	select {
	case s.permits <- struct{}{}:
	default:
		s.log.Debug("scheduler saturated, delaying firing",
			logx.String("task_id", id),
			logx.Duration("delay", s.cfg.AdmissionDelay))
		s.pushBack(id, s.clk.Now().Add(s.cfg.AdmissionDelay))
		return
	}
	defer func() { <-s.permits }()

	firedAt := s.clk.Now()
	s.publish(eventbus.KindTaskFired, eventFor(t, firedAt))
	s.markStatus(s.ctx, id, task.StatusRunning)

	err := s.runExecution(t, firedAt)
	duration := s.clk.Now().Sub(firedAt)

	if err != nil {
		s.onFailure(t, firedAt, duration, err)
		return
	}
	s.onSuccess(t, firedAt, duration)
}

// runExecution races the executor against the task's timeout. The timeout is
// driven by the scheduler's clock, not a context deadline, so it honors the
// same time source as everything else. The loser's result lands in a
// buffered channel and is discarded. A record whose Timeout is zero (legal
// through UpdateTask) gets the configured default, same as at creation.
func (s *Scheduler) runExecution(t task.Task, firedAt time.Time) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.exec.Execute(ctx, t, firedAt)
	}()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	timedOut := make(chan struct{})
	tm := s.clk.AfterFunc(timeout, func() { close(timedOut) })
	defer tm.Stop()

	select {
	case err := <-done:
		return err
	case <-timedOut:
		cancel()
		return ErrExecutionTimeout
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Scheduler) onSuccess(t task.Task, firedAt time.Time, duration time.Duration) {
	var (
		next  time.Time
		recur bool
	)
	updated, gen, ok := s.store.Rearm(t.ID, func(tk *task.Task) {
		tk.ExecutionCount++
		tk.Retries = 0
		tk.UpdatedAt = s.clk.Now()
		if n, more := rule.Next(tk.Recurrence, tk.ScheduledAt, tk.ExecutionCount); more {
			next, recur = n, true
			tk.ScheduledAt = n
			tk.Status = task.StatusPending
		} else {
			tk.Status = task.StatusCompleted
		}
	})
	if !ok {
		// Cancelled while running; the cancel already cleaned up.
		return
	}

	s.hist.add(Record{
		TaskID:   t.ID,
		Name:     t.Name,
		Outcome:  OutcomeCompleted,
		FiredAt:  firedAt,
		Duration: duration,
		Attempt:  updated.ExecutionCount,
	})

	ev := eventFor(updated, firedAt)
	ev.Duration = duration
	ev.Attempts = updated.ExecutionCount
	if recur {
		ev.NextAt = next
	}

	if recur {
		if updated.Enabled {
			s.arm(t.ID, gen, next)
		}
		s.persist(s.ctx, updated)
		s.log.Info("task completed, recurring",
			logx.String("task_id", t.ID),
			logx.Int("occurrence", updated.ExecutionCount),
			logx.Time("next_at", next))
	} else {
		s.store.Remove(t.ID)
		s.markStatus(s.ctx, t.ID, task.StatusCompleted)
		s.log.Info("task completed",
			logx.String("task_id", t.ID),
			logx.Int("attempts", updated.ExecutionCount))
	}

	s.publish(eventbus.KindExecutionCompleted, ev)
}

func (s *Scheduler) onFailure(t task.Task, firedAt time.Time, duration time.Duration, execErr error) {
	timedOut := errors.Is(execErr, ErrExecutionTimeout)
	if errors.Is(execErr, context.Canceled) && s.ctx.Err() != nil {
		// Shutdown, not a task failure. The attempt is forgotten; restore
		// treats the interrupted run as never started.
		return
	}

	// A timeout is retried like any failure but reported distinctly.
	if timedOut {
		ev := eventFor(t, firedAt)
		ev.Duration = duration
		ev.Error = execErr.Error()
		s.publish(eventbus.KindExecutionTimedOut, ev)
	}

	if t.Retries < t.MaxRetries {
		delay := retryDelay(t.Retries)
		at := s.clk.Now().Add(delay)
		updated, gen, ok := s.store.Rearm(t.ID, func(tk *task.Task) {
			tk.Retries++
			tk.Status = task.StatusPending
			tk.ScheduledAt = at
			tk.UpdatedAt = s.clk.Now()
		})
		if !ok {
			return
		}
		if updated.Enabled {
			s.arm(t.ID, gen, at)
		}
		s.persist(s.ctx, updated)

		s.hist.add(Record{
			TaskID:   t.ID,
			Name:     t.Name,
			Outcome:  OutcomeRetried,
			FiredAt:  firedAt,
			Duration: duration,
			Attempt:  updated.Retries,
			Error:    execErr.Error(),
		})

		ev := eventFor(updated, firedAt)
		ev.Duration = duration
		ev.Retries = updated.Retries
		ev.RetryIn = delay
		ev.Error = execErr.Error()
		s.publish(eventbus.KindRetryScheduled, ev)

		s.log.Warn("execution failed, retry scheduled",
			logx.String("task_id", t.ID),
			logx.Int("retry", updated.Retries),
			logx.Int("max_retries", t.MaxRetries),
			logx.Duration("in", delay),
			logx.Err(execErr))
		return
	}

	// Retry budget exhausted.
	s.store.Remove(t.ID)
	s.markStatus(s.ctx, t.ID, task.StatusFailed)

	outcome := OutcomeFailed
	if timedOut {
		outcome = OutcomeTimedOut
	}
	s.hist.add(Record{
		TaskID:   t.ID,
		Name:     t.Name,
		Outcome:  outcome,
		FiredAt:  firedAt,
		Duration: duration,
		Attempt:  t.Retries,
		Error:    execErr.Error(),
	})

	ev := eventFor(t, firedAt)
	ev.Duration = duration
	ev.Retries = t.Retries
	ev.Error = execErr.Error()
	s.publish(eventbus.KindExecutionFailed, ev)

	s.log.Error("task failed permanently",
		logx.String("task_id", t.ID),
		logx.Int("retries", t.Retries),
		logx.Err(execErr))
}

// pushBack re-arms a claimed firing at a later instant. The stored occurrence
// time and the retry counter stay untouched: pushback is a scheduling delay,
// not a reschedule, and events for the eventual execution must still carry
// the occurrence the user asked for.
func (s *Scheduler) pushBack(id string, at time.Time) {
	updated, gen, ok := s.store.Rearm(id, func(tk *task.Task) {
		tk.Status = task.StatusPending
		tk.UpdatedAt = s.clk.Now()
	})
	if !ok {
		return
	}
	if updated.Enabled {
		s.arm(id, gen, at)
	}
	s.persist(s.ctx, updated)
}
