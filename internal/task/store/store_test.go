package store

import (
	"testing"
	"time"

	"chime/internal/clock"
	"chime/internal/task"
)

func pendingTask(id string) task.Task {
	return task.Task{
		ID:          id,
		Name:        id,
		Status:      task.StatusPending,
		Enabled:     true,
		ScheduledAt: time.Unix(100, 0),
		Channels:    []string{"popup"},
	}
}

func TestPutReplacesTimer(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	s := New()

	gen1 := s.Put(pendingTask("a"))
	s.Arm("a", gen1, func() clock.Timer { return clk.AfterFunc(time.Minute, func() {}) })
	if clk.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", clk.Pending())
	}

	// Replace twice; old timers must be stopped every time.
	for i := 0; i < 2; i++ {
		gen := s.Put(pendingTask("a"))
		s.Arm("a", gen, func() clock.Timer { return clk.AfterFunc(time.Minute, func() {}) })
	}
	if clk.Pending() != 1 {
		t.Fatalf("timer leak: Pending = %d, want 1", clk.Pending())
	}
}

func TestArmStaleGeneration(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	s := New()

	gen := s.Put(pendingTask("a"))
	s.Put(pendingTask("a")) // bumps generation

	called := false
	ok := s.Arm("a", gen, func() clock.Timer {
		called = true
		return clk.AfterFunc(time.Minute, func() {})
	})
	if ok || called {
		t.Fatalf("Arm with stale gen: ok=%v called=%v, want false/false", ok, called)
	}
}

func TestBeginFireAfterRemove(t *testing.T) {
	t.Parallel()
	s := New()

	gen := s.Put(pendingTask("a"))
	if _, ok := s.Remove("a"); !ok {
		t.Fatal("Remove failed")
	}
	if _, ok := s.BeginFire("a", gen); ok {
		t.Fatal("fire claimed for a removed task")
	}
}

func TestBeginFireAfterRearm(t *testing.T) {
	t.Parallel()
	s := New()

	gen := s.Put(pendingTask("a"))
	if _, _, ok := s.Rearm("a", func(tk *task.Task) { tk.ScheduledAt = time.Unix(200, 0) }); !ok {
		t.Fatal("Rearm failed")
	}
	if _, ok := s.BeginFire("a", gen); ok {
		t.Fatal("fire claimed with a stale generation")
	}
}

func TestBeginFireTransitionsToRunning(t *testing.T) {
	t.Parallel()
	s := New()

	gen := s.Put(pendingTask("a"))
	got, ok := s.BeginFire("a", gen)
	if !ok {
		t.Fatal("BeginFire failed")
	}
	if got.Status != task.StatusRunning {
		t.Fatalf("Status = %s, want running", got.Status)
	}
	// A second claim with the same generation must fail (no double fire).
	if _, ok := s.BeginFire("a", gen); ok {
		t.Fatal("double fire claimed")
	}
}

func TestBeginFireDisabled(t *testing.T) {
	t.Parallel()
	s := New()

	tk := pendingTask("a")
	tk.Enabled = false
	gen := s.Put(tk)
	if _, ok := s.BeginFire("a", gen); ok {
		t.Fatal("fire claimed for a disabled task")
	}
}

func TestUpcomingFiltersWindow(t *testing.T) {
	t.Parallel()
	s := New()
	now := time.Unix(0, 0)

	soon := pendingTask("soon")
	soon.ScheduledAt = now.Add(time.Minute)
	later := pendingTask("later")
	later.ScheduledAt = now.Add(2 * time.Hour)
	done := pendingTask("done")
	done.ScheduledAt = now.Add(time.Minute)
	done.Status = task.StatusRunning

	s.Put(soon)
	s.Put(later)
	s.Put(done)

	got := s.Upcoming(now, time.Hour)
	if len(got) != 1 || got[0].ID != "soon" {
		t.Fatalf("Upcoming = %v, want [soon]", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	s.Put(pendingTask("a"))

	got, _ := s.Get("a")
	got.Channels[0] = "mutated"

	again, _ := s.Get("a")
	if again.Channels[0] != "popup" {
		t.Fatal("Get leaked internal state")
	}
}
