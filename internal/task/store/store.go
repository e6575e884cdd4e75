// Package store is the in-memory registry of scheduled tasks: the source of
// truth for "what is scheduled" and the owner of every live timer handle.
//
// Invariants it enforces:
//   - at most one live timer per task id;
//   - a generation counter per id, bumped on every rearm/cancel, so a stale
//     timer callback can never claim a fire for a task that was cancelled or
//     replaced in the meantime.
package store

import (
	"sync"
	"time"

	"chime/internal/clock"
	"chime/internal/task"
)

type entry struct {
	t     task.Task
	timer clock.Timer
	gen   uint64
}

// Store is safe for concurrent use. All mutation of the (status, timer)
// pair happens under one lock, which is what makes the cancel-vs-fire race
// resolvable.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Store {
	return &Store{entries: map[string]*entry{}}
}

// Put inserts or replaces a task record. Any existing timer for the id is
// stopped first and the generation bumped, so a replaced task can never be
// fired by its old timer. Returns the generation to arm a new timer under.
func (s *Store) Put(t task.Task) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[t.ID]
	if !ok {
		e = &entry{}
		s.entries[t.ID] = e
	}
	s.disarmLocked(e)
	e.gen++
	e.t = t
	return e.gen
}

// Arm installs a timer for the given generation. The timer is created by mk
// under the store lock so no fire callback can observe a half-armed entry.
// Returns false (without calling mk) when the generation is stale.
func (s *Store) Arm(id string, gen uint64, mk func() clock.Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	s.disarmLocked(e)
	e.timer = mk()
	return true
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return task.Task{}, false
	}
	return e.t.Clone(), true
}

// List returns copies of all stored tasks, in no particular order.
func (s *Store) List() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.t.Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Upcoming returns tasks scheduled within [now, now+window], pending and
// enabled only.
func (s *Store) Upcoming(now time.Time, window time.Duration) []task.Task {
	cutoff := now.Add(window)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, e := range s.entries {
		if e.t.Status != task.StatusPending || !e.t.Enabled {
			continue
		}
		if e.t.ScheduledAt.After(cutoff) {
			continue
		}
		out = append(out, e.t.Clone())
	}
	return out
}

// Remove deletes a task, stopping its timer and invalidating its generation.
// After Remove returns, no fire for this id can be claimed.
func (s *Store) Remove(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return task.Task{}, false
	}
	s.disarmLocked(e)
	e.gen++ // invalidate in-flight callbacks holding the old generation
	delete(s.entries, id)
	return e.t.Clone(), true
}

// Mutate applies fn to the stored record under the lock. The timer handle is
// untouched; use Rearm when the change affects scheduling.
func (s *Store) Mutate(id string, fn func(*task.Task)) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return task.Task{}, false
	}
	fn(&e.t)
	return e.t.Clone(), true
}

// Rearm stops the current timer, bumps the generation, and applies fn.
// The caller arms a fresh timer with the returned generation (or not, when
// the task ended up disabled).
func (s *Store) Rearm(id string, fn func(*task.Task)) (task.Task, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return task.Task{}, 0, false
	}
	s.disarmLocked(e)
	e.gen++
	if fn != nil {
		fn(&e.t)
	}
	return e.t.Clone(), e.gen, true
}

// BeginFire claims a fire for the given generation: the task must still
// exist, carry the same generation, be pending and enabled. On success the
// task transitions to RUNNING and the spent timer handle is dropped.
//
// This is the linchpin of the cancel-vs-fire race: Cancel/Update bump the
// generation under the same lock, so exactly one of {cancel, fire} wins.
func (s *Store) BeginFire(id string, gen uint64) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		return task.Task{}, false
	}
	if e.t.Status != task.StatusPending || !e.t.Enabled {
		return task.Task{}, false
	}
	e.timer = nil // it just fired; nothing to stop
	e.t.Status = task.StatusRunning
	return e.t.Clone(), true
}

// disarmLocked stops and clears the entry's timer. Call with the lock held.
func (s *Store) disarmLocked(e *entry) {
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
}
