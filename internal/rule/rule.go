// Package rule computes recurrence for scheduled tasks.
//
// Next is a pure function: given the same rule, last fire time and occurrence
// count it always returns the same answer. That keeps re-computation safe
// after a restart and makes recurrence unit-testable without timers.
package rule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Rule describes how a task recurs after a successful firing.
//
// Exactly one of Every or Cron must be set. Count and Until are optional end
// conditions; when both are set, whichever stops first wins.
type Rule struct {
	// Every re-fires at a fixed interval from the last fire time.
	Every time.Duration `json:"every,omitempty" yaml:"every,omitempty"`

	// Cron re-fires per a cron expression (5 or 6 fields, or a descriptor
	// like "@daily"). Day-of-week/month constraints and exceptions are
	// expressed here rather than in a second bespoke grammar.
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// Count stops the rule after this many successful occurrences (0 = unbounded).
	Count int `json:"count,omitempty" yaml:"count,omitempty"`

	// Until stops the rule once the next occurrence would land after this
	// instant (zero = unbounded).
	Until time.Time `json:"until,omitempty" yaml:"until,omitempty"`
}

// parser accepts both 5-field and 6-field (with seconds) cron specs plus
// descriptors, matching the rest of the repo.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IsZero reports whether the rule is absent (task does not recur).
func (r Rule) IsZero() bool {
	return r.Every == 0 && strings.TrimSpace(r.Cron) == ""
}

// Validate checks rule well-formedness without evaluating occurrences.
func (r Rule) Validate() error {
	hasEvery := r.Every != 0
	hasCron := strings.TrimSpace(r.Cron) != ""
	switch {
	case hasEvery && hasCron:
		return fmt.Errorf("rule: every and cron are mutually exclusive")
	case !hasEvery && !hasCron:
		return fmt.Errorf("rule: one of every or cron is required")
	}
	if hasEvery && r.Every < time.Second {
		return fmt.Errorf("rule: interval %s too small (min 1s)", r.Every)
	}
	if hasCron {
		if _, err := parser.Parse(strings.TrimSpace(r.Cron)); err != nil {
			return fmt.Errorf("rule: invalid cron %q: %w", r.Cron, err)
		}
	}
	if r.Count < 0 {
		return fmt.Errorf("rule: count must be >= 0")
	}
	return nil
}

// Next returns the occurrence following last, given that fired occurrences
// have already completed. ok=false signals the rule is exhausted and the
// task should terminate instead of re-arming.
func Next(r Rule, last time.Time, fired int) (next time.Time, ok bool) {
	if r.IsZero() {
		return time.Time{}, false
	}
	if r.Count > 0 && fired >= r.Count {
		return time.Time{}, false
	}

	if r.Every > 0 {
		next = last.Add(r.Every)
	} else {
		sched, err := parser.Parse(strings.TrimSpace(r.Cron))
		if err != nil {
			return time.Time{}, false
		}
		next = sched.Next(last)
		if next.IsZero() {
			return time.Time{}, false
		}
	}

	if !r.Until.IsZero() && next.After(r.Until) {
		return time.Time{}, false
	}
	return next, true
}
