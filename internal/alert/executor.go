package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chime/internal/task"
)

// Executor adapts the registry to the scheduler's execution contract: a
// firing task becomes one dispatch.
//
// Error semantics feed the scheduler's retry machinery:
//   - suppression is success (retrying would just be suppressed again);
//   - partial channel failure is success (the user was alerted);
//   - total failure (every channel failed, none delivered or skipped) is an
//     error and triggers a retry.
type Executor struct {
	reg *Registry
}

func NewExecutor(reg *Registry) *Executor { return &Executor{reg: reg} }

func (e *Executor) Execute(ctx context.Context, t task.Task, firedAt time.Time) error {
	results, err := e.reg.Dispatch(ctx, IntentFromTask(t, firedAt))
	if err != nil {
		if IsSuppressed(err) {
			return nil
		}
		return err
	}

	var failed []string
	delivered := false
	for _, res := range results {
		switch {
		case res.OK, res.Skipped:
			delivered = delivered || res.OK
		default:
			failed = append(failed, res.Channel+": "+res.Err)
		}
	}
	if !delivered && len(failed) > 0 {
		return fmt.Errorf("all channels failed: %s", strings.Join(failed, "; "))
	}
	return nil
}
