package alert

import (
	"errors"
	"fmt"
)

// Suppression reasons, in gate order.
const (
	ReasonDisabled   = "alerts disabled"
	ReasonMuted      = "muted"
	ReasonQuietHours = "quiet hours"
)

// SuppressedError reports that the global gate swallowed a dispatch. It is a
// distinct type so callers can tell "nothing was shown on purpose" apart from
// channel failures.
type SuppressedError struct {
	Reason string
}

func (e *SuppressedError) Error() string {
	return fmt.Sprintf("alert suppressed: %s", e.Reason)
}

// IsSuppressed reports whether err is (or wraps) a SuppressedError.
func IsSuppressed(err error) bool {
	var se *SuppressedError
	return errors.As(err, &se)
}

// ErrNoChannels is returned when an intent names no channels at all.
var ErrNoChannels = errors.New("alert: no channels requested")
