package alert

import (
	"time"

	"chime/internal/task"
)

// Per-channel presentation parameters, resolved from the task's priority via
// explicit lookup tables. The tables are data, not logic: tuning how an
// urgent popup looks must never require touching dispatch code.

// PopupParams controls the on-screen popup channel.
type PopupParams struct {
	Duration time.Duration `json:"duration"`
	Sticky   bool          `json:"sticky"`
}

// SoundParams controls the audio channel.
type SoundParams struct {
	Sample  string  `json:"sample"`
	Volume  float64 `json:"volume"`
	Repeats int     `json:"repeats"`
}

// SystemParams controls the desktop notification channel.
type SystemParams struct {
	Urgency string        `json:"urgency"`
	Expires time.Duration `json:"expires"`
}

// FlashParams controls the attention-flash channel.
type FlashParams struct {
	Flashes  int           `json:"flashes"`
	Interval time.Duration `json:"interval"`
}

var popupDefaults = map[task.Priority]PopupParams{
	task.PriorityLow:    {Duration: 5 * time.Second},
	task.PriorityNormal: {Duration: 10 * time.Second},
	task.PriorityHigh:   {Duration: 30 * time.Second},
	task.PriorityUrgent: {Sticky: true},
}

var soundDefaults = map[task.Priority]SoundParams{
	task.PriorityLow:    {Sample: "chime-soft", Volume: 0.3, Repeats: 1},
	task.PriorityNormal: {Sample: "chime", Volume: 0.6, Repeats: 1},
	task.PriorityHigh:   {Sample: "chime-loud", Volume: 0.8, Repeats: 2},
	task.PriorityUrgent: {Sample: "alarm", Volume: 1.0, Repeats: 3},
}

var systemDefaults = map[task.Priority]SystemParams{
	task.PriorityLow:    {Urgency: "low", Expires: 10 * time.Second},
	task.PriorityNormal: {Urgency: "normal", Expires: 30 * time.Second},
	task.PriorityHigh:   {Urgency: "critical", Expires: time.Minute},
	task.PriorityUrgent: {Urgency: "critical"},
}

var flashDefaults = map[task.Priority]FlashParams{
	task.PriorityHigh:   {Flashes: 3, Interval: 500 * time.Millisecond},
	task.PriorityUrgent: {Flashes: 10, Interval: 250 * time.Millisecond},
}

// PopupDefaults returns the popup parameters for a priority.
func PopupDefaults(p task.Priority) PopupParams {
	if v, ok := popupDefaults[p]; ok {
		return v
	}
	return popupDefaults[task.PriorityNormal]
}

// SoundDefaults returns the sound parameters for a priority.
func SoundDefaults(p task.Priority) SoundParams {
	if v, ok := soundDefaults[p]; ok {
		return v
	}
	return soundDefaults[task.PriorityNormal]
}

// SystemDefaults returns the desktop notification parameters for a priority.
func SystemDefaults(p task.Priority) SystemParams {
	if v, ok := systemDefaults[p]; ok {
		return v
	}
	return systemDefaults[task.PriorityNormal]
}

// FlashDefaults returns the flash parameters for a priority. The second
// return is false for priorities the flash channel does not serve.
func FlashDefaults(p task.Priority) (FlashParams, bool) {
	v, ok := flashDefaults[p]
	return v, ok
}
