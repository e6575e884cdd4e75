package alert

import (
	"context"

	"chime/internal/eventbus"
	"chime/internal/task"
)

// The built-in channels publish render intents on the event bus instead of
// touching the desktop themselves. Platform frontends subscribe to the
// alert.* kinds and own the actual pixels and audio.

// Built-in channel names.
const (
	ChannelPopup  = "popup"
	ChannelSound  = "sound"
	ChannelSystem = "system"
	ChannelFlash  = "flash"
)

type busChannel struct {
	name string
	kind eventbus.Kind
	bus  eventbus.Bus
	min  task.Priority
	data func(Intent) any
}

func (c *busChannel) Name() string { return c.name }

func (c *busChannel) SupportsPriority(p task.Priority) bool { return p >= c.min }

func (c *busChannel) Handle(_ context.Context, intent Intent) error {
	c.bus.Publish(eventbus.Event{Kind: c.kind, Data: c.data(intent)})
	return nil
}

type popupIntent struct {
	Intent
	Params PopupParams `json:"params"`
}

type soundIntent struct {
	Intent
	Params SoundParams `json:"params"`
}

type systemIntent struct {
	Intent
	Params SystemParams `json:"params"`
}

type flashIntent struct {
	Intent
	Params FlashParams `json:"params"`
}

// NewPopupChannel shows an on-screen popup for any priority.
func NewPopupChannel(bus eventbus.Bus) Handler {
	return &busChannel{
		name: ChannelPopup,
		kind: eventbus.KindShowPopup,
		bus:  bus,
		min:  task.PriorityLow,
		data: func(in Intent) any {
			return popupIntent{Intent: in, Params: PopupDefaults(in.Priority)}
		},
	}
}

// NewSoundChannel plays an audio cue for any priority.
func NewSoundChannel(bus eventbus.Bus) Handler {
	return &busChannel{
		name: ChannelSound,
		kind: eventbus.KindPlaySound,
		bus:  bus,
		min:  task.PriorityLow,
		data: func(in Intent) any {
			return soundIntent{Intent: in, Params: SoundDefaults(in.Priority)}
		},
	}
}

// NewSystemChannel raises a desktop notification for any priority.
func NewSystemChannel(bus eventbus.Bus) Handler {
	return &busChannel{
		name: ChannelSystem,
		kind: eventbus.KindShowSystemNotification,
		bus:  bus,
		min:  task.PriorityLow,
		data: func(in Intent) any {
			return systemIntent{Intent: in, Params: SystemDefaults(in.Priority)}
		},
	}
}

// NewFlashChannel flashes the desktop. It only serves high and urgent
// priorities; lower ones are reported as skipped by the registry.
func NewFlashChannel(bus eventbus.Bus) Handler {
	return &busChannel{
		name: ChannelFlash,
		kind: eventbus.KindFlashDesktop,
		bus:  bus,
		min:  task.PriorityHigh,
		data: func(in Intent) any {
			p, _ := FlashDefaults(in.Priority)
			return flashIntent{Intent: in, Params: p}
		},
	}
}

// RegisterBuiltins installs the four built-in channels on the registry.
func RegisterBuiltins(r *Registry, bus eventbus.Bus) {
	r.Register(NewPopupChannel(bus))
	r.Register(NewSoundChannel(bus))
	r.Register(NewSystemChannel(bus))
	r.Register(NewFlashChannel(bus))
}
