package alert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chime/internal/clock"
	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/pkg/logx"
)

type stubHandler struct {
	name  string
	min   task.Priority
	err   error
	calls atomic.Int64
}

func (h *stubHandler) Name() string                          { return h.name }
func (h *stubHandler) SupportsPriority(p task.Priority) bool { return p >= h.min }
func (h *stubHandler) Handle(context.Context, Intent) error  { h.calls.Add(1); return h.err }

func testIntent(channels ...string) Intent {
	return Intent{
		TaskID:   "tsk_1",
		Title:    "standup",
		Priority: task.PriorityNormal,
		Channels: channels,
	}
}

func TestDispatchFanout(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())

	ok1 := &stubHandler{name: "a"}
	ok2 := &stubHandler{name: "b"}
	bad := &stubHandler{name: "c", err: errors.New("boom")}
	r.Register(ok1)
	r.Register(ok2)
	r.Register(bad)

	results, err := r.Dispatch(context.Background(), testIntent("a", "b", "c", "ghost"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	byName := map[string]ChannelResult{}
	for _, res := range results {
		byName[res.Channel] = res
	}
	if !byName["a"].OK || !byName["b"].OK {
		t.Fatalf("healthy channels not OK: %+v", byName)
	}
	if byName["c"].OK || byName["c"].Err != "boom" {
		t.Fatalf("failing channel: %+v", byName["c"])
	}
	if byName["ghost"].OK || byName["ghost"].Err == "" {
		t.Fatalf("unregistered channel must fail: %+v", byName["ghost"])
	}
	if ok1.calls.Load() != 1 || ok2.calls.Load() != 1 {
		t.Fatal("one failing channel must not block the others")
	}
}

func TestDispatchPrioritySkip(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())

	h := &stubHandler{name: "flash", min: task.PriorityHigh}
	r.Register(h)

	in := testIntent("flash")
	in.Priority = task.PriorityNormal
	results, err := r.Dispatch(context.Background(), in)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !results[0].Skipped || results[0].OK {
		t.Fatalf("want skip, got %+v", results[0])
	}
	if h.calls.Load() != 0 {
		t.Fatal("skipped handler must not be called")
	}
}

func TestDispatchQuietHours(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		now        time.Time
		suppressed bool
	}{
		{"inside before midnight", time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC), true},
		{"inside after midnight", time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC), true},
		{"outside", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), false},
		{"at end boundary", time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			bus := eventbus.New()
			events, unsub := bus.Subscribe(4, eventbus.KindDispatchSuppressed)
			defer unsub()

			r := NewRegistry(clock.NewFake(tc.now), bus, logx.Nop())
			h := &stubHandler{name: "popup"}
			r.Register(h)
			if err := r.SetQuietHours(QuietHours{Enabled: true, Start: "22:00", End: "08:00"}); err != nil {
				t.Fatalf("SetQuietHours: %v", err)
			}

			_, err := r.Dispatch(context.Background(), testIntent("popup"))
			if tc.suppressed {
				if !IsSuppressed(err) {
					t.Fatalf("want suppression, got %v", err)
				}
				if h.calls.Load() != 0 {
					t.Fatal("suppressed dispatch must not reach handlers")
				}
				select {
				case e := <-events:
					if e.Kind != eventbus.KindDispatchSuppressed {
						t.Fatalf("event kind = %s", e.Kind)
					}
				default:
					t.Fatal("no suppression event published")
				}
			} else {
				if err != nil {
					t.Fatalf("Dispatch: %v", err)
				}
				if h.calls.Load() != 1 {
					t.Fatal("handler not reached outside quiet hours")
				}
			}
		})
	}
}

func TestDispatchMute(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(1000, 0))
	r := NewRegistry(clk, eventbus.New(), logx.Nop())
	h := &stubHandler{name: "popup"}
	r.Register(h)

	r.Mute(time.Hour)
	if _, err := r.Dispatch(context.Background(), testIntent("popup")); !IsSuppressed(err) {
		t.Fatalf("want muted, got %v", err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := r.Dispatch(context.Background(), testIntent("popup")); err != nil {
		t.Fatalf("mute must expire: %v", err)
	}

	r.Mute(time.Hour)
	r.Unmute()
	if _, err := r.Dispatch(context.Background(), testIntent("popup")); err != nil {
		t.Fatalf("Unmute must clear the mute: %v", err)
	}
}

func TestDispatchDisabled(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())
	r.Register(&stubHandler{name: "popup"})
	r.SetEnabled(false)

	_, err := r.Dispatch(context.Background(), testIntent("popup"))
	var se *SuppressedError
	if !errors.As(err, &se) || se.Reason != ReasonDisabled {
		t.Fatalf("want disabled suppression, got %v", err)
	}
}

func TestDispatchNoChannels(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())
	if _, err := r.Dispatch(context.Background(), testIntent()); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("want ErrNoChannels, got %v", err)
	}
}

func TestTestChannelBypassesGate(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())
	h := &stubHandler{name: "popup"}
	r.Register(h)
	r.SetEnabled(false)

	if err := r.TestChannel(context.Background(), "popup"); err != nil {
		t.Fatalf("TestChannel: %v", err)
	}
	if h.calls.Load() != 1 {
		t.Fatal("TestChannel must reach the handler even when disabled")
	}
	if err := r.TestChannel(context.Background(), "nope"); err == nil {
		t.Fatal("unknown channel must error")
	}
}

func TestSetQuietHoursValidates(t *testing.T) {
	t.Parallel()
	r := NewRegistry(clock.NewFake(time.Unix(0, 0)), eventbus.New(), logx.Nop())
	if err := r.SetQuietHours(QuietHours{Enabled: true, Start: "25:00", End: "08:00"}); err == nil {
		t.Fatal("bad start must be rejected")
	}
	if err := r.SetQuietHours(QuietHours{Enabled: false, Start: "junk", End: ""}); err != nil {
		t.Fatalf("disabled window must not validate bounds: %v", err)
	}
}
