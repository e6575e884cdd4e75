package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chime/internal/alert"
	"chime/internal/clock"
	"chime/internal/eventbus"
	"chime/internal/task"
	"chime/internal/task/scheduler"
	"chime/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	bus := eventbus.New()
	reg := alert.NewRegistry(clk, bus, logx.Nop())
	alert.RegisterBuiltins(reg, bus)

	sched := scheduler.New(scheduler.Config{}, scheduler.Deps{
		Clock:    clk,
		Bus:      bus,
		Executor: alert.NewExecutor(reg),
		Log:      logx.Nop(),
	})
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	srv := httptest.NewServer(NewServer(sched, reg, logx.Nop()))
	t.Cleanup(srv.Close)
	return srv, clk
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createTask(t *testing.T, srv *httptest.Server, body string) string {
	t.Helper()
	resp, out := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body = %v", resp.StatusCode, out)
	}
	id, _ := out["id"].(string)
	if !strings.HasPrefix(id, "tsk_") {
		t.Fatalf("id = %q", id)
	}
	return id
}

func TestCreateAndGetTask(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	id := createTask(t, srv, `{
		"name": "standup",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup", "sound"],
		"priority": "high"
	}`)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if out["name"] != "standup" || out["status"] != string(task.StatusPending) {
		t.Fatalf("task = %v", out)
	}
}

func TestCreateDisabledTask(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	id := createTask(t, srv, `{
		"name": "paused",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"],
		"enabled": false
	}`)
	_, out := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+id, "")
	if enabled, _ := out["enabled"].(bool); enabled {
		t.Fatalf("task = %v, want enabled=false", out)
	}

	// Omitting the flag still creates the task enabled.
	other := createTask(t, srv, `{
		"name": "live",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"]
	}`)
	_, out = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+other, "")
	if enabled, _ := out["enabled"].(bool); !enabled {
		t.Fatalf("task = %v, want enabled=true", out)
	}
}

func TestCreateWithRecurrenceShorthand(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	id := createTask(t, srv, `{
		"name": "hydrate",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"],
		"recurrence_rule": "every:30m"
	}`)
	_, out := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+id, "")
	rec, _ := out["recurrence"].(map[string]any)
	if rec["every"] == nil {
		t.Fatalf("recurrence = %v", out["recurrence"])
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", `{
		"name": "bad",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"],
		"recurrence_rule": "whenever"
	}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad shorthand status = %d", resp.StatusCode)
	}
}

func TestCreateValidationFails(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", `{"description": "no name"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCancelTask(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	id := createTask(t, srv, `{
		"name": "standup",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"]
	}`)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/tasks/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/tasks/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestSnoozeTask(t *testing.T) {
	t.Parallel()
	srv, clk := newTestServer(t)
	id := createTask(t, srv, `{
		"name": "standup",
		"scheduled_at": "2026-03-01T11:00:00Z",
		"channels": ["popup"]
	}`)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+id+"/snooze", `{"delay": "10m"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snooze status = %d, body = %v", resp.StatusCode, out)
	}
	want := clk.Now().Add(10 * time.Minute).Format(time.RFC3339)
	got, _ := out["scheduled_at"].(string)
	if !strings.HasPrefix(got, want[:16]) {
		t.Fatalf("scheduled_at = %s, want ~%s", got, want)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+id+"/snooze", `{"delay": "soon"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad delay status = %d", resp.StatusCode)
	}
}

func TestUpcomingWindow(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	createTask(t, srv, `{
		"name": "soon",
		"scheduled_at": "2026-03-01T10:30:00Z",
		"channels": ["popup"]
	}`)
	createTask(t, srv, `{
		"name": "later",
		"scheduled_at": "2026-03-01T15:00:00Z",
		"channels": ["popup"]
	}`)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/upcoming?window=1h", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	tasks, _ := out["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("upcoming = %v", out)
	}
}

func TestChannelEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/api/channels", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	channels, _ := out["channels"].([]any)
	if len(channels) != 4 {
		t.Fatalf("channels = %v", channels)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/channels/popup/test", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/channels/carrier-pigeon/test", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown channel status = %d", resp.StatusCode)
	}
}

func TestMuteEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, out := doJSON(t, http.MethodPost, srv.URL+"/api/alerts/mute", `{"duration": "1h"}`)
	if resp.StatusCode != http.StatusOK || out["muted_until"] == nil {
		t.Fatalf("mute status = %d, body = %v", resp.StatusCode, out)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/alerts/mute", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unmute status = %d", resp.StatusCode)
	}

	resp, status := doJSON(t, http.MethodGet, srv.URL+"/api/status", "")
	if resp.StatusCode != http.StatusOK || status["alerts"] == nil || status["scheduler"] == nil {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, status)
	}
}
