// Package httpapi exposes the scheduler and alert registry over a small REST
// surface, meant for local tooling and the desktop frontend.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chime/internal/alert"
	"chime/internal/rule"
	"chime/internal/task"
	"chime/internal/task/scheduler"
	"chime/pkg/logx"
)

type Server struct {
	r      *chi.Mux
	sched  *scheduler.Scheduler
	alerts *alert.Registry
	log    logx.Logger
}

func NewServer(sched *scheduler.Scheduler, alerts *alert.Registry, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{r: r, sched: sched, alerts: alerts, log: log.With(logx.String("component", "httpapi"))}

	r.Get("/health", s.health)
	r.Get("/api/status", s.status)

	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/upcoming", s.upcomingTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Patch("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.cancelTask)
	r.Post("/api/tasks/{id}/snooze", s.snoozeTask)

	r.Get("/api/channels", s.listChannels)
	r.Post("/api/channels/{name}/test", s.testChannel)

	r.Post("/api/alerts/mute", s.mute)
	r.Delete("/api/alerts/mute", s.unmute)

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": s.sched.Snapshot(),
		"alerts":    s.alerts.Settings(),
	})
}

type createTaskReq struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Recurrence  *rule.Rule      `json:"recurrence"`

	// RecurrenceRule is the string shorthand ("*/5 * * * *", "@daily",
	// "2h30m", "02:30"); ignored when the structured form is present.
	RecurrenceRule string `json:"recurrence_rule"`

	Priority   string   `json:"priority"`
	Channels   []string `json:"channels"`
	MaxRetries int      `json:"max_retries"`
	Timeout    string   `json:"timeout"`

	// Enabled defaults to true; pass false to register the task dormant.
	Enabled *bool `json:"enabled"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	timeout, err := parseTimeout(req.Timeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := task.Task{
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Kind,
		Payload:     req.Payload,
		ScheduledAt: req.ScheduledAt,
		Priority:    task.ParsePriority(req.Priority),
		Channels:    req.Channels,
		MaxRetries:  req.MaxRetries,
		Timeout:     timeout,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	switch {
	case req.Recurrence != nil:
		t.Recurrence = *req.Recurrence
	case req.RecurrenceRule != "":
		parsed, err := rule.Parse(req.RecurrenceRule)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t.Recurrence = parsed
	}

	created, err := s.sched.CreateTask(r.Context(), t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.sched.ListTasks()
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) upcomingTasks(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}
	tasks := s.sched.UpcomingTasks(window)
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "window": window.String()})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTaskReq struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Recurrence  *rule.Rule `json:"recurrence"`
	Priority    *string    `json:"priority"`
	Channels    *[]string  `json:"channels"`
	MaxRetries  *int       `json:"max_retries"`
	Timeout     *string    `json:"timeout"`
	Enabled     *bool      `json:"enabled"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u := scheduler.Update{
		Name:        req.Name,
		Description: req.Description,
		ScheduledAt: req.ScheduledAt,
		Recurrence:  req.Recurrence,
		Channels:    req.Channels,
		MaxRetries:  req.MaxRetries,
		Enabled:     req.Enabled,
	}
	if req.Priority != nil {
		p := task.ParsePriority(*req.Priority)
		u.Priority = &p
	}
	if req.Timeout != nil {
		d, err := parseTimeout(*req.Timeout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		u.Timeout = &d
	}

	updated, err := s.sched.UpdateTask(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.sched.CancelTask(r.Context(), chi.URLParam(r, "id")) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snoozeReq struct {
	Delay string `json:"delay"`
}

func (s *Server) snoozeTask(w http.ResponseWriter, r *http.Request) {
	var req snoozeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delay, err := time.ParseDuration(req.Delay)
	if err != nil {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}

	t, err := s.sched.SnoozeTask(r.Context(), chi.URLParam(r, "id"), delay)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.alerts.Channels()})
}

func (s *Server) testChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.alerts.TestChannel(r.Context(), name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": name, "ok": true})
}

type muteReq struct {
	Duration string `json:"duration"`
}

func (s *Server) mute(w http.ResponseWriter, r *http.Request) {
	var req muteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		http.Error(w, "invalid duration", http.StatusBadRequest)
		return
	}
	until := s.alerts.Mute(d)
	writeJSON(w, http.StatusOK, map[string]any{"muted_until": until})
}

func (s *Server) unmute(w http.ResponseWriter, _ *http.Request) {
	s.alerts.Unmute()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case task.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, scheduler.ErrNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", logx.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid timeout")
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
