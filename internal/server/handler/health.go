package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Loop is a scheduled job whose state is reported.
type Loop interface {
	Name() string
	IsRunning() bool
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks  map[string]Check
	loops   []Loop
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler. Each check runs on /readyz with
// a shared timeout.
func NewHealthHandler(checks map[string]Check, loops []Loop, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		loops:   loops,
		timeout: 3 * time.Second,
		logger:  logger.With(slog.String("handler", "health")),
		now:     time.Now,
	}
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthReport struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components []componentStatus `json:"components,omitempty"`
	Loops      map[string]bool   `json:"loops,omitempty"`
}

// Live reports that the process is serving.
// GET /healthz
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthReport{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Loops:     h.loopStates(),
	})
}

// Ready runs every dependency check and answers 503 if any fails.
// GET /readyz
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := healthReport{
		Status:    "ok",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Loops:     h.loopStates(),
	}
	code := http.StatusOK
	for _, name := range names {
		c := componentStatus{Name: name, Status: "ok"}
		if err := h.checks[name](ctx); err != nil {
			c.Status = "down"
			c.Error = err.Error()
			report.Status = "degraded"
			code = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
		report.Components = append(report.Components, c)
	}
	writeJSON(w, code, report)
}

func (h *HealthHandler) loopStates() map[string]bool {
	if len(h.loops) == 0 {
		return nil
	}
	out := make(map[string]bool, len(h.loops))
	for _, l := range h.loops {
		out[l.Name()] = l.IsRunning()
	}
	return out
}
