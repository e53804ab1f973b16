package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/izzi01/zk-communist/pkg/failsafe"
	"github.com/izzi01/zk-communist/pkg/syncloop"
	"github.com/izzi01/zk-communist/pkg/terminal"
)

// shutdownTimeout bounds the graceful server shutdown.
const shutdownTimeout = 5 * time.Second

// LoopReporter is the loop-side read surface.
type LoopReporter interface {
	Status() syncloop.Status
}

// LinkReporter is the link-side read surface.
type LinkReporter interface {
	State() terminal.State
	ConnID() string
}

// EmergencyController is the fail-safe surface.
type EmergencyController interface {
	Trigger(reason string) string
	Events() []failsafe.EmergencyEvent
	Event(id string) (failsafe.EmergencyEvent, error)
	Acknowledge(id string) error
}

// Server serves the administrative API.
type Server struct {
	loop LoopReporter
	link LinkReporter
	ctl  EmergencyController
}

// NewServer creates a Server over the given surfaces.
func NewServer(loop LoopReporter, link LinkReporter, ctl EmergencyController) *Server {
	return &Server{loop: loop, link: link, ctl: ctl}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/emergency-stop", s.handleEmergencyStop)
		r.Get("/events", s.handleEvents)
		r.Post("/events/{id}/ack", s.handleAck)
	})
	return r
}

// Run serves the API on addr until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusResponse struct {
	ConnectionState string          `json:"connectionState"`
	LoopState       string          `json:"loopState"`
	ActiveWindow    windowPayload   `json:"activeWindow"`
	WindowActive    bool            `json:"windowActive"`
	Counters        countersPayload `json:"counters"`
	LastAttempt     *attemptPayload `json:"lastAttempt,omitempty"`
	NextWake        *time.Time      `json:"nextWake,omitempty"`
}

// windowPayload describes the configured operational window. Day names use
// the same three-letter forms the configuration accepts.
type windowPayload struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Days  []string `json:"days"`
}

type countersPayload struct {
	Cycles     uint64 `json:"cycles"`
	Successes  uint64 `json:"successes"`
	Failures   uint64 `json:"failures"`
	Reconnects uint64 `json:"reconnects"`
}

// attemptPayload reports outcome and latency only. The requested clock
// value stays inside the core.
type attemptPayload struct {
	IssuedAt  time.Time `json:"issuedAt"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latencyMs"`
	Retries   int       `json:"retries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.loop.Status()

	days := st.Window.Days.Days()
	dayNames := make([]string, len(days))
	for i, d := range days {
		dayNames[i] = strings.ToLower(d.String()[:3])
	}

	resp := statusResponse{
		ConnectionState: s.link.State().String(),
		LoopState:       st.State.String(),
		ActiveWindow: windowPayload{
			Start: st.Window.Start.String(),
			End:   st.Window.End.String(),
			Days:  dayNames,
		},
		WindowActive: st.WindowActive,
		Counters: countersPayload{
			Cycles:     st.Counters.Cycles,
			Successes:  st.Counters.Successes,
			Failures:   st.Counters.Failures,
			Reconnects: st.Counters.Reconnects,
		},
	}
	if st.LastAttempt != nil {
		resp.LastAttempt = &attemptPayload{
			IssuedAt:  st.LastAttempt.IssuedAt,
			Outcome:   st.LastAttempt.Outcome.String(),
			LatencyMS: st.LastAttempt.Latency.Milliseconds(),
			Retries:   st.LastAttempt.Retries,
		}
	}
	if !st.NextWake.IsZero() {
		resp.NextWake = &st.NextWake
	}
	writeJSON(w, http.StatusOK, resp)
}

type emergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	id := s.ctl.Trigger(req.Reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": id})
}

type eventPayload struct {
	ID             string     `json:"id"`
	TriggeredAt    time.Time  `json:"triggeredAt"`
	Reason         string     `json:"reason"`
	RestoreOutcome string     `json:"restoreOutcome"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	RestoreError   string     `json:"restoreError,omitempty"`
}

func toEventPayload(ev failsafe.EmergencyEvent) eventPayload {
	p := eventPayload{
		ID:             ev.ID,
		TriggeredAt:    ev.TriggeredAt,
		Reason:         ev.Reason,
		RestoreOutcome: ev.RestoreOutcome.String(),
		RestoreError:   ev.RestoreError,
	}
	if !ev.ResolvedAt.IsZero() {
		p.ResolvedAt = &ev.ResolvedAt
	}
	return p
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.ctl.Events()
	payload := make([]eventPayload, len(events))
	for i, ev := range events {
		payload[i] = toEventPayload(ev)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.ctl.Acknowledge(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, failsafe.ErrUnknownEvent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, failsafe.ErrEventPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
