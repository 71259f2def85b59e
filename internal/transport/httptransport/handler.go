package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/transport/simdto"
)

const (
	maxBodyBytes = 1 << 20
	writeWait    = 5 * time.Second
)

type Handler struct {
	svc      app.SimulationService
	runs     app.RunService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type HandlerOption func(*Handler)

// WithAllowedOrigins lists the browser origins that may open run event
// streams. "*" allows any origin. Without it only same-origin requests and
// clients that send no Origin header are accepted.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[strings.TrimSuffix(strings.TrimSpace(o), "/")] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		}
	}
}

func NewHandler(svc app.SimulationService, runs app.RunService, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		svc:    svc,
		runs:   runs,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", h.Validate)
	mux.HandleFunc("/simulate", h.Simulate)
	mux.HandleFunc("POST /runs", h.StartRun)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)
	mux.HandleFunc("GET /runs/{id}/logs", h.RunLogs)
	mux.HandleFunc("GET /runs/{id}/metrics", h.RunMetrics)
	mux.HandleFunc("POST /runs/{id}/stop", h.StopRun)
	mux.HandleFunc("POST /runs/{id}/reset", h.ResetRun)
	mux.HandleFunc("POST /runs/{id}/start", h.RestartRun)
	mux.HandleFunc("PUT /runs/{id}/speed", h.SetRunSpeed)
	mux.HandleFunc("GET /runs/{id}/events", h.RunEvents)
	return mux
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in simdto.ValidateRequest
	if !decode(w, r, &in) {
		return
	}

	info, err := h.svc.Validate(scenario.Format(in.Format), in.Source)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, simdto.ValidateResponse{Valid: true, Scenario: info})
}

func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in simdto.SimulateRequest
	if !decode(w, r, &in) {
		return
	}

	res, err := h.svc.Simulate(r.Context(), in.Input())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var in simdto.SimulateRequest
	if !decode(w, r, &in) {
		return
	}

	view, err := h.runs.Start(in.Input())
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/runs/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.Get(r.PathValue("id"))
	h.respond(w, view, err)
}

func (h *Handler) RunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.runs.Logs(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (h *Handler) RunMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.runs.Metrics(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.Stop(r.PathValue("id"))
	h.respond(w, view, err)
}

func (h *Handler) ResetRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.Reset(r.PathValue("id"))
	h.respond(w, view, err)
}

func (h *Handler) RestartRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.Restart(r.PathValue("id"))
	h.respond(w, view, err)
}

func (h *Handler) SetRunSpeed(w http.ResponseWriter, r *http.Request) {
	var in simdto.SpeedRequest
	if !decode(w, r, &in) {
		return
	}
	view, err := h.runs.SetSpeed(r.PathValue("id"), in.Multiplier)
	h.respond(w, view, err)
}

// RunEvents streams a run's lifecycle and node transitions over a websocket,
// starting with a replay of the current traversal.
func (h *Handler) RunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, done, unsub, err := h.runs.Subscribe(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "run", id, "err", err)
		return
	}
	defer conn.Close()

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Warn("websocket read failed", "run", id, "err", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				reason := "slow consumer"
				code := websocket.ClosePolicyViolation
				select {
				case <-done:
					reason, code = "run closed", websocket.CloseNormalClosure
				default:
				}
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", "run", id, "err", err)
				return
			}
		}
	}
}

func (h *Handler) respond(w http.ResponseWriter, view *app.RunView, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, body := simdto.ErrorFor(err)
	h.logger.Debug("request failed", "status", status, "err", err)
	writeJSON(w, status, body)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, simdto.ErrorResponse{Error: "invalid json", Details: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
