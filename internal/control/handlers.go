// File: internal/control/handlers.go
package control

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/observability"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Handlers serves the control API.
type Handlers struct {
	log     *zap.Logger
	ctrl    Controller
	history HistoryReader
	hub     *Hub
}

// NewHandlers creates the API handlers. history may be nil when no journal is
// configured, and hub may be nil when no events socket is served.
func NewHandlers(logger *zap.Logger, ctrl Controller, history HistoryReader, hub *Hub) *Handlers {
	return &Handlers{
		log:     logger.Named("control_handlers"),
		ctrl:    ctrl,
		history: history,
		hub:     hub,
	}
}

// RegisterRoutes mounts the health check and the versioned API on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
		r.Get("/log-level", h.HandleGetLogLevel)
		r.Put("/log-level", h.HandleSetLogLevel)
		r.Get("/history", h.HandleRecentHistory)
		r.Get("/history/{commandID}", h.HandleCommandHistory)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Pause()
	h.log.Info("Dispatcher paused via control API", zap.String("remote", r.RemoteAddr))
	h.publishStatus()
	h.respondWithSuccess(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Resume()
	h.log.Info("Dispatcher resumed via control API", zap.String("remote", r.RemoteAddr))
	h.publishStatus()
	h.respondWithSuccess(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) HandleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, LogLevelRequest{Level: observability.Level()})
}

func (h *Handlers) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := observability.SetLevel(req.Level); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Info("Log level changed", zap.String("level", observability.Level()))
	h.respondWithSuccess(w, http.StatusOK, LogLevelRequest{Level: observability.Level()})
}

func (h *Handlers) HandleRecentHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "History is unavailable (database not configured).")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to read recent history", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving history.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func (h *Handlers) HandleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "History is unavailable (database not configured).")
		return
	}
	commandID := chi.URLParam(r, "commandID")
	entries, err := h.history.ByCommand(r.Context(), commandID)
	if err != nil {
		h.log.Error("Failed to read command history", zap.String("command_id", commandID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving history.")
		return
	}
	if len(entries) == 0 {
		h.respondWithError(w, http.StatusNotFound, "No history for command "+commandID)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func (h *Handlers) publishStatus() {
	if h.hub != nil {
		h.hub.Publish(MsgTypeStatusUpdate, h.ctrl.Status())
	}
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	h.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
