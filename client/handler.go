package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flashbots/kanon/protocol"
	"github.com/go-chi/chi/v5"
)

const maxMessagesPerRequest = 1024

// Handler exposes the client over HTTP for the ad selection pipeline and
// for operators.
type Handler struct {
	manager  *Manager
	worker   *Worker
	messages protocol.MessageStore
	log      *slog.Logger
}

// NewHandler creates a handler. log may be nil.
func NewHandler(manager *Manager, worker *Worker, messages protocol.MessageStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{manager: manager, worker: worker, messages: messages, log: log}
}

// RegisterRoutes registers HTTP routes for client operations
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/kanon/status", h.handleStatus)
	r.Post("/kanon/messages", h.handleMessages)
	r.Get("/kanon/messages/{hashSet}", h.handleLookup)
	r.Post("/kanon/run", h.handleRun)
}

// NewMessage is one entry of a POST /kanon/messages request.
type NewMessage struct {
	AdSelectionID uint64 `json:"ad_selection_id"`
	HashSet       string `json:"hash_set"`
}

// NewMessagesRequest is the body of POST /kanon/messages.
type NewMessagesRequest struct {
	Messages []NewMessage `json:"messages"`
}

// NewMessagesResponse lists the messages that were accepted for processing.
type NewMessagesResponse struct {
	Received int                 `json:"received"`
	Accepted []*protocol.Message `json:"accepted"`
}

// StatusResponse is returned by GET /kanon/status.
type StatusResponse struct {
	WorkerRunning bool       `json:"worker_running"`
	WorkerStopped bool       `json:"worker_stopped"`
	LastRun       *RunReport `json:"last_run,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &StatusResponse{
		WorkerRunning: h.worker.Running(),
		WorkerStopped: h.worker.Stopped(),
		LastRun:       h.worker.LastRun(),
	})
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req NewMessagesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > maxMessagesPerRequest {
		http.Error(w, fmt.Sprintf("expected 1 to %d messages", maxMessagesPerRequest), http.StatusBadRequest)
		return
	}

	msgs := make([]*protocol.Message, len(req.Messages))
	for i, m := range req.Messages {
		if m.HashSet == "" {
			http.Error(w, fmt.Sprintf("message %d: hash_set is required", i), http.StatusBadRequest)
			return
		}
		msgs[i] = &protocol.Message{AdSelectionID: m.AdSelectionID, HashSet: m.HashSet}
	}

	accepted, err := h.manager.ProcessNewMessages(r.Context(), msgs)
	if err != nil {
		h.log.Error("could not process new messages", "err", err)
		http.Error(w, "could not process messages", http.StatusInternalServerError)
		return
	}

	if accepted == nil {
		accepted = []*protocol.Message{}
	}
	writeJSON(w, http.StatusAccepted, &NewMessagesResponse{Received: len(msgs), Accepted: accepted})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	hashSet := chi.URLParam(r, "hashSet")
	msgs, err := h.messages.FetchByHash(r.Context(), hashSet)
	if err != nil {
		h.log.Error("could not look up messages", "hash_set", hashSet, "err", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if len(msgs) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if h.worker.Stopped() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	if !h.worker.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
