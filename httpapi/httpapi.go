// Package httpapi exposes a session over HTTP: send messages, stream
// observer events, resolve tool confirmations and cancel turns.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/martinemde/toolloop/agentloop"
	"github.com/martinemde/toolloop/eventlog"
)

const (
	maxMessageChars   = 10000
	heartbeatInterval = 15 * time.Second
)

// Session is the part of *agentloop.Session the API drives.
type Session interface {
	ID() string
	Model() string
	Busy() bool
	HasPendingConfirmation() bool
	Begin(ctx context.Context, text string, observer agentloop.Observer) (*agentloop.TurnHandle, error)
	ResolveConfirmation(outcome agentloop.ConfirmationOutcome) error
	CancelCurrentRequest() bool
}

// Handler provides the HTTP API for one session.
type Handler struct {
	session Session
	store   *eventlog.Store
	broker  *Broker
	logger  *slog.Logger
	router  chi.Router
}

// New creates a new HTTP API handler. A nil logger uses slog.Default.
func New(session Session, store *eventlog.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		session: session,
		store:   store,
		broker:  NewBroker(),
		logger:  logger,
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

// Observe records ev and notifies live streams. It is the observer of
// every turn started through the API, and can be passed to turns started
// elsewhere.
func (h *Handler) Observe(ev agentloop.Event) {
	id, err := h.store.Append(context.Background(), ev)
	if err != nil {
		// Live streams still get it, without an id to resume from.
		h.logger.Error("failed to record event", "type", ev.Kind, "prompt_id", ev.PromptID, "error", err)
		id = 0
	}
	h.broker.Publish(eventlog.Record{ID: id, Event: ev})
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/session", h.handleGetSession)
			r.Get("/turns", h.handleListTurns)
			r.Post("/messages", h.handleSendMessage)
			r.Post("/confirm", h.handleConfirm)
			r.Post("/cancel", h.handleCancel)
		})
		r.Get("/events", h.handleEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type sendMessageRequest struct {
	Content string `json:"content"`
}

type sendMessageResponse struct {
	SessionID string `json:"session_id"`
	PromptID  string `json:"prompt_id"`
}

type confirmRequest struct {
	Confirmed *bool  `json:"confirmed"`
	Outcome   string `json:"outcome,omitempty"`
}

type sessionResponse struct {
	ID                  string `json:"id"`
	Model               string `json:"model"`
	Busy                bool   `json:"busy"`
	PendingConfirmation bool   `json:"pending_confirmation"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:                  h.session.ID(),
		Model:               h.session.Model(),
		Busy:                h.session.Busy(),
		PendingConfirmation: h.session.HasPendingConfirmation(),
	})
}

func (h *Handler) handleListTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := h.store.Turns(r.Context(), h.session.ID())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list turns")
		h.logger.Error("failed to list turns", "error", err)
		return
	}
	if turns == nil {
		turns = []eventlog.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len([]rune(req.Content)) > maxMessageChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("content exceeds %d characters", maxMessageChars))
		return
	}

	// The turn outlives this request.
	handle, err := h.session.Begin(context.WithoutCancel(r.Context()), req.Content, h.Observe)
	if errors.Is(err, agentloop.ErrTurnInFlight) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start turn")
		h.logger.Error("failed to start turn", "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, sendMessageResponse{
		SessionID: h.session.ID(), PromptID: handle.PromptID,
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var outcome agentloop.ConfirmationOutcome
	switch {
	case req.Outcome != "":
		o, ok := agentloop.ParseConfirmationOutcome(req.Outcome)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown outcome "+strconv.Quote(req.Outcome))
			return
		}
		outcome = o
	case req.Confirmed == nil:
		writeError(w, http.StatusBadRequest, "confirmed or outcome is required")
		return
	case *req.Confirmed:
		outcome = agentloop.ProceedOnce
	default:
		outcome = agentloop.Cancel
	}

	if err := h.session.ResolveConfirmation(outcome); err != nil {
		if errors.Is(err, agentloop.ErrNoPendingConfirmation) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: h.session.CancelCurrentRequest()})
}

// handleEvents streams the session's events as SSE. It replays everything
// after Last-Event-ID (or the "after" query parameter) from the log, then
// follows live events.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := lastEventID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so nothing recorded in between is missed.
	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	ctx := r.Context()
	sessionID := h.session.ID()
	catchUp := func() bool {
		records, err := h.store.Since(ctx, sessionID, after)
		if err != nil {
			h.logger.Error("failed to load events", "after", after, "error", err)
			return false
		}
		for _, rec := range records {
			writeSSE(w, rec, h.logger)
			after = rec.ID
		}
		return true
	}
	if !catchUp() {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if rec.Event.SessionID != sessionID {
				continue
			}
			switch {
			case rec.ID == 0:
				// Not recorded; deliver as is.
				writeSSE(w, rec, h.logger)
			case rec.ID > after:
				if !catchUp() {
					return
				}
			}
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func lastEventID(r *http.Request) (int64, error) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("after")
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, rec eventlog.Record, logger *slog.Logger) {
	data, err := json.Marshal(rec.Event)
	if err != nil {
		logger.Error("writeSSE marshal error", "error", err)
		return
	}
	var frame string
	if rec.ID > 0 {
		// Unrecorded events carry no id, so Last-Event-ID keeps pointing
		// at the last recorded one.
		frame = fmt.Sprintf("id: %d\n", rec.ID)
	}
	frame += fmt.Sprintf("event: %s\ndata: %s\n\n", rec.Event.Kind, data)
	if _, err := io.WriteString(w, frame); err != nil {
		logger.Debug("writeSSE write error", "error", err)
	}
}
