// Package httpapi exposes conversations over REST and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shre-db/linked-squad/go/assistant/internal/db"
	"github.com/shre-db/linked-squad/go/assistant/internal/orchestrator"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

const maxMessageBytes = 64 << 10

var (
	idRe = regexp.MustCompile(`^[A-Za-z0-9:_\-\.]{1,128}$`)

	errEmptyBody = errors.New("request body is required")
)

// Conversations is the orchestrator surface the API needs.
type Conversations interface {
	HandleTurn(ctx context.Context, sessionID, input string) (*orchestrator.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*state.ConversationState, error)
	Reset(ctx context.Context, sessionID string) error
}

// ProfileLister lists the known profiles.
type ProfileLister interface {
	List() []profiles.Summary
}

// TurnLog is the optional audit log backing turn history and archives.
type TurnLog interface {
	ListTurns(ctx context.Context, filter db.TurnFilter) ([]db.TurnRecord, error)
	ArchiveSession(ctx context.Context, st *state.ConversationState) error
}

// Handler serves the chat API.
type Handler struct {
	conversations Conversations
	profiles      ProfileLister
	turnLog       TurnLog
	upgrader      websocket.Upgrader
	logger        *zap.Logger
}

// NewHandler creates a chat API handler. turnLog may be nil. allowedOrigins
// extends the WebSocket origin check beyond same-host requests.
func NewHandler(conversations Conversations, lister ProfileLister, turnLog TurnLog, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		conversations: conversations,
		profiles:      lister,
		turnLog:       turnLog,
		upgrader:      newUpgrader(allowedOrigins),
		logger:        logger,
	}
}

// RegisterRoutes registers the chat endpoints with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.SendMessage)
	mux.HandleFunc("GET /api/v1/sessions/{id}/turns", h.ListTurns)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", h.Chat)
	mux.HandleFunc("GET /api/v1/profiles", h.ListProfiles)
}

// MessageRequest is the body of a chat turn.
type MessageRequest struct {
	Message string `json:"message"`
}

// TurnsResponse lists audited turns of a session.
type TurnsResponse struct {
	SessionID string            `json:"session_id"`
	Turns     []state.TurnEvent `json:"turns"`
	Total     int               `json:"total"`
}

// CreateSession handles POST /api/v1/sessions. It runs the opening turn and
// returns the welcome reply. An optional message starts the conversation with
// it instead.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.conversations.HandleTurn(r.Context(), "", req.Message)
	if err != nil {
		h.sendTurnError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, result)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	st, err := h.conversations.Session(r.Context(), id)
	if err != nil {
		h.sendTurnError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, st)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}. The state is archived to
// the turn log, when one is configured, before it is reset. Unknown sessions
// answer 404.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	st, err := h.conversations.Session(ctx, id)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.sendTurnError(w, err)
		return
	case err != nil:
		h.logger.Warn("Failed to load session before reset", zap.String("session_id", id), zap.Error(err))
	case h.turnLog != nil:
		if err := h.turnLog.ArchiveSession(ctx, st); err != nil {
			h.logger.Warn("Failed to archive session", zap.String("session_id", id), zap.Error(err))
		}
	}

	if err := h.conversations.Reset(ctx, id); err != nil {
		h.sendTurnError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage handles POST /api/v1/sessions/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.conversations.HandleTurn(r.Context(), id, req.Message)
	if err != nil {
		h.sendTurnError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

// ListTurns handles GET /api/v1/sessions/{id}/turns
func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if h.turnLog == nil {
		h.sendError(w, "Turn log is not enabled", http.StatusNotFound)
		return
	}

	filter := db.TurnFilter{SessionID: id, Action: r.URL.Query().Get("action")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			h.sendError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.sendError(w, "Invalid offset parameter", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	records, err := h.turnLog.ListTurns(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list turns", zap.String("session_id", id), zap.Error(err))
		h.sendError(w, "Failed to list turns", http.StatusInternalServerError)
		return
	}

	resp := TurnsResponse{SessionID: id, Turns: make([]state.TurnEvent, 0, len(records))}
	for i := range records {
		resp.Turns = append(resp.Turns, records[i].Event())
	}
	resp.Total = len(resp.Turns)
	h.sendJSON(w, http.StatusOK, resp)
}

// ListProfiles handles GET /api/v1/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, _ *http.Request) {
	list := h.profiles.List()
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": list,
		"total":    len(list),
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !idRe.MatchString(id) {
		h.sendError(w, "Invalid session ID format", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		return http.StatusConflict, "A turn is already in progress for this session"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request canceled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) sendTurnError(w http.ResponseWriter, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Chat request failed", zap.Error(err))
	}
	h.sendError(w, message, code)
}

func (h *Handler) sendJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) sendError(w http.ResponseWriter, message string, code int) {
	h.sendJSON(w, code, map[string]string{"error": strings.TrimSpace(message)})
}
