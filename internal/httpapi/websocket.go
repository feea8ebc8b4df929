package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadLimit    = maxMessageBytes
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 10 * time.Second
)

// wsFrame is a server-to-client WebSocket message.
type wsFrame struct {
	Type  string      `json:"type"` // "turn" or "error"
	Turn  interface{} `json:"turn,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  int         `json:"code,omitempty"`
}

// newUpgrader accepts same-host origins plus the listed ones. "*" allows any.
func newUpgrader(allowed []string) websocket.Upgrader {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := set["*"]; ok {
				return true
			}
			if _, ok := set[strings.ToLower(origin)]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// Chat handles GET /api/v1/sessions/{id}/ws. Each text frame {"message": "..."}
// runs one turn; turns on a connection are processed in order.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session_id", id))
	logger.Debug("WebSocket chat opened")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	incoming := make(chan MessageRequest)
	done := make(chan struct{})

	// Reader pump
	go func() {
		defer close(done)
		for {
			var req MessageRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("WebSocket read failed", zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			select {
			case incoming <- req:
			case <-r.Context().Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	write := func(frame wsFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug("WebSocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case req := <-incoming:
			result, err := h.conversations.HandleTurn(r.Context(), id, req.Message)
			if err != nil {
				code, message := statusFor(err)
				if code >= http.StatusInternalServerError {
					logger.Error("WebSocket turn failed", zap.Error(err))
				}
				if !write(wsFrame{Type: "error", Error: message, Code: code}) {
					return
				}
				continue
			}
			if !write(wsFrame{Type: "turn", Turn: result}) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
