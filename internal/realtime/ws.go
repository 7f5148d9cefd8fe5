package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storefront-events/internal/auth"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Handler upgrades HTTP requests to websocket connections after the
// credential has been accepted by the router.
type Handler struct {
	router   *Router
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(router *Router, checkOrigin func(r *http.Request) bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: logger.With("component", "ws"),
	}
}

// credential reads the bearer token from the Authorization header, falling
// back to the token query parameter browsers use for websockets.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, err := auth.BearerToken(h); err == nil {
			return tok
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.router.Handshake(credential(r))
	if err != nil {
		h.log.Info("handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.router.Disconnect(conn)
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	if err := h.router.Admit(conn); err != nil {
		h.log.Warn("admit failed", "conn", conn.ID, "error", err)
		ws.Close()
		return
	}

	go h.writePump(ws, conn)
	h.readPump(ws, conn)
}

// readPump drains client frames so control messages are processed. It owns
// the disconnect.
func (h *Handler) readPump(ws *websocket.Conn, conn *Conn) {
	defer func() {
		h.router.Disconnect(conn)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Info("connection dropped", "conn", conn.ID, "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.log.Debug("write failed", "conn", conn.ID, "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
