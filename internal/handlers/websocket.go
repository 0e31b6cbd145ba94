package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/hub"
	"github.com/ukydev/live-presence/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Subscriber is the hub surface a live connection needs.
type Subscriber interface {
	Subscribe(query models.Query) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Presence is readable by everyone, so any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler streams presence snapshots to one connection per request
type WebSocketHandler struct {
	hub Subscriber
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(h Subscriber) *WebSocketHandler {
	return &WebSocketHandler{hub: h}
}

// ServeHTTP upgrades and streams snapshots until either side goes away
// GET /ws/presence?query=all|active
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query, ok := parseQuery(r)
	if !ok {
		http.Error(w, "Invalid query", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(query)
	defer h.hub.Unsubscribe(sub)
	logger := log.WithFields(log.Fields{"subscriber_id": sub.ID, "query": query})
	logger.Info("WebSocket subscriber connected")

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Info("WebSocket subscriber disconnected")
			return
		case snap, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				logger.WithError(err).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline alive via
// pongs. It closes closed when the connection ends.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("WebSocket closed unexpectedly")
			}
			return
		}
	}
}
