package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// Alert stream rooms. Every alert goes to RoomAllAlerts and to the owner's user room.
const RoomAllAlerts = "alerts"

// UserRoom returns the room carrying one user's alerts.
func UserRoom(userID uuid.UUID) string { return "user:" + userID.String() }

// AlertHub fans committed security alerts out to WebSocket subscribers.
// It is process-local; every API replica serves its own subscribers.
type AlertHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*WSConn // room -> connID -> conn
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// WSConn is one subscriber's outbound queue.
type WSConn struct {
	ID   string
	Send chan []byte
}

// WSMessage is the payload sent over WebSocket.
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewAlertHub creates a hub. checkOrigin may be nil to accept any origin.
func NewAlertHub(checkOrigin func(r *http.Request) bool, logger *slog.Logger) *AlertHub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &AlertHub{
		rooms:    make(map[string]map[string]*WSConn),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// Join adds a connection to a room.
func (h *AlertHub) Join(room string, conn *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*WSConn)
	}
	h.rooms[room][conn.ID] = conn
}

// Leave removes a connection from a room.
func (h *AlertHub) Leave(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish delivers an alert to the global room and the owner's room.
// Slow subscribers drop messages rather than block the caller.
func (h *AlertHub) Publish(alert domain.SecurityAlert) {
	payload, err := json.Marshal(WSMessage{Event: "security.alert", Data: alert})
	if err != nil {
		h.logger.Error("ws marshal error", "error", err, "alert_id", alert.ID)
		return
	}
	h.broadcast(RoomAllAlerts, payload)
	h.broadcast(UserRoom(alert.UserID), payload)
}

func (h *AlertHub) broadcast(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.rooms[room] {
		select {
		case conn.Send <- payload:
		default:
			h.logger.Warn("ws send buffer full", "conn_id", conn.ID, "room", room)
		}
	}
}

// ConnectionCount returns the number of room memberships.
func (h *AlertHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, conns := range h.rooms {
		count += len(conns)
	}
	return count
}

// RoomCount returns the number of active rooms.
func (h *AlertHub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Serve upgrades the request and streams the room's alerts until the peer
// disconnects or ctx is cancelled.
func (h *AlertHub) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, room string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	conn := &WSConn{ID: uuid.NewString(), Send: make(chan []byte, wsSendBuffer)}
	h.Join(room, conn)
	h.logger.Info("alert stream subscribed", "conn_id", conn.ID, "room", room)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.Leave(room, conn.ID)
		ws.Close()
		h.logger.Info("alert stream closed", "conn_id", conn.ID, "room", room)
	}()

	// Reads only detect the close; subscribers never send data.
	go func() {
		defer cancel()
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return nil
		case msg, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// Shutdown closes all subscriber queues.
func (h *AlertHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]bool)
	for room, conns := range h.rooms {
		for id, conn := range conns {
			if !seen[id] {
				close(conn.Send)
				seen[id] = true
			}
		}
		delete(h.rooms, room)
	}
}
