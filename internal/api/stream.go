package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin than the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream upgrades to a WebSocket and pushes change events for one device.
// The change-feed subscription is held for exactly the life of the socket
// and released when it closes.
func (h *Handler) Stream(c *gin.Context) {
	deviceID := h.deviceID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("device_id", deviceID))
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(deviceID)
	defer sub.Unsubscribe()

	h.logger.Info("stream opened", zap.String("device_id", deviceID))

	// Reader goroutine: consume control frames and signal peer disconnect
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("stream closed by peer", zap.String("device_id", deviceID))
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Warn("failed to write change event", zap.Error(err), zap.String("device_id", deviceID))
				return
			}
		}
	}
}
