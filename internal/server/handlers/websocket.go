// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ritrovo/internal/domain/presence"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// How often a nearby-presence snapshot is pushed
	SnapshotPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		SnapshotPeriod: 5 * time.Second,
		MaxMessageSize: 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// presenceClient is one connected nearby-presence subscriber
type presenceClient struct {
	conn    *websocket.Conn
	tracker presence.Tracker
	config  WebSocketConfig
}

// PresenceWebSocketHandler streams nearby-online snapshots to connected
// clients as the presence tracker re-derives them
func PresenceWebSocketHandler(tracker presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("failed to upgrade to WebSocket")
			return
		}

		client := &presenceClient{
			conn:    conn,
			tracker: tracker,
			config:  DefaultWebSocketConfig(),
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump consumes control frames from the peer until it disconnects
func (c *presenceClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

// writePump pushes nearby snapshots and pings on their own cadences
func (c *presenceClient) writePump() {
	pingTicker := time.NewTicker(c.config.PingPeriod)
	snapshotTicker := time.NewTicker(c.config.SnapshotPeriod)
	defer func() {
		pingTicker.Stop()
		snapshotTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-snapshotTicker.C:
			payload, err := json.Marshal(map[string]interface{}{
				"type":   "nearby",
				"users":  c.tracker.NearbyOnlineUsers(),
				"sentAt": time.Now(),
			})
			if err != nil {
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
