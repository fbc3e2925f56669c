package socket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"padsync/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Pads are addressed by name from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one subscriber connection. The feed is downstream-only: clients
// mutate state through the REST API and receive change events here.
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	PadID     string
	SessionID string
	Send      chan []byte
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, sessionID string) {
	padID := r.URL.Query().Get("pad")
	if padID == "" {
		http.Error(w, "Missing pad parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:       hub,
		Conn:      conn,
		PadID:     padID,
		SessionID: sessionID,
		Send:      make(chan []byte, 256),
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	// Inbound frames are drained only to detect the close; the feed carries
	// no upstream messages.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
