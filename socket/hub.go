package socket

import (
	"encoding/json"
	"sync"

	"padsync/pkg/logger"
	"padsync/store"
)

// Hub fans change events out to every subscriber of a pad. Rooms are keyed
// by pad id; subpad and cursor events for a pad flow through the same room.
//
// The hub does not persist anything and keeps no document cache: writes land
// in the store through the service layer before the event reaches the hub,
// and events are delivered to all room members including the writer, so each
// client can re-derive its state from the echoed row. Delivery is
// best-effort; a subscriber that misses an event reconciles from the store.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan store.ChangeEvent
	Register   chan *Client
	Unregister chan *Client

	mu sync.Mutex

	// fromBridge carries events relayed from other nodes; they are fanned
	// out locally but never published back to the bridge.
	fromBridge chan store.ChangeEvent
	bridge     *Bridge
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan store.ChangeEvent),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		fromBridge: make(chan store.ChangeEvent, 64),
	}
}

// AttachBridge wires a cross-node relay. Must be called before Run.
func (h *Hub) AttachBridge(b *Bridge) {
	h.bridge = b
	b.hub = h
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.PadID] == nil {
				h.Rooms[client.PadID] = make(map[*Client]bool)
			}
			h.Rooms[client.PadID][client] = true
			h.mu.Unlock()
			logger.Sugar.Infof("Session %s subscribed to pad %s", client.SessionID, client.PadID)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.Rooms[client.PadID][client]; ok {
				delete(h.Rooms[client.PadID], client)
				close(client.Send)
				if len(h.Rooms[client.PadID]) == 0 {
					delete(h.Rooms, client.PadID)
					logger.Sugar.Infof("Closed empty room: %s", client.PadID)
				}
			}
			h.mu.Unlock()

		case ev := <-h.Broadcast:
			h.fanOut(ev)
			if h.bridge != nil {
				h.bridge.Publish(ev)
			}

		case ev := <-h.fromBridge:
			h.fanOut(ev)
		}
	}
}

// Publish queues a change event for fan-out. Called by the service layer
// after each successful store mutation.
func (h *Hub) Publish(ev store.ChangeEvent) {
	h.Broadcast <- ev
}

func (h *Hub) fanOut(ev store.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling change event: %v", err)
		return
	}

	// Copy the recipient list so no I/O happens under the lock.
	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.Rooms[ev.Pad]))
	for client := range h.Rooms[ev.Pad] {
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			// The send buffer is full, so the client is lagging.
			// Unregister it to keep the hub responsive; it will
			// reconnect and reconcile from the store.
			logger.Sugar.Warnf("Session %s's send buffer is full. Unregistering.", client.SessionID)
			go func(c *Client) { h.Unregister <- c }(client)
		}
	}
}
