package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padsync/store"
)

// Helper to read one change event from a WebSocket connection with a timeout.
func readEvent(t *testing.T, conn *websocket.Conn) store.ChangeEvent {
	var ev store.ChangeEvent
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &ev)
	require.NoError(t, err, "Failed to unmarshal ChangeEvent JSON")
	return ev
}

func newFeedServer(t *testing.T, hub *Hub) string {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("session"))
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHubFansOutToAllRoomMembers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	wsURL := newFeedServer(t, hub)

	conn1, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=notes&session=sess-a", nil)
	require.NoError(t, err, "Client 1 failed to connect")
	defer conn1.Close()

	conn2, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=notes&session=sess-b", nil)
	require.NoError(t, err, "Client 2 failed to connect")
	defer conn2.Close()

	// Registration goes through the hub's run loop; give it a beat.
	time.Sleep(50 * time.Millisecond)

	hub.Publish(store.ChangeEvent{
		Kind:      store.EventDocUpdated,
		Pad:       "notes",
		SessionID: "sess-a",
		Doc:       &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "hello"},
	})

	// The writer's own session receives the echo too: subscribers re-derive
	// state from full-row events rather than trusting local diffs.
	ev1 := readEvent(t, conn1)
	assert.Equal(t, store.EventDocUpdated, ev1.Kind)
	assert.Equal(t, "hello", ev1.Doc.Content)

	ev2 := readEvent(t, conn2)
	assert.Equal(t, "sess-a", ev2.SessionID)
	assert.Equal(t, "hello", ev2.Doc.Content)
}

func TestHubScopesEventsByPad(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	wsURL := newFeedServer(t, hub)

	connOther, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=other&session=sess-x", nil)
	require.NoError(t, err)
	defer connOther.Close()

	time.Sleep(50 * time.Millisecond)

	hub.Publish(store.ChangeEvent{
		Kind: store.EventDocUpdated,
		Pad:  "notes",
		Doc:  &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "x"},
	})

	connOther.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = connOther.ReadMessage()
	assert.Error(t, err, "Client in another room must not receive the event")
}

func TestHubCursorEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	wsURL := newFeedServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=x&session=sess-b", nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	hub.Publish(store.ChangeEvent{
		Kind:      store.EventCursorUpserted,
		Pad:       "x",
		SessionID: "sess-a",
		Cursor:    &store.Cursor{PadID: "x", SessionID: "sess-a", Position: 10},
	})
	hub.Publish(store.ChangeEvent{
		Kind:      store.EventCursorDeleted,
		Pad:       "x",
		SessionID: "sess-a",
		Cursor:    &store.Cursor{PadID: "x", SessionID: "sess-a"},
	})

	up := readEvent(t, conn)
	assert.Equal(t, store.EventCursorUpserted, up.Kind)
	assert.Equal(t, 10, up.Cursor.Position)

	down := readEvent(t, conn)
	assert.Equal(t, store.EventCursorDeleted, down.Kind)
}
