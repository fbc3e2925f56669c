package socket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padsync/store"
)

func TestBridgeRelaysAcrossHubs(t *testing.T) {
	s := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two independent hub nodes sharing one redis.
	hubA := NewHub()
	bridgeA, err := NewBridge("redis://" + s.Addr())
	require.NoError(t, err)
	defer bridgeA.Close()
	hubA.AttachBridge(bridgeA)
	bridgeA.Start(ctx)
	go hubA.Run()

	hubB := NewHub()
	bridgeB, err := NewBridge("redis://" + s.Addr())
	require.NoError(t, err)
	defer bridgeB.Close()
	hubB.AttachBridge(bridgeB)
	bridgeB.Start(ctx)
	go hubB.Run()

	wsURL := newFeedServer(t, hubB)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=notes&session=sess-b", nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	// A write accepted on node A reaches the subscriber on node B.
	hubA.Publish(store.ChangeEvent{
		Kind: store.EventDocUpdated,
		Pad:  "notes",
		Doc:  &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "from node A"},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, store.EventDocUpdated, ev.Kind)
	assert.Equal(t, "from node A", ev.Doc.Content)
}

func TestBridgeDropsOwnRelays(t *testing.T) {
	s := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	bridge, err := NewBridge("redis://" + s.Addr())
	require.NoError(t, err)
	defer bridge.Close()
	hub.AttachBridge(bridge)
	bridge.Start(ctx)
	go hub.Run()

	wsURL := newFeedServer(t, hub)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?pad=notes&session=sess-a", nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	hub.Publish(store.ChangeEvent{
		Kind: store.EventDocUpdated,
		Pad:  "notes",
		Doc:  &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "once"},
	})

	// Exactly one delivery: the local fan-out. The node's own relay coming
	// back through redis must not double-deliver.
	ev := readEvent(t, conn)
	assert.Equal(t, "once", ev.Doc.Content)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "Event must not be delivered twice")
}
