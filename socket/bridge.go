package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"padsync/pkg/logger"
	"padsync/session"
	"padsync/store"
)

const channelPrefix = "padsync:events:"

// Bridge relays change events between hub nodes over redis pub/sub, so a
// client connected to one node observes writes accepted by another. Each
// node tags outgoing envelopes with its own id and drops its own relays on
// the way back in.
type Bridge struct {
	client *redis.Client
	nodeID string
	hub    *Hub
}

type envelope struct {
	Node  string            `json:"node"`
	Event store.ChangeEvent `json:"event"`
}

func NewBridge(redisURL string) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Bridge{client: client, nodeID: session.NewID()}, nil
}

// Start begins relaying remote events into the attached hub until ctx ends.
func (b *Bridge) Start(ctx context.Context) {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Sugar.Errorf("Bad bridge envelope: %v", err)
					continue
				}
				if env.Node == b.nodeID {
					continue
				}
				select {
				case b.hub.fromBridge <- env.Event:
				default:
					// The relay buffer is full; the event is a hint and
					// clients reconcile from the store anyway.
					logger.Sugar.Warn("Bridge relay buffer full, dropping event")
				}
			}
		}
	}()
}

// Publish relays a locally accepted event to the other nodes. Best-effort:
// a publish failure is logged, never surfaced, because subscribers treat the
// feed as hint-only.
func (b *Bridge) Publish(ev store.ChangeEvent) {
	data, err := json.Marshal(envelope{Node: b.nodeID, Event: ev})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling bridge envelope: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, channelPrefix+ev.Pad, data).Err(); err != nil {
		logger.Sugar.Errorf("Failed to publish event for pad %s: %v", ev.Pad, err)
	}
}

func (b *Bridge) Close() error {
	return b.client.Close()
}
