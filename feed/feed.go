// Package feed implements the client side of the change feed: a push channel
// scoped to one pad that delivers change events as hints. Reconnection is
// handled internally; subscribers only ever observe a connectivity flag and
// must re-derive correctness from full-row state, never from event ordering.
package feed

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"padsync/pkg/logger"
	"padsync/pkg/observable"
	"padsync/store"
)

const subscriptionBuffer = 32

// Filter selects which events a subscription receives. A nil filter matches
// everything.
type Filter func(store.ChangeEvent) bool

type Subscription struct {
	C      chan store.ChangeEvent
	filter Filter
	once   sync.Once
}

type Options struct {
	// ReconnectBase is the first retry delay; it doubles per failed attempt
	// up to ReconnectMax, plus jitter. Zero values mean 500ms and 30s.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// ReadIdleTimeout bounds how long a connection may stay silent before
	// it is treated as dead. The hub pings every 30 seconds, so a healthy
	// connection refreshes the deadline well inside the default of 75s.
	ReadIdleTimeout time.Duration
}

// Feed is a change-feed subscription for one pad. Events lost while
// disconnected are not replayed; consumers reconcile from the store after
// the status flips back to connected.
type Feed struct {
	url    string
	opts   Options
	status *observable.Value[bool]

	mu   sync.Mutex
	subs map[*Subscription]bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial starts a feed for one pad against a hub endpoint such as
// "ws://host:8080/ws". The feed connects in the background; use Status to
// observe connectivity.
func Dial(endpoint, padID, sessionID string) *Feed {
	return DialOptions(endpoint, padID, sessionID, Options{})
}

func DialOptions(endpoint, padID, sessionID string, opts Options) *Feed {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.ReadIdleTimeout <= 0 {
		opts.ReadIdleTimeout = 75 * time.Second
	}

	q := url.Values{}
	q.Set("pad", padID)
	q.Set("session", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		url:    endpoint + "?" + q.Encode(),
		opts:   opts,
		status: observable.NewValue(false),
		subs:   make(map[*Subscription]bool),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Status reports connectivity. Upstream components use it to gate
// optimistic-vs-pessimistic UI; local edits never depend on it.
func (f *Feed) Status() *observable.Value[bool] {
	return f.status
}

// Subscribe registers a buffered event channel. A slow consumer drops
// events rather than blocking the feed.
func (f *Feed) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{C: make(chan store.ChangeEvent, subscriptionBuffer), filter: filter}
	f.mu.Lock()
	f.subs[sub] = true
	f.mu.Unlock()
	return sub
}

// Unsubscribe releases the subscription and closes its channel. Idempotent
// and safe to call during teardown. The close happens under f.mu, the same
// lock dispatch sends under, so a send can never hit a closed channel.
func (f *Feed) Unsubscribe(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	sub.once.Do(func() { close(sub.C) })
	f.mu.Unlock()
}

// Close stops the feed and releases every subscription.
func (f *Feed) Close() {
	f.cancel()
	<-f.done

	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		f.Unsubscribe(sub)
	}
}

func (f *Feed) run() {
	defer close(f.done)

	attempt := 0
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(f.ctx, f.url, nil)
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			logger.Sugar.Debugf("Feed dial failed: %v", err)
			if !f.waitBackoff(&attempt) {
				return
			}
			continue
		}

		attempt = 0
		f.status.Set(true)
		f.readLoop(conn)
		f.status.Set(false)

		if f.ctx.Err() != nil {
			return
		}
		if !f.waitBackoff(&attempt) {
			return
		}
	}
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-f.ctx.Done():
			conn.Close()
		case <-readDone:
			conn.Close()
		}
	}()

	// Without a deadline a silently dead server stalls the read until TCP
	// gives up. Hub pings and data frames both refresh it.
	conn.SetReadDeadline(time.Now().Add(f.opts.ReadIdleTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(f.opts.ReadIdleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		var ev store.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if f.ctx.Err() == nil {
				logger.Sugar.Debugf("Feed connection lost: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(f.opts.ReadIdleTimeout))
		f.dispatch(ev)
	}
}

// dispatch sends under f.mu. The sends are non-blocking so the lock is never
// held across I/O, and holding it keeps Unsubscribe from closing a channel
// between the membership check and the send.
func (f *Feed) dispatch(ev store.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			// Hint-only delivery: the consumer reconciles from the store.
		}
	}
}

// waitBackoff sleeps the current retry delay with jitter. Returns false when
// the feed is closing.
func (f *Feed) waitBackoff(attempt *int) bool {
	d := f.opts.ReconnectBase << *attempt
	if d > f.opts.ReconnectMax || d <= 0 {
		d = f.opts.ReconnectMax
	} else {
		*attempt++
	}
	d += time.Duration(rand.Int63n(int64(d/2) + 1))

	select {
	case <-f.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
