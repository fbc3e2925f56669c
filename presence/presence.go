// Package presence maintains the set of live cursors for one pad: publishing
// the local session's cursor, merging remote cursor events, and expiring
// rows by TTL. Expiry is time-based, not delivery-based: a delete event that
// never arrives (subscription gap, crashed tab) cannot keep a cursor alive.
package presence

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"padsync/pkg/logger"
	"padsync/pkg/observable"
	"padsync/store"
)

const (
	// DefaultLivenessWindow is the TTL after which a cursor row is treated
	// as absent even if it was never physically removed.
	DefaultLivenessWindow = 30 * time.Second

	// DefaultReconcileInterval is how often the tracker re-reads the store,
	// since feed delivery is hint-only.
	DefaultReconcileInterval = 10 * time.Second
)

type Options struct {
	LivenessWindow    time.Duration
	ReconcileInterval time.Duration
	UserName          string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

type Tracker struct {
	cursors   store.CursorStore
	padID     string
	sessionID string
	color     string
	opts      Options

	mu    sync.Mutex
	rows  map[string]store.Cursor
	live  *observable.Value[[]store.Cursor]
	stop  chan struct{}
	once  sync.Once
}

func NewTracker(cursors store.CursorStore, padID, sessionID string, opts Options) *Tracker {
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UserName == "" {
		opts.UserName = defaultName(sessionID)
	}
	return &Tracker{
		cursors:   cursors,
		padID:     padID,
		sessionID: sessionID,
		color:     colorFor(sessionID),
		opts:      opts,
		rows:      make(map[string]store.Cursor),
		live:      observable.NewValue([]store.Cursor{}),
		stop:      make(chan struct{}),
	}
}

// Start loads the initial cursor set and begins periodic reconciliation.
func (t *Tracker) Start(ctx context.Context) {
	if err := t.Reconcile(ctx); err != nil {
		logger.Sugar.Warnf("Initial cursor load for pad %s failed: %v", t.padID, err)
	}
	go func() {
		ticker := time.NewTicker(t.opts.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.Reconcile(ctx); err != nil {
					logger.Sugar.Warnf("Cursor reconcile for pad %s failed: %v", t.padID, err)
				}
			}
		}
	}()
}

// Publish upserts the caller's own cursor row; repeated calls overwrite,
// never duplicate. Called on every caret movement.
func (t *Tracker) Publish(ctx context.Context, position int) error {
	c := store.Cursor{
		PadID:     t.padID,
		SessionID: t.sessionID,
		UserName:  t.opts.UserName,
		Position:  position,
		Color:     t.color,
		UpdatedAt: t.opts.Now(),
	}
	if err := t.cursors.UpsertCursor(ctx, c); err != nil {
		return err
	}

	t.mu.Lock()
	t.rows[c.SessionID] = c
	t.mu.Unlock()
	return nil
}

// Retract deletes the caller's own row on document close. Best-effort: a
// failure is not retried because TTL expiry covers stale rows regardless.
func (t *Tracker) Retract(ctx context.Context) {
	if err := t.cursors.DeleteCursor(ctx, t.padID, t.sessionID); err != nil {
		logger.Sugar.Warnf("Cursor retract for pad %s failed (stale row will expire): %v", t.padID, err)
	}
	t.mu.Lock()
	delete(t.rows, t.sessionID)
	t.mu.Unlock()
	t.notify()
}

// HandleEvent merges an incoming presence event: full replace of the
// affected row, no diffing.
func (t *Tracker) HandleEvent(ev store.ChangeEvent) {
	if ev.Pad != t.padID || ev.Cursor == nil {
		return
	}
	t.mu.Lock()
	switch ev.Kind {
	case store.EventCursorUpserted:
		t.rows[ev.Cursor.SessionID] = *ev.Cursor
	case store.EventCursorDeleted:
		delete(t.rows, ev.Cursor.SessionID)
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.notify()
}

// Reconcile replaces the cached cursor set from the store.
func (t *Tracker) Reconcile(ctx context.Context) error {
	rows, err := t.cursors.ListCursors(ctx, t.padID, t.opts.Now().Add(-t.opts.LivenessWindow))
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.rows = make(map[string]store.Cursor, len(rows))
	for _, c := range rows {
		t.rows[c.SessionID] = c
	}
	t.mu.Unlock()
	t.notify()
	return nil
}

// ListActive returns every live cursor except the caller's own. Rows whose
// last publish falls outside the liveness window are treated as absent
// whether or not a delete for them was ever delivered.
func (t *Tracker) ListActive() []store.Cursor {
	cutoff := t.opts.Now().Add(-t.opts.LivenessWindow)

	t.mu.Lock()
	out := make([]store.Cursor, 0, len(t.rows))
	for _, c := range t.rows {
		if c.SessionID == t.sessionID {
			continue
		}
		if !c.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, c)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Cursors is the reactive view of ListActive for the presentation layer.
func (t *Tracker) Cursors() *observable.Value[[]store.Cursor] {
	return t.live
}

func (t *Tracker) notify() {
	t.live.Set(t.ListActive())
}

func (t *Tracker) StopReconcile() {
	t.once.Do(func() { close(t.stop) })
}

// colorFor derives the session's stable visual tag: the same session always
// renders with the same hue on every client.
func colorFor(sessionID string) string {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", h.Sum32()%360)
}

func defaultName(sessionID string) string {
	if len(sessionID) > 4 {
		sessionID = sessionID[len(sessionID)-4:]
	}
	return "User " + sessionID
}
