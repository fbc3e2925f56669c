// Package engine owns the authoritative local view of one open document. It
// arbitrates between local edits and remote updates, and commits the buffer
// to the store on a debounced cycle.
//
// The convergence model is last-writer-wins on whole-document content: the
// most recently committed writer always wins, and a writer who is mid-edit
// never has its buffer overwritten by a remote event. There is no
// character-level merge.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"padsync/pkg/logger"
	"padsync/pkg/observable"
	"padsync/store"
)

// DefaultDebounceWindow is the idle period after the last edit before a
// commit is attempted. Edits reset it, bounding write frequency regardless
// of keystroke rate.
const DefaultDebounceWindow = 500 * time.Millisecond

type State int

const (
	StateLoading State = iota
	StateIdle
	StateEditing
	StateCommitting
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateCommitting:
		return "committing"
	}
	return "unknown"
}

type Options struct {
	DebounceWindow time.Duration

	// OnReplaced fires after a remote update replaces the buffer wholesale,
	// so the presentation layer can re-anchor cursor and selection.
	OnReplaced func(store.Doc)

	// OnHeld fires when a commit is held because the document is protected
	// and the session holds no write permission. The buffer is retained;
	// Unlock releases the held commit.
	OnHeld func()

	// OnError fires on a failed commit attempt, as a non-blocking notice.
	// The buffer stays dirty and the next cycle retries with the latest
	// content.
	OnError func(error)
}

// Engine is the sync engine for a single document. Methods are safe for
// concurrent use, but the intended driver is a single cooperative event
// loop: keystrokes, timer expiries, and feed events applied one at a time.
type Engine struct {
	docs      store.DocStore
	key       store.DocKey
	sessionID string
	opts      Options

	content *observable.Value[string]

	mu       sync.Mutex
	doc      store.Doc
	loaded   bool
	closed   bool
	dirty    bool
	inFlight bool
	held     bool
	unlocked bool
	timer    *time.Timer
	ctx      context.Context
}

func New(docs store.DocStore, key store.DocKey, sessionID string, opts Options) *Engine {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	return &Engine{
		docs:      docs,
		key:       key,
		sessionID: sessionID,
		opts:      opts,
		content:   observable.NewValue(""),
		ctx:       context.Background(),
	}
}

// Open loads the document, creating it lazily when absent. If the create
// races with another session, the winner's row is adopted. ctx also governs
// later commit attempts.
func (e *Engine) Open(ctx context.Context) error {
	doc, err := e.docs.ReadDoc(ctx, e.key)
	if errors.Is(err, store.ErrNotFound) {
		doc, err = e.docs.CreateDocIfAbsent(ctx, e.key, e.sessionID)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.doc = *doc
	e.loaded = true
	e.ctx = ctx
	e.mu.Unlock()

	e.content.Set(doc.Content)
	return nil
}

// Content is the reactive local view of the document. Local edits and
// adopted remote updates both land here.
func (e *Engine) Content() *observable.Value[string] {
	return e.content
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	switch {
	case !e.loaded:
		return StateLoading
	case e.inFlight:
		return StateCommitting
	case e.dirty:
		return StateEditing
	default:
		return StateIdle
	}
}

// Doc returns the last known store row (access-control fields and the
// updated_at high-water mark).
func (e *Engine) Doc() store.Doc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc
}

// CanWrite reports whether a commit would pass the access-control gate.
func (e *Engine) CanWrite() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canWriteLocked()
}

func (e *Engine) canWriteLocked() bool {
	return !e.doc.Protected || e.doc.CreatorSession == "" || e.doc.CreatorSession == e.sessionID || e.unlocked
}

// SetContent applies a local edit: the buffer mutates immediately and every
// local observer sees it, regardless of connectivity. Each edit restarts the
// debounce timer; only the timer's expiry triggers a commit attempt.
func (e *Engine) SetContent(text string) {
	e.mu.Lock()
	if e.closed || !e.loaded {
		e.mu.Unlock()
		return
	}
	if !e.dirty && text == e.content.Get() {
		e.mu.Unlock()
		return
	}
	e.dirty = true
	e.resetTimerLocked()
	e.mu.Unlock()

	e.content.Set(text)
}

func (e *Engine) resetTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.opts.DebounceWindow, e.debounceFired)
}

func (e *Engine) debounceFired() {
	e.mu.Lock()
	if e.closed || !e.dirty {
		e.mu.Unlock()
		return
	}
	if e.inFlight {
		// At most one commit in flight: the finishing commit re-fires
		// immediately when it finds the buffer dirty again.
		e.mu.Unlock()
		return
	}
	if !e.canWriteLocked() {
		newlyHeld := !e.held
		e.held = true
		held := e.opts.OnHeld
		e.mu.Unlock()
		if newlyHeld && held != nil {
			held()
		}
		return
	}
	e.startCommitLocked()
}

// startCommitLocked snapshots the buffer and launches the write. Callers
// hold e.mu; it is released here.
func (e *Engine) startCommitLocked() {
	e.inFlight = true
	e.dirty = false
	snapshot := e.content.Get()
	e.mu.Unlock()
	go e.commit(snapshot)
}

func (e *Engine) commit(snapshot string) {
	doc, err := e.docs.WriteDoc(e.ctx, e.key, snapshot)

	e.mu.Lock()
	e.inFlight = false

	if err != nil {
		// The buffer is left dirty so the next cycle retries with the
		// latest content; no error discards an uncommitted edit.
		e.dirty = true
		if errors.Is(err, store.ErrPermissionDenied) {
			newlyHeld := !e.held
			e.held = true
			held := e.opts.OnHeld
			e.mu.Unlock()
			if newlyHeld && held != nil {
				held()
			}
			return
		}
		if !e.closed {
			e.resetTimerLocked()
		}
		onError := e.opts.OnError
		e.mu.Unlock()
		logger.Sugar.Warnf("Commit failed for doc %s, will retry: %v", e.key, err)
		if onError != nil {
			onError(err)
		}
		return
	}

	// The store-assigned updated_at is the new high-water mark.
	e.doc.Content = doc.Content
	e.doc.UpdatedAt = doc.UpdatedAt

	if e.dirty && !e.closed {
		// Edits arrived while the commit was outstanding; fire again
		// immediately rather than waiting another debounce window.
		e.startCommitLocked()
		return
	}
	e.mu.Unlock()
}

// ApplyRemote merges a change-feed event. When no local edits are pending,
// the buffer is replaced wholesale by the remote content and OnReplaced
// fires. When local edits are pending the event is ignored: the in-flight
// edit is the user's current intent and will become the authoritative state
// on its next commit.
func (e *Engine) ApplyRemote(ev store.ChangeEvent) {
	if ev.Kind != store.EventDocUpdated || ev.Doc == nil || ev.Doc.Key != e.key {
		return
	}

	e.mu.Lock()
	if !e.loaded || e.closed || e.dirty || e.inFlight {
		e.mu.Unlock()
		return
	}
	if ev.Doc.Content == e.content.Get() {
		// Our own echo, or an identical write. Adopt the row metadata only.
		e.doc.UpdatedAt = ev.Doc.UpdatedAt
		e.mu.Unlock()
		return
	}
	e.doc = *ev.Doc
	replaced := e.opts.OnReplaced
	e.mu.Unlock()

	e.content.Set(ev.Doc.Content)
	if replaced != nil {
		replaced(*ev.Doc)
	}
}

// Unlock marks the session as holding write permission (the caller obtained
// a write grant out of band) and releases a held commit.
func (e *Engine) Unlock() {
	e.mu.Lock()
	e.unlocked = true
	wasHeld := e.held
	e.held = false
	if wasHeld && e.dirty && !e.inFlight && !e.closed {
		e.startCommitLocked()
		return
	}
	e.mu.Unlock()
}

// Close cancels the debounce timer and stops future commits. An in-flight
// commit is allowed to complete rather than aborted, so the last accepted
// edit is not lost.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
