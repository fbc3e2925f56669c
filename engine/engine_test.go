package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"padsync/store"
)

// fakeStore is an in-memory DocStore with controllable failures and write
// timing, for driving the engine without a database.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]store.Doc

	writeErr   error
	writeDelay time.Duration

	writes        atomic.Int32
	inWrite       atomic.Int32
	maxConcurrent atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]store.Doc)}
}

func (f *fakeStore) put(doc store.Doc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.Key.String()] = doc
}

func (f *fakeStore) get(key store.DocKey) (store.Doc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[key.String()]
	return doc, ok
}

func (f *fakeStore) ReadDoc(ctx context.Context, key store.DocKey) (*store.Doc, error) {
	doc, ok := f.get(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (f *fakeStore) CreateDocIfAbsent(ctx context.Context, key store.DocKey, creator string) (*store.Doc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[key.String()]; ok {
		return &doc, nil
	}
	doc := store.Doc{Key: key, CreatorSession: creator, UpdatedAt: time.Now()}
	f.docs[key.String()] = doc
	return &doc, nil
}

func (f *fakeStore) WriteDoc(ctx context.Context, key store.DocKey, content string) (*store.Doc, error) {
	n := f.inWrite.Add(1)
	defer f.inWrite.Add(-1)
	for {
		max := f.maxConcurrent.Load()
		if n <= max || f.maxConcurrent.CompareAndSwap(max, n) {
			break
		}
	}

	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}

	doc, ok := f.docs[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	f.docs[key.String()] = doc
	f.writes.Add(1)
	return &doc, nil
}

func (f *fakeStore) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

const testWindow = 20 * time.Millisecond

// settle waits long enough for a debounce cycle plus the commit to land.
func settle() { time.Sleep(5 * testWindow) }

func newTestEngine(t *testing.T, fs *fakeStore, opts Options) *Engine {
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = testWindow
	}
	e := New(fs, store.DocKey{Pad: "notes"}, "sess-a", opts)
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(e.Close)
	return e
}

func TestOpenCreatesAbsentDocument(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(t, fs, Options{})

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, "", e.Content().Get())

	doc, ok := fs.get(store.DocKey{Pad: "notes"})
	require.True(t, ok, "first open must create the row")
	assert.Equal(t, "sess-a", doc.CreatorSession)
}

func TestOpenAdoptsRaceWinner(t *testing.T) {
	fs := newFakeStore()
	fs.put(store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "winner", CreatorSession: "sess-z"})

	e := newTestEngine(t, fs, Options{})
	assert.Equal(t, "winner", e.Content().Get())
	assert.Equal(t, "sess-z", e.Doc().CreatorSession)
}

func TestConvergenceAfterQuiescence(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(t, fs, Options{})

	// Rapid keystrokes coalesce into a single commit.
	for _, text := range []string{"h", "he", "hel", "hell", "hello"} {
		e.SetContent(text)
	}
	settle()

	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	assert.Equal(t, "hello", doc.Content)
	assert.Equal(t, int32(1), fs.writes.Load(), "debounce must coalesce edits into one write")
	assert.Equal(t, StateIdle, e.State())
}

func TestNoClobberWhileEditing(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(t, fs, Options{DebounceWindow: time.Hour})

	e.SetContent("local draft")
	assert.Equal(t, StateEditing, e.State())

	e.ApplyRemote(store.ChangeEvent{
		Kind: store.EventDocUpdated,
		Pad:  "notes",
		Doc:  &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "remote text"},
	})

	assert.Equal(t, "local draft", e.Content().Get(), "a mid-edit buffer is never overwritten")
}

func TestRemoteReplaceWhileIdle(t *testing.T) {
	fs := newFakeStore()

	var replaced []string
	e := newTestEngine(t, fs, Options{
		OnReplaced: func(doc store.Doc) { replaced = append(replaced, doc.Content) },
	})

	e.ApplyRemote(store.ChangeEvent{
		Kind: store.EventDocUpdated,
		Pad:  "notes",
		Doc:  &store.Doc{Key: store.DocKey{Pad: "notes"}, Content: "remote text", UpdatedAt: time.Now()},
	})

	assert.Equal(t, "remote text", e.Content().Get())
	assert.Equal(t, []string{"remote text"}, replaced)
}

func TestOwnEchoDoesNotFireReplaced(t *testing.T) {
	fs := newFakeStore()

	replaced := 0
	e := newTestEngine(t, fs, Options{OnReplaced: func(store.Doc) { replaced++ }})

	e.SetContent("hello")
	settle()

	// The committed write comes back through the feed.
	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	e.ApplyRemote(store.ChangeEvent{Kind: store.EventDocUpdated, Pad: "notes", Doc: &doc})

	assert.Equal(t, "hello", e.Content().Get())
	assert.Zero(t, replaced, "an identical echo must not re-anchor the view")
	assert.Equal(t, doc.UpdatedAt, e.Doc().UpdatedAt, "echo advances the high-water mark")
}

func TestAtMostOneCommitInFlight(t *testing.T) {
	fs := newFakeStore()
	fs.writeDelay = 4 * testWindow
	e := newTestEngine(t, fs, Options{})

	e.SetContent("first")
	time.Sleep(2 * testWindow) // first commit is now in flight
	e.SetContent("second")
	time.Sleep(2 * testWindow) // debounce fires during the in-flight commit
	e.SetContent("third")

	time.Sleep(20 * testWindow)

	assert.Equal(t, int32(1), fs.maxConcurrent.Load(), "commits must never overlap")
	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	assert.Equal(t, "third", doc.Content, "the buffer converges to the final edit")
}

func TestCommitFailureRetriesWithLatestContent(t *testing.T) {
	fs := newFakeStore()

	var errs []error
	e := newTestEngine(t, fs, Options{OnError: func(err error) { errs = append(errs, err) }})

	fs.setWriteErr(errors.New("connection reset"))
	e.SetContent("important edit")
	settle()

	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	assert.Equal(t, "", doc.Content, "failed write must not land")
	require.NotEmpty(t, errs, "failure surfaces as a non-blocking notice")

	// The store recovers; the retry cycle commits the retained buffer.
	fs.setWriteErr(nil)
	settle()
	settle()

	doc, _ = fs.get(store.DocKey{Pad: "notes"})
	assert.Equal(t, "important edit", doc.Content, "no error may discard an uncommitted edit")
}

func TestProtectedPadHoldsCommitUntilUnlock(t *testing.T) {
	fs := newFakeStore()
	fs.put(store.Doc{
		Key:            store.DocKey{Pad: "notes"},
		Content:        "owned",
		CreatorSession: "someone-else",
		Protected:      true,
	})

	held := make(chan struct{}, 1)
	e := newTestEngine(t, fs, Options{OnHeld: func() { held <- struct{}{} }})

	assert.False(t, e.CanWrite())

	e.SetContent("my edit")
	settle()

	select {
	case <-held:
	default:
		t.Fatal("held-commit callback must fire")
	}
	assert.Zero(t, fs.writes.Load(), "no write without permission")
	assert.Equal(t, "my edit", e.Content().Get(), "the buffer is retained, not lost")

	// A grant was obtained out of band.
	e.Unlock()
	settle()

	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	assert.Equal(t, "my edit", doc.Content)
}

func TestLastWriterWinsNeverInterleaves(t *testing.T) {
	fs := newFakeStore()

	a := New(fs, store.DocKey{Pad: "notes"}, "sess-a", Options{DebounceWindow: testWindow})
	require.NoError(t, a.Open(context.Background()))
	defer a.Close()

	b := New(fs, store.DocKey{Pad: "notes"}, "sess-b", Options{DebounceWindow: testWindow})
	require.NoError(t, b.Open(context.Background()))
	defer b.Close()

	a.SetContent("hello world")
	b.SetContent("hi")
	settle()

	doc, _ := fs.get(store.DocKey{Pad: "notes"})
	assert.Contains(t, []string{"hello world", "hi"}, doc.Content,
		"the store holds one writer's text in full, never a merge")
}

func TestCloseCancelsDebounce(t *testing.T) {
	fs := newFakeStore()
	e := newTestEngine(t, fs, Options{})

	e.SetContent("typed then closed")
	e.Close()
	settle()

	assert.Zero(t, fs.writes.Load(), "no commit after close")
}

func TestSetContentIgnoredBeforeOpen(t *testing.T) {
	fs := newFakeStore()
	e := New(fs, store.DocKey{Pad: "notes"}, "sess-a", Options{DebounceWindow: testWindow})
	defer e.Close()

	assert.Equal(t, StateLoading, e.State())
	e.SetContent("too early")
	assert.Equal(t, "", e.Content().Get())
}
