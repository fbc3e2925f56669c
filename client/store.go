// Package client implements the document and cursor store surfaces over the
// padsync REST API, for processes that are not co-located with the database.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"padsync/internal/pad/model"
	"padsync/store"
)

// Store talks to a padsync server. It attaches the session identifier to
// every request and, once Unlock succeeds, the write grant to every save.
type Store struct {
	baseURL   string
	sessionID string
	http      *http.Client

	mu    sync.Mutex
	grant string
}

func New(baseURL, sessionID string) *Store {
	return &Store{
		baseURL:   baseURL,
		sessionID: sessionID,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetGrant attaches a write grant to subsequent saves.
func (s *Store) SetGrant(grant string) {
	s.mu.Lock()
	s.grant = grant
	s.mu.Unlock()
}

func (s *Store) currentGrant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grant
}

func (s *Store) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Session-Id", s.sessionID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if grant := s.currentGrant(); grant != "" {
		req.Header.Set("X-Write-Grant", grant)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return store.ErrPermissionDenied
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func docQuery(key store.DocKey) string {
	q := url.Values{}
	q.Set("pad", key.Pad)
	if key.Subpad != "" {
		q.Set("subpad", key.Subpad)
	}
	return q.Encode()
}

func (s *Store) ReadDoc(ctx context.Context, key store.DocKey) (*store.Doc, error) {
	var doc store.Doc
	if err := s.do(ctx, http.MethodGet, "/api/pads/get?"+docQuery(key), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocIfAbsent opens the document on the server. The creator argument
// is carried by the session header; the server attributes the row to the
// calling session.
func (s *Store) CreateDocIfAbsent(ctx context.Context, key store.DocKey, creator string) (*store.Doc, error) {
	var doc store.Doc
	req := model.OpenDocRequest{Pad: key.Pad, Subpad: key.Subpad}
	if err := s.do(ctx, http.MethodPost, "/api/pads/open", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) WriteDoc(ctx context.Context, key store.DocKey, content string) (*store.Doc, error) {
	var doc store.Doc
	req := model.SaveDocRequest{Pad: key.Pad, Subpad: key.Subpad, Content: content}
	if err := s.do(ctx, http.MethodPost, "/api/pads/save", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListSubpads(ctx context.Context, padID string) ([]store.Subpad, error) {
	var resp model.SubpadsResponse
	if err := s.do(ctx, http.MethodGet, "/api/pads/subpads?pad="+url.QueryEscape(padID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subpads, nil
}

func (s *Store) UpsertCursor(ctx context.Context, c store.Cursor) error {
	req := model.PublishCursorRequest{Pad: c.PadID, Position: c.Position, UserName: c.UserName, Color: c.Color}
	return s.do(ctx, http.MethodPost, "/api/cursors/publish", req, nil)
}

func (s *Store) DeleteCursor(ctx context.Context, padID, sessionID string) error {
	return s.do(ctx, http.MethodPost, "/api/cursors/retract", model.RetractCursorRequest{Pad: padID}, nil)
}

// ListCursors returns the pad's live cursors. The server applies its own
// liveness window; since only narrows the result further on the caller's
// side of the interface.
func (s *Store) ListCursors(ctx context.Context, padID string, since time.Time) ([]store.Cursor, error) {
	var resp model.CursorsResponse
	if err := s.do(ctx, http.MethodGet, "/api/cursors?pad="+url.QueryEscape(padID), nil, &resp); err != nil {
		return nil, err
	}
	cursors := resp.Cursors[:0]
	for _, c := range resp.Cursors {
		if !c.UpdatedAt.Before(since) {
			cursors = append(cursors, c)
		}
	}
	return cursors, nil
}

// SetPassword protects a pad; only its creator session may call this.
func (s *Store) SetPassword(ctx context.Context, padID, password string) error {
	return s.do(ctx, http.MethodPost, "/api/pads/password", model.SetPasswordRequest{Pad: padID, Password: password}, nil)
}

// Unlock verifies the pad password, stores the issued write grant for
// subsequent saves, and returns it.
func (s *Store) Unlock(ctx context.Context, padID, password string) (string, error) {
	var resp model.UnlockResponse
	if err := s.do(ctx, http.MethodPost, "/api/pads/unlock", model.UnlockRequest{Pad: padID, Password: password}, &resp); err != nil {
		return "", err
	}
	s.SetGrant(resp.Grant)
	return resp.Grant, nil
}
