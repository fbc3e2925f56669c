package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"padsync/internal/pad/repository"
	"padsync/socket"
	"padsync/store"
)

// LivenessWindow is how long a cursor row counts as live after its last
// publish. Rows older than this are stale whether or not a delete event for
// them was ever observed.
const LivenessWindow = 30 * time.Second

// PadService arbitrates store mutations: it enforces the protected-pad write
// gate and broadcasts a change event after every accepted write.
type PadService struct {
	Repo        *repository.PadRepository
	Hub         *socket.Hub
	GrantSecret []byte
	GrantTTL    time.Duration
}

func NewPadService(repo *repository.PadRepository, hub *socket.Hub, grantSecret []byte) *PadService {
	return &PadService{Repo: repo, Hub: hub, GrantSecret: grantSecret, GrantTTL: 15 * time.Minute}
}

// OpenDoc returns the document, creating it lazily on first open. A subpad
// key whose parent pad is missing creates the pad first, attributed to the
// same session.
func (s *PadService) OpenDoc(ctx context.Context, key store.DocKey, sessionID string) (*store.Doc, error) {
	if key.Subpad != "" {
		if _, err := s.Repo.CreateDocIfAbsent(ctx, store.DocKey{Pad: key.Pad}, sessionID); err != nil {
			return nil, err
		}
	}
	return s.Repo.CreateDocIfAbsent(ctx, key, sessionID)
}

func (s *PadService) GetDoc(ctx context.Context, key store.DocKey) (*store.Doc, error) {
	return s.Repo.ReadDoc(ctx, key)
}

// SaveDoc replaces the document content wholesale after the write gate
// passes, then echoes the accepted row to every subscriber (the writer
// included) through the change feed.
func (s *PadService) SaveDoc(ctx context.Context, key store.DocKey, sessionID, content, grant string) (*store.Doc, error) {
	if err := s.checkWrite(ctx, key.Pad, sessionID, grant); err != nil {
		return nil, err
	}

	doc, err := s.Repo.WriteDoc(ctx, key, content)
	if err != nil {
		return nil, err
	}

	s.Hub.Publish(store.ChangeEvent{
		Kind:      store.EventDocUpdated,
		Pad:       key.Pad,
		SessionID: sessionID,
		Doc:       doc,
	})
	return doc, nil
}

// checkWrite is the access-control gate: a pad with a password requires the
// caller to be its creator or to hold a valid write grant. Pads without a
// creator session are publicly writable.
func (s *PadService) checkWrite(ctx context.Context, padID, sessionID, grant string) error {
	passwordHash, creator, err := s.Repo.GetPadAccess(ctx, padID)
	if err != nil {
		return err
	}
	if passwordHash == "" || creator == "" || creator == sessionID {
		return nil
	}
	if s.grantValid(grant, padID) {
		return nil
	}
	return store.ErrPermissionDenied
}

// SetPassword protects a pad. Only the creator session may set one.
func (s *PadService) SetPassword(ctx context.Context, padID, sessionID, password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	n, err := s.Repo.SetPadPassword(ctx, padID, string(hash), sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrPermissionDenied
	}
	return nil
}

// Unlock verifies the pad password and issues a short-lived write grant.
func (s *PadService) Unlock(ctx context.Context, padID, password string) (string, error) {
	passwordHash, _, err := s.Repo.GetPadAccess(ctx, padID)
	if err != nil {
		return "", err
	}
	if passwordHash == "" {
		return "", errors.New("pad is not protected")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", store.ErrPermissionDenied
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": padID,
		"exp": time.Now().Add(s.GrantTTL).Unix(),
	})
	grant, err := token.SignedString(s.GrantSecret)
	if err != nil {
		return "", fmt.Errorf("sign write grant: %w", err)
	}
	return grant, nil
}

func (s *PadService) grantValid(grant, padID string) bool {
	if grant == "" {
		return false
	}
	token, err := jwt.Parse(grant, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.GrantSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	sub, err := token.Claims.GetSubject()
	return err == nil && sub == padID
}

func (s *PadService) ListSubpads(ctx context.Context, padID string) ([]store.Subpad, error) {
	return s.Repo.ListSubpads(ctx, padID)
}

// PublishCursor upserts the caller's own presence row and fans it out. The
// echoed event carries the store-assigned timestamp, never the local clock.
func (s *PadService) PublishCursor(ctx context.Context, c store.Cursor) error {
	updatedAt, err := s.Repo.UpsertCursor(ctx, c)
	if err != nil {
		return err
	}
	c.UpdatedAt = updatedAt
	s.Hub.Publish(store.ChangeEvent{
		Kind:      store.EventCursorUpserted,
		Pad:       c.PadID,
		SessionID: c.SessionID,
		Cursor:    &c,
	})
	return nil
}

// RetractCursor deletes the caller's own presence row. Best-effort: stale
// rows expire by TTL regardless.
func (s *PadService) RetractCursor(ctx context.Context, padID, sessionID string) error {
	if err := s.Repo.DeleteCursor(ctx, padID, sessionID); err != nil {
		return err
	}
	s.Hub.Publish(store.ChangeEvent{
		Kind:      store.EventCursorDeleted,
		Pad:       padID,
		SessionID: sessionID,
		Cursor:    &store.Cursor{PadID: padID, SessionID: sessionID},
	})
	return nil
}

// ActiveCursors returns cursor rows published within the liveness window.
func (s *PadService) ActiveCursors(ctx context.Context, padID string) ([]store.Cursor, error) {
	return s.Repo.ListCursors(ctx, padID, time.Now().Add(-LivenessWindow))
}
