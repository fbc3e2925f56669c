package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a pad, subpad, or cursor row does not
	// exist. For subpad lookups this means "does not yet exist", not a
	// failure, and may trigger creation.
	ErrNotFound = errors.New("store: not found")

	// ErrPermissionDenied is returned when a write is attempted on a
	// protected pad without a valid write grant.
	ErrPermissionDenied = errors.New("store: permission denied")
)

// DocStore is the document surface the sync engine consumes.
type DocStore interface {
	// ReadDoc returns the current row for key, or ErrNotFound.
	ReadDoc(ctx context.Context, key DocKey) (*Doc, error)

	// CreateDocIfAbsent inserts an empty document attributed to creator.
	// It is idempotent: if a concurrent insert wins the race, the winner's
	// row is returned instead of an error.
	CreateDocIfAbsent(ctx context.Context, key DocKey, creator string) (*Doc, error)

	// WriteDoc replaces the document's content wholesale. UpdatedAt on the
	// returned row is store-assigned.
	WriteDoc(ctx context.Context, key DocKey, content string) (*Doc, error)
}

// CursorStore is the presence surface the presence tracker consumes.
type CursorStore interface {
	// UpsertCursor writes c keyed by (pad, session); repeated calls
	// overwrite, never duplicate.
	UpsertCursor(ctx context.Context, c Cursor) error

	// DeleteCursor removes the session's row. Missing rows are not an error.
	DeleteCursor(ctx context.Context, padID, sessionID string) error

	// ListCursors returns all cursor rows for the pad touched at or after
	// since.
	ListCursors(ctx context.Context, padID string, since time.Time) ([]Cursor, error)
}
