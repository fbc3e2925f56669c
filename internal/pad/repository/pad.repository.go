package repository

import (
	"context"
	"database/sql"
	"time"

	"padsync/pkg/logger"
	"padsync/store"
)

// PadRepository implements the document and cursor store surfaces on
// PostgreSQL. updated_at is always assigned with NOW() in SQL, never by the
// client, so accepted writes order consistently under clock skew.
type PadRepository struct {
	DB *sql.DB
}

func NewPadRepository(db *sql.DB) *PadRepository {
	return &PadRepository{DB: db}
}

func (r *PadRepository) ReadDoc(ctx context.Context, key store.DocKey) (*store.Doc, error) {
	if key.Subpad == "" {
		return r.readPad(ctx, key.Pad)
	}
	return r.readSubpad(ctx, key)
}

func (r *PadRepository) readPad(ctx context.Context, padID string) (*store.Doc, error) {
	doc := &store.Doc{Key: store.DocKey{Pad: padID}}
	var password string
	err := r.DB.QueryRowContext(ctx,
		"SELECT content, COALESCE(password, ''), COALESCE(creator_session, ''), updated_at FROM pads WHERE id = $1",
		padID,
	).Scan(&doc.Content, &password, &doc.CreatorSession, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read pad %s: %v", padID, err)
		return nil, err
	}
	doc.Protected = password != ""
	return doc, nil
}

func (r *PadRepository) readSubpad(ctx context.Context, key store.DocKey) (*store.Doc, error) {
	// Subpads inherit the parent pad's access control.
	parent, err := r.readPad(ctx, key.Pad)
	if err != nil {
		return nil, err
	}

	doc := &store.Doc{Key: key, CreatorSession: parent.CreatorSession, Protected: parent.Protected}
	err = r.DB.QueryRowContext(ctx,
		"SELECT content, updated_at FROM subpads WHERE pad_id = $1 AND name = $2",
		key.Pad, key.Subpad,
	).Scan(&doc.Content, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read subpad %s: %v", key, err)
		return nil, err
	}
	return doc, nil
}

// CreateDocIfAbsent inserts an empty document and reads the result back. If a
// concurrent insert won the race, the read adopts the winner's row, so the
// insert is itself a convergence point.
func (r *PadRepository) CreateDocIfAbsent(ctx context.Context, key store.DocKey, creator string) (*store.Doc, error) {
	var err error
	if key.Subpad == "" {
		_, err = r.DB.ExecContext(ctx,
			`INSERT INTO pads (id, content, creator_session, updated_at) VALUES ($1, '', $2, NOW())
			ON CONFLICT (id) DO NOTHING`, key.Pad, creator)
	} else {
		_, err = r.DB.ExecContext(ctx,
			`INSERT INTO subpads (pad_id, name, content, created_at, updated_at) VALUES ($1, $2, '', NOW(), NOW())
			ON CONFLICT (pad_id, name) DO NOTHING`, key.Pad, key.Subpad)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to create doc %s: %v", key, err)
		return nil, err
	}
	return r.ReadDoc(ctx, key)
}

// WriteDoc replaces the content wholesale. Only Content and UpdatedAt are
// populated on the returned row; callers needing access-control fields read
// the pad separately.
func (r *PadRepository) WriteDoc(ctx context.Context, key store.DocKey, content string) (*store.Doc, error) {
	doc := &store.Doc{Key: key, Content: content}
	var row *sql.Row
	if key.Subpad == "" {
		row = r.DB.QueryRowContext(ctx,
			"UPDATE pads SET content = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
			content, key.Pad)
	} else {
		row = r.DB.QueryRowContext(ctx,
			"UPDATE subpads SET content = $1, updated_at = NOW() WHERE pad_id = $2 AND name = $3 RETURNING updated_at",
			content, key.Pad, key.Subpad)
	}
	err := row.Scan(&doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to write doc %s: %v", key, err)
		return nil, err
	}
	return doc, nil
}

func (r *PadRepository) ListSubpads(ctx context.Context, padID string) ([]store.Subpad, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT pad_id, name, content, created_at, updated_at FROM subpads WHERE pad_id = $1 ORDER BY created_at ASC",
		padID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list subpads for pad %s: %v", padID, err)
		return nil, err
	}
	defer rows.Close()

	var subpads []store.Subpad
	for rows.Next() {
		var s store.Subpad
		if err := rows.Scan(&s.PadID, &s.Name, &s.Content, &s.CreatedAt, &s.UpdatedAt); err != nil {
			continue
		}
		subpads = append(subpads, s)
	}
	return subpads, rows.Err()
}

// GetPadAccess returns the pad's bcrypt password hash (empty if unprotected)
// and creator session.
func (r *PadRepository) GetPadAccess(ctx context.Context, padID string) (passwordHash, creator string, err error) {
	err = r.DB.QueryRowContext(ctx,
		"SELECT COALESCE(password, ''), COALESCE(creator_session, '') FROM pads WHERE id = $1",
		padID,
	).Scan(&passwordHash, &creator)
	if err == sql.ErrNoRows {
		return "", "", store.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get access info for pad %s: %v", padID, err)
	}
	return passwordHash, creator, err
}

// SetPadPassword stores the hash only when creator matches the pad's
// creator_session. Returns the number of rows updated.
func (r *PadRepository) SetPadPassword(ctx context.Context, padID, passwordHash, creator string) (int64, error) {
	result, err := r.DB.ExecContext(ctx,
		"UPDATE pads SET password = $1, updated_at = NOW() WHERE id = $2 AND creator_session = $3",
		passwordHash, padID, creator)
	if err != nil {
		logger.Sugar.Errorf("Failed to set password for pad %s: %v", padID, err)
		return 0, err
	}
	return result.RowsAffected()
}

// UpsertCursor writes the presence row and returns the store-assigned
// updated_at, so the change-feed echo carries the same timestamp a reconcile
// would read back.
func (r *PadRepository) UpsertCursor(ctx context.Context, c store.Cursor) (time.Time, error) {
	var updatedAt time.Time
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO pad_cursors (pad_id, session_id, user_name, position, color, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (pad_id, session_id) DO UPDATE SET user_name = $3, position = $4, color = $5, updated_at = NOW()
		RETURNING updated_at`,
		c.PadID, c.SessionID, c.UserName, c.Position, c.Color).Scan(&updatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert cursor for session %s on pad %s: %v", c.SessionID, c.PadID, err)
		return time.Time{}, err
	}
	return updatedAt, nil
}

func (r *PadRepository) DeleteCursor(ctx context.Context, padID, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM pad_cursors WHERE pad_id = $1 AND session_id = $2", padID, sessionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete cursor for session %s on pad %s: %v", sessionID, padID, err)
	}
	return err
}

func (r *PadRepository) ListCursors(ctx context.Context, padID string, since time.Time) ([]store.Cursor, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT pad_id, session_id, user_name, position, color, updated_at FROM pad_cursors WHERE pad_id = $1 AND updated_at >= $2",
		padID, since)
	if err != nil {
		logger.Sugar.Errorf("Failed to list cursors for pad %s: %v", padID, err)
		return nil, err
	}
	defer rows.Close()

	var cursors []store.Cursor
	for rows.Next() {
		var c store.Cursor
		if err := rows.Scan(&c.PadID, &c.SessionID, &c.UserName, &c.Position, &c.Color, &c.UpdatedAt); err != nil {
			continue
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
