package store

import "time"

// Pad is a named shared text document. PasswordHash is a bcrypt hash; empty
// means the pad is publicly writable. CreatorSession attributes the pad to
// the browser session that first opened it.
type Pad struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	PasswordHash   string    `json:"-"`
	CreatorSession string    `json:"creator_session"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subpad is a child document scoped under a parent pad. Creation order is
// significant for display only.
type Subpad struct {
	PadID     string    `json:"pad_id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cursor is one session's ephemeral presence row for a pad. Each session only
// ever upserts the row keyed by its own SessionID. UpdatedAt is refreshed on
// every publish and drives TTL expiry.
type Cursor struct {
	PadID     string    `json:"pad_id"`
	SessionID string    `json:"session_id"`
	UserName  string    `json:"user_name"`
	Position  int       `json:"position"`
	Color     string    `json:"color"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocKey addresses a document: the root pad when Subpad is empty, otherwise
// the named subpad under that pad.
type DocKey struct {
	Pad    string `json:"pad"`
	Subpad string `json:"subpad,omitempty"`
}

func (k DocKey) String() string {
	if k.Subpad == "" {
		return k.Pad
	}
	return k.Pad + "/" + k.Subpad
}

// Doc is the unified document view the sync engine works against.
// CreatorSession and Protected always describe the root pad, because
// subpads inherit the parent pad's access control.
type Doc struct {
	Key            DocKey    `json:"key"`
	Content        string    `json:"content"`
	CreatorSession string    `json:"creator_session,omitempty"`
	Protected      bool      `json:"protected"`
	UpdatedAt      time.Time `json:"updated_at"`
}
