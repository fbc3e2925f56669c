// Package session generates and persists the opaque per-client identifier
// used to attribute edits, cursors, and ownership checks. It is an
// attribution token only, never an authentication credential.
package session

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const idFile = "session_id"

// Manager persists one identifier per storage scope (a directory). The
// identifier is stable across restarts within the same scope and distinct
// across scopes with overwhelming probability: a ULID carries a millisecond
// time component plus 80 bits of entropy.
type Manager struct {
	dir string

	mu sync.Mutex
	id string
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Get returns the stable session identifier for this scope, creating and
// persisting one on first call.
func (m *Manager) Get() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id != "" {
		return m.id, nil
	}

	path := filepath.Join(m.dir, idFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			m.id = id
			return m.id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return m.issueLocked()
}

// Rotate discards the current identifier and issues a new one. Resources
// owned by the old identifier are disowned from this client's point of view.
func (m *Manager) Rotate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issueLocked()
}

func (m *Manager) issueLocked() (string, error) {
	id := NewID()
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(m.dir, idFile), []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	m.id = id
	return id, nil
}

// NewID returns a fresh session identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
