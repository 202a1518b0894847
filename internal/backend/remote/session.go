package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/qr-media-share/internal/model"
)

// TokenStore persists the session between runs.
type TokenStore interface {
	// Load returns nil, nil when nothing is stored.
	Load() (*model.Session, error)
	Save(s *model.Session) error
	Clear() error
}

// ConfigDir returns $XDG_CONFIG_HOME/qrmedia, falling back to ~/.config/qrmedia.
func ConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "qrmedia")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "qrmedia")
}

// DefaultSessionPath is where the CLI keeps its session.
func DefaultSessionPath() string { return filepath.Join(ConfigDir(), "session.json") }

// FileStore keeps the session as JSON in a single 0600 file.
type FileStore struct {
	Path string
}

func (f FileStore) Load() (*model.Session, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (f FileStore) Save(s *model.Session) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

func (f FileStore) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// MemStore keeps the session in memory.
type MemStore struct {
	mu sync.Mutex
	s  *model.Session
}

func (m *MemStore) Load() (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return nil, nil
	}
	c := *m.s
	return &c, nil
}

func (m *MemStore) Save(s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.s = &c
	return nil
}

func (m *MemStore) Clear() error {
	m.mu.Lock()
	m.s = nil
	m.mu.Unlock()
	return nil
}
