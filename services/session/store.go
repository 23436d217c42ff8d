package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"kinocast/models"
)

var ErrStorageDirRequired = errors.New("storage directory not provided")

// Store persists player sessions keyed by catalog-entry identifier. It is
// deliberately forgiving: corrupt or missing data reads as "no saved
// session", and write failures are swallowed after logging. Session state
// must never take the player down.
type Store struct {
	mu   sync.RWMutex
	fs   afero.Fs
	path string
	data map[string]models.PersistedSession
}

// NewStore opens (or creates) the session document inside storageDir on the
// supplied filesystem.
func NewStore(fs afero.Fs, storageDir string) (*Store, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if err := fs.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &Store{
		fs:   fs,
		path: filepath.Join(storageDir, "player_sessions.json"),
		data: make(map[string]models.PersistedSession),
	}
	s.load()
	return s, nil
}

// Path reports where the session document lives on disk.
func (s *Store) Path() string {
	return s.path
}

func sessionKey(entryID string) string {
	return "player:" + entryID
}

// Load returns the saved session for a catalog entry, if any.
func (s *Store) Load(entryID string) (models.PersistedSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[sessionKey(entryID)]
	return sess, ok
}

// Save writes the session for a catalog entry. Best effort: storage
// failures are logged and ignored.
func (s *Store) Save(entryID string, sess models.PersistedSession) {
	s.mu.Lock()
	s.data[sessionKey(entryID)] = sess
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()

	if err != nil {
		log.Printf("[session] WARN: marshal sessions: %v", err)
		return
	}
	if err := afero.WriteFile(s.fs, s.path, encoded, 0o644); err != nil {
		log.Printf("[session] WARN: persist sessions: %v", err)
	}
}

func (s *Store) load() {
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return // no saved sessions
	}
	var data map[string]models.PersistedSession
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Printf("[session] WARN: corrupt session file %q, starting fresh: %v", s.path, err)
		return
	}
	s.data = data
}
