package playback

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"kinocast/models"
	"kinocast/services/shell"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrEntryRequired  = errors.New("catalog entry id is required")
)

// Factory builds a fully wired player shell for a catalog entry.
type Factory func(entry models.CatalogEntry) (*shell.Shell, error)

// Manager owns the server-hosted player instances. Each instance is one
// shell with its own selection state, resolution controller and pipeline;
// instances never share mutable state.
type Manager struct {
	mu      sync.Mutex
	players map[string]*shell.Shell
	factory Factory
}

// NewManager builds a manager around the shell factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		players: make(map[string]*shell.Shell),
		factory: factory,
	}
}

// Create spins up a player for the entry and starts its first resolution.
func (m *Manager) Create(entry models.CatalogEntry) (string, *shell.Shell, error) {
	if entry.ID == "" {
		return "", nil, ErrEntryRequired
	}

	sh, err := m.factory(entry)
	if err != nil {
		return "", nil, fmt.Errorf("build player for entry %s: %w", entry.ID, err)
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.players[id] = sh
	count := len(m.players)
	m.mu.Unlock()

	log.Printf("[playback] player %s created for entry %s (%d active)", id, entry.ID, count)
	sh.Start()
	return id, sh, nil
}

// Get returns the player with the given id.
func (m *Manager) Get(id string) (*shell.Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return sh, nil
}

// Close tears down one player and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sh, ok := m.players[id]
	delete(m.players, id)
	m.mu.Unlock()

	if !ok {
		return ErrPlayerNotFound
	}
	sh.Close()
	log.Printf("[playback] player %s closed", id)
	return nil
}

// CloseAll tears down every player. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	players := m.players
	m.players = make(map[string]*shell.Shell)
	m.mu.Unlock()

	for id, sh := range players {
		sh.Close()
		log.Printf("[playback] player %s closed", id)
	}
}

// Count reports the number of active players.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.players)
}
