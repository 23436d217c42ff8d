package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"kinocast/models"
)

// progress past this share of the duration counts as watched through
const completionThreshold = 0.95

// writes for the same episode are coalesced to at most one per interval
const writeInterval = 5 * time.Second

// Record is one watch-history row.
type Record struct {
	EntryID   string                  `json:"entryId"`
	Selection models.CatalogSelection `json:"selection"`
	Position  float64                 `json:"position"`
	Duration  float64                 `json:"duration"`
	Completed bool                    `json:"completed"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Service persists watch progress. Progress arrives on every renderer time
// update, so writes are throttled per episode; a completion always writes
// through regardless of the throttle.
type Service struct {
	db *sql.DB

	mu        sync.Mutex
	lastWrite map[string]time.Time
	now       func() time.Time
}

// NewService builds a history service on an opened database.
func NewService(db *sql.DB) *Service {
	return &Service{
		db:        db,
		lastWrite: make(map[string]time.Time),
		now:       time.Now,
	}
}

func progressKey(entryID string, sel models.CatalogSelection) string {
	return fmt.Sprintf("%s/%d/%d/%d", entryID, sel.TranslationIndex, sel.SeasonIndex, sel.EpisodeIndex)
}

// RecordProgress upserts the playhead position for an episode. Best effort:
// a storage failure is logged, never surfaced to playback.
func (s *Service) RecordProgress(entryID string, sel models.CatalogSelection, position, duration float64) {
	if entryID == "" || position < 0 {
		return
	}

	completed := duration > 0 && position >= duration*completionThreshold

	key := progressKey(entryID, sel)
	s.mu.Lock()
	if last, ok := s.lastWrite[key]; ok && !completed && s.now().Sub(last) < writeInterval {
		s.mu.Unlock()
		return
	}
	s.lastWrite[key] = s.now()
	s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO watch_history (entry_id, translation_idx, season_idx, episode_idx, position, duration, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (entry_id, translation_idx, season_idx, episode_idx)
		DO UPDATE SET position = excluded.position,
		              duration = excluded.duration,
		              completed = excluded.completed,
		              updated_at = CURRENT_TIMESTAMP`,
		entryID, sel.TranslationIndex, sel.SeasonIndex, sel.EpisodeIndex, position, duration, completed)
	if err != nil {
		log.Printf("[history] WARN: record progress for %s: %v", key, err)
	}
}

// Resume returns the saved playhead position for an episode. Episodes
// watched through do not resume; they restart from the beginning.
func (s *Service) Resume(entryID string, sel models.CatalogSelection) (float64, bool) {
	var position float64
	var completed bool
	err := s.db.QueryRow(`
		SELECT position, completed FROM watch_history
		WHERE entry_id = ? AND translation_idx = ? AND season_idx = ? AND episode_idx = ?`,
		entryID, sel.TranslationIndex, sel.SeasonIndex, sel.EpisodeIndex).Scan(&position, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false
	}
	if err != nil {
		log.Printf("[history] WARN: resume lookup for %s: %v", progressKey(entryID, sel), err)
		return 0, false
	}
	if completed {
		return 0, false
	}
	return position, true
}

// Recent lists the most recently updated history rows, newest first.
func (s *Service) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT entry_id, translation_idx, season_idx, episode_idx, position, duration, completed, updated_at
		FROM watch_history
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.EntryID, &rec.Selection.TranslationIndex, &rec.Selection.SeasonIndex,
			&rec.Selection.EpisodeIndex, &rec.Position, &rec.Duration, &rec.Completed, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Clear drops every history row for a catalog entry.
func (s *Service) Clear(entryID string) error {
	_, err := s.db.Exec(`DELETE FROM watch_history WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("clear history for %s: %w", entryID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.lastWrite {
		if strings.HasPrefix(key, entryID+"/") {
			delete(s.lastWrite, key)
		}
	}
	return nil
}
