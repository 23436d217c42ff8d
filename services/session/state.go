package session

import (
	"sync"

	"github.com/samber/lo"

	"kinocast/models"
)

// State holds one player's position in a catalog entry's version tree and
// keeps the persisted session in sync. All mutation goes through the
// presentation layer; the renderer never touches selection.
type State struct {
	mu          sync.RWMutex
	entry       models.CatalogEntry
	sel         models.CatalogSelection
	mode        models.SourceMode
	autoAdvance bool
	store       *Store
}

// NewState builds selection state for a catalog entry, restoring the
// persisted session when one exists. Restored indices that fell out of range
// (the catalog may have shrunk since the save) are silently clamped.
func NewState(entry models.CatalogEntry, store *Store) *State {
	st := &State{
		entry:       entry,
		mode:        models.SourceModeDirect,
		autoAdvance: true,
		store:       store,
	}

	if store != nil {
		if saved, ok := store.Load(entry.ID); ok {
			st.sel = models.CatalogSelection{
				TranslationIndex: saved.TranslationIndex,
				SeasonIndex:      saved.SeasonIndex,
				EpisodeIndex:     saved.EpisodeIndex,
			}
			if saved.SourceMode == models.SourceModeIframe || saved.SourceMode == models.SourceModeDirect {
				st.mode = saved.SourceMode
			}
			st.autoAdvance = saved.AutoAdvance
		}
	}

	st.clampLocked()
	return st
}

// SelectTranslation switches the dub/translation track. Season and episode
// always reset to 0: the new translation's structure is unrelated to the old.
func (st *State) SelectTranslation(idx int) {
	st.mu.Lock()
	st.sel.TranslationIndex = clampIndex(idx, len(st.entry.Translations))
	st.sel.SeasonIndex = 0
	st.sel.EpisodeIndex = 0
	st.clampLocked()
	st.mu.Unlock()
	st.persist()
}

// SelectSeason switches the season inside the current translation and
// resets the episode cursor.
func (st *State) SelectSeason(idx int) {
	st.mu.Lock()
	st.sel.SeasonIndex = clampIndex(idx, len(st.seasonsLocked()))
	st.sel.EpisodeIndex = 0
	st.clampLocked()
	st.mu.Unlock()
	st.persist()
}

// SelectEpisode moves only the episode cursor; translation and season are
// preserved.
func (st *State) SelectEpisode(idx int) {
	st.mu.Lock()
	st.sel.EpisodeIndex = clampIndex(idx, len(st.episodesLocked()))
	st.mu.Unlock()
	st.persist()
}

// StepEpisode moves the episode cursor by delta (±1 for the keyboard
// shortcuts) and reports whether the cursor actually moved.
func (st *State) StepEpisode(delta int) bool {
	st.mu.Lock()
	episodes := st.episodesLocked()
	next := st.sel.EpisodeIndex + delta
	if next < 0 || next >= len(episodes) {
		st.mu.Unlock()
		return false
	}
	st.sel.EpisodeIndex = next
	st.mu.Unlock()
	st.persist()
	return true
}

// HasNext reports whether a next episode exists in the active season.
func (st *State) HasNext() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sel.EpisodeIndex+1 < len(st.episodesLocked())
}

// SetMode records the source mode (embedded frame vs direct resolution).
func (st *State) SetMode(mode models.SourceMode) {
	if mode != models.SourceModeIframe && mode != models.SourceModeDirect {
		return
	}
	st.mu.Lock()
	st.mode = mode
	st.mu.Unlock()
	st.persist()
}

// SetAutoAdvance toggles advancing to the next episode when playback ends.
func (st *State) SetAutoAdvance(enabled bool) {
	st.mu.Lock()
	st.autoAdvance = enabled
	st.mu.Unlock()
	st.persist()
}

// Selection returns the current indices.
func (st *State) Selection() models.CatalogSelection {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sel
}

// Mode returns the current source mode.
func (st *State) Mode() models.SourceMode {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.mode
}

// AutoAdvance reports whether auto-advance is enabled.
func (st *State) AutoAdvance() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.autoAdvance
}

// Entry returns the catalog entry this state was built for.
func (st *State) Entry() models.CatalogEntry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.entry
}

// Translations lists the selectable translation titles.
func (st *State) Translations() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return lo.Map(st.entry.Translations, func(t models.Translation, _ int) string {
		return t.Title
	})
}

// Seasons lists the season titles of the active translation.
func (st *State) Seasons() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return lo.Map(st.seasonsLocked(), func(s models.Season, _ int) string {
		return s.Title
	})
}

// Episodes returns the flattened episode list for the active season.
func (st *State) Episodes() []models.Episode {
	st.mu.RLock()
	defer st.mu.RUnlock()
	episodes := st.episodesLocked()
	out := make([]models.Episode, len(episodes))
	copy(out, episodes)
	return out
}

// Link derives the currently playable episode link. Empty when the active
// season has no playable episodes; the renderer shows an explicit empty
// state for that, not an error.
func (st *State) Link() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	episodes := st.episodesLocked()
	if st.sel.EpisodeIndex >= len(episodes) {
		return ""
	}
	return episodes[st.sel.EpisodeIndex].Link()
}

func (st *State) seasonsLocked() []models.Season {
	if st.sel.TranslationIndex >= len(st.entry.Translations) {
		return nil
	}
	return st.entry.Translations[st.sel.TranslationIndex].Seasons
}

func (st *State) episodesLocked() []models.Episode {
	seasons := st.seasonsLocked()
	if st.sel.SeasonIndex >= len(seasons) {
		return nil
	}
	return seasons[st.sel.SeasonIndex].Episodes
}

func (st *State) clampLocked() {
	st.sel.TranslationIndex = clampIndex(st.sel.TranslationIndex, len(st.entry.Translations))
	st.sel.SeasonIndex = clampIndex(st.sel.SeasonIndex, len(st.seasonsLocked()))
	st.sel.EpisodeIndex = clampIndex(st.sel.EpisodeIndex, len(st.episodesLocked()))
}

// persist writes the session snapshot. Best effort by contract of the store.
func (st *State) persist() {
	if st.store == nil {
		return
	}
	st.mu.RLock()
	snapshot := models.PersistedSession{
		TranslationIndex: st.sel.TranslationIndex,
		SeasonIndex:      st.sel.SeasonIndex,
		EpisodeIndex:     st.sel.EpisodeIndex,
		SourceMode:       st.mode,
		AutoAdvance:      st.autoAdvance,
	}
	entryID := st.entry.ID
	st.mu.RUnlock()
	st.store.Save(entryID, snapshot)
}

func clampIndex(idx, length int) int {
	if length == 0 {
		return 0
	}
	return lo.Clamp(idx, 0, length-1)
}
