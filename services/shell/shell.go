package shell

import (
	"log"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/unicode/norm"

	"kinocast/models"
	"kinocast/services/renderer"
	"kinocast/services/resolve"
	"kinocast/services/session"
)

// ProgressRecorder receives playback progress for the watch history.
type ProgressRecorder interface {
	RecordProgress(entryID string, sel models.CatalogSelection, position, duration float64)
	Resume(entryID string, sel models.CatalogSelection) (float64, bool)
}

// View is the full player surface handed to API clients.
type View struct {
	Entry        string                  `json:"entry"`
	Title        string                  `json:"title"`
	Translations []string                `json:"translations"`
	Seasons      []string                `json:"seasons"`
	Episodes     []string                `json:"episodes"`
	Selection    models.CatalogSelection `json:"selection"`
	Mode         models.SourceMode       `json:"mode"`
	AutoAdvance  bool                    `json:"autoAdvance"`
	Resolve      resolve.Status          `json:"resolve"`
	Playback     renderer.Status         `json:"playback"`
}

// SearchResult is one fuzzy match over the pickers.
type SearchResult struct {
	Kind  string `json:"kind"` // "translation" or "episode"
	Index int    `json:"index"`
	Title string `json:"title"`
}

// progressUpdate is one queued watch-history write.
type progressUpdate struct {
	sel      models.CatalogSelection
	position float64
	duration float64
}

// Shell wires selection state, link resolution and the renderer into one
// player. Every selection change funnels through apply: derive the link,
// hand it to the resolution controller, and let the resolved descriptor
// reach the renderer through the controller's sink.
type Shell struct {
	mu       sync.Mutex
	state    *session.State
	resolver *resolve.Controller
	renderer *renderer.Renderer
	history  ProgressRecorder
	progress chan progressUpdate
	stop     chan struct{}
	closed   bool
}

// New assembles a shell and wires the cross-service sinks. Call Start to
// kick off the first resolution.
func New(state *session.State, resolver *resolve.Controller, rend *renderer.Renderer, history ProgressRecorder) *Shell {
	sh := &Shell{
		state:    state,
		resolver: resolver,
		renderer: rend,
		history:  history,
		stop:     make(chan struct{}),
	}

	resolver.OnResolved(func(desc *models.PlaybackDescriptor) {
		if err := rend.Render(desc); err != nil {
			log.Printf("[shell] render failed: %v", err)
			return
		}
		sh.restoreProgress()
	})
	rend.OnEnded(sh.handleEnded)
	if history != nil {
		sh.progress = make(chan progressUpdate, 64)
		go sh.recordLoop()
		rend.OnProgress(func(position, duration float64) {
			upd := progressUpdate{sel: state.Selection(), position: position, duration: duration}
			// the tick path must never wait on storage; when the writer is
			// behind, the freshest update simply replaces a dropped one
			select {
			case sh.progress <- upd:
			default:
			}
		})
	}
	return sh
}

// recordLoop drains queued progress updates into the history store on its
// own goroutine.
func (sh *Shell) recordLoop() {
	for {
		select {
		case <-sh.stop:
			return
		case upd := <-sh.progress:
			sh.history.RecordProgress(sh.state.Entry().ID, upd.sel, upd.position, upd.duration)
		}
	}
}

// Start performs the initial resolution for the restored selection.
func (sh *Shell) Start() {
	sh.apply()
}

// SelectTranslation switches the translation picker.
func (sh *Shell) SelectTranslation(idx int) {
	sh.state.SelectTranslation(idx)
	sh.apply()
}

// SelectSeason switches the season picker.
func (sh *Shell) SelectSeason(idx int) {
	sh.state.SelectSeason(idx)
	sh.apply()
}

// SelectEpisode switches the episode picker.
func (sh *Shell) SelectEpisode(idx int) {
	sh.state.SelectEpisode(idx)
	sh.apply()
}

// StepEpisode moves the episode cursor by delta and reports whether it moved.
func (sh *Shell) StepEpisode(delta int) bool {
	if !sh.state.StepEpisode(delta) {
		return false
	}
	sh.apply()
	return true
}

// SetSourceMode switches between the embedded frame and direct playback.
// Leaving direct mode dismantles the playback pipeline.
func (sh *Shell) SetSourceMode(mode models.SourceMode) {
	if mode == sh.state.Mode() {
		return
	}
	sh.state.SetMode(mode)
	if mode == models.SourceModeIframe {
		sh.renderer.Teardown()
	}
	sh.apply()
}

// SetAutoAdvance toggles advancing to the next episode on ended.
func (sh *Shell) SetAutoAdvance(enabled bool) {
	sh.state.SetAutoAdvance(enabled)
}

// HandleKey maps a keyboard event onto player actions. Events originating
// from a text input are ignored wholesale so typing never drives playback.
func (sh *Shell) HandleKey(key string, fromTextInput bool) bool {
	if fromTextInput {
		return false
	}
	switch key {
	case "ArrowRight":
		return sh.StepEpisode(1)
	case "ArrowLeft":
		return sh.StepEpisode(-1)
	case "1":
		sh.SetSourceMode(models.SourceModeIframe)
		return true
	case "2":
		sh.SetSourceMode(models.SourceModeDirect)
		return true
	}
	return false
}

// Search fuzzy-matches the query against translation and episode titles.
func (sh *Shell) Search(query string) []SearchResult {
	query = norm.NFC.String(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var out []SearchResult
	for _, rank := range fuzzy.RankFindNormalizedFold(query, sh.state.Translations()) {
		out = append(out, SearchResult{Kind: "translation", Index: rank.OriginalIndex, Title: rank.Target})
	}

	for _, rank := range fuzzy.RankFindNormalizedFold(query, episodeTitles(sh.state.Episodes())) {
		out = append(out, SearchResult{Kind: "episode", Index: rank.OriginalIndex, Title: rank.Target})
	}
	return out
}

// Skip jumps past the active segment.
func (sh *Shell) Skip() error { return sh.renderer.Skip() }

// Play resumes playback.
func (sh *Shell) Play() { sh.renderer.Play() }

// Pause halts playback.
func (sh *Shell) Pause() { sh.renderer.Pause() }

// Seek moves the playhead.
func (sh *Shell) Seek(seconds float64) { sh.renderer.Seek(seconds) }

// SetMuted toggles audio.
func (sh *Shell) SetMuted(muted bool) { sh.renderer.SetMuted(muted) }

// SwitchQuality rebuilds the pipeline on another quality tier.
func (sh *Shell) SwitchQuality(label int) error { return sh.renderer.SwitchQuality(label) }

// View reports the composite player state.
func (sh *Shell) View() View {
	entry := sh.state.Entry()
	return View{
		Entry:        entry.ID,
		Title:        entry.Title,
		Translations: sh.state.Translations(),
		Seasons:      sh.state.Seasons(),
		Episodes:     episodeTitles(sh.state.Episodes()),
		Selection:    sh.state.Selection(),
		Mode:         sh.state.Mode(),
		AutoAdvance:  sh.state.AutoAdvance(),
		Resolve:      sh.resolver.Snapshot(),
		Playback:     sh.renderer.Snapshot(),
	}
}

// Close cancels any in-flight resolution and dismantles the pipeline.
func (sh *Shell) Close() {
	sh.mu.Lock()
	if sh.closed {
		sh.mu.Unlock()
		return
	}
	sh.closed = true
	sh.mu.Unlock()

	close(sh.stop)
	sh.resolver.Cancel()
	sh.renderer.Teardown()
}

// apply re-derives the episode link for the current selection and hands it
// to the resolution controller. Stale in-flight work is superseded there.
// A selection with no playable episode clears the pipeline: the empty state
// replaces the previous episode instead of leaving it playing.
func (sh *Shell) apply() {
	link := sh.state.Link()
	if link == "" {
		sh.renderer.Teardown()
	}
	sh.resolver.Set(link, sh.state.Mode())
}

func (sh *Shell) handleEnded() {
	if !sh.state.AutoAdvance() {
		return
	}
	if !sh.state.StepEpisode(1) {
		log.Printf("[shell] playback ended on the last episode of entry %s", sh.state.Entry().ID)
		return
	}
	sh.apply()
}

func (sh *Shell) restoreProgress() {
	if sh.history == nil {
		return
	}
	if position, ok := sh.history.Resume(sh.state.Entry().ID, sh.state.Selection()); ok && position > 0 {
		sh.renderer.Seek(position)
	}
}

func episodeTitles(episodes []models.Episode) []string {
	out := make([]string, len(episodes))
	for i, ep := range episodes {
		out[i] = ep.Title
	}
	return out
}
