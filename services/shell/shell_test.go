package shell

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinocast/internal/media"
	"kinocast/models"
	"kinocast/services/renderer"
	"kinocast/services/resolve"
	"kinocast/services/session"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type recorderStub struct {
	mu       sync.Mutex
	resumeAt float64
	records  int
}

func (r *recorderStub) RecordProgress(entryID string, sel models.CatalogSelection, position, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records++
}

func (r *recorderStub) Resume(entryID string, sel models.CatalogSelection) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeAt, r.resumeAt > 0
}

func shellEntry() models.CatalogEntry {
	return models.CatalogEntry{
		ID:    "entry-9",
		Title: "Road Trip",
		Translations: []models.Translation{
			{
				Title: "Original voiceover",
				Seasons: []models.Season{
					{Title: "Season 1", Episodes: []models.Episode{
						{Title: "First steps", File: "ep-1"},
						{Title: "Second wind", File: "ep-2"},
					}},
				},
			},
			{
				Title: "Studio dub",
				Seasons: []models.Season{
					{Title: "Season 1", Episodes: []models.Episode{
						{Title: "First steps (dub)", File: "dub-1"},
					}},
				},
			},
			{
				Title:   "Announced dub",
				Seasons: []models.Season{{Title: "Season 1"}},
			},
		},
	}
}

// newTestShell builds a shell against an in-memory catalog and an httptest
// resolve endpoint that answers every link with a single mp4 stream.
func newTestShell(t *testing.T, probeDuration float64, history ProgressRecorder) (*Shell, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		link := r.URL.Query().Get("link")
		fmt.Fprintf(w, `{"mp4":"http://cdn/%s.mp4"}`, link)
	}))
	t.Cleanup(srv.Close)

	store, err := session.NewStore(afero.NewMemMapFs(), "/sessions")
	require.NoError(t, err)

	state := session.NewState(shellEntry(), store)
	ctrl := resolve.NewController(srv.URL, srv.Client())
	rend := renderer.NewRenderer(renderer.WithElementFactory(func() media.Element {
		return media.NewClock(
			media.WithTickInterval(5*time.Millisecond),
			media.WithDurationProbe(func(ctx context.Context, src string) (float64, error) {
				return probeDuration, nil
			}),
		)
	}))

	sh := New(state, ctrl, rend, history)
	t.Cleanup(sh.Close)
	return sh, srv
}

func TestStartResolvesAndRenders(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()

	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	v := sh.View()
	assert.Equal(t, models.ResolveStateResolved, v.Resolve.State)
	assert.Equal(t, "http://cdn/ep-1.mp4", v.Playback.Source)
	assert.Equal(t, []string{"First steps", "Second wind"}, v.Episodes)
}

func TestArrowKeysStepEpisode(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	assert.True(t, sh.HandleKey("ArrowRight", false))
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/ep-2.mp4" })
	assert.Equal(t, 1, sh.View().Selection.EpisodeIndex)

	assert.True(t, sh.HandleKey("ArrowLeft", false))
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/ep-1.mp4" })

	assert.False(t, sh.HandleKey("ArrowLeft", false), "already at the first episode")
}

func TestKeysFromTextInputIgnored(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	assert.False(t, sh.HandleKey("ArrowRight", true))
	assert.False(t, sh.HandleKey("1", true))
	assert.Equal(t, 0, sh.View().Selection.EpisodeIndex)
	assert.Equal(t, models.SourceModeDirect, sh.View().Mode)
}

func TestDigitKeysToggleSourceMode(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	assert.True(t, sh.HandleKey("1", false))
	v := sh.View()
	assert.Equal(t, models.SourceModeIframe, v.Mode)
	assert.Equal(t, models.ResolveStateIdle, v.Resolve.State)
	assert.Equal(t, "ep-1", v.Resolve.EmbedURL)
	assert.Empty(t, v.Playback.Source, "direct pipeline torn down in iframe mode")

	assert.True(t, sh.HandleKey("2", false))
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/ep-1.mp4" })

	assert.False(t, sh.HandleKey("3", false), "other digits are not shortcuts")
}

func TestTranslationSwitchResetsSelection(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	sh.SelectEpisode(1)
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/ep-2.mp4" })

	sh.SelectTranslation(1)
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/dub-1.mp4" })
	assert.Equal(t, models.CatalogSelection{TranslationIndex: 1}, sh.View().Selection)
}

func TestTranslationWithoutEpisodesClearsPlayback(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })
	sh.Play()
	waitFor(t, func() bool { return !sh.View().Playback.Paused })

	sh.SelectTranslation(2)

	v := sh.View()
	assert.Empty(t, v.Playback.Source, "previous episode's pipeline must be torn down")
	assert.True(t, v.Playback.Paused, "previous episode must not keep playing")
	assert.Equal(t, models.ResolveStateIdle, v.Resolve.State)
	assert.Empty(t, v.Episodes)
}

func TestAutoAdvanceOnEnded(t *testing.T) {
	sh, _ := newTestShell(t, 0.05, nil)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 0.05 })

	sh.Play()
	waitFor(t, func() bool { return sh.View().Selection.EpisodeIndex == 1 })
	waitFor(t, func() bool { return sh.View().Playback.Source == "http://cdn/ep-2.mp4" })
}

func TestAutoAdvanceDisabled(t *testing.T) {
	sh, _ := newTestShell(t, 0.05, nil)
	sh.SetAutoAdvance(false)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 0.05 })

	sh.Play()
	waitFor(t, func() bool { return sh.View().Playback.Paused })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sh.View().Selection.EpisodeIndex)
}

func TestResumeFromHistory(t *testing.T) {
	history := &recorderStub{resumeAt: 42}
	sh, _ := newTestShell(t, 100, history)
	sh.Start()

	waitFor(t, func() bool { return sh.View().Playback.CurrentTime == 42 })
}

func TestProgressReachesRecorder(t *testing.T) {
	history := &recorderStub{}
	sh, _ := newTestShell(t, 100, history)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	sh.Play()
	waitFor(t, func() bool {
		history.mu.Lock()
		defer history.mu.Unlock()
		return history.records > 0
	})
}

type blockingRecorder struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingRecorder) RecordProgress(entryID string, sel models.CatalogSelection, position, duration float64) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
}

func (b *blockingRecorder) Resume(entryID string, sel models.CatalogSelection) (float64, bool) {
	return 0, false
}

func TestSlowRecorderDoesNotStallPlayback(t *testing.T) {
	history := &blockingRecorder{release: make(chan struct{})}
	defer close(history.release)

	sh, _ := newTestShell(t, 100, history)
	sh.Start()
	waitFor(t, func() bool { return sh.View().Playback.Duration == 100 })

	sh.Play()

	// the playhead keeps ticking while the first write is stuck in storage
	waitFor(t, func() bool { return sh.View().Playback.CurrentTime > 0.05 })

	history.mu.Lock()
	defer history.mu.Unlock()
	assert.Equal(t, 1, history.calls, "writer is parked on the first update")
}

func TestSearch(t *testing.T) {
	sh, _ := newTestShell(t, 100, nil)
	sh.Start()

	results := sh.Search("first")
	require.NotEmpty(t, results)
	assert.Equal(t, "episode", results[0].Kind)
	assert.Equal(t, "First steps", results[0].Title)

	assert.Empty(t, sh.Search("   "))

	dubs := sh.Search("voiceover")
	require.NotEmpty(t, dubs)
	assert.Equal(t, "translation", dubs[0].Kind)
	assert.Equal(t, 0, dubs[0].Index)
}
