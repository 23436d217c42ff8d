package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinocast/internal/media"
	"kinocast/models"
	playbacksvc "kinocast/services/playback"
	"kinocast/services/renderer"
	"kinocast/services/resolve"
	"kinocast/services/session"
	"kinocast/services/shell"
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

// newPlayerFixture wires a real manager against an httptest resolve upstream
// and returns the router with player routes mounted.
func newPlayerFixture(t *testing.T) *mux.Router {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"mp4":"http://cdn/%s.mp4"}`, r.URL.Query().Get("link"))
	}))
	t.Cleanup(upstream.Close)

	store, err := session.NewStore(afero.NewMemMapFs(), "/sessions")
	require.NoError(t, err)

	factory := func(entry models.CatalogEntry) (*shell.Shell, error) {
		state := session.NewState(entry, store)
		ctrl := resolve.NewController(upstream.URL, upstream.Client())
		rend := renderer.NewRenderer(renderer.WithElementFactory(func() media.Element {
			return media.NewClock(
				media.WithTickInterval(5*time.Millisecond),
				media.WithDurationProbe(func(ctx context.Context, src string) (float64, error) {
					return 100, nil
				}),
			)
		}))
		return shell.New(state, ctrl, rend, nil), nil
	}

	manager := playbacksvc.NewManager(factory)
	t.Cleanup(manager.CloseAll)

	h := NewPlayerHandler(manager)
	r := mux.NewRouter()
	r.HandleFunc("/players", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}", h.State).Methods(http.MethodGet)
	r.HandleFunc("/players/{playerID}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/players/{playerID}/episode", h.SelectEpisode).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}/mode", h.SetMode).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}/key", h.Key).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}/quality", h.SwitchQuality).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}/skip", h.Skip).Methods(http.MethodPost)
	r.HandleFunc("/players/{playerID}/search", h.Search).Methods(http.MethodGet)
	return r
}

func playerEntry() models.CatalogEntry {
	return models.CatalogEntry{
		ID:    "entry-7",
		Title: "Night Watch",
		Translations: []models.Translation{{
			Title: "Original",
			Seasons: []models.Season{{
				Title: "Season 1",
				Episodes: []models.Episode{
					{Title: "Opening", File: "ep-1"},
					{Title: "Closing", File: "ep-2"},
				},
			}},
		}},
	}
}

func createPlayer(t *testing.T, r *mux.Router) string {
	t.Helper()

	body, err := json.Marshal(playerEntry())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID   string     `json:"id"`
		View shell.View `json:"view"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "entry-7", created.View.Entry)
	return created.ID
}

func getView(t *testing.T, r *mux.Router, id string) shell.View {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/players/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v shell.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateAndState(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)

	waitFor(t, func() bool { return getView(t, r, id).Playback.Duration == 100 })

	v := getView(t, r, id)
	assert.Equal(t, models.ResolveStateResolved, v.Resolve.State)
	assert.Equal(t, "http://cdn/ep-1.mp4", v.Playback.Source)
}

func TestCreateRejectsMissingEntryID(t *testing.T) {
	r := newPlayerFixture(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players", bytes.NewReader([]byte(`{"title":"nameless"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectEpisode(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)
	waitFor(t, func() bool { return getView(t, r, id).Playback.Duration == 100 })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/episode", bytes.NewReader([]byte(`{"index":1}`))))
	require.Equal(t, http.StatusOK, rec.Code)

	waitFor(t, func() bool { return getView(t, r, id).Playback.Source == "http://cdn/ep-2.mp4" })
}

func TestSetModeValidation(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/mode", bytes.NewReader([]byte(`{"mode":"cinema"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/mode", bytes.NewReader([]byte(`{"mode":"iframe"}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SourceModeIframe, getView(t, r, id).Mode)
}

func TestKeyEndpoint(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)
	waitFor(t, func() bool { return getView(t, r, id).Playback.Duration == 100 })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/key", bytes.NewReader([]byte(`{"key":"ArrowRight"}`))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Handled bool       `json:"handled"`
		View    shell.View `json:"view"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Handled)
	assert.Equal(t, 1, resp.View.Selection.EpisodeIndex)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/key", bytes.NewReader([]byte(`{"key":"ArrowRight","fromTextInput":true}`))))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Handled, "keystrokes from text inputs are ignored")
}

func TestSwitchQualityUnknownTier(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)
	waitFor(t, func() bool { return getView(t, r, id).Playback.Duration == 100 })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/quality", bytes.NewReader([]byte(`{"label":1080}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSkipWithoutActiveSegment(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)
	waitFor(t, func() bool { return getView(t, r, id).Playback.Duration == 100 })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/players/"+id+"/skip", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteThenStateIsNotFound(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/players/"+id, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/players/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/players/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	r := newPlayerFixture(t)
	id := createPlayer(t, r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/players/"+id+"/search?q=closing", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []shell.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "Closing", resp.Results[0].Title)
}
