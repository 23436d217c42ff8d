package api

import (
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/mux"

	"kinocast/handlers"
	"kinocast/utils"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PinAuthMiddleware requires the access PIN on every request. The PIN rides
// in the X-Access-Pin header and is checked against the stored bcrypt hash.
func PinAuthMiddleware(pinHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pinHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !utils.CheckPIN(pinHash, r.Header.Get("X-Access-Pin")) {
				http.Error(w, "invalid or missing access pin", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	playerHandler *handlers.PlayerHandler,
	historyHandler *handlers.HistoryHandler,
	settingsHandler *handlers.SettingsHandler,
	pinHash string,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Health endpoint (public)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// Everything else requires the access PIN
	protected := api.PathPrefix("").Subrouter()
	protected.Use(PinAuthMiddleware(pinHash))

	// Player instance lifecycle
	protected.HandleFunc("/players", playerHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/players", playerHandler.Options).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}", playerHandler.State).Methods(http.MethodGet)
	protected.HandleFunc("/players/{playerID}", playerHandler.Delete).Methods(http.MethodDelete)
	protected.HandleFunc("/players/{playerID}", playerHandler.Options).Methods(http.MethodOptions)

	// Selection pickers
	protected.HandleFunc("/players/{playerID}/translation", playerHandler.SelectTranslation).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/translation", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/season", playerHandler.SelectSeason).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/season", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/episode", playerHandler.SelectEpisode).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/episode", handleOptions).Methods(http.MethodOptions)

	// Source mode, auto-advance, keyboard
	protected.HandleFunc("/players/{playerID}/mode", playerHandler.SetMode).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/mode", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/autonext", playerHandler.SetAutoAdvance).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/autonext", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/key", playerHandler.Key).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/key", handleOptions).Methods(http.MethodOptions)

	// Playback controls
	protected.HandleFunc("/players/{playerID}/play", playerHandler.Play).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/play", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/pause", playerHandler.Pause).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/pause", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/seek", playerHandler.Seek).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/seek", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/muted", playerHandler.SetMuted).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/muted", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/quality", playerHandler.SwitchQuality).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/quality", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/skip", playerHandler.Skip).Methods(http.MethodPost)
	protected.HandleFunc("/players/{playerID}/skip", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/players/{playerID}/search", playerHandler.Search).Methods(http.MethodGet)
	protected.HandleFunc("/players/{playerID}/search", handleOptions).Methods(http.MethodOptions)

	// Watch history
	protected.HandleFunc("/history", historyHandler.Recent).Methods(http.MethodGet)
	protected.HandleFunc("/history", historyHandler.Options).Methods(http.MethodOptions)
	protected.HandleFunc("/history/{entryID}", historyHandler.Clear).Methods(http.MethodDelete)
	protected.HandleFunc("/history/{entryID}", historyHandler.Options).Methods(http.MethodOptions)

	// Settings
	protected.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	protected.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	protected.HandleFunc("/settings", settingsHandler.Options).Methods(http.MethodOptions)

	// Pprof debug endpoints for profiling (localhost only, no auth required)
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)
}
