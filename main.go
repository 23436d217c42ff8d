package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"kinocast/api"
	"kinocast/config"
	"kinocast/handlers"
	"kinocast/internal/database"
	"kinocast/internal/media"
	"kinocast/models"
	"kinocast/services/history"
	"kinocast/services/playback"
	"kinocast/services/renderer"
	"kinocast/services/resolve"
	"kinocast/services/session"
	"kinocast/services/shell"
	"kinocast/utils"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 kinocast Backend Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("KINOCAST_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate the access PIN on first start; only the hash is persisted
	if settings.Security.PinHash == "" {
		pin, err := utils.GeneratePIN()
		if err != nil {
			log.Fatalf("failed to generate PIN: %v", err)
		}
		hash, err := utils.HashPIN(pin)
		if err != nil {
			log.Fatalf("failed to hash PIN: %v", err)
		}
		settings.Security.PinHash = hash
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated PIN: %v", err)
		}
		fmt.Printf("🔑 kinocast PIN: %s\n", pin)
		fmt.Println("📱 Configure your frontend to use this 6-digit PIN. It will not be shown again.")
	}

	if err := os.MkdirAll(settings.Storage.Directory, 0o755); err != nil {
		log.Fatalf("failed to create storage directory: %v", err)
	}

	// Open storage: session document + watch history database
	sessionStore, err := session.NewStore(afero.NewOsFs(), settings.Storage.Directory)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}

	db, err := database.Open(settings.Storage.Directory)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	slog.Info("storage ready",
		"dir", settings.Storage.Directory,
		"sessions", sessionStore.Path(),
	)
	historyService := history.NewService(db)

	// Shared HTTP client for upstream resolution, manifests and probing
	upstreamClient := &http.Client{Timeout: time.Duration(settings.Upstream.TimeoutSeconds) * time.Second}
	prober := media.NewProber(upstreamClient, media.WithMaxProbes(settings.Player.MaxProbeVariants))

	// Every player instance gets its own selection state, resolution
	// controller and playback pipeline; only storage and history are shared.
	playerFactory := func(entry models.CatalogEntry) (*shell.Shell, error) {
		state := session.NewState(entry, sessionStore)
		ctrl := resolve.NewController(settings.Upstream.ResolveEndpoint, upstreamClient)
		rend := renderer.NewRenderer(
			renderer.WithHTTPClient(upstreamClient),
			renderer.WithKindSniffer(prober.SniffKind),
			renderer.WithVariantChecker(prober.CheckVariants),
			renderer.WithElementFactory(func() media.Element {
				return media.NewClock(
					media.WithNativeHLS(settings.Player.NativeHLS),
					media.WithTickInterval(time.Duration(settings.Player.TickIntervalMs)*time.Millisecond),
					media.WithDurationProbe(prober.Duration),
				)
			}),
		)
		return shell.New(state, ctrl, rend, historyService), nil
	}
	playerManager := playback.NewManager(playerFactory)

	// Construct router
	var r *mux.Router = utils.NewRouter()

	playerHandler := handlers.NewPlayerHandler(playerManager)
	historyHandler := handlers.NewHistoryHandler(historyService)
	settingsHandler := handlers.NewSettingsHandler(cfgManager)
	api.Register(r, playerHandler, historyHandler, settingsHandler, settings.Security.PinHash)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Setup graceful shutdown
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("🧹 Closing player instances...")
	playerManager.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
