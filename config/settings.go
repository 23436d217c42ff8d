package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Upstream UpstreamSettings `json:"upstream"`
	Storage  StorageSettings  `json:"storage"`
	Player   PlayerSettings   `json:"player"`
	Security SecuritySettings `json:"security"`
	Log      LogConfig        `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// UpstreamSettings points at the catalog provider's resolve endpoint.
type UpstreamSettings struct {
	ResolveEndpoint string `json:"resolveEndpoint"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
}

type StorageSettings struct {
	Directory string `json:"directory"`
}

// PlayerSettings tunes the playback surfaces hosted by this server.
type PlayerSettings struct {
	NativeHLS        bool `json:"nativeHls"`
	TickIntervalMs   int  `json:"tickIntervalMs"`
	MaxProbeVariants int  `json:"maxProbeVariants"`
}

// SecuritySettings holds the access PIN. Only the bcrypt hash is persisted;
// the plaintext PIN is printed once on first start.
type SecuritySettings struct {
	PinHash string `json:"pinHash"`
}

type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7788},
		Upstream: UpstreamSettings{ResolveEndpoint: "", TimeoutSeconds: 30},
		Storage:  StorageSettings{Directory: "cache"},
		Player: PlayerSettings{
			NativeHLS:        false,
			TickIntervalMs:   250,
			MaxProbeVariants: 4,
		},
		Security: SecuritySettings{},
		Log: LogConfig{
			File:       "cache/logs/backend.log",
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk, creating the file with defaults when it does
// not exist yet. Missing fields fall back to their defaults.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	if strings.TrimSpace(s.Storage.Directory) == "" {
		s.Storage.Directory = "cache"
	}
	if s.Upstream.TimeoutSeconds <= 0 {
		s.Upstream.TimeoutSeconds = 30
	}
	if s.Player.TickIntervalMs <= 0 {
		s.Player.TickIntervalMs = 250
	}
	if s.Player.MaxProbeVariants <= 0 {
		s.Player.MaxProbeVariants = 4
	}
	if s.Server.Port == 0 {
		s.Server.Port = 7788
	}
	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
