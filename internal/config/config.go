// Package config handles daemon configuration file management.
//
// Settings come from config.json in the config directory. Environment
// variables prefixed with SELFMUSIC_ (optionally from a .env file) override
// them in memory; overrides are never written back.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of all override variables
const EnvPrefix = "SELFMUSIC_"

// Config represents the daemon configuration
type Config struct {
	// DataDir is where to store the cache database and persisted queues
	DataDir string `json:"dataDir"`

	API      APIConfig      `json:"api"`
	Cache    CacheConfig    `json:"cache"`
	Playback PlaybackConfig `json:"playback"`
	Behavior BehaviorConfig `json:"behavior"`
}

// APIConfig contains settings for the remote catalog
type APIConfig struct {
	BaseURL string `json:"baseUrl"`

	// TimeoutMs per request (default: 15000)
	TimeoutMs int `json:"timeoutMs"`

	// RequestsPerSecond limits outgoing requests, 0 for no limit
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// Timeout returns the request timeout
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheConfig contains settings for the local media cache
type CacheConfig struct {
	// Driver is sqlite, postgres or mysql (default: sqlite)
	Driver string `json:"driver"`

	// DSN for the driver; for sqlite an empty DSN means <dataDir>/cache.db
	DSN string `json:"dsn"`

	// Debug logs every SQL statement
	Debug bool `json:"debug"`
}

// PlaybackConfig contains audio-related settings
type PlaybackConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate"`

	// DefaultVolume level 0.0 - 1.0 (default: 0.7)
	DefaultVolume float64 `json:"defaultVolume"`

	// AutoplayTimeoutMs bounds how long a play request waits for audio (default: 10000)
	AutoplayTimeoutMs int `json:"autoplayTimeoutMs"`
}

// AutoplayTimeout returns the autoplay wait
func (c PlaybackConfig) AutoplayTimeout() time.Duration {
	return time.Duration(c.AutoplayTimeoutMs) * time.Millisecond
}

// BehaviorConfig contains behavior-related settings
type BehaviorConfig struct {
	// RememberQueue - persist queue across restarts
	RememberQueue bool `json:"rememberQueue"`

	// Profile names the persisted queue, one per user
	Profile string `json:"profile"`

	// LoadHotSongs - start with the server's hot songs when no queue is saved
	LoadHotSongs bool `json:"loadHotSongs"`

	// HotSongsLimit is how many hot songs to load (default: 20)
	HotSongsLimit int `json:"hotSongsLimit"`

	// MediaSession - publish playback to the OS media controls
	MediaSession bool `json:"mediaSession"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8000/api",
			TimeoutMs: 15000,
		},
		Cache: CacheConfig{
			Driver: "sqlite",
		},
		Playback: PlaybackConfig{
			SampleRate:        44100,
			DefaultVolume:     0.7,
			AutoplayTimeoutMs: 10000,
		},
		Behavior: BehaviorConfig{
			RememberQueue: true,
			Profile:       "default",
			LoadHotSongs:  true,
			HotSongsLimit: 20,
			MediaSession:  true,
		},
	}
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string

	mu        sync.RWMutex
	file      Config // as stored on disk
	effective Config // file plus environment overrides
	lookupEnv func(string) (string, bool)
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	def := *DefaultConfig()
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		file:       def,
		effective:  def,
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads the configuration from disk, creating it with defaults on
// first run, then applies environment overrides
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// .env files never override variables that are already set
	for _, path := range []string{filepath.Join(m.configDir, ".env"), ".env"} {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[CONFIG] Ignoring %s: %v", path, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.file = *DefaultConfig()
		m.file.DataDir = m.configDir
		m.applyLocked()
		return m.saveLocked()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if config.DataDir == "" {
		config.DataDir = m.configDir
	}

	m.file = *config
	m.applyLocked()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns the effective configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update replaces the stored configuration and saves it
func (m *Manager) Update(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.file = config
	m.applyLocked()
	return m.saveLocked()
}

// CacheDSN returns the cache DSN, defaulting sqlite to a file in DataDir
func (c Config) CacheDSN() string {
	if c.Cache.DSN != "" {
		return c.Cache.DSN
	}
	if c.Cache.Driver == "" || c.Cache.Driver == "sqlite" {
		return filepath.Join(c.DataDir, "cache.db")
	}
	return ""
}

// applyLocked recomputes the effective configuration
func (m *Manager) applyLocked() {
	cfg := m.file
	env := envReader{lookup: m.lookupEnv}

	env.setString("API_URL", &cfg.API.BaseURL)
	env.setInt("API_TIMEOUT_MS", &cfg.API.TimeoutMs)
	env.setFloat("API_RPS", &cfg.API.RequestsPerSecond)
	env.setInt("API_BURST", &cfg.API.Burst)
	env.setString("CACHE_DRIVER", &cfg.Cache.Driver)
	env.setString("CACHE_DSN", &cfg.Cache.DSN)
	env.setBool("CACHE_DEBUG", &cfg.Cache.Debug)
	env.setInt("SAMPLE_RATE", &cfg.Playback.SampleRate)
	env.setFloat("VOLUME", &cfg.Playback.DefaultVolume)
	env.setInt("AUTOPLAY_TIMEOUT_MS", &cfg.Playback.AutoplayTimeoutMs)
	env.setBool("REMEMBER_QUEUE", &cfg.Behavior.RememberQueue)
	env.setString("PROFILE", &cfg.Behavior.Profile)
	env.setBool("LOAD_HOT_SONGS", &cfg.Behavior.LoadHotSongs)
	env.setInt("HOT_SONGS_LIMIT", &cfg.Behavior.HotSongsLimit)
	env.setBool("MEDIA_SESSION", &cfg.Behavior.MediaSession)
	env.setString("DATA_DIR", &cfg.DataDir)

	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	m.effective = cfg
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e envReader) setString(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e envReader) setInt(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[CONFIG] Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = n
}

func (e envReader) setFloat(name string, dst *float64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[CONFIG] Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = f
}

func (e envReader) setBool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[CONFIG] Ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
		return
	}
	*dst = b
}
