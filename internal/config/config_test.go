package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.lookupEnv = fakeEnv(nil)

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := os.Stat(m.GetPath()); err != nil {
		t.Fatalf("Expected config file to be created: %v", err)
	}

	cfg := m.Get()
	if cfg.DataDir != dir {
		t.Errorf("Expected data dir %s, got %s", dir, cfg.DataDir)
	}
	if cfg.Playback.DefaultVolume != 0.7 || cfg.Playback.AutoplayTimeout() != 10*time.Second {
		t.Errorf("Unexpected playback defaults %+v", cfg.Playback)
	}
	if cfg.API.Timeout() != 15*time.Second {
		t.Errorf("Unexpected API timeout %v", cfg.API.Timeout())
	}
	if cfg.CacheDSN() != filepath.Join(dir, "cache.db") {
		t.Errorf("Unexpected cache DSN %s", cfg.CacheDSN())
	}
}

func TestLoadMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `{"api":{"baseUrl":"https://music.example.com/api/"},"behavior":{"profile":"alice"}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	m.lookupEnv = fakeEnv(nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.API.BaseURL != "https://music.example.com/api" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.API.BaseURL)
	}
	if cfg.Behavior.Profile != "alice" {
		t.Errorf("Expected profile alice, got %s", cfg.Behavior.Profile)
	}
	if cfg.Playback.SampleRate != 44100 {
		t.Errorf("Expected default sample rate, got %d", cfg.Playback.SampleRate)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir)
	m.lookupEnv = fakeEnv(nil)
	if err := m.Load(); err == nil {
		t.Error("Expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.lookupEnv = fakeEnv(map[string]string{
		"SELFMUSIC_API_URL":        "http://10.0.0.2:9000/api",
		"SELFMUSIC_API_RPS":        "5",
		"SELFMUSIC_CACHE_DRIVER":   "postgres",
		"SELFMUSIC_CACHE_DSN":      "host=db user=music",
		"SELFMUSIC_VOLUME":         "0.3",
		"SELFMUSIC_REMEMBER_QUEUE": "false",
		"SELFMUSIC_SAMPLE_RATE":    "not-a-number",
	})

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.API.BaseURL != "http://10.0.0.2:9000/api" || cfg.API.RequestsPerSecond != 5 {
		t.Errorf("Unexpected API config %+v", cfg.API)
	}
	if cfg.Cache.Driver != "postgres" || cfg.CacheDSN() != "host=db user=music" {
		t.Errorf("Unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Playback.DefaultVolume != 0.3 || cfg.Behavior.RememberQueue {
		t.Errorf("Unexpected overrides %+v %+v", cfg.Playback, cfg.Behavior)
	}
	if cfg.Playback.SampleRate != 44100 {
		t.Errorf("Invalid override should be ignored, got %d", cfg.Playback.SampleRate)
	}

	// Overrides stay in memory
	reloaded := NewManager(dir)
	reloaded.lookupEnv = fakeEnv(nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if reloaded.Get().Cache.Driver != "sqlite" {
		t.Errorf("Environment override leaked into the file: %+v", reloaded.Get().Cache)
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SELFMUSIC_PROFILE=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("SELFMUSIC_PROFILE")
	t.Cleanup(func() { os.Unsetenv("SELFMUSIC_PROFILE") })

	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := m.Get().Behavior.Profile; got != "from-dotenv" {
		t.Errorf("Expected profile from .env, got %s", got)
	}
}

func TestUpdate(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.lookupEnv = fakeEnv(nil)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	cfg.Playback.DefaultVolume = 0.9
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reloaded := NewManager(dir)
	reloaded.lookupEnv = fakeEnv(nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if v := reloaded.Get().Playback.DefaultVolume; v != 0.9 {
		t.Errorf("Expected saved volume 0.9, got %f", v)
	}
}
