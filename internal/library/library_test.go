package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/types"
)

type fakeCatalog struct {
	songs      map[string]types.Song
	lyrics     map[string]string
	audioCalls int
	imageCalls int
	audioErr   error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		songs: map[string]types.Song{
			"s1": {ID: "s1", Title: "First", CoverURL: "/covers/s1.jpg"},
			"s2": {ID: "s2", Title: "Second"},
		},
		lyrics: map[string]string{"s1": "[00:01.00]hello"},
	}
}

func (f *fakeCatalog) GetSong(_ context.Context, id string) (*types.Song, error) {
	song, ok := f.songs[id]
	if !ok {
		return nil, fmt.Errorf("get song %s: %w", id, types.ErrNotFound)
	}
	return &song, nil
}

func (f *fakeCatalog) FetchAudio(_ context.Context, id string) ([]byte, error) {
	f.audioCalls++
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	return []byte("audio-" + id), nil
}

func (f *fakeCatalog) FetchImage(_ context.Context, coverURL string) ([]byte, error) {
	f.imageCalls++
	return []byte("image"), nil
}

func (f *fakeCatalog) LyricsText(_ context.Context, id string) (string, error) {
	text, ok := f.lyrics[id]
	if !ok {
		return "", types.ErrNotFound
	}
	return text, nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*cache.Entry, error) {
	return nil, types.ErrCache
}

func (brokenStore) Put(context.Context, types.Song, []byte, []byte) error {
	return types.ErrCache
}

func (brokenStore) GetLyrics(context.Context, string) (string, error) {
	return "", types.ErrCache
}

func (brokenStore) PutLyrics(context.Context, string, string) error {
	return types.ErrCache
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "cache.db"), false)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestResolveMissThenHit(t *testing.T) {
	catalog := newFakeCatalog()
	store := newTestCache(t)
	lib := New(catalog, store)
	ctx := context.Background()

	res, err := lib.Resolve(ctx, "s1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.FromCache {
		t.Error("First resolve should come from the network")
	}
	if string(res.Audio) != "audio-s1" || string(res.Image) != "image" {
		t.Errorf("Unexpected payloads %q %q", res.Audio, res.Image)
	}
	if res.Song.Lyrics != "[00:01.00]hello" {
		t.Errorf("Expected lyrics merged into song, got %q", res.Song.Lyrics)
	}

	res, err = lib.Resolve(ctx, "s1")
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if !res.FromCache {
		t.Error("Second resolve should hit the cache")
	}
	if catalog.audioCalls != 1 {
		t.Errorf("Expected one audio fetch, got %d", catalog.audioCalls)
	}

	text, err := store.GetLyrics(ctx, "s1")
	if err != nil || text != "[00:01.00]hello" {
		t.Errorf("Expected lyrics cached, got %q, %v", text, err)
	}
}

func TestResolveErrors(t *testing.T) {
	catalog := newFakeCatalog()
	lib := New(catalog, nil)
	ctx := context.Background()

	if _, err := lib.Resolve(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	catalog.audioErr = fmt.Errorf("fetch audio: %w", types.ErrNetwork)
	if _, err := lib.Resolve(ctx, "s2"); !errors.Is(err, types.ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", err)
	}
}

func TestResolveCacheFailureFallsBack(t *testing.T) {
	catalog := newFakeCatalog()
	lib := New(catalog, brokenStore{})

	res, err := lib.Resolve(context.Background(), "s2")
	if err != nil {
		t.Fatalf("Expected network fallback, got %v", err)
	}
	if res.FromCache || string(res.Audio) != "audio-s2" {
		t.Errorf("Unexpected result %+v", res)
	}

	text, err := lib.Lyrics(context.Background(), "s1")
	if err != nil || text != "[00:01.00]hello" {
		t.Errorf("Expected lyrics from network, got %q, %v", text, err)
	}
}

func TestSource(t *testing.T) {
	catalog := newFakeCatalog()
	store := newTestCache(t)
	lib := New(catalog, store)
	ctx := context.Background()

	// A miss resolves the song and fills the cache
	src, err := lib.Source(ctx, types.Song{ID: "s2"})
	if err != nil {
		t.Fatalf("Source failed: %v", err)
	}
	if string(src.Data) != "audio-s2" || src.Key != "song:s2" || src.URL != "" {
		t.Errorf("Expected fetched bytes, got %+v", src)
	}
	entry, err := store.Get(ctx, "s2")
	if err != nil || string(entry.Audio) != "audio-s2" {
		t.Fatalf("Expected s2 cached after Source, got %+v, %v", entry, err)
	}

	// Served from the cache from now on
	fresh := New(catalog, store)
	src, err = fresh.Source(ctx, types.Song{ID: "s2"})
	if err != nil || string(src.Data) != "audio-s2" {
		t.Errorf("Expected cached bytes, got %+v, %v", src, err)
	}
	if catalog.audioCalls != 1 {
		t.Errorf("Expected one audio fetch, got %d", catalog.audioCalls)
	}

	if _, err := lib.Source(ctx, types.Song{ID: "missing"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if _, err := lib.Source(ctx, types.Song{}); !errors.Is(err, types.ErrUnsupportedSource) {
		t.Errorf("Expected ErrUnsupportedSource, got %v", err)
	}

	src, err = lib.Source(ctx, types.Song{AudioURL: "http://x/a.mp3"})
	if err != nil || src.URL != "http://x/a.mp3" {
		t.Errorf("Expected direct audio URL, got %+v, %v", src, err)
	}
}
