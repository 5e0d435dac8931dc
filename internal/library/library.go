// Package library resolves songs cache-first, falling back to the remote catalog.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/types"
)

// Catalog is the subset of the remote catalog used for resolution
type Catalog interface {
	GetSong(ctx context.Context, id string) (*types.Song, error)
	FetchAudio(ctx context.Context, id string) ([]byte, error)
	FetchImage(ctx context.Context, coverURL string) ([]byte, error)
	LyricsText(ctx context.Context, id string) (string, error)
}

// Store is the durable cache consulted before the network
type Store interface {
	Get(ctx context.Context, id string) (*cache.Entry, error)
	Put(ctx context.Context, song types.Song, audio, image []byte) error
	GetLyrics(ctx context.Context, songID string) (string, error)
	PutLyrics(ctx context.Context, songID, text string) error
}

// Resolved is a song with its payloads ready for playback
type Resolved struct {
	Song      types.Song
	Audio     []byte
	Image     []byte
	FromCache bool
}

// Library combines the cache and the catalog
type Library struct {
	catalog Catalog
	store   Store // may be nil

	mu   sync.Mutex
	last *Resolved
}

// New creates a library. store may be nil to run without a cache.
func New(catalog Catalog, store Store) *Library {
	return &Library{catalog: catalog, store: store}
}

// Resolve returns the song with audio, from the cache when possible.
// Cache failures are logged and treated as misses. On a network fetch
// the result is written back to the cache.
func (l *Library) Resolve(ctx context.Context, id string) (*Resolved, error) {
	if res, ok := l.fromCache(ctx, id); ok {
		l.remember(res)
		return res, nil
	}

	song, err := l.catalog.GetSong(ctx, id)
	if err != nil {
		return nil, err
	}

	audio, err := l.catalog.FetchAudio(ctx, id)
	if err != nil {
		return nil, err
	}

	var image []byte
	if song.CoverURL != "" {
		image, err = l.catalog.FetchImage(ctx, song.CoverURL)
		if err != nil {
			log.Printf("[LIBRARY] Failed to fetch cover for %s: %v", id, err)
			image = nil
		}
	}

	lyricsText, err := l.catalog.LyricsText(ctx, id)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			log.Printf("[LIBRARY] Failed to fetch lyrics for %s: %v", id, err)
		}
	} else if lyricsText != "" {
		song.Lyrics = lyricsText
	}

	if l.store != nil {
		if err := l.store.Put(ctx, *song, audio, image); err != nil {
			log.Printf("[CACHE] Failed to cache song %s: %v", id, err)
		}
		if lyricsText != "" {
			if err := l.store.PutLyrics(ctx, id, lyricsText); err != nil {
				log.Printf("[CACHE] Failed to cache lyrics for %s: %v", id, err)
			}
		}
	}

	res := &Resolved{Song: *song, Audio: audio, Image: image}
	l.remember(res)
	return res, nil
}

func (l *Library) fromCache(ctx context.Context, id string) (*Resolved, bool) {
	if l.store == nil {
		return nil, false
	}

	entry, err := l.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			log.Printf("[CACHE] Lookup for %s failed, using network: %v", id, err)
		}
		return nil, false
	}

	return &Resolved{
		Song:      entry.Song,
		Audio:     entry.Audio,
		Image:     entry.Image,
		FromCache: true,
	}, true
}

func (l *Library) remember(res *Resolved) {
	l.mu.Lock()
	l.last = res
	l.mu.Unlock()
}

// Source picks the best playable source for a song: bytes from the most
// recent resolution or the cache, else a full resolution that also fills
// the cache. Songs without an id are streamed from their audio URL.
func (l *Library) Source(ctx context.Context, song types.Song) (types.Source, error) {
	if song.ID == "" {
		if song.AudioURL == "" {
			return types.Source{}, fmt.Errorf("song has no id or audio url: %w", types.ErrUnsupportedSource)
		}
		return types.Source{Key: song.AudioURL, URL: song.AudioURL}, nil
	}

	key := "song:" + song.ID

	l.mu.Lock()
	last := l.last
	l.mu.Unlock()
	if last != nil && last.Song.ID == song.ID && len(last.Audio) > 0 {
		return types.Source{Key: key, Data: last.Audio}, nil
	}

	res, err := l.Resolve(ctx, song.ID)
	if err != nil {
		return types.Source{}, err
	}
	return types.Source{Key: key, Data: res.Audio}, nil
}

// Lyrics returns the lyrics text of a song, cache first
func (l *Library) Lyrics(ctx context.Context, id string) (string, error) {
	if l.store != nil {
		text, err := l.store.GetLyrics(ctx, id)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			log.Printf("[CACHE] Lyrics lookup for %s failed, using network: %v", id, err)
		}
	}

	text, err := l.catalog.LyricsText(ctx, id)
	if err != nil {
		return "", err
	}

	if l.store != nil && text != "" {
		if err := l.store.PutLyrics(ctx, id, text); err != nil {
			log.Printf("[CACHE] Failed to cache lyrics for %s: %v", id, err)
		}
	}
	return text, nil
}
