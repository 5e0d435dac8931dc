// Package types provides shared type definitions used across the player engine.
package types

import "fmt"

// ArtistRef references the artist of a song
type ArtistRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// AlbumRef references the album a song belongs to
type AlbumRef struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// Song is the catalog metadata for a single track.
// A Song is treated as immutable once fetched; cached copies carry their
// binary payloads next to it, never inside it.
type Song struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Artist   ArtistRef `json:"artist"`
	Album    AlbumRef  `json:"album"`
	Duration float64   `json:"duration"` // seconds
	CoverURL string    `json:"coverUrl,omitempty"`
	Lyrics   string    `json:"lyrics,omitempty"`
	AudioURL string    `json:"audioUrl,omitempty"`
}

// DisplayName returns "Title - Artist", or just the title when the artist is unknown
func (s *Song) DisplayName() string {
	if s.Artist.Name == "" {
		return s.Title
	}
	return fmt.Sprintf("%s - %s", s.Title, s.Artist.Name)
}

// Playlist is a server-side playlist used to seed the queue
type Playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	Songs       []Song `json:"songs"`
}

// RepeatMode represents the repeat behavior
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String returns the string representation of the repeat mode
func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "none"
	}
}

// Next cycles none -> all -> one -> none
func (r RepeatMode) Next() RepeatMode {
	switch r {
	case RepeatNone:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatNone
	}
}

// ParseRepeatMode parses a string into a RepeatMode
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "one":
		return RepeatOne
	case "all":
		return RepeatAll
	default:
		return RepeatNone
	}
}

// MarshalText implements encoding.TextMarshaler
func (r RepeatMode) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *RepeatMode) UnmarshalText(text []byte) error {
	*r = ParseRepeatMode(string(text))
	return nil
}

// Source is what the audio device plays: in-memory bytes when available,
// otherwise a stream URL. Key identifies the source for reload decisions.
type Source struct {
	Key  string
	Data []byte
	URL  string
}

// IsZero reports whether the source points at nothing
func (s Source) IsZero() bool {
	return len(s.Data) == 0 && s.URL == ""
}
