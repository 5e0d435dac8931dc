// Package player holds the canonical playback state and the commands that change it.
package player

import (
	"github.com/guanyue91141/Self-Music/internal/types"
)

// Mode describes where the current song was selected from
type Mode string

const (
	ModeSong     Mode = "song"
	ModePlaylist Mode = "playlist"
	ModeMood     Mode = "mood"
)

// Status is the coarse state derived from State
type Status int

const (
	StatusEmpty Status = iota
	StatusLoading
	StatusReadyPaused
	StatusReadyPlaying
	StatusError
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReadyPaused:
		return "paused"
	case StatusReadyPlaying:
		return "playing"
	case StatusError:
		return "error"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot of playback. Slices and pointers inside a snapshot
// are never mutated after it is published.
type State struct {
	CurrentSong *types.Song `json:"currentSong"`
	IsPlaying   bool        `json:"isPlaying"`
	Volume      float64     `json:"volume"`
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
	IsLoading   bool        `json:"isLoading"`
	Error       string      `json:"error,omitempty"`
	PendingSeek *float64    `json:"pendingSeek,omitempty"`

	Queue        []types.Song     `json:"queue"`
	CurrentIndex int              `json:"currentIndex"`
	Shuffle      bool             `json:"shuffle"`
	Repeat       types.RepeatMode `json:"repeat"`

	Mode            Mode            `json:"mode"`
	CurrentPlaylist *types.Playlist `json:"currentPlaylist,omitempty"`
	CurrentMood     string          `json:"currentMood,omitempty"`
}

// Status derives the coarse playback status
func (s State) Status() Status {
	switch {
	case s.IsLoading:
		return StatusLoading
	case s.Error != "":
		return StatusError
	case s.CurrentSong == nil:
		return StatusEmpty
	case s.IsPlaying:
		return StatusReadyPlaying
	default:
		return StatusReadyPaused
	}
}

// SongChanged reports whether a different song selection happened between two snapshots
func SongChanged(prev, next State) bool {
	return prev.CurrentSong != next.CurrentSong
}

// DefaultSong is shown when nothing else can be loaded
var DefaultSong = types.Song{
	ID:     "default",
	Title:  "Welcome to Self-Music",
	Artist: types.ArtistRef{Name: "Self-Music"},
}

const appName = "Self-Music"

// NowPlayingTitle is the window/session title for a state
func NowPlayingTitle(s State) string {
	if s.CurrentSong == nil || !s.IsPlaying {
		return appName
	}
	return "♪ " + s.CurrentSong.DisplayName() + " | " + appName
}
