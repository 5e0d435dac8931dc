// Package media mirrors playback onto the OS media session (MPRIS on Linux)
// and forwards media keys back as commands.
package media

import (
	"time"

	"github.com/guanyue91141/Self-Music/internal/types"
)

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// Metadata contains song metadata for media session display
type Metadata struct {
	TrackID  string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	ArtURL   string
}

// MetadataFor builds session metadata for a song. duration is in seconds,
// artURL is the absolute cover URL if known.
func MetadataFor(song *types.Song, duration float64, artURL string) Metadata {
	if song == nil {
		return Metadata{}
	}
	if duration <= 0 {
		duration = song.Duration
	}
	return Metadata{
		TrackID:  song.ID,
		Title:    song.Title,
		Artist:   song.Artist.Name,
		Album:    song.Album.Title,
		Duration: time.Duration(duration * float64(time.Second)),
		ArtURL:   artURL,
	}
}

// LoopStatus represents the loop/repeat mode for MPRIS
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// LoopStatusFor maps a repeat mode to its MPRIS loop status
func LoopStatusFor(mode types.RepeatMode) LoopStatus {
	switch mode {
	case types.RepeatOne:
		return LoopTrack
	case types.RepeatAll:
		return LoopPlaylist
	default:
		return LoopNone
	}
}

// RepeatMode maps the loop status back to a repeat mode
func (l LoopStatus) RepeatMode() types.RepeatMode {
	switch l {
	case LoopTrack:
		return types.RepeatOne
	case LoopPlaylist:
		return types.RepeatAll
	default:
		return types.RepeatNone
	}
}

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the currently playing song metadata
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	UpdateShuffle(enabled bool) error
	UpdateLoopStatus(status LoopStatus) error
	UpdateVolume(volume float64) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdNext
	CmdPrevious
	CmdSeek
	CmdSetShuffle
	CmdSetLoopStatus
	CmdSetVolume
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdNext:
		return "Next"
	case CmdPrevious:
		return "Previous"
	case CmdSeek:
		return "Seek"
	case CmdSetShuffle:
		return "SetShuffle"
	case CmdSetLoopStatus:
		return "SetLoopStatus"
	case CmdSetVolume:
		return "SetVolume"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS. data carries the
// argument: time.Duration for CmdSeek, bool for CmdSetShuffle, LoopStatus
// for CmdSetLoopStatus and float64 for CmdSetVolume.
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession is used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(metadata Metadata) error {
	return nil
}

func (s *NoOpSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	return nil
}

func (s *NoOpSession) UpdateShuffle(enabled bool) error {
	return nil
}

func (s *NoOpSession) UpdateLoopStatus(status LoopStatus) error {
	return nil
}

func (s *NoOpSession) UpdateVolume(volume float64) error {
	return nil
}

func (s *NoOpSession) SetCommandHandler(handler CommandHandler) {
}

func (s *NoOpSession) Close() error {
	return nil
}
