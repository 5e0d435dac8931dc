package media

import (
	"testing"
	"time"

	"github.com/guanyue91141/Self-Music/internal/types"
)

func TestLoopStatusMapping(t *testing.T) {
	tests := []struct {
		mode   types.RepeatMode
		status LoopStatus
	}{
		{types.RepeatNone, LoopNone},
		{types.RepeatAll, LoopPlaylist},
		{types.RepeatOne, LoopTrack},
	}

	for _, tt := range tests {
		if got := LoopStatusFor(tt.mode); got != tt.status {
			t.Errorf("LoopStatusFor(%s) = %s, want %s", tt.mode, got, tt.status)
		}
		if got := tt.status.RepeatMode(); got != tt.mode {
			t.Errorf("%s.RepeatMode() = %s, want %s", tt.status, got, tt.mode)
		}
	}

	if got := LoopStatus("bogus").RepeatMode(); got != types.RepeatNone {
		t.Errorf("Unknown loop status should map to none, got %s", got)
	}
}

func TestMetadataFor(t *testing.T) {
	if m := MetadataFor(nil, 10, ""); m != (Metadata{}) {
		t.Errorf("Expected empty metadata, got %+v", m)
	}

	song := &types.Song{
		ID:       "s1",
		Title:    "Title",
		Artist:   types.ArtistRef{Name: "Artist"},
		Album:    types.AlbumRef{Title: "Album"},
		Duration: 90,
	}

	m := MetadataFor(song, 0, "http://x/cover.jpg")
	if m.Duration != 90*time.Second {
		t.Errorf("Expected catalog duration fallback, got %v", m.Duration)
	}
	if m.TrackID != "s1" || m.Artist != "Artist" || m.Album != "Album" || m.ArtURL != "http://x/cover.jpg" {
		t.Errorf("Unexpected metadata %+v", m)
	}

	m = MetadataFor(song, 123.5, "")
	if m.Duration != 123500*time.Millisecond {
		t.Errorf("Expected device duration, got %v", m.Duration)
	}
}

func TestCommandString(t *testing.T) {
	if CmdPlayPause.String() != "PlayPause" || CmdSetVolume.String() != "SetVolume" {
		t.Error("Unexpected command names")
	}
	if Command(99).String() != "Unknown" {
		t.Error("Expected Unknown for out of range command")
	}
}

func TestNoOpSession(t *testing.T) {
	var s Session = NewNoOpSession()
	if err := s.UpdateMetadata(Metadata{Title: "x"}); err != nil {
		t.Errorf("UpdateMetadata: %v", err)
	}
	if err := s.UpdatePlaybackState(StatePlaying, time.Second); err != nil {
		t.Errorf("UpdatePlaybackState: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
