package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestRepeatModeCycle(t *testing.T) {
	mode := RepeatNone

	want := []RepeatMode{RepeatAll, RepeatOne, RepeatNone, RepeatAll}
	for i, w := range want {
		mode = mode.Next()
		if mode != w {
			t.Errorf("Step %d: expected %s, got %s", i, w, mode)
		}
	}
}

func TestParseRepeatMode(t *testing.T) {
	tests := []struct {
		in   string
		want RepeatMode
	}{
		{"none", RepeatNone},
		{"all", RepeatAll},
		{"one", RepeatOne},
		{"", RepeatNone},
		{"bogus", RepeatNone},
	}

	for _, tt := range tests {
		if got := ParseRepeatMode(tt.in); got != tt.want {
			t.Errorf("ParseRepeatMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRepeatModeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Repeat RepeatMode `json:"repeat"`
	}{RepeatOne})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"repeat":"one"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}

	var decoded struct {
		Repeat RepeatMode `json:"repeat"`
	}
	if err := json.Unmarshal([]byte(`{"repeat":"all"}`), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Repeat != RepeatAll {
		t.Errorf("Expected RepeatAll, got %s", decoded.Repeat)
	}
}

func TestMessage(t *testing.T) {
	if Message(nil) != "" {
		t.Error("Expected empty message for nil error")
	}

	err := fmt.Errorf("fetch song s1: %w", ErrNetwork)
	got := Message(err)
	want := "Network error while loading audio: fetch song s1: network failure"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	if Message(ErrDecode) != "Audio file could not be decoded: decode failure" {
		t.Errorf("Unexpected decode message: %q", Message(ErrDecode))
	}

	plain := fmt.Errorf("something odd")
	if Message(plain) != "something odd" {
		t.Errorf("Expected passthrough message, got %q", Message(plain))
	}
}

func TestDisplayName(t *testing.T) {
	s := Song{Title: "Song", Artist: ArtistRef{Name: "Band"}}
	if s.DisplayName() != "Song - Band" {
		t.Errorf("Unexpected display name %q", s.DisplayName())
	}

	s.Artist.Name = ""
	if s.DisplayName() != "Song" {
		t.Errorf("Unexpected display name %q", s.DisplayName())
	}
}
