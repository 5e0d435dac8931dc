package queue

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/guanyue91141/Self-Music/internal/types"
)

func songs(ids ...string) []types.Song {
	out := make([]types.Song, len(ids))
	for i, id := range ids {
		out[i] = types.Song{ID: id, Title: "Song " + id}
	}
	return out
}

func ids(list []types.Song) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func newSeededManager() *Manager {
	m := NewManager()
	m.SetRand(rand.New(rand.NewSource(42)))
	return m
}

func TestNewManager(t *testing.T) {
	m := NewManager()

	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	state := m.State()
	if state.CurrentIndex != -1 {
		t.Errorf("Expected index -1, got %d", state.CurrentIndex)
	}
	if len(state.Songs) != 0 {
		t.Errorf("Expected size 0, got %d", len(state.Songs))
	}
	if _, ok := m.CurrentPlaylist(); ok {
		t.Error("Expected no current playlist on a fresh manager")
	}
}

func TestSetQueueClampsIndex(t *testing.T) {
	m := NewManager()

	tests := []struct {
		index int
		want  int
	}{
		{-3, 0},
		{1, 1},
		{10, 2},
	}

	for _, tt := range tests {
		state := m.SetQueue(songs("a", "b", "c"), tt.index)
		if state.CurrentIndex != tt.want {
			t.Errorf("SetQueue(index=%d): expected %d, got %d", tt.index, tt.want, state.CurrentIndex)
		}
	}

	state := m.SetQueue(nil, 4)
	if state.CurrentIndex != -1 {
		t.Errorf("Expected -1 for empty queue, got %d", state.CurrentIndex)
	}
}

func TestUpdatePlaylistPrefersSongID(t *testing.T) {
	m := NewManager()

	state := m.UpdatePlaylist(songs("a", "b", "c"), 0, "c")
	if state.CurrentIndex != 2 {
		t.Errorf("Expected song id to win, got index %d", state.CurrentIndex)
	}

	again := m.UpdatePlaylist(songs("a", "b", "c"), 0, "c")
	if again.CurrentIndex != state.CurrentIndex || len(again.Songs) != len(state.Songs) {
		t.Errorf("UpdatePlaylist not idempotent: %+v vs %+v", state, again)
	}

	missing := m.UpdatePlaylist(songs("a", "b", "c"), 1, "zzz")
	if missing.CurrentIndex != 1 {
		t.Errorf("Expected fallback to index 1, got %d", missing.CurrentIndex)
	}
}

func TestNextLinear(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b", "c"), 0)

	song, ok := m.Next(false, types.RepeatNone)
	if !ok || song.ID != "b" {
		t.Fatalf("Expected b, got %v (%v)", song, ok)
	}

	song, ok = m.Next(false, types.RepeatNone)
	if !ok || song.ID != "c" {
		t.Fatalf("Expected c, got %v (%v)", song, ok)
	}

	if song, ok := m.Next(false, types.RepeatNone); ok {
		t.Errorf("Expected end of queue, got %v", song)
	}

	// Index should stay on the last song
	if cur, _ := m.Current(); cur.ID != "c" {
		t.Errorf("Expected current to remain c, got %s", cur.ID)
	}
}

func TestNextRepeatAllWraps(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b", "c"), 2)

	song, ok := m.Next(false, types.RepeatAll)
	if !ok || song.ID != "a" {
		t.Errorf("Expected wrap to a, got %v (%v)", song, ok)
	}
}

func TestNextRepeatOne(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b", "c"), 1)

	for i := 0; i < 5; i++ {
		song, ok := m.Next(false, types.RepeatOne)
		if !ok || song.ID != "b" {
			t.Fatalf("Call %d: expected b, got %v (%v)", i, song, ok)
		}
		song, ok = m.Next(true, types.RepeatOne)
		if !ok || song.ID != "b" {
			t.Fatalf("Call %d (shuffle): expected b, got %v (%v)", i, song, ok)
		}
	}

	if m.State().CurrentIndex != 1 {
		t.Errorf("Expected index unchanged at 1, got %d", m.State().CurrentIndex)
	}
}

func TestNextShuffleVisitsAllBeforeRepeat(t *testing.T) {
	m := newSeededManager()
	m.SetQueue(songs("a", "b", "c", "d", "e", "f"), 2)

	seen := map[string]bool{"c": true}
	for i := 0; i < 5; i++ {
		song, ok := m.Next(true, types.RepeatNone)
		if !ok {
			t.Fatalf("Shuffle cycle ended early after %d songs", i)
		}
		if seen[song.ID] {
			t.Fatalf("Song %s repeated within one cycle", song.ID)
		}
		seen[song.ID] = true
	}

	if len(seen) != 6 {
		t.Errorf("Expected all 6 songs visited, got %d", len(seen))
	}

	if song, ok := m.Next(true, types.RepeatNone); ok {
		t.Errorf("Expected end of shuffle cycle, got %v", song)
	}
	if m.CanPlayNext(true, types.RepeatNone) {
		t.Error("Expected CanPlayNext false at end of shuffle cycle")
	}

	// Repeat all starts another cycle without repeating the current song
	cur, _ := m.Current()
	song, ok := m.Next(true, types.RepeatAll)
	if !ok {
		t.Fatal("Expected repeat all to start a new cycle")
	}
	if song.ID == cur.ID {
		t.Errorf("New cycle repeated current song %s", cur.ID)
	}
}

func TestPreviousDoesNotWrap(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b"), 1)

	song, ok := m.Previous()
	if !ok || song.ID != "a" {
		t.Fatalf("Expected a, got %v (%v)", song, ok)
	}

	if _, ok := m.Previous(); ok {
		t.Error("Expected no previous at index 0")
	}
	if m.CanPlayPrevious() {
		t.Error("Expected CanPlayPrevious false at index 0")
	}
}

func TestCanPlayNext(t *testing.T) {
	m := NewManager()

	if m.CanPlayNext(false, types.RepeatAll) {
		t.Error("Expected false for empty queue")
	}

	m.SetQueue(songs("a", "b"), 1)

	tests := []struct {
		shuffle bool
		repeat  types.RepeatMode
		want    bool
	}{
		{false, types.RepeatNone, false},
		{false, types.RepeatAll, true},
		{false, types.RepeatOne, true},
		{true, types.RepeatNone, true},
	}

	for _, tt := range tests {
		if got := m.CanPlayNext(tt.shuffle, tt.repeat); got != tt.want {
			t.Errorf("CanPlayNext(%v, %s) = %v, want %v", tt.shuffle, tt.repeat, got, tt.want)
		}
	}

	// Predicates must not move the queue
	if m.State().CurrentIndex != 1 {
		t.Errorf("CanPlayNext moved the index to %d", m.State().CurrentIndex)
	}
}

func TestShufflePlaylistKeepsSetAndCurrent(t *testing.T) {
	m := newSeededManager()
	m.SetQueue(songs("a", "b", "c", "d", "e", "f", "g"), 3)

	state, ok := m.ShufflePlaylist()
	if !ok {
		t.Fatal("ShufflePlaylist reported empty queue")
	}

	before := []string{"a", "b", "c", "d", "e", "f", "g"}
	after := ids(state.Songs)
	sort.Strings(after)
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("Song set changed: %v", ids(state.Songs))
		}
	}

	if cur := state.Current(); cur == nil || cur.ID != "d" {
		t.Errorf("Expected d to remain current, got %v", cur)
	}
	if !state.Shuffle {
		t.Error("Expected shuffle flag set after ShufflePlaylist")
	}

	if _, ok := NewManager().ShufflePlaylist(); ok {
		t.Error("Expected ShufflePlaylist on empty queue to report false")
	}
}

func TestJumpToSong(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b", "c"), 0)

	song, ok := m.JumpToSong("c")
	if !ok || song.ID != "c" {
		t.Fatalf("Expected c, got %v (%v)", song, ok)
	}
	if m.State().CurrentIndex != 2 {
		t.Errorf("Expected index 2, got %d", m.State().CurrentIndex)
	}

	if _, ok := m.JumpToSong("missing"); ok {
		t.Error("Expected jump to missing song to fail")
	}
}

func TestAddRemove(t *testing.T) {
	m := NewManager()

	m.Add(songs("a")...)
	if m.State().CurrentIndex != 0 {
		t.Errorf("Expected index 0 after first add, got %d", m.State().CurrentIndex)
	}

	m.Add(songs("b", "c", "d")...)
	m.JumpToSong("c")

	// Removing a song before the current one keeps c current
	if !m.Remove("a") {
		t.Fatal("Remove(a) failed")
	}
	if cur, _ := m.Current(); cur.ID != "c" {
		t.Errorf("Expected c current, got %s", cur.ID)
	}

	// Removing the current song promotes its successor
	m.Remove("c")
	if cur, _ := m.Current(); cur.ID != "d" {
		t.Errorf("Expected d current, got %s", cur.ID)
	}

	// Removing the last song clamps to the new end
	m.Remove("d")
	if cur, _ := m.Current(); cur.ID != "b" {
		t.Errorf("Expected b current, got %s", cur.ID)
	}

	if m.Remove("nope") {
		t.Error("Expected Remove of unknown id to report false")
	}

	m.Remove("b")
	if m.State().CurrentIndex != -1 {
		t.Errorf("Expected -1 after removing everything, got %d", m.State().CurrentIndex)
	}
}

func TestAddDuringShuffleKeepsCycle(t *testing.T) {
	m := newSeededManager()
	m.SetQueue(songs("a", "b", "c"), 0)
	m.Next(true, types.RepeatNone)

	m.Add(songs("d", "e")...)

	seen := map[string]bool{}
	cur, _ := m.Current()
	seen[cur.ID] = true
	for {
		song, ok := m.Next(true, types.RepeatNone)
		if !ok {
			break
		}
		if seen[song.ID] {
			t.Fatalf("Song %s repeated within cycle", song.ID)
		}
		seen[song.ID] = true
	}

	if !seen["d"] || !seen["e"] {
		t.Errorf("Expected added songs in the cycle, saw %v", seen)
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		current  int
		order    []string
		wantCur  int
	}{
		{"move current forward", 0, 2, 0, []string{"b", "c", "a", "d"}, 2},
		{"move before current past it", 0, 2, 1, []string{"b", "c", "a", "d"}, 0},
		{"move after current before it", 3, 0, 1, []string{"d", "a", "b", "c"}, 2},
		{"move unrelated", 2, 3, 0, []string{"a", "b", "d", "c"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			m.SetQueue(songs("a", "b", "c", "d"), tt.current)
			curBefore, _ := m.Current()

			if err := m.Move(tt.from, tt.to); err != nil {
				t.Fatalf("Move failed: %v", err)
			}

			state := m.State()
			got := ids(state.Songs)
			for i := range tt.order {
				if got[i] != tt.order[i] {
					t.Fatalf("Expected order %v, got %v", tt.order, got)
				}
			}
			if state.CurrentIndex != tt.wantCur {
				t.Errorf("Expected index %d, got %d", tt.wantCur, state.CurrentIndex)
			}
			if cur := state.Current(); cur.ID != curBefore.ID {
				t.Errorf("Current song changed from %s to %s", curBefore.ID, cur.ID)
			}
		})
	}

	m := NewManager()
	m.SetQueue(songs("a"), 0)
	if err := m.Move(0, 5); err == nil {
		t.Error("Expected out of range move to fail")
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.SetQueue(songs("a", "b"), 1)
	m.Clear()

	state := m.State()
	if len(state.Songs) != 0 || state.CurrentIndex != -1 {
		t.Errorf("Expected empty queue, got %+v", state)
	}
	if _, ok := m.Next(false, types.RepeatAll); ok {
		t.Error("Expected Next on empty queue to fail")
	}
}

func TestOnChangeReceivesSnapshot(t *testing.T) {
	m := NewManager()

	var got []State
	m.SetOnChange(func(s State) {
		got = append(got, s)
	})

	m.SetQueue(songs("a", "b"), 0)
	m.Next(false, types.RepeatNone)
	m.SetModes(true, types.RepeatAll)

	if len(got) != 3 {
		t.Fatalf("Expected 3 change notifications, got %d", len(got))
	}
	if got[1].CurrentIndex != 1 {
		t.Errorf("Expected index 1 in second snapshot, got %d", got[1].CurrentIndex)
	}
	if !got[2].Shuffle || got[2].Repeat != types.RepeatAll {
		t.Errorf("Expected modes in last snapshot, got %+v", got[2])
	}
}

type fakeHotSongs struct {
	songs []types.Song
	err   error
	limit int
}

func (f *fakeHotSongs) GetHotSongs(_ context.Context, limit int) ([]types.Song, error) {
	f.limit = limit
	return f.songs, f.err
}

func TestInitializeDefaultPlaylist(t *testing.T) {
	m := NewManager()
	src := &fakeHotSongs{songs: songs("h1", "h2")}

	state, err := m.InitializeDefaultPlaylist(context.Background(), src)
	if err != nil {
		t.Fatalf("InitializeDefaultPlaylist failed: %v", err)
	}
	if state == nil || len(state.Songs) != 2 || state.CurrentIndex != 0 {
		t.Fatalf("Unexpected state: %+v", state)
	}
	if src.limit != DefaultPlaylistSize {
		t.Errorf("Expected limit %d, got %d", DefaultPlaylistSize, src.limit)
	}

	empty, err := NewManager().InitializeDefaultPlaylist(context.Background(), &fakeHotSongs{})
	if err != nil || empty != nil {
		t.Errorf("Expected nil state for no hot songs, got %+v, %v", empty, err)
	}

	failing := &fakeHotSongs{err: types.ErrNetwork}
	if _, err := NewManager().InitializeDefaultPlaylist(context.Background(), failing); !errors.Is(err, types.ErrNetwork) {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestQueueScenario(t *testing.T) {
	m := NewManager()

	state := m.SetQueue(songs("A", "B", "C"), 1)
	if cur := state.Current(); cur.ID != "B" {
		t.Fatalf("Expected B, got %s", cur.ID)
	}

	song, ok := m.Next(false, types.RepeatNone)
	if !ok || song.ID != "C" {
		t.Fatalf("Expected C, got %v", song)
	}

	if _, ok := m.Next(false, types.RepeatNone); ok {
		t.Fatal("Expected end of queue")
	}

	song, ok = m.Previous()
	if !ok || song.ID != "B" {
		t.Errorf("Expected B, got %v", song)
	}
}
