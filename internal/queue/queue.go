// Package queue manages the playback queue.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/guanyue91141/Self-Music/internal/types"
)

// DefaultPlaylistSize is how many hot songs seed a cold-start queue
const DefaultPlaylistSize = 20

// State is the queue as seen by the player and persisted to disk
type State struct {
	Songs        []types.Song     `json:"songs"`
	CurrentIndex int              `json:"currentIndex"`
	Shuffle      bool             `json:"shuffle"`
	Repeat       types.RepeatMode `json:"repeat"`
}

// Current returns the song at CurrentIndex, or nil when the queue is empty
func (s State) Current() *types.Song {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Songs) {
		return nil
	}
	song := s.Songs[s.CurrentIndex]
	return &song
}

// ChangeCallback is called with a snapshot after every mutation
type ChangeCallback func(State)

// HotSongsSource supplies the server-suggested starting set for a cold start
type HotSongsSource interface {
	GetHotSongs(ctx context.Context, limit int) ([]types.Song, error)
}

// Manager manages the playback queue
type Manager struct {
	mu      sync.RWMutex
	songs   []types.Song
	index   int // -1 iff songs is empty
	shuffle bool
	repeat  types.RepeatMode

	// order is the current shuffle cycle over positions in songs; nil means
	// it must be regenerated before use. pos is the current song's slot in it.
	order []int
	pos   int

	rng      *rand.Rand
	onChange ChangeCallback
}

// NewManager creates a new queue manager
func NewManager() *Manager {
	return &Manager{
		songs: make([]types.Song, 0),
		index: -1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the random source used for shuffling
func (m *Manager) SetRand(r *rand.Rand) {
	m.mu.Lock()
	m.rng = r
	m.mu.Unlock()
}

// SetOnChange sets a callback to be called when the queue state changes
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	state := m.snapshot()
	m.mu.RUnlock()
	if callback != nil {
		callback(state)
	}
}

func (m *Manager) snapshot() State {
	songs := make([]types.Song, len(m.songs))
	copy(songs, m.songs)
	return State{
		Songs:        songs,
		CurrentIndex: m.index,
		Shuffle:      m.shuffle,
		Repeat:       m.repeat,
	}
}

// State returns a copy of the current queue
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

// CurrentPlaylist returns the queue, or false when there is nothing queued
func (m *Manager) CurrentPlaylist() (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.songs) == 0 {
		return State{CurrentIndex: -1, Shuffle: m.shuffle, Repeat: m.repeat}, false
	}
	return m.snapshot(), true
}

// Current returns the current song
func (m *Manager) Current() (*types.Song, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked()
}

func (m *Manager) currentLocked() (*types.Song, bool) {
	if m.index < 0 || m.index >= len(m.songs) {
		return nil, false
	}
	song := m.songs[m.index]
	return &song, true
}

// SetQueue replaces the queue and clamps index into range
func (m *Manager) SetQueue(songs []types.Song, index int) State {
	return m.UpdatePlaylist(songs, index, "")
}

// UpdatePlaylist replaces the queue wholesale. When songID names a song in
// songs it locates the current song, otherwise index is clamped into range.
// Calling it twice with the same arguments yields the same state.
func (m *Manager) UpdatePlaylist(songs []types.Song, index int, songID string) State {
	m.mu.Lock()

	m.songs = make([]types.Song, len(songs))
	copy(m.songs, songs)
	m.index = clampIndex(index, len(m.songs))
	if songID != "" {
		if _, i, ok := lo.FindIndexOf(m.songs, func(s types.Song) bool { return s.ID == songID }); ok {
			m.index = i
		}
	}
	m.order = nil

	state := m.snapshot()
	m.mu.Unlock()
	m.notifyChange()
	return state
}

// Restore installs a previously persisted state without reshuffling
func (m *Manager) Restore(state State) {
	m.mu.Lock()
	m.songs = make([]types.Song, len(state.Songs))
	copy(m.songs, state.Songs)
	m.index = clampIndex(state.CurrentIndex, len(m.songs))
	m.shuffle = state.Shuffle
	m.repeat = state.Repeat
	m.order = nil
	m.mu.Unlock()
}

func clampIndex(index, n int) int {
	if n == 0 {
		return -1
	}
	return lo.Clamp(index, 0, n-1)
}

// Next advances according to shuffle and repeat and returns the new current
// song. It returns false when a non-repeating queue is exhausted.
func (m *Manager) Next(shuffle bool, repeat types.RepeatMode) (*types.Song, bool) {
	m.mu.Lock()

	if len(m.songs) == 0 {
		m.mu.Unlock()
		return nil, false
	}

	// Repeat one keeps the current song and position
	if repeat == types.RepeatOne {
		song, ok := m.currentLocked()
		m.mu.Unlock()
		return song, ok
	}

	if shuffle {
		m.ensureOrder()
		if m.pos+1 < len(m.order) {
			m.pos++
		} else if repeat == types.RepeatAll {
			m.newCycle()
		} else {
			m.mu.Unlock()
			return nil, false
		}
		m.index = m.order[m.pos]
	} else {
		if m.index+1 < len(m.songs) {
			m.index++
		} else if repeat == types.RepeatAll {
			m.index = 0
		} else {
			m.mu.Unlock()
			return nil, false
		}
	}

	song, ok := m.currentLocked()
	m.mu.Unlock()
	m.notifyChange()
	return song, ok
}

// Previous steps back one position. It does not wrap at the start.
func (m *Manager) Previous() (*types.Song, bool) {
	m.mu.Lock()

	if m.index <= 0 {
		m.mu.Unlock()
		return nil, false
	}

	m.index--
	song, ok := m.currentLocked()
	m.mu.Unlock()
	m.notifyChange()
	return song, ok
}

// CanPlayNext reports whether Next would return a song, without moving
func (m *Manager) CanPlayNext(shuffle bool, repeat types.RepeatMode) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.songs)
	if n == 0 {
		return false
	}
	if repeat != types.RepeatNone {
		return true
	}
	if shuffle {
		if m.orderValid() {
			return m.pos+1 < len(m.order)
		}
		return n > 1
	}
	return m.index < n-1
}

// CanPlayPrevious reports whether Previous would return a song
func (m *Manager) CanPlayPrevious() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index > 0
}

// orderValid reports whether the shuffle cycle still describes the queue
func (m *Manager) orderValid() bool {
	return m.order != nil && len(m.order) == len(m.songs) &&
		m.pos >= 0 && m.pos < len(m.order) && m.order[m.pos] == m.index
}

// ensureOrder starts a fresh cycle led by the current song when the old one is stale
func (m *Manager) ensureOrder() {
	if m.orderValid() {
		return
	}
	m.generateShuffleOrder()
	if m.index >= 0 {
		for i, idx := range m.order {
			if idx == m.index {
				m.order[0], m.order[i] = m.order[i], m.order[0]
				break
			}
		}
	}
	m.pos = 0
}

// newCycle begins another pass over every song, avoiding an immediate repeat of the current one
func (m *Manager) newCycle() {
	m.generateShuffleOrder()
	if n := len(m.order); n > 1 && m.order[0] == m.index {
		j := 1 + m.rng.Intn(n-1)
		m.order[0], m.order[j] = m.order[j], m.order[0]
	}
	m.pos = 0
}

// generateShuffleOrder creates a new shuffled order of indices
func (m *Manager) generateShuffleOrder() {
	n := len(m.songs)
	m.order = make([]int, n)
	for i := 0; i < n; i++ {
		m.order[i] = i
	}
	// Fisher-Yates shuffle
	for i := n - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		m.order[i], m.order[j] = m.order[j], m.order[i]
	}
}

// ShufflePlaylist reorders the songs themselves. The current song stays
// current at its new position. Returns false when the queue is empty.
func (m *Manager) ShufflePlaylist() (State, bool) {
	m.mu.Lock()

	if len(m.songs) == 0 {
		state := m.snapshot()
		m.mu.Unlock()
		return state, false
	}

	current := m.index
	m.generateShuffleOrder()
	shuffled := make([]types.Song, len(m.songs))
	for newPos, oldPos := range m.order {
		shuffled[newPos] = m.songs[oldPos]
		if oldPos == current {
			m.index = newPos
		}
	}
	m.songs = shuffled
	m.shuffle = true
	m.order = nil
	m.ensureOrder()

	state := m.snapshot()
	m.mu.Unlock()
	m.notifyChange()
	return state, true
}

// JumpToSong makes the song with the given id current
func (m *Manager) JumpToSong(songID string) (*types.Song, bool) {
	m.mu.Lock()

	_, i, ok := lo.FindIndexOf(m.songs, func(s types.Song) bool { return s.ID == songID })
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	m.index = i
	m.relocate()

	song, _ := m.currentLocked()
	m.mu.Unlock()
	m.notifyChange()
	return song, true
}

// relocate points pos at the current song if it is in the cycle, else drops the cycle
func (m *Manager) relocate() {
	if m.order == nil || len(m.order) != len(m.songs) {
		m.order = nil
		return
	}
	if p := lo.IndexOf(m.order, m.index); p >= 0 {
		m.pos = p
		return
	}
	m.order = nil
}

// Add appends songs to the end of the queue
func (m *Manager) Add(songs ...types.Song) {
	if len(songs) == 0 {
		return
	}

	m.mu.Lock()

	m.songs = append(m.songs, songs...)
	if m.index < 0 {
		m.index = 0
	}

	// Add new songs to the unplayed part of the shuffle cycle
	if m.order != nil && len(m.order) == len(m.songs)-len(songs) {
		m.appendToShuffleOrder(len(songs))
	} else {
		m.order = nil
	}

	m.mu.Unlock()
	m.notifyChange()
}

// appendToShuffleOrder adds new song positions at random slots after the current one
func (m *Manager) appendToShuffleOrder(count int) {
	start := len(m.songs) - count
	for i := 0; i < count; i++ {
		insertPos := m.pos + 1 + m.rng.Intn(len(m.order)-m.pos)
		if insertPos > len(m.order) {
			insertPos = len(m.order)
		}
		m.order = append(m.order[:insertPos], append([]int{start + i}, m.order[insertPos:]...)...)
	}
}

// Remove drops every song with the given id. The current song stays
// current unless it was removed, in which case the song that took its
// place (or the new last song) becomes current.
func (m *Manager) Remove(songID string) bool {
	m.mu.Lock()

	var removed []int
	kept := make([]types.Song, 0, len(m.songs))
	newIndex := m.index
	for i, s := range m.songs {
		if s.ID == songID {
			removed = append(removed, i)
			if i < m.index {
				newIndex--
			}
			continue
		}
		kept = append(kept, s)
	}

	if len(removed) == 0 {
		m.mu.Unlock()
		return false
	}

	m.songs = kept
	m.index = clampIndex(newIndex, len(m.songs))

	if m.order != nil {
		m.order = lo.FilterMap(m.order, func(idx int, _ int) (int, bool) {
			if lo.Contains(removed, idx) {
				return 0, false
			}
			shift := lo.CountBy(removed, func(r int) bool { return r < idx })
			return idx - shift, true
		})
		m.relocate()
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Move moves the song at from so that it ends up at to
func (m *Manager) Move(from, to int) error {
	m.mu.Lock()

	n := len(m.songs)
	if from < 0 || from >= n || to < 0 || to >= n {
		m.mu.Unlock()
		return fmt.Errorf("move %d -> %d: index out of range for queue of %d", from, to, n)
	}
	if from == to {
		m.mu.Unlock()
		return nil
	}

	song := m.songs[from]
	m.songs = append(m.songs[:from], m.songs[from+1:]...)
	m.songs = append(m.songs[:to], append([]types.Song{song}, m.songs[to:]...)...)

	if m.index == from {
		m.index = to
	} else if from < m.index && to >= m.index {
		m.index--
	} else if from > m.index && to <= m.index {
		m.index++
	}

	// Keep the cycle pointing at the same songs after the reorder
	if m.order != nil {
		for i, idx := range m.order {
			m.order[i] = movedIndex(idx, from, to)
		}
	}

	m.mu.Unlock()
	m.notifyChange()
	return nil
}

// movedIndex maps a position before a move to its position after it
func movedIndex(idx, from, to int) int {
	switch {
	case idx == from:
		return to
	case from < to && idx > from && idx <= to:
		return idx - 1
	case from > to && idx >= to && idx < from:
		return idx + 1
	default:
		return idx
	}
}

// Clear clears the queue
func (m *Manager) Clear() {
	m.mu.Lock()

	m.songs = make([]types.Song, 0)
	m.order = nil
	m.pos = 0
	m.index = -1

	m.mu.Unlock()
	m.notifyChange()
}

// SetModes records the shuffle and repeat flags persisted with the queue
func (m *Manager) SetModes(shuffle bool, repeat types.RepeatMode) {
	m.mu.Lock()
	if shuffle != m.shuffle {
		m.order = nil
	}
	m.shuffle = shuffle
	m.repeat = repeat
	m.mu.Unlock()
	m.notifyChange()
}

// InitializeDefaultPlaylist seeds an empty queue with hot songs. It returns
// nil when the source has nothing to offer.
func (m *Manager) InitializeDefaultPlaylist(ctx context.Context, source HotSongsSource) (*State, error) {
	if source == nil {
		return nil, nil
	}

	songs, err := source.GetHotSongs(ctx, DefaultPlaylistSize)
	if err != nil {
		return nil, fmt.Errorf("fetch hot songs: %w", err)
	}
	if len(songs) == 0 {
		return nil, nil
	}

	state := m.SetQueue(songs, 0)
	return &state, nil
}
