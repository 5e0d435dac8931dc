package player

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/guanyue91141/Self-Music/internal/library"
	"github.com/guanyue91141/Self-Music/internal/queue"
	"github.com/guanyue91141/Self-Music/internal/types"
)

// Listener is notified after every state change
type Listener interface {
	OnStateChange(prev, next State)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(prev, next State)

// OnStateChange calls f(prev, next)
func (f ListenerFunc) OnStateChange(prev, next State) {
	f(prev, next)
}

// Resolver loads a song with its audio, cache first
type Resolver interface {
	Resolve(ctx context.Context, id string) (*library.Resolved, error)
}

// Config contains configuration for the store
type Config struct {
	Volume   float64              // initial volume (default 0.7)
	HotSongs queue.HotSongsSource // cold-start source, may be nil
}

type change struct {
	prev, next State
}

type listenerEntry struct {
	id int
	l  Listener
}

// Store is the single source of truth for playback. Commands update the
// in-memory state synchronously; listeners are called afterwards, in
// commit order, without any lock held. A listener may issue commands; the
// resulting changes are delivered after the current one.
type Store struct {
	// cmdMu serializes commands that touch both the queue and the state
	cmdMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	listeners  []listenerEntry
	nextID     int
	pending    []change
	delivering bool

	queue    *queue.Manager
	resolver Resolver
	hot      queue.HotSongsSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a store around a queue manager and a song resolver
func NewStore(q *queue.Manager, resolver Resolver, cfg Config) *Store {
	volume := cfg.Volume
	if volume <= 0 || volume > 1 {
		volume = 0.7
	}

	ctx, cancel := context.WithCancel(context.Background())
	qs := q.State()

	return &Store{
		state: State{
			Volume:       volume,
			Queue:        qs.Songs,
			CurrentIndex: qs.CurrentIndex,
			Shuffle:      qs.Shuffle,
			Repeat:       qs.Repeat,
			Mode:         ModeSong,
		},
		queue:    q,
		resolver: resolver,
		hot:      cfg.HotSongs,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns a function that removes it
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, l: l})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// update applies fn to the state atomically and queues the change for delivery
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	fn(&s.state)
	s.pending = append(s.pending, change{prev: prev, next: s.state})
}

// deliver drains queued changes unless another caller is already doing so
func (s *Store) deliver() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		listeners := make([]listenerEntry, len(s.listeners))
		copy(listeners, s.listeners)
		s.mu.Unlock()

		for _, e := range listeners {
			e.l.OnStateChange(c.prev, c.next)
		}

		s.mu.Lock()
	}

	s.delivering = false
	s.mu.Unlock()
}

// selectSong makes song current. Duration survives when the id is unchanged;
// position restarts. Any in-flight resolution becomes stale. Must be called
// from inside update.
func (s *Store) selectSong(st *State, song *types.Song) {
	same := st.CurrentSong != nil && song != nil && st.CurrentSong.ID == song.ID
	st.CurrentSong = song
	st.CurrentTime = 0
	if !same {
		st.Duration = 0
	}
	st.IsLoading = false
	st.Error = ""
	st.PendingSeek = nil
	s.generation++
}

func mirrorQueue(st *State, qs queue.State) {
	st.Queue = qs.Songs
	st.CurrentIndex = qs.CurrentIndex
}

// SetSong loads a single song, cache first, and starts playing it once
// resolved. The state shows Loading until then. If another selection
// happens first, the result is discarded.
func (s *Store) SetSong(song types.Song) {
	defer s.deliver()

	var gen uint64
	s.update(func(st *State) {
		s.generation++
		gen = s.generation
		st.IsLoading = true
		st.Error = ""
	})

	s.wg.Add(1)
	go s.resolve(gen, song)
}

func (s *Store) resolve(gen uint64, song types.Song) {
	defer s.wg.Done()
	defer s.deliver()

	res, err := s.resolver.Resolve(s.ctx, song.ID)

	s.update(func(st *State) {
		if gen != s.generation {
			log.Printf("[PLAYER] Discarding stale resolution of %s", song.ID)
			return
		}

		same := st.CurrentSong != nil && st.CurrentSong.ID == song.ID
		if !same {
			st.CurrentTime = 0
			st.Duration = 0
		}
		st.Mode = ModeSong
		st.CurrentPlaylist = nil
		st.CurrentMood = ""
		st.IsLoading = false
		st.PendingSeek = nil

		if err != nil {
			log.Printf("[PLAYER] Failed to load %s: %v", song.ID, err)
			failed := song
			st.CurrentSong = &failed
			st.IsPlaying = false
			st.Error = types.Message(err)
			return
		}

		loaded := res.Song
		if loaded.Lyrics == "" {
			loaded.Lyrics = song.Lyrics
		}
		st.CurrentSong = &loaded
		st.IsPlaying = true
		st.Error = ""
	})
}

// Wait blocks until in-flight song resolutions have settled
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight resolutions and waits for them
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store) setQueue(songs []types.Song, index int, fn func(st *State)) {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	qs := s.queue.SetQueue(songs, index)
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		s.selectSong(st, qs.Current())
		st.Mode = ModePlaylist
		fn(st)
	})
}

// SetQueue replaces the queue. Playback state is left as is.
func (s *Store) SetQueue(songs []types.Song, index int) {
	s.setQueue(songs, index, func(st *State) {})
}

// SetQueueWithMetadata replaces the queue with a playlist's songs
func (s *Store) SetQueueWithMetadata(playlist types.Playlist, index int) {
	s.setQueue(playlist.Songs, index, func(st *State) {
		p := playlist
		st.CurrentPlaylist = &p
		st.CurrentMood = ""
	})
}

// SetMoodQueue replaces the queue with songs for a mood
func (s *Store) SetMoodQueue(mood string, songs []types.Song, index int) {
	s.setQueue(songs, index, func(st *State) {
		st.Mode = ModeMood
		st.CurrentMood = mood
		st.CurrentPlaylist = nil
	})
}

// ReplaceQueueAndPlay replaces the queue and starts playing the selected song
func (s *Store) ReplaceQueueAndPlay(songs []types.Song, index int) {
	s.setQueue(songs, index, func(st *State) {
		st.IsPlaying = st.CurrentSong != nil
	})
}

// Play starts playback of the current song
func (s *Store) Play() {
	defer s.deliver()
	s.update(func(st *State) {
		if st.CurrentSong != nil {
			st.IsPlaying = true
		}
	})
}

// Pause pauses playback
func (s *Store) Pause() {
	defer s.deliver()
	s.update(func(st *State) {
		st.IsPlaying = false
	})
}

// Toggle flips between play and pause
func (s *Store) Toggle() {
	defer s.deliver()
	s.update(func(st *State) {
		st.IsPlaying = !st.IsPlaying && st.CurrentSong != nil
	})
}

// Next advances the queue. When a non-repeating queue is exhausted,
// playback stops instead.
func (s *Store) Next() {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	st := s.Snapshot()
	song, ok := s.queue.Next(st.Shuffle, st.Repeat)
	if !ok {
		log.Printf("[PLAYER] Queue ended, stopping playback")
		s.update(func(st *State) {
			st.IsPlaying = false
		})
		return
	}

	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		s.selectSong(st, song)
	})
}

// Previous steps back in the queue; nothing happens at the start
func (s *Store) Previous() {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	song, ok := s.queue.Previous()
	if !ok {
		return
	}

	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		s.selectSong(st, song)
	})
}

// CanPlayNext reports whether Next would move to a song
func (s *Store) CanPlayNext() bool {
	st := s.Snapshot()
	return s.queue.CanPlayNext(st.Shuffle, st.Repeat)
}

// CanPlayPrevious reports whether Previous would move to a song
func (s *Store) CanPlayPrevious() bool {
	return s.queue.CanPlayPrevious()
}

// SeekTo requests a jump to t seconds, clamped into [0, duration]. When the
// duration is unknown only the lower bound applies. A newer request
// replaces one that has not been consumed yet.
func (s *Store) SeekTo(t float64) {
	if math.IsNaN(t) {
		return
	}

	defer s.deliver()
	s.update(func(st *State) {
		limit := st.Duration
		if limit <= 0 {
			limit = t
		}
		v := math.Max(0, math.Min(t, limit))
		st.PendingSeek = &v
	})
}

// ConsumeSeek takes the pending seek request, if any. Each request is
// returned at most once.
func (s *Store) ConsumeSeek() (float64, bool) {
	defer s.deliver()

	var (
		v  float64
		ok bool
	)
	s.update(func(st *State) {
		if st.PendingSeek == nil {
			return
		}
		v, ok = *st.PendingSeek, true
		st.PendingSeek = nil
		st.CurrentTime = v
	})
	return v, ok
}

// SetVolume sets the volume, clamped into [0, 1]
func (s *Store) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}

	defer s.deliver()
	s.update(func(st *State) {
		st.Volume = math.Max(0, math.Min(1, v))
	})
}

// SetCurrentTime records the playback position reported by the device
func (s *Store) SetCurrentTime(t float64) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return
	}

	defer s.deliver()
	s.update(func(st *State) {
		t = math.Max(0, t)
		if st.Duration > 0 {
			t = math.Min(t, st.Duration)
		}
		st.CurrentTime = t
	})
}

// SetDuration records the song length once the device knows it
func (s *Store) SetDuration(d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return
	}

	defer s.deliver()
	s.update(func(st *State) {
		st.Duration = d
	})
}

// Fail stops playback and surfaces err as a readable message
func (s *Store) Fail(err error) {
	if err == nil {
		return
	}

	defer s.deliver()
	s.update(func(st *State) {
		st.IsPlaying = false
		st.IsLoading = false
		st.Error = types.Message(err)
	})
}

// ClearError dismisses the current error message
func (s *Store) ClearError() {
	defer s.deliver()
	s.update(func(st *State) {
		st.Error = ""
	})
}

func (s *Store) setModes(fn func(shuffle bool, repeat types.RepeatMode) (bool, types.RepeatMode)) {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	st := s.Snapshot()
	shuffle, repeat := fn(st.Shuffle, st.Repeat)
	s.queue.SetModes(shuffle, repeat)
	s.update(func(st *State) {
		st.Shuffle = shuffle
		st.Repeat = repeat
	})
}

// ToggleRepeat cycles none -> all -> one -> none
func (s *Store) ToggleRepeat() {
	s.setModes(func(shuffle bool, repeat types.RepeatMode) (bool, types.RepeatMode) {
		return shuffle, repeat.Next()
	})
}

// SetRepeat sets the repeat mode
func (s *Store) SetRepeat(mode types.RepeatMode) {
	s.setModes(func(shuffle bool, _ types.RepeatMode) (bool, types.RepeatMode) {
		return shuffle, mode
	})
}

// ToggleShuffle flips shuffle mode
func (s *Store) ToggleShuffle() {
	s.setModes(func(shuffle bool, repeat types.RepeatMode) (bool, types.RepeatMode) {
		return !shuffle, repeat
	})
}

// ShufflePlaylist reorders the queue randomly, keeping the current song
func (s *Store) ShufflePlaylist() {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	qs, ok := s.queue.ShufflePlaylist()
	if !ok {
		return
	}
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		st.Shuffle = true
	})
}

// JumpToSong makes a queued song current. It returns false if the id is not queued.
func (s *Store) JumpToSong(id string) bool {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	song, ok := s.queue.JumpToSong(id)
	if !ok {
		return false
	}

	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		s.selectSong(st, song)
	})
	return true
}

// AddToQueue appends songs to the queue
func (s *Store) AddToQueue(songs ...types.Song) {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.queue.Add(songs...)
	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		if st.CurrentSong == nil {
			s.selectSong(st, qs.Current())
		}
	})
}

// RemoveFromQueue removes a song by id. If it was current, its successor
// becomes current.
func (s *Store) RemoveFromQueue(id string) bool {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.queue.Remove(id) {
		return false
	}

	qs := s.queue.State()
	s.update(func(st *State) {
		wasCurrent := st.CurrentSong != nil && st.CurrentSong.ID == id
		mirrorQueue(st, qs)
		if wasCurrent {
			s.selectSong(st, qs.Current())
			if st.CurrentSong == nil {
				st.IsPlaying = false
			}
		}
	})
	return true
}

// MoveInQueue moves a queued song; the current song stays current
func (s *Store) MoveInQueue(from, to int) error {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.queue.Move(from, to); err != nil {
		return err
	}

	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
	})
	return nil
}

// ClearQueue empties the queue and stops playback
func (s *Store) ClearQueue() {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.queue.Clear()
	qs := s.queue.State()
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		s.selectSong(st, nil)
		st.IsPlaying = false
	})
}

// LoadDefaultSong shows the placeholder song, paused
func (s *Store) LoadDefaultSong() {
	defer s.deliver()
	s.update(func(st *State) {
		s.loadDefault(st)
	})
}

func (s *Store) loadDefault(st *State) {
	song := DefaultSong
	s.selectSong(st, &song)
	st.Duration = DefaultSong.Duration
	st.IsPlaying = false
	st.Mode = ModeSong
	st.CurrentPlaylist = nil
	st.CurrentMood = ""
}

// LoadQueueFromStorage mirrors the persisted queue into the state, if there is one
func (s *Store) LoadQueueFromStorage() bool {
	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	qs, ok := s.queue.CurrentPlaylist()
	if !ok {
		return false
	}
	s.update(func(st *State) {
		mirrorQueue(st, qs)
		st.Shuffle = qs.Shuffle
		st.Repeat = qs.Repeat
		s.selectSong(st, qs.Current())
		st.Mode = ModePlaylist
	})
	return true
}

// InitializeQueue prepares the queue at startup: the persisted queue if
// any, else the server's hot songs, else the placeholder song.
func (s *Store) InitializeQueue(ctx context.Context) {
	if s.LoadQueueFromStorage() {
		return
	}

	defer s.deliver()
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.update(func(st *State) {
		st.IsLoading = true
	})

	qs, err := s.queue.InitializeDefaultPlaylist(ctx, s.hot)
	s.update(func(st *State) {
		st.IsLoading = false
		switch {
		case err != nil:
			log.Printf("[PLAYER] Failed to load default playlist: %v", err)
			s.loadDefault(st)
			st.Error = "Failed to load playlist"
		case qs == nil:
			s.loadDefault(st)
		default:
			mirrorQueue(st, *qs)
			s.selectSong(st, qs.Current())
			st.Mode = ModePlaylist
		}
	})
}
