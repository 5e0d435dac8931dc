// Package sink keeps an audio device in step with the playback store.
//
// The sink subscribes to state changes and turns them into device calls
// (load, play, pause, seek, volume). Device events flow back into the
// store as commands: position and duration updates, end of song, errors.
package sink

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/guanyue91141/Self-Music/internal/media"
	"github.com/guanyue91141/Self-Music/internal/player"
	"github.com/guanyue91141/Self-Music/internal/tasks"
	"github.com/guanyue91141/Self-Music/internal/types"
)

// DefaultAutoplayTimeout bounds how long a play request waits for a source
// to become playable
const DefaultAutoplayTimeout = 10 * time.Second

// Events are raised by a Device. Callbacks must not be invoked while the
// device holds its own locks.
type Events struct {
	OnCanPlay  func()
	OnDuration func(seconds float64)
	OnTime     func(seconds float64)
	OnPlay     func()
	OnEnded    func()
	OnError    func(err error)
}

// Device is an audio output that plays one source at a time
type Device interface {
	SetEvents(ev Events)
	// Load replaces the current source. The device is paused afterwards.
	Load(src types.Source) error
	// Play starts or resumes playback; after the end it restarts from 0.
	Play() error
	Pause() error
	SetVolume(v float64)
	Seek(seconds float64) error
	Ready() bool
	// Duration is the length of the loaded source in seconds, 0 if unknown
	Duration() float64
	Close() error
}

// Store is the part of the playback store the sink drives
type Store interface {
	Snapshot() player.State
	Subscribe(l player.Listener) func()
	Play()
	Pause()
	Toggle()
	Next()
	Previous()
	SeekTo(t float64)
	ConsumeSeek() (float64, bool)
	SetCurrentTime(t float64)
	SetDuration(d float64)
	SetVolume(v float64)
	Fail(err error)
	ToggleShuffle()
	SetRepeat(mode types.RepeatMode)
}

// SourceResolver picks the playable source for a song
type SourceResolver interface {
	Source(ctx context.Context, song types.Song) (types.Source, error)
}

// PlayRecorder reports that a song was played
type PlayRecorder interface {
	RecordPlay(ctx context.Context, id string) error
}

// Submitter accepts background tasks without blocking
type Submitter interface {
	Submit(name string, fn tasks.Func) (string, bool)
}

// Config contains configuration for the sink
type Config struct {
	AutoplayTimeout time.Duration // default 10s

	Session  media.Session // may be nil
	Recorder PlayRecorder  // may be nil
	Tasks    Submitter     // runs Recorder calls

	// ArtURL turns a song's cover reference into an absolute URL
	ArtURL func(coverURL string) string
}

// Sink mirrors store state onto a device and a media session
type Sink struct {
	store   Store
	device  Device
	sources SourceResolver
	cfg     Config

	// serializes device loads
	loadMu sync.Mutex

	mu          sync.Mutex
	gen         uint64 // bumped on every song change
	activeGen   uint64 // generation the device's source belongs to
	songID      string
	loadedKey   string
	ready       bool
	durationSet bool
	seekOnReady *float64
	deferred    *time.Timer
	deferredID  uint64
	recorded    map[string]bool
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sink. Call Start to begin following the store.
func New(store Store, device Device, sources SourceResolver, cfg Config) *Sink {
	if cfg.AutoplayTimeout <= 0 {
		cfg.AutoplayTimeout = DefaultAutoplayTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		store:    store,
		device:   device,
		sources:  sources,
		cfg:      cfg,
		recorded: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}

	device.SetEvents(Events{
		OnCanPlay:  s.onCanPlay,
		OnDuration: s.onDuration,
		OnTime:     s.onTime,
		OnPlay:     s.onPlay,
		OnEnded:    s.onEnded,
		OnError:    s.onError,
	})
	if cfg.Session != nil {
		cfg.Session.SetCommandHandler(s)
	}

	return s
}

// Start subscribes to the store and applies the current state
func (s *Sink) Start() {
	unsubscribe := s.store.Subscribe(s)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	st := s.store.Snapshot()
	s.device.SetVolume(st.Volume)
	if sess := s.cfg.Session; sess != nil {
		sess.UpdateShuffle(st.Shuffle)
		sess.UpdateLoopStatus(media.LoopStatusFor(st.Repeat))
		sess.UpdateVolume(st.Volume)
	}
	s.OnStateChange(player.State{Volume: st.Volume, Shuffle: st.Shuffle, Repeat: st.Repeat}, st)
}

// Close stops following the store and releases the device
func (s *Sink) Close() error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.stopDeferredLocked()
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	return s.device.Close()
}

// OnStateChange implements player.Listener
func (s *Sink) OnStateChange(prev, next player.State) {
	songChanged := player.SongChanged(prev, next)

	switch {
	case songChanged:
		s.songChanged(next)
	case prev.IsPlaying != next.IsPlaying:
		s.applyPlaying(next.IsPlaying)
	}

	if prev.Volume != next.Volume {
		s.device.SetVolume(next.Volume)
	}

	if next.PendingSeek != nil {
		if t, ok := s.store.ConsumeSeek(); ok {
			s.seek(t)
		}
	}

	s.mirror(prev, next, songChanged)
}

func (s *Sink) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Sink) songChanged(next player.State) {
	song := next.CurrentSong

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.stopDeferredLocked()
	s.recorded = make(map[string]bool)
	s.ready = false
	s.durationSet = false
	s.seekOnReady = nil
	s.songID = ""
	if song != nil {
		s.songID = song.ID
	}
	if song != nil && next.IsPlaying {
		s.armDeferredLocked()
	}
	s.mu.Unlock()

	if song == nil || (song.ID == player.DefaultSong.ID && song.AudioURL == "") {
		if err := s.device.Pause(); err != nil {
			log.Printf("[SINK] Failed to pause device: %v", err)
		}
		return
	}

	s.wg.Add(1)
	go s.load(gen, *song, next.CurrentTime)
}

// load resolves the source for song and hands it to the device. A source
// that is already loaded is kept: it is rewound when the store restarted the
// song (at == 0) and left where it is when the position was preserved.
func (s *Sink) load(gen uint64, song types.Song, at float64) {
	defer s.wg.Done()

	src, err := s.sources.Source(s.ctx, song)
	if !s.current(gen) {
		return
	}
	if err != nil {
		log.Printf("[SINK] No playable source for %s: %v", song.ID, err)
		s.store.Fail(err)
		return
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	same := s.loadedKey != "" && s.loadedKey == src.Key
	s.activeGen = gen
	if !same {
		s.loadedKey = ""
	}
	s.mu.Unlock()

	if same {
		if at <= 0 {
			if err := s.device.Seek(0); err != nil {
				log.Printf("[SINK] Failed to rewind %s: %v", song.ID, err)
			}
		}
		if d := s.device.Duration(); d > 0 {
			s.onDuration(d)
		}
		s.onCanPlay()
		return
	}

	log.Printf("[SINK] Loading %s", src.Key)
	if err := s.device.Load(src); err != nil {
		if !s.current(gen) {
			return
		}
		log.Printf("[SINK] Failed to load %s: %v", song.ID, err)
		s.store.Fail(err)
		return
	}

	s.mu.Lock()
	if s.gen == gen {
		s.loadedKey = src.Key
	}
	s.mu.Unlock()

	if s.device.Ready() {
		s.onCanPlay()
	}
}

func (s *Sink) applyPlaying(playing bool) {
	if !playing {
		s.mu.Lock()
		s.stopDeferredLocked()
		s.mu.Unlock()

		if err := s.device.Pause(); err != nil {
			log.Printf("[SINK] Failed to pause device: %v", err)
		}
		return
	}

	s.mu.Lock()
	ready := s.ready
	if !ready && s.songID != "" {
		s.armDeferredLocked()
	}
	s.mu.Unlock()

	if ready {
		s.play()
	}
}

func (s *Sink) play() {
	if err := s.device.Play(); err != nil {
		log.Printf("[SINK] Failed to start playback: %v", err)
		s.store.Pause()
	}
}

func (s *Sink) seek(t float64) {
	s.mu.Lock()
	if !s.ready {
		s.seekOnReady = &t
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.device.Seek(t); err != nil {
		log.Printf("[SINK] Failed to seek to %.2f: %v", t, err)
	}
}

// armDeferredLocked records that playback should start once the source can
// play. The request expires silently after AutoplayTimeout.
func (s *Sink) armDeferredLocked() {
	s.stopDeferredLocked()

	s.deferredID++
	id := s.deferredID
	s.deferred = time.AfterFunc(s.cfg.AutoplayTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.deferredID == id && s.deferred != nil {
			s.deferred = nil
			log.Printf("[SINK] Source not playable after %v, giving up autoplay", s.cfg.AutoplayTimeout)
		}
	})
}

func (s *Sink) stopDeferredLocked() {
	if s.deferred != nil {
		s.deferred.Stop()
		s.deferred = nil
	}
}

// stale reports whether device events belong to a source that is no
// longer current. Must hold mu.
func (s *Sink) staleLocked() bool {
	return s.activeGen != s.gen
}

func (s *Sink) onCanPlay() {
	s.mu.Lock()
	if s.staleLocked() {
		s.mu.Unlock()
		return
	}
	s.ready = true
	wantPlay := s.deferred != nil
	s.stopDeferredLocked()
	seek := s.seekOnReady
	s.seekOnReady = nil
	s.mu.Unlock()

	if seek != nil {
		if err := s.device.Seek(*seek); err != nil {
			log.Printf("[SINK] Failed to seek to %.2f: %v", *seek, err)
		}
	}
	if wantPlay && s.store.Snapshot().IsPlaying {
		s.play()
	}
}

func (s *Sink) onDuration(d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return
	}

	s.mu.Lock()
	if s.staleLocked() || s.durationSet {
		s.mu.Unlock()
		return
	}
	s.durationSet = true
	s.mu.Unlock()

	s.store.SetDuration(d)
}

func (s *Sink) onTime(t float64) {
	s.mu.Lock()
	stale := s.staleLocked()
	s.mu.Unlock()

	if !stale {
		s.store.SetCurrentTime(t)
	}
}

func (s *Sink) onPlay() {
	s.mu.Lock()
	id := s.songID
	if s.staleLocked() || id == "" || id == player.DefaultSong.ID || s.recorded[id] {
		s.mu.Unlock()
		return
	}
	s.recorded[id] = true
	s.mu.Unlock()

	if s.cfg.Recorder == nil || s.cfg.Tasks == nil {
		return
	}

	recorder := s.cfg.Recorder
	_, ok := s.cfg.Tasks.Submit("record-play:"+id, func(ctx context.Context) error {
		return recorder.RecordPlay(ctx, id)
	})
	if !ok {
		log.Printf("[SINK] Play count for %s dropped", id)
	}
}

func (s *Sink) onEnded() {
	s.mu.Lock()
	stale := s.staleLocked()
	s.mu.Unlock()

	if !stale {
		s.store.Next()
	}
}

func (s *Sink) onError(err error) {
	s.mu.Lock()
	stale := s.staleLocked()
	s.mu.Unlock()

	if stale {
		return
	}
	log.Printf("[SINK] Device error: %v", err)
	s.store.Fail(err)
}

// mirror publishes the state onto the OS media session
func (s *Sink) mirror(prev, next player.State, songChanged bool) {
	sess := s.cfg.Session
	if sess == nil {
		return
	}

	if songChanged || prev.Duration != next.Duration {
		artURL := ""
		if next.CurrentSong != nil && next.CurrentSong.CoverURL != "" {
			artURL = next.CurrentSong.CoverURL
			if s.cfg.ArtURL != nil {
				artURL = s.cfg.ArtURL(artURL)
			}
		}
		if err := sess.UpdateMetadata(media.MetadataFor(next.CurrentSong, next.Duration, artURL)); err != nil {
			log.Printf("[MEDIA] Failed to update metadata: %v", err)
		}
	}

	if songChanged || prev.IsPlaying != next.IsPlaying {
		state := media.StatePaused
		switch {
		case next.CurrentSong == nil:
			state = media.StateStopped
		case next.IsPlaying:
			state = media.StatePlaying
		}
		position := time.Duration(next.CurrentTime * float64(time.Second))
		if err := sess.UpdatePlaybackState(state, position); err != nil {
			log.Printf("[MEDIA] Failed to update playback state: %v", err)
		}
	}

	if prev.Shuffle != next.Shuffle {
		sess.UpdateShuffle(next.Shuffle)
	}
	if prev.Repeat != next.Repeat {
		sess.UpdateLoopStatus(media.LoopStatusFor(next.Repeat))
	}
	if prev.Volume != next.Volume {
		sess.UpdateVolume(next.Volume)
	}
}

// OnCommand implements media.CommandHandler, routing OS media keys to the store
func (s *Sink) OnCommand(cmd media.Command, data interface{}) error {
	log.Printf("[MEDIA] Command: %s", cmd)

	switch cmd {
	case media.CmdPlay:
		s.store.Play()
	case media.CmdPause:
		s.store.Pause()
	case media.CmdPlayPause:
		s.store.Toggle()
	case media.CmdStop:
		s.store.Pause()
		s.store.SeekTo(0)
	case media.CmdNext:
		s.store.Next()
	case media.CmdPrevious:
		s.store.Previous()
	case media.CmdSeek:
		if pos, ok := data.(time.Duration); ok {
			s.store.SeekTo(pos.Seconds())
		}
	case media.CmdSetShuffle:
		if enabled, ok := data.(bool); ok && enabled != s.store.Snapshot().Shuffle {
			s.store.ToggleShuffle()
		}
	case media.CmdSetLoopStatus:
		if status, ok := data.(media.LoopStatus); ok {
			s.store.SetRepeat(status.RepeatMode())
		}
	case media.CmdSetVolume:
		if v, ok := data.(float64); ok {
			s.store.SetVolume(v)
		}
	}
	return nil
}
