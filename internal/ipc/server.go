package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/lyrics"
	"github.com/guanyue91141/Self-Music/internal/player"
	"github.com/guanyue91141/Self-Music/internal/tasks"
	"github.com/guanyue91141/Self-Music/internal/types"
)

const (
	defaultSpectrumInterval = 50 * time.Millisecond
	writeTimeout            = 2 * time.Second
	defaultMoodLimit        = 50

	// pushes queued per client before its subscription is dropped
	pushBuffer = 32
)

// LyricsSource returns the raw LRC text of a song
type LyricsSource interface {
	Lyrics(ctx context.Context, id string) (string, error)
}

// CacheAdmin exposes cache maintenance
type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Clear(ctx context.Context) error
}

// Catalog loads playlists and mood selections from the server
type Catalog interface {
	GetPlaylist(ctx context.Context, id string) (*types.Playlist, error)
	GetMoodSongs(ctx context.Context, mood string, limit int) ([]types.Song, error)
}

// Analyzer reports frequency bands of the audio being played
type Analyzer interface {
	Bands() []uint8
}

// TaskStats reports background task counters
type TaskStats interface {
	Stats() tasks.Stats
}

// Options are the optional collaborators of the server. Commands whose
// collaborator is missing fail with "not available".
type Options struct {
	Lyrics           LyricsSource
	Cache            CacheAdmin
	Catalog          Catalog
	Spectrum         Analyzer
	Tasks            TaskStats
	SpectrumInterval time.Duration
}

// outgoing is a push message waiting for the client's writer
type outgoing struct {
	topic string
	data  []byte
}

// client is one connected UI
type client struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex
	pushes  chan outgoing
	done    chan struct{}

	// guarded by Server.mu
	wantState    bool
	wantSpectrum bool
}

func newClient(conn net.Conn) *client {
	return &client{
		id:     uuid.NewString(),
		conn:   conn,
		pushes: make(chan outgoing, pushBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(data)
	return err
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	store      *player.Store
	opts       Options
	listener   net.Listener

	mu      sync.Mutex
	clients map[net.Conn]*client

	// parsed lyrics of the current song, for status
	lyricsMu    sync.Mutex
	lyricsID    string
	lyricsLines []lyrics.Line
}

// NewServer creates a new IPC server
func NewServer(socketPath string, store *player.Store, opts Options) *Server {
	if opts.SpectrumInterval <= 0 {
		opts.SpectrumInterval = defaultSpectrumInterval
	}
	return &Server{
		socketPath: socketPath,
		store:      store,
		opts:       opts,
		clients:    make(map[net.Conn]*client),
	}
}

// Start starts the IPC server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	log.Printf("[IPC] Creating socket at %s", s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	unsubscribe := s.store.Subscribe(player.ListenerFunc(s.onStateChange))
	defer unsubscribe()

	log.Printf("[IPC] Server listening, waiting for connections...")

	go s.acceptLoop(ctx)
	if s.opts.Spectrum != nil {
		go s.spectrumLoop(ctx)
	}

	<-ctx.Done()

	log.Printf("[IPC] Shutting down server...")

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	log.Printf("[IPC] Closed %d client connections", clientCount)

	listener.Close()
	os.RemoveAll(s.socketPath)

	log.Printf("[IPC] Server stopped")

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[IPC] Accept error: %v", err)
			continue
		}

		go s.serveConn(ctx, conn)
	}
}

// serveConn registers a connection and handles its requests until it closes
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	c := newClient(conn)

	s.mu.Lock()
	s.clients[conn] = c
	clientCount := len(s.clients)
	s.mu.Unlock()

	log.Printf("[IPC] New client %s (active: %d)", c.id, clientCount)
	go s.writePushes(c)

	defer func() {
		close(c.done)
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		log.Printf("[IPC] Client disconnected: %s (active: %d)", c.id, clientCount)
	}()

	reader := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read line (newline-delimited JSON)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("[IPC] Read error from %s: %v", c.id, err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			log.Printf("[IPC] Invalid request format from %s: %v", c.id, err)
			if err := s.sendResponse(c, NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		start := time.Now()
		logRequest(c, req)
		resp := s.handleRequest(ctx, c, req)
		logResponse(req, resp, time.Since(start))

		if err := s.sendResponse(c, resp); err != nil {
			log.Printf("[IPC] Send error to %s: %v", c.id, err)
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdPlay:
		s.store.Play()
		return s.handleStatus()
	case CmdPause:
		s.store.Pause()
		return s.handleStatus()
	case CmdToggle:
		s.store.Toggle()
		return s.handleStatus()
	case CmdNext:
		s.store.Next()
		return s.handleStatus()
	case CmdPrev:
		s.store.Previous()
		return s.handleStatus()
	case CmdSeek:
		return s.handleSeek(req)
	case CmdVolume:
		return s.handleVolume(req)
	case CmdSetSong:
		return s.handleSetSong(req)
	case CmdSetQueue, CmdReplaceQueue:
		return s.handleSetQueue(req)
	case CmdLoadPlaylist:
		return s.handleLoadPlaylist(ctx, req)
	case CmdLoadMood:
		return s.handleLoadMood(ctx, req)
	case CmdGetQueue:
		return s.handleGetQueue()
	case CmdSetRepeat:
		return s.handleSetRepeat(req)
	case CmdToggleRepeat:
		s.store.ToggleRepeat()
		return s.handleStatus()
	case CmdToggleShuffle:
		s.store.ToggleShuffle()
		return s.handleStatus()
	case CmdShuffleQueue:
		s.store.ShufflePlaylist()
		return s.handleGetQueue()
	case CmdQueueJump:
		return s.handleQueueJump(req)
	case CmdQueueAdd:
		return s.handleQueueAdd(req)
	case CmdQueueRemove:
		return s.handleQueueRemove(req)
	case CmdQueueMove:
		return s.handleQueueMove(req)
	case CmdQueueClear:
		s.store.ClearQueue()
		return s.handleGetQueue()
	case CmdLyrics:
		return s.handleLyrics(ctx, req)
	case CmdCacheStats:
		return s.handleCacheStats(ctx)
	case CmdCacheClear:
		return s.handleCacheClear(ctx)
	case CmdSpectrum:
		return s.handleSpectrum()
	case CmdSubscribe:
		return s.handleSubscribe(c, req, true)
	case CmdUnsubscribe:
		return s.handleSubscribe(c, req, false)
	default:
		return NewErrorResponse("unknown command")
	}
}

func success(data interface{}) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		log.Printf("[IPC] Failed to encode response: %v", err)
		return NewErrorResponse("internal error")
	}
	return resp
}

// decode unmarshals request data; a missing payload is an error
func decode(req *Request, v interface{}) error {
	if len(req.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(req.Data, v)
}

func (s *Server) handleStatus() *Response {
	return success(s.status(s.store.Snapshot()))
}

// status builds the status payload for a snapshot
func (s *Server) status(st player.State) StatusResponse {
	resp := StatusResponse{
		State:       st.Status().String(),
		Title:       player.NowPlayingTitle(st),
		Song:        st.CurrentSong,
		Position:    st.CurrentTime,
		Duration:    st.Duration,
		Volume:      st.Volume,
		Error:       st.Error,
		QueueIndex:  st.CurrentIndex,
		QueueSize:   len(st.Queue),
		RepeatMode:  st.Repeat.String(),
		Shuffle:     st.Shuffle,
		CanPlayNext: s.store.CanPlayNext(),
		CanPlayPrev: s.store.CanPlayPrevious(),
		Mode:        string(st.Mode),
		Playlist:    st.CurrentPlaylist,
		Mood:        st.CurrentMood,
	}
	if st.CurrentSong != nil {
		resp.Lyric = s.currentLyric(st.CurrentSong, st.CurrentTime)
	}
	return resp
}

// currentLyric finds the active line of the song's embedded lyrics
func (s *Server) currentLyric(song *types.Song, t float64) *LyricStatus {
	s.lyricsMu.Lock()
	if s.lyricsID != song.ID {
		s.lyricsID = song.ID
		s.lyricsLines = lyrics.ParseLines(song.Lyrics)
	}
	lines := s.lyricsLines
	s.lyricsMu.Unlock()

	i := lyrics.CurrentIndex(lines, t)
	if i < 0 {
		return nil
	}
	ls := &LyricStatus{Index: i, Time: lines[i].Time, Text: lines[i].Text}
	if next, ok := lyrics.NextTime(lines, i); ok {
		ls.NextTime = &next
	}
	return ls
}

func (s *Server) handleSeek(req *Request) *Response {
	var seekReq SeekRequest
	if err := decode(req, &seekReq); err != nil {
		return NewErrorResponse("invalid seek request")
	}

	s.store.SeekTo(seekReq.Position)
	return s.handleStatus()
}

func (s *Server) handleVolume(req *Request) *Response {
	var volReq VolumeRequest
	if err := decode(req, &volReq); err != nil {
		return NewErrorResponse("invalid volume request")
	}

	s.store.SetVolume(volReq.Level)
	return s.handleStatus()
}

func (s *Server) handleSetSong(req *Request) *Response {
	var songReq SetSongRequest
	if err := decode(req, &songReq); err != nil {
		return NewErrorResponse("invalid setSong request")
	}

	song := types.Song{ID: songReq.ID}
	if songReq.Song != nil {
		song = *songReq.Song
	}
	if song.ID == "" {
		return NewErrorResponse("id is required")
	}

	log.Printf("[PLAYER] Set song: %s", song.ID)
	s.store.SetSong(song)
	return s.handleStatus()
}

func (s *Server) handleSetQueue(req *Request) *Response {
	var queueReq QueueRequest
	if err := decode(req, &queueReq); err != nil {
		return NewErrorResponse(fmt.Sprintf("invalid %s request", req.Cmd))
	}

	songs := lo.Filter(queueReq.Songs, func(song types.Song, _ int) bool {
		return song.ID != ""
	})

	log.Printf("[QUEUE] %s with %d songs at index %d", req.Cmd, len(songs), queueReq.Index)

	if req.Cmd == CmdReplaceQueue {
		s.store.ReplaceQueueAndPlay(songs, queueReq.Index)
	} else {
		s.store.SetQueue(songs, queueReq.Index)
	}
	return s.handleStatus()
}

func (s *Server) handleLoadPlaylist(ctx context.Context, req *Request) *Response {
	if s.opts.Catalog == nil {
		return NewErrorResponse("catalog not available")
	}

	var plReq LoadPlaylistRequest
	if err := decode(req, &plReq); err != nil || plReq.ID == "" {
		return NewErrorResponse("invalid loadPlaylist request")
	}

	playlist, err := s.opts.Catalog.GetPlaylist(ctx, plReq.ID)
	if err != nil {
		log.Printf("[CATALOG] Failed to load playlist %s: %v", plReq.ID, err)
		return NewErrorResponse(types.Message(err))
	}

	log.Printf("[QUEUE] Loaded playlist %q (%d songs)", playlist.Name, len(playlist.Songs))
	s.store.SetQueueWithMetadata(*playlist, plReq.Index)
	if plReq.Play {
		s.store.Play()
	}
	return s.handleStatus()
}

func (s *Server) handleLoadMood(ctx context.Context, req *Request) *Response {
	if s.opts.Catalog == nil {
		return NewErrorResponse("catalog not available")
	}

	var moodReq LoadMoodRequest
	if err := decode(req, &moodReq); err != nil || moodReq.Mood == "" {
		return NewErrorResponse("invalid loadMood request")
	}
	limit := moodReq.Limit
	if limit <= 0 {
		limit = defaultMoodLimit
	}

	songs, err := s.opts.Catalog.GetMoodSongs(ctx, moodReq.Mood, limit)
	if err != nil {
		log.Printf("[CATALOG] Failed to load mood %s: %v", moodReq.Mood, err)
		return NewErrorResponse(types.Message(err))
	}
	if len(songs) == 0 {
		return NewErrorResponse("no songs for mood " + moodReq.Mood)
	}

	log.Printf("[QUEUE] Loaded mood %q (%d songs)", moodReq.Mood, len(songs))
	s.store.SetMoodQueue(moodReq.Mood, songs, moodReq.Index)
	if moodReq.Play {
		s.store.Play()
	}
	return s.handleStatus()
}

func (s *Server) handleGetQueue() *Response {
	st := s.store.Snapshot()
	songs := st.Queue
	if songs == nil {
		songs = []types.Song{}
	}
	return success(GetQueueResponse{
		Songs:      songs,
		Index:      st.CurrentIndex,
		RepeatMode: st.Repeat.String(),
		Shuffle:    st.Shuffle,
	})
}

func (s *Server) handleSetRepeat(req *Request) *Response {
	var repeatReq SetRepeatRequest
	if err := decode(req, &repeatReq); err != nil {
		return NewErrorResponse("invalid setRepeat request")
	}

	mode := types.ParseRepeatMode(repeatReq.Mode)
	log.Printf("[QUEUE] Set repeat mode: %s", mode)
	s.store.SetRepeat(mode)
	return s.handleStatus()
}

func (s *Server) handleQueueJump(req *Request) *Response {
	var jumpReq SongIDRequest
	if err := decode(req, &jumpReq); err != nil {
		return NewErrorResponse("invalid queueJump request")
	}

	if !s.store.JumpToSong(jumpReq.ID) {
		return NewErrorResponse("song not in queue")
	}
	return s.handleStatus()
}

func (s *Server) handleQueueAdd(req *Request) *Response {
	var addReq QueueAddRequest
	if err := decode(req, &addReq); err != nil {
		return NewErrorResponse("invalid queueAdd request")
	}

	songs := lo.Filter(addReq.Songs, func(song types.Song, _ int) bool {
		return song.ID != ""
	})
	if len(songs) == 0 {
		return NewErrorResponse("no songs to add")
	}

	log.Printf("[QUEUE] Adding %d songs", len(songs))
	s.store.AddToQueue(songs...)
	return s.handleGetQueue()
}

func (s *Server) handleQueueRemove(req *Request) *Response {
	var removeReq SongIDRequest
	if err := decode(req, &removeReq); err != nil {
		return NewErrorResponse("invalid queueRemove request")
	}

	log.Printf("[QUEUE] Remove song: %s", removeReq.ID)

	if !s.store.RemoveFromQueue(removeReq.ID) {
		return NewErrorResponse("song not in queue")
	}
	return s.handleGetQueue()
}

func (s *Server) handleQueueMove(req *Request) *Response {
	var moveReq QueueMoveRequest
	if err := decode(req, &moveReq); err != nil {
		return NewErrorResponse("invalid queueMove request")
	}

	log.Printf("[QUEUE] Move item from %d to %d", moveReq.FromIndex, moveReq.ToIndex)

	if err := s.store.MoveInQueue(moveReq.FromIndex, moveReq.ToIndex); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleGetQueue()
}

func (s *Server) handleLyrics(ctx context.Context, req *Request) *Response {
	var lyricsReq SongIDRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &lyricsReq); err != nil {
			return NewErrorResponse("invalid lyrics request")
		}
	}

	// Default to the current song, whose lyrics may already be loaded
	id := lyricsReq.ID
	var text string
	if id == "" {
		st := s.store.Snapshot()
		if st.CurrentSong == nil {
			return NewErrorResponse("nothing playing")
		}
		id = st.CurrentSong.ID
		text = st.CurrentSong.Lyrics
	}

	if text == "" {
		if s.opts.Lyrics == nil {
			return NewErrorResponse("lyrics not available")
		}
		var err error
		text, err = s.opts.Lyrics.Lyrics(ctx, id)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return NewErrorResponse(types.Message(err))
		}
	}

	return success(LyricsResponse{
		SongID: id,
		Lines:  lyrics.Parse(text),
		Dual:   lyrics.ParseDual(text),
	})
}

func (s *Server) handleCacheStats(ctx context.Context) *Response {
	if s.opts.Cache == nil {
		return NewErrorResponse("cache not available")
	}

	stats, err := s.opts.Cache.Stats(ctx)
	if err != nil {
		return NewErrorResponse(types.Message(err))
	}

	resp := CacheStatsResponse{Stats: stats}
	if s.opts.Tasks != nil {
		ts := s.opts.Tasks.Stats()
		resp.Tasks = &ts
	}
	return success(resp)
}

func (s *Server) handleCacheClear(ctx context.Context) *Response {
	if s.opts.Cache == nil {
		return NewErrorResponse("cache not available")
	}

	log.Printf("[CACHE] Clearing cache on client request")
	if err := s.opts.Cache.Clear(ctx); err != nil {
		return NewErrorResponse(types.Message(err))
	}
	return s.handleCacheStats(ctx)
}

func (s *Server) handleSpectrum() *Response {
	if s.opts.Spectrum == nil {
		return NewErrorResponse("spectrum not available")
	}
	return success(s.spectrum())
}

func (s *Server) spectrum() SpectrumResponse {
	bands := lo.Map(s.opts.Spectrum.Bands(), func(b uint8, _ int) int {
		return int(b)
	})
	return SpectrumResponse{
		Bands:     bands,
		Position:  s.store.Snapshot().CurrentTime,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *Server) handleSubscribe(c *client, req *Request, on bool) *Response {
	var subReq SubscribeRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &subReq); err != nil {
			return NewErrorResponse("invalid subscribe request")
		}
	}
	topics := subReq.Topics
	if len(topics) == 0 {
		topics = []string{PushState}
	}

	s.mu.Lock()
	for _, topic := range topics {
		switch topic {
		case PushState:
			c.wantState = on
		case PushSpectrum:
			c.wantSpectrum = on
		default:
			s.mu.Unlock()
			return NewErrorResponse("unknown topic " + topic)
		}
	}
	resp := map[string]bool{PushState: c.wantState, PushSpectrum: c.wantSpectrum}
	s.mu.Unlock()

	log.Printf("[IPC] Client %s subscriptions: %v", c.id, resp)
	return success(resp)
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.write(append(data, '\n'))
}

// onStateChange pushes every committed state to state subscribers
func (s *Server) onStateChange(_, next player.State) {
	wants := func(c *client) bool { return c.wantState }
	if len(s.subscribers(wants)) == 0 {
		return
	}
	s.push(PushState, s.status(next), wants)
}

func (s *Server) spectrumLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SpectrumInterval)
	defer ticker.Stop()

	wants := func(c *client) bool { return c.wantSpectrum }
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.store.Snapshot().IsPlaying || len(s.subscribers(wants)) == 0 {
			continue
		}
		s.push(PushSpectrum, s.spectrum(), wants)
	}
}

func (s *Server) subscribers(want func(*client) bool) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []*client
	for _, c := range s.clients {
		if want(c) {
			subs = append(subs, c)
		}
	}
	return subs
}

// push queues a message for matching clients without waiting on them. A
// client whose queue is full loses that subscription.
func (s *Server) push(msgType string, data interface{}, want func(*client) bool) {
	subs := s.subscribers(want)
	if len(subs) == 0 {
		return
	}

	msg, err := NewPushMessage(msgType, data)
	if err != nil {
		log.Printf("[IPC] Failed to encode %s push: %v", msgType, err)
		return
	}
	msg = append(msg, '\n')

	for _, c := range subs {
		select {
		case c.pushes <- outgoing{topic: msgType, data: msg}:
		default:
			log.Printf("[IPC] Dropping %s subscription of %s: client cannot keep up", msgType, c.id)
			s.dropSubscription(c, msgType)
		}
	}
}

// writePushes delivers queued pushes to one client until it disconnects
func (s *Server) writePushes(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.pushes:
			if err := c.write(msg.data); err != nil {
				log.Printf("[IPC] Dropping %s subscription of %s: %v", msg.topic, c.id, err)
				s.dropSubscription(c, msg.topic)
			}
		}
	}
}

func (s *Server) dropSubscription(c *client, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch topic {
	case PushState:
		c.wantState = false
	case PushSpectrum:
		c.wantSpectrum = false
	}
}
