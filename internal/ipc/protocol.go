// Package ipc handles inter-process communication between the daemon and clients.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/lyrics"
	"github.com/guanyue91141/Self-Music/internal/tasks"
	"github.com/guanyue91141/Self-Music/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus CommandType = "status"
	CmdPlay   CommandType = "play"
	CmdPause  CommandType = "pause"
	CmdToggle CommandType = "toggle"
	CmdNext   CommandType = "next"
	CmdPrev   CommandType = "prev"
	CmdSeek   CommandType = "seek"
	CmdVolume CommandType = "volume"

	// Selection
	CmdSetSong      CommandType = "setSong"
	CmdSetQueue     CommandType = "setQueue"
	CmdReplaceQueue CommandType = "replaceQueue"
	CmdLoadPlaylist CommandType = "loadPlaylist"
	CmdLoadMood     CommandType = "loadMood"

	// Queue management commands
	CmdGetQueue      CommandType = "getQueue"
	CmdSetRepeat     CommandType = "setRepeat"
	CmdToggleRepeat  CommandType = "toggleRepeat"
	CmdToggleShuffle CommandType = "toggleShuffle"
	CmdShuffleQueue  CommandType = "shuffleQueue"
	CmdQueueJump     CommandType = "queueJump"
	CmdQueueAdd      CommandType = "queueAdd"
	CmdQueueRemove   CommandType = "queueRemove"
	CmdQueueMove     CommandType = "queueMove"
	CmdQueueClear    CommandType = "queueClear"

	CmdLyrics     CommandType = "lyrics"
	CmdCacheStats CommandType = "cacheStats"
	CmdCacheClear CommandType = "cacheClear"

	// Audio visualization
	CmdSpectrum CommandType = "spectrum"

	// Push subscriptions
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"
)

// Push message types
const (
	PushState    = "state"
	PushSpectrum = "spectrum"
)

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SetSongRequest is the data for a setSong command. Song may carry full
// metadata; otherwise only ID is needed.
type SetSongRequest struct {
	ID   string      `json:"id"`
	Song *types.Song `json:"song,omitempty"`
}

// QueueRequest is the data for setQueue and replaceQueue
type QueueRequest struct {
	Songs []types.Song `json:"songs"`
	Index int          `json:"index"`
}

// LoadPlaylistRequest is the data for a loadPlaylist command
type LoadPlaylistRequest struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Play  bool   `json:"play"`
}

// LoadMoodRequest is the data for a loadMood command
type LoadMoodRequest struct {
	Mood  string `json:"mood"`
	Limit int    `json:"limit,omitempty"`
	Index int    `json:"index"`
	Play  bool   `json:"play"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position float64 `json:"position"` // seconds
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// SetRepeatRequest is the data for a setRepeat command
type SetRepeatRequest struct {
	Mode string `json:"mode"` // "none", "all", "one"
}

// SongIDRequest is the data for queueJump, queueRemove and lyrics
type SongIDRequest struct {
	ID string `json:"id"`
}

// QueueAddRequest is the data for a queueAdd command
type QueueAddRequest struct {
	Songs []types.Song `json:"songs"`
}

// QueueMoveRequest is the data for a queueMove command
type QueueMoveRequest struct {
	FromIndex int `json:"fromIndex"`
	ToIndex   int `json:"toIndex"`
}

// SubscribeRequest selects push topics; empty means state only
type SubscribeRequest struct {
	Topics []string `json:"topics,omitempty"`
}

// LyricStatus is the active lyric line at the current position
type LyricStatus struct {
	Index    int      `json:"index"`
	Time     float64  `json:"time"`
	Text     string   `json:"text"`
	NextTime *float64 `json:"nextTime,omitempty"`
}

// StatusResponse is the response to a status command and the payload of
// state push messages
type StatusResponse struct {
	State       string          `json:"state"` // empty, loading, paused, playing, error
	Title       string          `json:"title"`
	Song        *types.Song     `json:"song,omitempty"`
	Position    float64         `json:"position"` // seconds
	Duration    float64         `json:"duration"`
	Volume      float64         `json:"volume"`
	Error       string          `json:"error,omitempty"`
	QueueIndex  int             `json:"queueIndex"`
	QueueSize   int             `json:"queueSize"`
	RepeatMode  string          `json:"repeatMode"`
	Shuffle     bool            `json:"shuffle"`
	CanPlayNext bool            `json:"canPlayNext"`
	CanPlayPrev bool            `json:"canPlayPrev"`
	Mode        string          `json:"mode"`
	Playlist    *types.Playlist `json:"playlist,omitempty"`
	Mood        string          `json:"mood,omitempty"`
	Lyric       *LyricStatus    `json:"lyric,omitempty"`
}

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Songs      []types.Song `json:"songs"`
	Index      int          `json:"index"`
	RepeatMode string       `json:"repeatMode"`
	Shuffle    bool         `json:"shuffle"`
}

// LyricsResponse is the response to a lyrics command
type LyricsResponse struct {
	SongID string               `json:"songId"`
	Lines  []lyrics.GroupedLine `json:"lines"`
	Dual   []lyrics.DualLine    `json:"dual"`
}

// CacheStatsResponse is the response to a cacheStats command
type CacheStatsResponse struct {
	cache.Stats
	Tasks *tasks.Stats `json:"tasks,omitempty"`
}

// SpectrumResponse contains real-time frequency data for visualization
type SpectrumResponse struct {
	// Bands are magnitudes (0-255), logarithmically spaced from 20Hz to 20kHz.
	// []int because encoding/json base64-encodes []uint8.
	Bands []int `json:"bands"`
	// Position is the playback position in seconds when the bands were read
	Position float64 `json:"position"`
	// Timestamp is when the data was captured (Unix ms)
	Timestamp int64 `json:"timestamp"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data interface{}) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data interface{}) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	msg := PushMessage{
		Type: msgType,
		Data: rawData,
	}
	return json.Marshal(msg)
}
