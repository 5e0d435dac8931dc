// Package catalog talks to the Self-Music server for song metadata, audio and lyrics.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/guanyue91141/Self-Music/internal/types"
)

const userAgent = "selfmusicd/1.0"

// Config contains configuration for the catalog client
type Config struct {
	BaseURL           string
	Timeout           time.Duration // default 30s
	RequestsPerSecond float64       // 0 disables limiting
	Burst             int
	HTTPClient        *http.Client
}

// Client is an HTTP client for the catalog API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a catalog client
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// BaseURL returns the server root all paths are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResolveURL turns a server-relative reference into an absolute URL
func (c *Client) ResolveURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

// StreamURL returns the audio stream location for a song
func (c *Client) StreamURL(id string) string {
	return c.baseURL + "/songs/" + url.PathEscape(id) + "/stream"
}

// do performs a rate limited request and maps failures onto the error taxonomy
func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, target, types.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, target, types.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s %s: %w", method, target, types.ErrNotFound)
		}
		return nil, fmt.Errorf("%s %s: %w (status %d)", method, target, types.ErrNetwork, resp.StatusCode)
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, result interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s: %w: %w", path, types.ErrNetwork, err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, target string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", target, types.ErrNetwork, err)
	}
	return data, nil
}

// GetSong fetches song metadata
func (c *Client) GetSong(ctx context.Context, id string) (*types.Song, error) {
	var song types.Song
	if err := c.getJSON(ctx, "/songs/"+url.PathEscape(id), &song); err != nil {
		return nil, fmt.Errorf("get song %s: %w", id, err)
	}
	return &song, nil
}

// GetPlaylist fetches a playlist with its songs
func (c *Client) GetPlaylist(ctx context.Context, id string) (*types.Playlist, error) {
	var playlist types.Playlist
	if err := c.getJSON(ctx, "/playlists/"+url.PathEscape(id), &playlist); err != nil {
		return nil, fmt.Errorf("get playlist %s: %w", id, err)
	}
	return &playlist, nil
}

// GetHotSongs fetches the server's most played songs
func (c *Client) GetHotSongs(ctx context.Context, limit int) ([]types.Song, error) {
	var list songList
	if err := c.getJSON(ctx, fmt.Sprintf("/hot/songs?limit=%d", limit), &list); err != nil {
		return nil, fmt.Errorf("get hot songs: %w", err)
	}
	return list, nil
}

// GetMoodSongs fetches the first page of songs for a mood
func (c *Client) GetMoodSongs(ctx context.Context, mood string, limit int) ([]types.Song, error) {
	var list songList
	path := fmt.Sprintf("/moods/%s/songs?page=1&limit=%d", url.PathEscape(mood), limit)
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, fmt.Errorf("get mood %s songs: %w", mood, err)
	}
	return list, nil
}

// FetchAudio downloads the full audio payload of a song
func (c *Client) FetchAudio(ctx context.Context, id string) ([]byte, error) {
	data, err := c.getBytes(ctx, c.StreamURL(id))
	if err != nil {
		return nil, fmt.Errorf("fetch audio %s: %w", id, err)
	}
	return data, nil
}

// Download fetches an arbitrary audio or image URL through the client's
// rate limiter; target may be server-relative
func (c *Client) Download(ctx context.Context, target string) ([]byte, error) {
	return c.getBytes(ctx, c.ResolveURL(target))
}

// FetchImage downloads cover art; coverURL may be server-relative
func (c *Client) FetchImage(ctx context.Context, coverURL string) ([]byte, error) {
	data, err := c.getBytes(ctx, c.ResolveURL(coverURL))
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return data, nil
}

// LyricsText fetches the raw timestamp-tagged lyrics of a song
func (c *Client) LyricsText(ctx context.Context, id string) (string, error) {
	data, err := c.getBytes(ctx, c.baseURL+"/songs/"+url.PathEscape(id)+"/lyrics")
	if err != nil {
		return "", fmt.Errorf("fetch lyrics %s: %w", id, err)
	}
	return string(data), nil
}

// RecordPlay tells the server a song started playing
func (c *Client) RecordPlay(ctx context.Context, id string) error {
	target := c.baseURL + "/songs/" + url.PathEscape(id) + "/play"
	resp, err := c.do(ctx, http.MethodPost, target, bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("record play %s: %w", id, err)
	}
	resp.Body.Close()
	return nil
}

// songList decodes either a bare array or a paginated {"data": [...]} object
type songList []types.Song

func (l *songList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var songs []types.Song
		if err := json.Unmarshal(trimmed, &songs); err != nil {
			return err
		}
		*l = songs
		return nil
	}

	var page struct {
		Data  []types.Song `json:"data"`
		Items []types.Song `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return err
	}
	if page.Data != nil {
		*l = page.Data
	} else {
		*l = page.Items
	}
	return nil
}
