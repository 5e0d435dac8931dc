package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/guanyue91141/Self-Music/internal/audio"
	"github.com/guanyue91141/Self-Music/internal/cache"
	"github.com/guanyue91141/Self-Music/internal/catalog"
	"github.com/guanyue91141/Self-Music/internal/config"
	"github.com/guanyue91141/Self-Music/internal/ipc"
	"github.com/guanyue91141/Self-Music/internal/library"
	"github.com/guanyue91141/Self-Music/internal/media"
	"github.com/guanyue91141/Self-Music/internal/player"
	"github.com/guanyue91141/Self-Music/internal/queue"
	"github.com/guanyue91141/Self-Music/internal/sink"
	"github.com/guanyue91141/Self-Music/internal/tasks"
	"github.com/guanyue91141/Self-Music/internal/types"
)

const sessionName = "Self-Music"

// hotSongs applies the configured limit to the catalog's hot songs
type hotSongs struct {
	catalog *catalog.Client
	limit   int
}

func (h hotSongs) GetHotSongs(ctx context.Context, limit int) ([]types.Song, error) {
	if h.limit > 0 {
		limit = h.limit
	}
	return h.catalog.GetHotSongs(ctx, limit)
}

func loadConfig(configDir string) (config.Config, error) {
	configMgr := config.NewManager(configDir)
	if err := configMgr.Load(); err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("[CONFIG] Loaded %s", configMgr.GetPath())
	return configMgr.Get(), nil
}

func run(ctx context.Context, g *globalFlags) error {
	cfg, err := loadConfig(g.configDir)
	if err != nil {
		return err
	}

	client := catalog.New(catalog.Config{
		BaseURL:           cfg.API.BaseURL,
		Timeout:           cfg.API.Timeout(),
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	})
	log.Printf("[CATALOG] Using %s", cfg.API.BaseURL)

	// The cache is optional; without it every song comes from the network
	var (
		store library.Store
		admin ipc.CacheAdmin
	)
	mediaCache, err := cache.Open(ctx, cfg.Cache.Driver, cfg.CacheDSN(), cfg.Cache.Debug)
	if err != nil {
		log.Printf("[CACHE] Warning: %v", err)
		log.Printf("[CACHE] Continuing without local cache")
	} else {
		defer mediaCache.Close()
		mediaCache.SetImageFetcher(client)
		store = mediaCache
		admin = mediaCache
	}
	lib := library.New(client, store)

	queueMgr := queue.NewManager()
	if cfg.Behavior.RememberQueue {
		queueStore := queue.NewStore(cfg.DataDir, cfg.Behavior.Profile)
		saved, err := queueStore.Load()
		switch {
		case err != nil:
			log.Printf("[QUEUE] Warning: failed to load saved queue: %v", err)
		case saved != nil:
			queueMgr.Restore(*saved)
			log.Printf("[QUEUE] Loaded saved queue: %d songs, position %d", len(saved.Songs), saved.CurrentIndex)
		}

		flusher := queue.NewFlusher(queueStore)
		defer func() {
			flusher.Close()
			log.Printf("[QUEUE] Queue saved on shutdown")
		}()
		queueMgr.SetOnChange(flusher.Submit)
	}

	taskQueue := tasks.New(tasks.Config{
		OnResult: func(id, name string, err error) {
			if err != nil {
				log.Printf("[TASKS] %s (%s) failed: %v", name, id, err)
			}
		},
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := taskQueue.Close(closeCtx); err != nil {
			log.Printf("[TASKS] Warning: %v", err)
		}
	}()

	playerCfg := player.Config{Volume: cfg.Playback.DefaultVolume}
	if cfg.Behavior.LoadHotSongs {
		playerCfg.HotSongs = hotSongs{catalog: client, limit: cfg.Behavior.HotSongsLimit}
	}
	playback := player.NewStore(queueMgr, lib, playerCfg)
	defer playback.Close()

	device, err := audio.NewDevice(audio.Config{
		SampleRate: cfg.Playback.SampleRate,
		Fetcher:    client,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}

	var session media.Session = media.NewNoOpSession()
	if cfg.Behavior.MediaSession {
		s, err := media.NewSession(sessionName)
		if err != nil {
			log.Printf("[MEDIA] Warning: failed to initialize media session: %v", err)
			log.Printf("[MEDIA] Continuing without OS media integration")
		} else {
			log.Printf("[MEDIA] Media session initialized successfully")
			session = s
		}
	}
	defer session.Close()

	out := sink.New(playback, device, lib, sink.Config{
		AutoplayTimeout: cfg.Playback.AutoplayTimeout(),
		Session:         session,
		Recorder:        client,
		Tasks:           taskQueue,
		ArtURL:          client.ResolveURL,
	})
	out.Start()
	defer out.Close()

	playback.InitializeQueue(ctx)

	server := ipc.NewServer(g.socketPath, playback, ipc.Options{
		Lyrics:   lib,
		Cache:    admin,
		Catalog:  client,
		Spectrum: device.Spectrum(),
		Tasks:    taskQueue,
	})

	log.Printf("Starting IPC server on %s", g.socketPath)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}
	return nil
}

// ctl sends one command to a running daemon and prints the response data
func ctl(ctx context.Context, socketPath, cmd, data string, w io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()

	req := &ipc.Request{Cmd: ipc.CommandType(cmd)}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("invalid json data: %s", data)
		}
		req.Data = json.RawMessage(data)
	}

	payload, err := ipc.EncodeRequest(req)
	if err != nil {
		return err
	}
	conn.SetDeadline(time.Now().Add(30 * time.Second))
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		// skip push messages
		if _, ok := probe["success"]; !ok {
			continue
		}

		resp, err := ipc.DecodeResponse(line)
		if err != nil {
			return err
		}
		if !resp.Success {
			return errors.New(resp.Error)
		}
		return printJSON(w, resp.Data)
	}
}

func cacheAdmin(ctx context.Context, configDir, action string, w io.Writer) error {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	c, err := cache.Open(ctx, cfg.Cache.Driver, cfg.CacheDSN(), cfg.Cache.Debug)
	if err != nil {
		return err
	}
	defer c.Close()

	switch action {
	case "stats":
	case "clear":
		if err := c.Clear(ctx); err != nil {
			return err
		}
		log.Printf("[CACHE] Cleared")
	default:
		return fmt.Errorf("unknown cache action %q", action)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return printJSON(w, data)
}

func printJSON(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
