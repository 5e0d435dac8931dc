// Package cache is the durable local store of previously fetched songs and lyrics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/guanyue91141/Self-Music/internal/types"
)

// Entry is a cached song. Image is nil when no cover art is stored.
type Entry struct {
	Song     types.Song
	Audio    []byte
	Image    []byte
	CachedAt time.Time
}

// Stats summarizes what the cache holds
type Stats struct {
	Songs      int64 `json:"songs"`
	Lyrics     int64 `json:"lyrics"`
	AudioBytes int64 `json:"audioBytes"`
	ImageBytes int64 `json:"imageBytes"`
}

// ImageFetcher downloads cover art for entries cached without it
type ImageFetcher interface {
	FetchImage(ctx context.Context, coverURL string) ([]byte, error)
}

type songRow struct {
	ID       string `gorm:"primaryKey;size:191"`
	Metadata string
	Audio    []byte
	Image    []byte
	CachedAt time.Time
}

func (songRow) TableName() string {
	return "songs"
}

type lyricsRow struct {
	SongID   string `gorm:"primaryKey;size:191"`
	Lyrics   string
	CachedAt time.Time
}

func (lyricsRow) TableName() string {
	return "lyrics"
}

// Cache stores songs and lyrics in a SQL database through gorm
type Cache struct {
	driver string
	open   gorm.Dialector
	db     *gorm.DB
	logger logger.Interface
	images ImageFetcher
}

// New prepares a cache for the given driver ("sqlite", "postgres" or "mysql")
func New(driver, dsn string, debug bool) (*Cache, error) {
	var open gorm.Dialector
	switch driver {
	case "postgres":
		open = postgres.Open(dsn)
	case "mysql":
		open = mysql.Open(dsn)
	case "sqlite", "":
		driver = "sqlite"
		open = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("cache: unknown driver: %s", driver)
	}
	l := logger.Default.LogMode(logger.Silent)
	if debug {
		l = logger.Default.LogMode(logger.Warn)
	}
	return &Cache{
		driver: driver,
		open:   open,
		logger: l,
	}, nil
}

// Open creates, connects and migrates a cache in one step
func Open(ctx context.Context, driver, dsn string, debug bool) (*Cache, error) {
	c, err := New(driver, dsn, debug)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Start connects to the database, giving up after 30 seconds
func (c *Cache) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	type result struct {
		db  *gorm.DB
		err error
	}
	resC := make(chan result, 1)
	go func() {
		db, err := gorm.Open(c.open, &gorm.Config{Logger: c.logger})
		resC <- result{db, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("cache: timed out opening database: %w", ctx.Err())
		}
		return ctx.Err()
	case res := <-resC:
		if res.err != nil {
			return fmt.Errorf("cache: failed to open database: %w: %w", types.ErrCache, res.err)
		}
		c.db = res.db
	}

	// SQLite allows a single writer; serialize through one connection
	if c.driver == "sqlite" {
		if sqlDB, err := c.db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return nil
}

// Migrate creates the songs and lyrics tables
func (c *Cache) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&songRow{}, &lyricsRow{}); err != nil {
		return fmt.Errorf("cache: failed to migrate database: %w: %w", types.ErrCache, err)
	}
	return nil
}

// Close releases the database connection
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetImageFetcher enables cover art refetching for entries cached without an image
func (c *Cache) SetImageFetcher(f ImageFetcher) {
	c.images = f
}

// Get returns the cached song. Entries without audio count as misses and
// yield types.ErrNotFound. A hit without an image but with a cover URL gets
// one refetch attempt; failing that, the entry is returned without image.
func (c *Cache) Get(ctx context.Context, id string) (*Entry, error) {
	var row songRow
	if err := c.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cache: song %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("cache: failed to get song %s: %w: %w", id, types.ErrCache, err)
	}
	if len(row.Audio) == 0 {
		return nil, fmt.Errorf("cache: song %s has no audio: %w", id, types.ErrNotFound)
	}

	var song types.Song
	if err := json.Unmarshal([]byte(row.Metadata), &song); err != nil {
		return nil, fmt.Errorf("cache: corrupt metadata for %s: %w: %w", id, types.ErrCache, err)
	}

	entry := &Entry{
		Song:     song,
		Audio:    row.Audio,
		CachedAt: row.CachedAt,
	}
	if len(row.Image) > 0 {
		entry.Image = row.Image
		return entry, nil
	}

	if song.CoverURL != "" && c.images != nil {
		image, err := c.images.FetchImage(ctx, song.CoverURL)
		if err != nil || len(image) == 0 {
			log.Printf("[CACHE] Failed to refetch cover for %s: %v", id, err)
			return entry, nil
		}
		if err := c.db.WithContext(ctx).Model(&songRow{}).Where("id = ?", id).Update("image", image).Error; err != nil {
			log.Printf("[CACHE] Failed to store refetched cover for %s: %v", id, err)
		}
		entry.Image = image
	}

	return entry, nil
}

// Put stores or replaces a song with its payloads. image may be nil.
func (c *Cache) Put(ctx context.Context, song types.Song, audio, image []byte) error {
	metadata, err := json.Marshal(song)
	if err != nil {
		return fmt.Errorf("cache: failed to encode song %s: %w", song.ID, err)
	}

	row := songRow{
		ID:       song.ID,
		Metadata: string(metadata),
		Audio:    audio,
		Image:    image,
		CachedAt: time.Now(),
	}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("cache: failed to put song %s: %w: %w", song.ID, types.ErrCache, err)
	}
	return nil
}

// GetLyrics returns cached lyrics text, or types.ErrNotFound
func (c *Cache) GetLyrics(ctx context.Context, songID string) (string, error) {
	var row lyricsRow
	if err := c.db.WithContext(ctx).First(&row, "song_id = ?", songID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("cache: lyrics %s: %w", songID, types.ErrNotFound)
		}
		return "", fmt.Errorf("cache: failed to get lyrics %s: %w: %w", songID, types.ErrCache, err)
	}
	if row.Lyrics == "" {
		return "", fmt.Errorf("cache: lyrics %s are empty: %w", songID, types.ErrNotFound)
	}
	return row.Lyrics, nil
}

// PutLyrics stores or replaces the lyrics of a song
func (c *Cache) PutLyrics(ctx context.Context, songID, text string) error {
	row := lyricsRow{SongID: songID, Lyrics: text, CachedAt: time.Now()}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("cache: failed to put lyrics %s: %w: %w", songID, types.ErrCache, err)
	}
	return nil
}

// Delete removes a song and its lyrics
func (c *Cache) Delete(ctx context.Context, id string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&songRow{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&lyricsRow{}, "song_id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("cache: failed to delete song %s: %w: %w", id, types.ErrCache, err)
	}
	return nil
}

// Clear empties both tables
func (c *Cache) Clear(ctx context.Context) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&songRow{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&lyricsRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("cache: failed to clear: %w: %w", types.ErrCache, err)
	}
	return nil
}

// Stats counts cached songs and lyrics and sums payload sizes
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := c.db.WithContext(ctx)

	var sizes struct {
		Songs      int64
		AudioBytes int64
		ImageBytes int64
	}
	err := db.Model(&songRow{}).
		Select("COUNT(*) AS songs, COALESCE(SUM(LENGTH(audio)), 0) AS audio_bytes, COALESCE(SUM(LENGTH(image)), 0) AS image_bytes").
		Scan(&sizes).Error
	if err != nil {
		return stats, fmt.Errorf("cache: failed to compute stats: %w: %w", types.ErrCache, err)
	}

	if err := db.Model(&lyricsRow{}).Count(&stats.Lyrics).Error; err != nil {
		return stats, fmt.Errorf("cache: failed to count lyrics: %w: %w", types.ErrCache, err)
	}

	stats.Songs = sizes.Songs
	stats.AudioBytes = sizes.AudioBytes
	stats.ImageBytes = sizes.ImageBytes
	return stats, nil
}
