// Package audio plays MP3 sources through the system audio output.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	beepmp3 "github.com/gopxl/beep/v2/mp3"
	"github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"

	"github.com/guanyue91141/Self-Music/internal/sink"
	"github.com/guanyue91141/Self-Music/internal/types"
)

const (
	DefaultSampleRate = 44100
	// go-mp3 always decodes to 16-bit stereo
	channels  = 2
	bitDepth  = 2
	frameSize = channels * bitDepth

	timeEventsPerSecond = 4
	eventBuffer         = 64
	defaultFetchTimeout = 60 * time.Second
)

// Fetcher downloads URL sources into memory
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Config contains configuration for the device
type Config struct {
	SampleRate   int           // output rate (default 44100); other rates are resampled
	Fetcher      Fetcher       // required for URL sources
	FetchTimeout time.Duration // default 60s
}

// output is the part of oto.Player the device drives
type output interface {
	Play()
	Pause()
	Close() error
}

// pcm is a decoded source; *mp3.Decoder satisfies it
type pcm interface {
	io.ReadSeeker
	Length() int64
}

// Device plays one MP3 source at a time. It is an io.Reader that the
// audio output pulls PCM from; reads block while paused.
type Device struct {
	otoCtx       *oto.Context
	out          output
	sampleRate   int
	fetcher      Fetcher
	fetchTimeout time.Duration
	spectrum     *Spectrum

	mu       sync.Mutex
	cond     *sync.Cond
	ev       sink.Events
	src      pcm
	length   int64 // decoded bytes, 0 when unknown
	pos      int64 // decoded bytes handed to the output
	lastTick int64
	volume   float64
	playing  bool
	ended    bool
	closed   bool

	events chan func()
	quit   chan struct{}
	done   chan struct{}
}

// NewDevice opens the system audio output
func NewDevice(cfg Config) (*Device, error) {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}

	ctx, ready, err := oto.NewContext(rate, channels, bitDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	d := newDevice(rate, cfg)
	d.otoCtx = ctx
	d.out = ctx.NewPlayer(d)
	return d, nil
}

func newDevice(rate int, cfg Config) *Device {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	d := &Device{
		sampleRate:   rate,
		fetcher:      cfg.Fetcher,
		fetchTimeout: timeout,
		spectrum:     NewSpectrum(rate, channels),
		volume:       1.0,
		events:       make(chan func(), eventBuffer),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)

	go d.dispatch()
	return d
}

// dispatch runs event callbacks in order, off the audio goroutine
func (d *Device) dispatch() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.events:
			fn()
		case <-d.quit:
			return
		}
	}
}

// emit queues an event callback. Droppable events are skipped when the
// queue is full.
func (d *Device) emit(fn func(), droppable bool) {
	if fn == nil {
		return
	}
	if droppable {
		select {
		case d.events <- fn:
		default:
		}
		return
	}
	select {
	case d.events <- fn:
	case <-d.quit:
	}
}

// SetEvents implements sink.Device
func (d *Device) SetEvents(ev sink.Events) {
	d.mu.Lock()
	d.ev = ev
	d.mu.Unlock()
}

// Load implements sink.Device. URL sources are downloaded in full first.
func (d *Device) Load(src types.Source) error {
	data := src.Data
	if len(data) == 0 {
		if src.URL == "" {
			return fmt.Errorf("empty source: %w", types.ErrUnsupportedSource)
		}
		if d.fetcher == nil {
			return fmt.Errorf("no fetcher for %s: %w", src.URL, types.ErrUnsupportedSource)
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.fetchTimeout)
		fetched, err := d.fetcher.Download(ctx, src.URL)
		cancel()
		if err != nil {
			return err
		}
		data = fetched
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", src.Key, types.ErrDecode, err)
	}
	if dec.SampleRate() == d.sampleRate {
		d.load(dec)
		return nil
	}

	stream, format, err := beepmp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", src.Key, types.ErrDecode, err)
	}
	log.Printf("[PLAYER] Resampling %s from %d Hz to %d Hz", src.Key, format.SampleRate, d.sampleRate)
	d.load(newResampler(stream, int(format.SampleRate), d.sampleRate))
	return nil
}

func (d *Device) load(src pcm) {
	d.mu.Lock()
	wasPlaying := d.playing
	d.src = src
	d.length = src.Length()
	d.pos = 0
	d.lastTick = 0
	d.playing = false
	d.ended = false
	ev := d.ev
	duration := d.secondsLocked(d.length)
	d.mu.Unlock()

	if wasPlaying && d.out != nil {
		d.out.Pause()
	}
	d.spectrum.Reset()

	if duration > 0 && ev.OnDuration != nil {
		d.emit(func() { ev.OnDuration(duration) }, false)
	}
	d.emit(ev.OnCanPlay, false)
}

// Play implements sink.Device. After the end of a source it restarts from 0.
func (d *Device) Play() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("device closed")
	}
	if d.src == nil {
		d.mu.Unlock()
		return fmt.Errorf("nothing loaded: %w", types.ErrUnsupportedSource)
	}
	if d.ended {
		if _, err := d.src.Seek(0, io.SeekStart); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("rewind: %w: %w", types.ErrDecode, err)
		}
		d.pos = 0
		d.lastTick = 0
		d.ended = false
	}
	d.playing = true
	d.cond.Broadcast()
	ev := d.ev
	d.mu.Unlock()

	// oto may read synchronously from Play; the lock must be free
	if d.out != nil {
		d.out.Play()
	}
	d.emit(ev.OnPlay, false)
	return nil
}

// Pause implements sink.Device
func (d *Device) Pause() error {
	d.mu.Lock()
	wasPlaying := d.playing
	d.playing = false
	d.mu.Unlock()

	if wasPlaying && d.out != nil {
		d.out.Pause()
	}
	return nil
}

// SetVolume implements sink.Device
func (d *Device) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = max(0, min(1, v))
}

// Seek implements sink.Device
func (d *Device) Seek(seconds float64) error {
	d.mu.Lock()
	if d.src == nil {
		d.mu.Unlock()
		return fmt.Errorf("nothing loaded: %w", types.ErrUnsupportedSource)
	}

	off := int64(seconds*float64(d.bytesPerSecond())) / frameSize * frameSize
	off = max(0, off)
	if d.length > 0 {
		off = min(off, d.length)
	}
	if _, err := d.src.Seek(off, io.SeekStart); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("seek: %w: %w", types.ErrDecode, err)
	}
	d.pos = off
	d.lastTick = off
	d.ended = false
	ev := d.ev
	t := d.secondsLocked(off)
	d.mu.Unlock()

	if ev.OnTime != nil {
		d.emit(func() { ev.OnTime(t) }, false)
	}
	return nil
}

// Ready implements sink.Device
func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src != nil
}

// Duration implements sink.Device
func (d *Device) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.secondsLocked(d.length)
}

// Position returns the playback position in seconds
func (d *Device) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.secondsLocked(d.pos)
}

// Spectrum returns the analyzer fed with the PCM being played
func (d *Device) Spectrum() *Spectrum {
	return d.spectrum
}

// Close implements sink.Device
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	close(d.quit)
	<-d.done

	if d.out != nil {
		return d.out.Close()
	}
	return nil
}

func (d *Device) bytesPerSecond() int64 {
	return int64(d.sampleRate) * frameSize
}

func (d *Device) secondsLocked(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(d.bytesPerSecond())
}

// Read implements io.Reader for the audio output
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()

	for !d.playing && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		d.mu.Unlock()
		return 0, io.EOF
	}

	n, err := d.src.Read(p)
	d.pos += int64(n)
	if n > 0 {
		d.spectrum.Process(p[:n])
		applyVolume(p[:n], d.volume)
	}

	ev := d.ev
	var tick, ended bool
	var decodeErr error
	if d.pos-d.lastTick >= d.bytesPerSecond()/timeEventsPerSecond {
		d.lastTick = d.pos
		tick = true
	}
	if err != nil {
		d.playing = false
		if errors.Is(err, io.EOF) {
			d.ended = true
			ended = true
		} else {
			decodeErr = fmt.Errorf("decode: %w: %w", types.ErrDecode, err)
		}
		// keep the output stream alive with silence
		if n == 0 {
			clear(p)
			n = len(p)
		}
	}
	t := d.secondsLocked(d.pos)
	d.mu.Unlock()

	if tick && ev.OnTime != nil {
		d.emit(func() { ev.OnTime(t) }, true)
	}
	if ended {
		log.Printf("[PLAYER] Source ended at %.2fs", t)
		d.emit(ev.OnEnded, false)
	}
	if decodeErr != nil && ev.OnError != nil {
		d.emit(func() { ev.OnError(decodeErr) }, false)
	}

	return n, nil
}

// applyVolume scales 16-bit little-endian PCM samples in place
func applyVolume(data []byte, vol float64) {
	if vol >= 1.0 {
		return
	}

	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

var (
	_ io.Reader   = (*Device)(nil)
	_ sink.Device = (*Device)(nil)
)
