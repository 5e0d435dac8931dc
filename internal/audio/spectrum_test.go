package audio

import (
	"math"
	"testing"
)

// sine returns 16-bit stereo PCM of a tone
func sine(freq float64, frames int) []byte {
	data := make([]byte, frames*frameSize)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/DefaultSampleRate) * 20000)
		for ch := 0; ch < channels; ch++ {
			off := i*frameSize + ch*2
			data[off] = byte(v)
			data[off+1] = byte(v >> 8)
		}
	}
	return data
}

func loudestBand(bands []uint8) int {
	best := 0
	for i, v := range bands {
		if v > bands[best] {
			best = i
		}
	}
	return best
}

func TestSpectrumSilentUntilFullWindow(t *testing.T) {
	s := NewSpectrum(DefaultSampleRate, channels)

	s.Process(sine(440, fftSize/2))
	if s.Ready() {
		t.Error("Expected analyzer not ready before a full window")
	}
	for i, v := range s.Bands() {
		if v != 0 {
			t.Fatalf("Band %d = %d before analysis", i, v)
		}
	}

	s.Process(sine(440, fftSize))
	if !s.Ready() {
		t.Error("Expected analyzer ready after a full window")
	}
}

func TestSpectrumTracksPitch(t *testing.T) {
	low := NewSpectrum(DefaultSampleRate, channels)
	high := NewSpectrum(DefaultSampleRate, channels)

	low.Process(sine(100, fftSize*2))
	high.Process(sine(5000, fftSize*2))

	lowBand := loudestBand(low.Bands())
	highBand := loudestBand(high.Bands())
	if lowBand >= highBand {
		t.Errorf("Expected 100Hz below 5kHz, got bands %d and %d", lowBand, highBand)
	}
}

func TestSpectrumReset(t *testing.T) {
	s := NewSpectrum(DefaultSampleRate, channels)
	s.Process(sine(1000, fftSize))
	s.Reset()

	if s.Ready() {
		t.Error("Expected not ready after reset")
	}
	for i, v := range s.Bands() {
		if v != 0 {
			t.Fatalf("Band %d = %d after reset", i, v)
		}
	}
	if len(s.Bands()) != SpectrumBands {
		t.Errorf("Expected %d bands", SpectrumBands)
	}
}
