package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// window length of the FFT, a power of 2
	fftSize = 2048
	// SpectrumBands is the number of values returned by Spectrum.Bands
	SpectrumBands = 64

	smoothingFactor = 0.5
	minFreq         = 20.0
	maxFreq         = 20000.0
	floorDB         = -60.0
)

// Spectrum turns the PCM being played into log-spaced frequency bands
// (0-255 each) for visualizers.
type Spectrum struct {
	mu sync.RWMutex

	fft      *fourier.FFT
	window   []float64
	samples  []float64 // circular, mono
	next     int
	bands    []float64
	smoothed []float64

	sampleRate int
	channels   int
	ready      bool
}

// NewSpectrum creates an analyzer for 16-bit little-endian PCM
func NewSpectrum(sampleRate, channels int) *Spectrum {
	// Hann window
	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &Spectrum{
		fft:        fourier.NewFFT(fftSize),
		window:     window,
		samples:    make([]float64, fftSize),
		bands:      make([]float64, SpectrumBands),
		smoothed:   make([]float64, SpectrumBands),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Process feeds PCM frames into the analyzer. Channels are mixed to mono.
func (s *Spectrum) Process(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := 2 * s.channels
	for i := 0; i+frame <= len(data); i += frame {
		var sum float64
		for ch := 0; ch < s.channels; ch++ {
			off := i + 2*ch
			sample := int16(data[off]) | int16(data[off+1])<<8
			sum += float64(sample) / 32768.0
		}
		s.samples[s.next] = sum / float64(s.channels)
		s.next = (s.next + 1) % fftSize

		if s.next == 0 {
			s.compute()
			s.ready = true
		}
	}
}

func (s *Spectrum) compute() {
	windowed := make([]float64, fftSize)
	for i := range windowed {
		windowed[i] = s.samples[(s.next+i)%fftSize] * s.window[i]
	}
	coeffs := s.fft.Coefficients(nil, windowed)

	top := maxFreq
	if nyquist := float64(s.sampleRate) / 2; nyquist < top {
		top = nyquist
	}
	logMin := math.Log10(minFreq)
	logRange := math.Log10(top) - logMin
	freqPerBin := float64(s.sampleRate) / float64(fftSize)

	counts := make([]int, SpectrumBands)
	for i := range s.bands {
		s.bands[i] = 0
	}

	for bin := 1; bin < fftSize/2; bin++ {
		freq := float64(bin) * freqPerBin
		if freq < minFreq || freq > top {
			continue
		}

		band := int((math.Log10(freq) - logMin) / logRange * SpectrumBands)
		band = max(0, min(SpectrumBands-1, band))

		re, im := real(coeffs[bin]), imag(coeffs[bin])
		db := 20 * math.Log10(math.Sqrt(re*re+im*im)/fftSize+1e-10)
		level := math.Max(0, math.Min(255, (db-floorDB)/-floorDB*255))

		s.bands[band] += level
		counts[band]++
	}

	for i := range s.bands {
		if counts[i] > 0 {
			s.bands[i] /= float64(counts[i])
		}
	}

	// Bleed 30% into neighbours so bands without bins are not dark
	for i := range s.smoothed {
		v := s.bands[i]
		if i > 0 {
			v += s.bands[i-1] * 0.3
		}
		if i < SpectrumBands-1 {
			v += s.bands[i+1] * 0.3
		}
		v = math.Min(255, v)
		s.smoothed[i] = smoothingFactor*s.smoothed[i] + (1-smoothingFactor)*v
	}
}

// Bands returns the current band levels. All zero until a full window
// has been processed.
func (s *Spectrum) Bands() []uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint8, SpectrumBands)
	for i, v := range s.smoothed {
		out[i] = uint8(math.Max(0, math.Min(255, v)))
	}
	return out
}

// Ready reports whether at least one window has been analyzed
func (s *Spectrum) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Reset clears all analyzer state, e.g. when a new song is loaded
func (s *Spectrum) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = 0
	s.ready = false
	clear(s.samples)
	clear(s.bands)
	clear(s.smoothed)
}
