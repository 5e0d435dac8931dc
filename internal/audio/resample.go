package audio

import (
	"errors"
	"io"

	"github.com/gopxl/beep/v2"
)

const resampleQuality = 4

// resampler converts a decoded stream to the output rate and serves it as
// 16-bit little-endian stereo PCM. beep's Resampler cannot seek, so a seek
// moves the source and starts a new one.
type resampler struct {
	src      beep.StreamSeeker
	from, to beep.SampleRate
	stream   beep.Streamer

	buf     [][2]float64
	out     []byte
	pending []byte
	pos     int64 // output bytes handed out
}

func newResampler(src beep.StreamSeeker, from, to int) *resampler {
	r := &resampler{
		src:  src,
		from: beep.SampleRate(from),
		to:   beep.SampleRate(to),
	}
	r.reset()
	return r
}

func (r *resampler) reset() {
	r.stream = beep.Resample(resampleQuality, r.from, r.to, r.src)
	r.pending = nil
}

// Length is the resampled size in bytes
func (r *resampler) Length() int64 {
	frames := int64(r.src.Len()) * int64(r.to) / int64(r.from)
	return frames * frameSize
}

func (r *resampler) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(r.pending) == 0 {
		frames := max(1, len(p)/frameSize)
		if cap(r.buf) < frames {
			r.buf = make([][2]float64, frames)
			r.out = make([]byte, frames*frameSize)
		}

		n, _ := r.stream.Stream(r.buf[:frames])
		if n == 0 {
			if err := r.src.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}

		for i, frame := range r.buf[:n] {
			putSample(r.out[i*frameSize:], frame[0])
			putSample(r.out[i*frameSize+bitDepth:], frame[1])
		}
		r.pending = r.out[:n*frameSize]
	}

	c := copy(p, r.pending)
	r.pending = r.pending[c:]
	r.pos += int64(c)
	return c, nil
}

func (r *resampler) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return r.pos, errors.New("resampler: only io.SeekStart is supported")
	}

	frame := max(0, offset/frameSize)
	srcFrame := min(int(frame*int64(r.from)/int64(r.to)), r.src.Len())
	if err := r.src.Seek(srcFrame); err != nil {
		return r.pos, err
	}

	r.reset()
	r.pos = frame * frameSize
	return r.pos, nil
}

func putSample(b []byte, v float64) {
	v = max(-1, min(1, v))
	s := int16(v * 32767)
	b[0] = byte(s)
	b[1] = byte(s >> 8)
}

var _ pcm = (*resampler)(nil)
