package audio

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a PCM WAV file as if it were a microphone. Multi-channel files
// are down-mixed to mono.
type WAVSource struct {
	path     string
	realtime bool

	once sync.Once
	done chan struct{}
}

// NewWAVSource creates a source for path. With realtime set, Read paces buffers at
// the file's sample rate.
func NewWAVSource(path string, realtime bool) *WAVSource {
	return &WAVSource{
		path:     path,
		realtime: realtime,
		done:     make(chan struct{}),
	}
}

// Done is closed once the file has been fully read.
func (w *WAVSource) Done() <-chan struct{} { return w.done }

// Open decodes the WAV header and prepares buffered reads.
func (w *WAVSource) Open(opts CaptureOptions) (InputStream, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: not a valid wav file", w.path)
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		f.Close()
		return nil, fmt.Errorf("%s: unsupported bit depth %d", w.path, dec.BitDepth)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = DefaultCaptureOptions().FramesPerBuffer
	}

	return &wavStream{
		file:     f,
		dec:      dec,
		channels: channels,
		rate:     int(dec.SampleRate),
		scale:    float32(int64(1) << (dec.BitDepth - 1)),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
			Data:           make([]int, frames*channels),
			SourceBitDepth: int(dec.BitDepth),
		},
		mono:     make([]float32, frames),
		realtime: w.realtime,
		finish:   func() { w.once.Do(func() { close(w.done) }) },
	}, nil
}

type wavStream struct {
	file     *os.File
	dec      *wav.Decoder
	channels int
	rate     int
	scale    float32
	buf      *audio.IntBuffer
	mono     []float32

	realtime bool
	started  time.Time
	emitted  int64
	finish   func()
}

func (s *wavStream) SampleRate() int { return s.rate }

func (s *wavStream) Read() ([]float32, error) {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if n == 0 {
		s.finish()
		return nil, io.EOF
	}

	frames := n / s.channels
	out := s.mono[:frames]
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < s.channels; c++ {
			sum += float32(s.buf.Data[i*s.channels+c])
		}
		out[i] = sum / float32(s.channels) / s.scale
	}

	if s.realtime {
		s.pace(frames)
	}
	return out, nil
}

func (s *wavStream) pace(frames int) {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.emitted += int64(frames)
	due := s.started.Add(time.Duration(s.emitted) * time.Second / time.Duration(s.rate))
	if wait := time.Until(due); wait > 0 {
		time.Sleep(wait)
	}
}

func (s *wavStream) Close() error {
	s.finish()
	return s.file.Close()
}
