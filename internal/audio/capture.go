package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"dialogue-transcriber/internal/observability/logging"
	"dialogue-transcriber/internal/observability/metrics"
)

// CaptureOptions describes the input stream requested from the platform.
type CaptureOptions struct {
	DeviceIndex      int // -1 selects the default input device
	Channels         int
	FramesPerBuffer  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultCaptureOptions returns a mono request on the default device with platform
// voice processing enabled.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		DeviceIndex:      -1,
		Channels:         1,
		FramesPerBuffer:  2048,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Microphone acquires exclusive access to an input device.
type Microphone interface {
	Open(opts CaptureOptions) (InputStream, error)
}

// InputStream is an open input device. Read blocks until the next buffer of mono
// float samples is available; the returned slice is only valid until the next call.
// Read returns io.EOF when the source is exhausted.
type InputStream interface {
	SampleRate() int
	Read() ([]float32, error)
	Close() error
}

// SetupError reports a failure to acquire the input device. It is never retried.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("microphone setup failed: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ErrAlreadyRunning is returned by Start while a capture is live.
var ErrAlreadyRunning = errors.New("audio capture already running")

// frameQueue bounds how many encoded frames may wait for the consumer.
const frameQueue = 16

// Pipeline reads from a Microphone on its own goroutine, resamples each buffer to
// the target rate and forwards encoded frames in capture order. At most one capture
// is live per Pipeline.
type Pipeline struct {
	mic        Microphone
	opts       CaptureOptions
	targetRate int
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu     sync.Mutex
	done   chan struct{}
	closed chan error
}

// NewPipeline creates a Pipeline producing frames at targetRate.
func NewPipeline(mic Microphone, opts CaptureOptions, targetRate int) *Pipeline {
	if targetRate <= 0 {
		targetRate = TargetSampleRate
	}
	return &Pipeline{
		mic:        mic,
		opts:       opts,
		targetRate: targetRate,
		log:        logging.WithComponent("audio-pipeline"),
		metrics:    metrics.DefaultMetrics,
	}
}

// Start acquires the device and begins forwarding frames on the returned channel.
// The channel is closed when capture ends. A device failure is returned as
// *SetupError.
func (p *Pipeline) Start(ctx context.Context) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return nil, ErrAlreadyRunning
	}

	stream, err := p.mic.Open(p.opts)
	if err != nil {
		return nil, &SetupError{Err: err}
	}

	out := make(chan []byte, frameQueue)
	p.done = make(chan struct{})
	p.closed = make(chan error, 1)

	r := NewResampler(stream.SampleRate(), p.targetRate)
	p.log.Info().
		Int("nativeRate", stream.SampleRate()).
		Int("targetRate", p.targetRate).
		Msg("Audio capture started")

	go p.process(ctx, stream, r, out, p.done, p.closed)
	return out, nil
}

func (p *Pipeline) process(ctx context.Context, stream InputStream, r *Resampler, out chan<- []byte, done <-chan struct{}, closed chan<- error) {
	defer close(out)
	defer func() { closed <- stream.Close() }()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Info().Msg("Audio source exhausted")
			} else {
				p.log.Error().Err(err).Msg("Audio read failed")
				p.metrics.RecordCaptureError()
			}
			return
		}
		if len(samples) == 0 {
			continue
		}

		frame := r.Encode(samples)
		select {
		case out <- frame:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the capture and returns once the device has been released. It is safe
// to call when nothing is running.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	done, closed := p.done, p.closed
	p.done, p.closed = nil, nil
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	close(done)
	err := <-closed
	p.log.Info().Msg("Audio capture stopped")
	return err
}
