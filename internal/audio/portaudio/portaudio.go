// Package portaudio captures microphone input through PortAudio. It needs cgo and
// the portaudio-2.0 library, so it lives apart from the pure-Go audio pipeline.
package portaudio

import (
	"errors"
	"fmt"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"dialogue-transcriber/internal/audio"
	"dialogue-transcriber/internal/observability/logging"
)

// ErrNoInputDevice is returned when no usable input device exists.
var ErrNoInputDevice = errors.New("no audio input device available")

var _ audio.Microphone = (*Microphone)(nil)

// Microphone opens mono input streams through PortAudio.
type Microphone struct {
	log zerolog.Logger
}

// NewMicrophone creates a PortAudio-backed audio.Microphone.
func NewMicrophone() *Microphone {
	return &Microphone{log: logging.WithComponent("portaudio")}
}

// Open initializes PortAudio, selects the device and starts a blocking input
// stream at the device's native rate.
func (m *Microphone) Open(opts audio.CaptureOptions) (audio.InputStream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := inputDevice(opts.DeviceIndex)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	if opts.EchoCancellation || opts.NoiseSuppression || opts.AutoGainControl {
		// PortAudio has no voice-processing controls; the raw device signal is captured.
		m.log.Info().
			Bool("echoCancellation", opts.EchoCancellation).
			Bool("noiseSuppression", opts.NoiseSuppression).
			Bool("autoGainControl", opts.AutoGainControl).
			Msg("Voice processing requested but unsupported by PortAudio")
	}

	frames := opts.FramesPerBuffer
	if frames <= 0 {
		frames = audio.DefaultCaptureOptions().FramesPerBuffer
	}

	params := pa.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	params.FramesPerBuffer = frames

	buf := make([]float32, frames)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("open input stream on %q: %w", device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("start input stream on %q: %w", device.Name, err)
	}

	m.log.Info().
		Str("device", device.Name).
		Float64("sampleRate", params.SampleRate).
		Int("framesPerBuffer", frames).
		Msg("Input device acquired")

	return &inputStream{
		stream: stream,
		buf:    buf,
		rate:   int(params.SampleRate),
	}, nil
}

func inputDevice(index int) (*pa.DeviceInfo, error) {
	if index < 0 {
		device, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		return device, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if index >= len(devices) {
		return nil, fmt.Errorf("%w: index %d out of range (%d devices)", ErrNoInputDevice, index, len(devices))
	}
	device := devices[index]
	if device.MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: %q has no input channels", ErrNoInputDevice, device.Name)
	}
	return device, nil
}

type inputStream struct {
	stream *pa.Stream
	buf    []float32
	rate   int
}

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return nil, err
	}
	return s.buf, nil
}

func (s *inputStream) Close() error {
	return errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
}

// InputDevice describes an input-capable device.
type InputDevice struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListInputDevices enumerates input-capable devices.
func ListInputDevices() ([]InputDevice, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []InputDevice
	for i, d := range devices {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, InputDevice{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}
