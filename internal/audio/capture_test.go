package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeMicrophone serves scripted buffers at a fixed rate.
type fakeMicrophone struct {
	rate    int
	buffers [][]float32
	openErr error

	mu     sync.Mutex
	opened int
	closed int
}

func (m *fakeMicrophone) Open(opts CaptureOptions) (InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opened++
	return &fakeStream{mic: m, buffers: m.buffers}, nil
}

func (m *fakeMicrophone) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

type fakeStream struct {
	mic     *fakeMicrophone
	buffers [][]float32
	next    int
}

func (s *fakeStream) SampleRate() int { return s.mic.rate }

func (s *fakeStream) Read() ([]float32, error) {
	if s.next >= len(s.buffers) {
		// Behave like a live device with nothing more to say.
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}
	b := s.buffers[s.next]
	s.next++
	return b, nil
}

func (s *fakeStream) Close() error {
	s.mic.mu.Lock()
	s.mic.closed++
	s.mic.mu.Unlock()
	return nil
}

func TestPipeline_ForwardsFramesInOrder(t *testing.T) {
	mic := &fakeMicrophone{rate: 48000}
	for i := 0; i < 5; i++ {
		buf := make([]float32, 480)
		for j := range buf {
			buf[j] = float32(i) / 10
		}
		mic.buffers = append(mic.buffers, buf)
	}

	p := NewPipeline(mic, DefaultCaptureOptions(), TargetSampleRate)
	frames, err := p.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		select {
		case frame := <-frames:
			if len(frame) != 320 {
				t.Fatalf("frame %d: expected 320 bytes, got %d", i, len(frame))
			}
			got := int16(binary.LittleEndian.Uint16(frame))
			if want := ScaleSample(float32(i) / 10); got != want {
				t.Errorf("frame %d: expected first sample %d, got %d", i, want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if opened, closed := mic.counts(); opened != 1 || closed != 1 {
		t.Errorf("expected device opened and released once, got opened=%d closed=%d", opened, closed)
	}

	// Channel is closed after stop.
	for range frames {
	}
}

func TestPipeline_OpenFailureIsSetupError(t *testing.T) {
	denied := errors.New("permission denied")
	p := NewPipeline(&fakeMicrophone{rate: 48000, openErr: denied}, DefaultCaptureOptions(), TargetSampleRate)

	_, err := p.Start(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("expected *SetupError, got %v", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("expected wrapped cause, got %v", err)
	}

	// Nothing live, so stop is a no-op.
	if err := p.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
}

func TestPipeline_SingleCapture(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	p := NewPipeline(mic, DefaultCaptureOptions(), TargetSampleRate)

	if _, err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}

	// Restart after stop acquires the device again.
	if _, err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.Stop()
	if opened, closed := mic.counts(); opened != 2 || closed != 2 {
		t.Errorf("expected 2 opens and 2 releases, got %d/%d", opened, closed)
	}
}

func TestPipeline_EOFClosesChannel(t *testing.T) {
	p := NewPipeline(eofMicrophone{}, DefaultCaptureOptions(), TargetSampleRate)
	frames, err := p.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case _, ok := <-frames:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after EOF")
	}
	if err := p.Stop(); err != nil {
		t.Errorf("stop after EOF: %v", err)
	}
}

type eofMicrophone struct{}

func (eofMicrophone) Open(CaptureOptions) (InputStream, error) { return eofStream{}, nil }

type eofStream struct{}

func (eofStream) SampleRate() int { return 16000 }
func (eofStream) Read() ([]float32, error) { return nil, io.EOF }
func (eofStream) Close() error { return nil }
