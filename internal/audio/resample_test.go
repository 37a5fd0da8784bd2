package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestScaleSample(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32768},
		{"zero", 0, 0},
		{"clamp high", 3.5, 32767},
		{"clamp low", -7, -32768},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScaleSample(tt.in); got != tt.want {
				t.Errorf("ScaleSample(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestResampler_OutputLength(t *testing.T) {
	tests := []struct {
		native, n, want int
	}{
		{48000, 128, 42},
		{48000, 2048, 682},
		{44100, 4096, 1486},
		{16000, 320, 320},
		{48000, 1, 1},
		{48000, 2, 1},
		{48000, 0, 0},
		{8000, 100, 200},
	}

	for _, tt := range tests {
		r := NewResampler(tt.native, TargetSampleRate)
		if got := r.OutputLength(tt.n); got != tt.want {
			t.Errorf("OutputLength(native=%d, n=%d) = %d, want %d", tt.native, tt.n, got, tt.want)
		}
	}
}

func TestResampler_OutputLengthProperty(t *testing.T) {
	for _, native := range []int{22050, 32000, 44100, 48000, 96000} {
		r := NewResampler(native, TargetSampleRate)
		ratio := float64(native) / TargetSampleRate
		for n := 1; n <= 4096; n += 37 {
			want := int(math.Floor(float64(n) / ratio))
			if want < 1 {
				want = 1
			}
			if got := r.OutputLength(n); got != want {
				t.Fatalf("native=%d n=%d: got %d, want %d", native, n, got, want)
			}
		}
	}
}

func TestResampler_NearestPrecedingSample(t *testing.T) {
	r := NewResampler(48000, TargetSampleRate)
	in := make([]float32, 12)
	for i := range in {
		in[i] = float32(i) / 100
	}

	got := r.Resample(nil, in)
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	for i, s := range got {
		want := ScaleSample(in[i*3])
		if s != want {
			t.Errorf("sample %d: got %d, want %d", i, s, want)
		}
	}
}

func TestResampler_ResampleReusesBuffer(t *testing.T) {
	r := NewResampler(48000, TargetSampleRate)
	buf := make([]int16, 0, 64)

	out := r.Resample(buf[:0], make([]float32, 96))
	if len(out) != 32 {
		t.Fatalf("expected 32 samples, got %d", len(out))
	}
	if &out[0] != &buf[:1][0] {
		t.Error("expected output to reuse the provided buffer")
	}
}

func TestResampler_Upsample(t *testing.T) {
	r := NewResampler(8000, TargetSampleRate)
	got := r.Resample(nil, []float32{1, -1})
	want := []int16{32767, 32767, -32768, -32768}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampler_EncodeLittleEndian(t *testing.T) {
	r := NewResampler(TargetSampleRate, TargetSampleRate)
	frame := r.Encode([]float32{1, -1, 0})
	if len(frame) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(frame))
	}

	want := []int16{32767, -32768, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
	if frame[0] != 0xff || frame[1] != 0x7f {
		t.Errorf("expected little-endian 0x7fff, got % x", frame[:2])
	}
}

func TestResampler_EncodeAllocatesPerFrame(t *testing.T) {
	r := NewResampler(48000, TargetSampleRate)
	in := make([]float32, 480)
	a := r.Encode(in)
	b := r.Encode(in)
	a[0] = 1
	if b[0] != 0 {
		t.Error("frames must not share backing storage")
	}
}

func TestResampler_EncodeMatchesResample(t *testing.T) {
	in := make([]float32, 441)
	for i := range in {
		in[i] = float32(i%200)/100 - 1
	}

	tests := []struct {
		name   string
		native int
	}{
		{"downsample 48k", 48000},
		{"downsample 44.1k", 44100},
		{"passthrough", TargetSampleRate},
		{"upsample 8k", 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResampler(tt.native, TargetSampleRate)
			samples := r.Resample(nil, in)
			frame := r.Encode(in)
			if len(frame) != 2*len(samples) {
				t.Fatalf("frame has %d bytes for %d samples", len(frame), len(samples))
			}
			for i, s := range samples {
				if got := int16(binary.LittleEndian.Uint16(frame[2*i:])); got != s {
					t.Fatalf("sample %d: encoded %d, resampled %d", i, got, s)
				}
			}
		})
	}
}
