// Package audio captures microphone input and converts it to the 16-bit PCM frames
// the transcription service expects.
package audio

import (
	"encoding/binary"
	"math"
)

// TargetSampleRate is the rate frames are sent at.
const TargetSampleRate = 16000

// Resampler converts float samples at a native rate to signed 16-bit samples at the
// target rate by nearest-preceding-sample selection. It keeps no per-frame state.
type Resampler struct {
	nativeRate int
	targetRate int
}

// NewResampler returns a Resampler. Non-positive rates fall back to TargetSampleRate.
func NewResampler(nativeRate, targetRate int) *Resampler {
	if nativeRate <= 0 {
		nativeRate = TargetSampleRate
	}
	if targetRate <= 0 {
		targetRate = TargetSampleRate
	}
	return &Resampler{nativeRate: nativeRate, targetRate: targetRate}
}

// NativeRate returns the input rate.
func (r *Resampler) NativeRate() int { return r.nativeRate }

// OutputLength returns floor(n / (native/target)), never less than one for a
// non-empty input.
func (r *Resampler) OutputLength(n int) int {
	if n <= 0 {
		return 0
	}
	out := int(int64(n) * int64(r.targetRate) / int64(r.nativeRate))
	if out < 1 {
		return 1
	}
	return out
}

// Resample appends the converted samples to dst and returns the extended slice.
func (r *Resampler) Resample(dst []int16, in []float32) []int16 {
	n := r.OutputLength(len(in))
	for i := 0; i < n; i++ {
		dst = append(dst, r.sampleAt(in, i))
	}
	return dst
}

// Encode resamples in and returns a newly allocated little-endian PCM frame. The
// caller owns the returned slice.
func (r *Resampler) Encode(in []float32) []byte {
	n := r.OutputLength(len(in))
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(r.sampleAt(in, i)))
	}
	return out
}

// sampleAt returns output sample i, taken from input index floor(i*native/target).
// An index past the end of the input yields 0.
func (r *Resampler) sampleAt(in []float32, i int) int16 {
	src := int(int64(i) * int64(r.nativeRate) / int64(r.targetRate))
	if src >= len(in) {
		return 0
	}
	return ScaleSample(in[src])
}

// ScaleSample clamps a float sample to [-1, 1] and scales it asymmetrically so that
// -1 maps to -32768 and 1 maps to 32767. NaN maps to 0.
func ScaleSample(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	if f < 0 {
		return int16(f * 0x8000)
	}
	return int16(f * 0x7fff)
}
