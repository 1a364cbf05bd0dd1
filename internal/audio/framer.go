package audio

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/ryouen/univoice-core/internal/metrics"
)

const (
	// TargetSampleRate is the fixed output rate AudioFramer resamples to
	// (spec §4.1).
	TargetSampleRate = 16000
	// FrameDurationMs is the fixed output frame duration (spec §4.1).
	FrameDurationMs = 20
	// FrameBytes is 20ms of 16kHz mono PCM16LE: 16000 * 0.02 * 2 bytes.
	FrameBytes = TargetSampleRate * FrameDurationMs / 1000 * 2
)

// ErrAudioInit is returned when the device sample rate cannot be acquired
// (spec §4.1: "Fails with AudioInitError if the device sample rate cannot
// be acquired").
var ErrAudioInit = errors.New("audio: could not acquire device sample rate")

// EncodePCM converts float32 samples in [-1, 1] back to PCM16LE bytes, the
// inverse of decodePCM.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(val))
	}
	return out
}

// AudioFramer consumes a PCM16 mono stream at an arbitrary device sample
// rate, resamples it to 16kHz, and emits fixed 640-byte/20ms frames. It is
// non-failing on gaps: silence is preserved rather than dropped, and
// partial frames are buffered until a full frame is available.
type AudioFramer struct {
	deviceRate int
	seq        uint64
	tMs        uint64
	carry      []float32 // resampled samples not yet forming a full frame
	stopped    bool
}

// NewAudioFramer builds a framer for a device operating at deviceRate. It
// returns ErrAudioInit if deviceRate is non-positive (the device sample
// rate could not be acquired).
func NewAudioFramer(deviceRate int) (*AudioFramer, error) {
	if deviceRate <= 0 {
		return nil, ErrAudioInit
	}
	return &AudioFramer{deviceRate: deviceRate}, nil
}

// Push feeds raw PCM16LE device-rate bytes into the framer and returns zero
// or more complete 640-byte 16kHz frames.
func (f *AudioFramer) Push(raw []byte) []Frame {
	if f.stopped {
		return nil
	}
	samples := decodePCM(raw)
	resampled := Resample(samples, f.deviceRate, TargetSampleRate)
	f.carry = append(f.carry, resampled...)

	samplesPerFrame := FrameBytes / 2
	var frames []Frame
	for len(f.carry) >= samplesPerFrame {
		chunk := f.carry[:samplesPerFrame]
		f.carry = f.carry[samplesPerFrame:]
		frames = append(frames, Frame{
			Bytes: EncodePCM(chunk),
			Seq:   f.seq,
			TMs:   f.tMs,
		})
		f.seq++
		f.tMs += FrameDurationMs
	}
	metrics.AudioFramesProcessed.Add(float64(len(frames)))
	return frames
}

// Frame mirrors pipeline.Frame's shape without importing the pipeline
// package, keeping internal/audio free of a dependency on internal/pipeline.
type Frame struct {
	Bytes []byte
	Seq   uint64
	TMs   uint64
}

// Stop ends the framer's lazy finite sequence; any buffered partial frame
// (less than 640 bytes) is discarded rather than zero-padded, since a
// partial tail carries no reliable timing information.
func (f *AudioFramer) Stop() {
	f.stopped = true
	f.carry = nil
}
