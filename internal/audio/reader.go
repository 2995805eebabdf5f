package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrSampleRateMismatch is returned when a file's native rate differs
	// from the expected rate. Files are never resampled.
	ErrSampleRateMismatch = errors.New("sample rate mismatch")

	// ErrInvalidWAV is returned for files that are not decodable WAV.
	ErrInvalidWAV = errors.New("invalid WAV file")
)

const wavFormatIEEEFloat = 3

// Clip is one fixed-length mono sample buffer read from a file.
type Clip struct {
	Path    string
	Samples []float32
}

// Loader reads clips at a fixed sample rate and length.
type Loader struct {
	sampleRate int
	samples    int
}

// NewLoader returns a Loader that accepts only files at sampleRate and
// produces buffers of exactly samples values.
func NewLoader(sampleRate, samples int) *Loader {
	return &Loader{sampleRate: sampleRate, samples: samples}
}

// SampleRate returns the rate the loader accepts.
func (l *Loader) SampleRate() int { return l.sampleRate }

// Samples returns the fixed clip length.
func (l *Loader) Samples() int { return l.samples }

// Load reads path, checks its sample rate and fits it to the fixed length.
func (l *Loader) Load(path string) (*Clip, error) {
	mono, rate, err := ReadWavMono(path)
	if err != nil {
		return nil, err
	}
	if rate != l.sampleRate {
		return nil, fmt.Errorf("%s: sr=%d (expected %d): %w", path, rate, l.sampleRate, ErrSampleRateMismatch)
	}
	return &Clip{Path: path, Samples: FitLength(mono, l.samples)}, nil
}

// FitLength zero-pads or truncates samples to exactly n values.
// The input slice is never modified.
func FitLength(samples []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, samples)
	return out
}

// ReadWavMono decodes an integer PCM or 32-bit float WAV file and returns its
// samples collapsed to mono and scaled to [-1, 1), together with the native
// sample rate. Float samples are passed through unscaled.
func ReadWavMono(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}
	isFloat := dec.WavAudioFormat == wavFormatIEEEFloat
	if isFloat && dec.BitDepth != 32 {
		return nil, 0, fmt.Errorf("%s: %d-bit float samples not supported: %w", path, dec.BitDepth, ErrInvalidWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: decoding PCM data: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("%s: missing channel count: %w", path, ErrInvalidWAV)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	mono, err := downmix(buf, bitDepth, isFloat)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return mono, int(dec.SampleRate), nil
}

// downmix averages interleaved channels into a single normalized channel.
// For float files buf holds the raw IEEE 754 bits of each 32-bit sample.
func downmix(buf *goaudio.IntBuffer, bitDepth int, isFloat bool) ([]float32, error) {
	var sample func(v int) float64
	switch {
	case isFloat:
		sample = func(v int) float64 { return float64(math.Float32frombits(uint32(v))) }
	case bitDepth == 8:
		// 8-bit WAV is unsigned
		sample = func(v int) float64 { return (float64(v) - 128) / 128 }
	case bitDepth == 16 || bitDepth == 24 || bitDepth == 32:
		scale := 1.0 / float64(int64(1)<<(bitDepth-1))
		sample = func(v int) float64 { return float64(v) * scale }
	default:
		return nil, fmt.Errorf("unsupported bit depth %d: %w", bitDepth, ErrInvalidWAV)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += sample(buf.Data[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out, nil
}
