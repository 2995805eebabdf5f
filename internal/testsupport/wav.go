package testsupport

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes an integer PCM WAV file with interleaved samples at the
// given bit depth (8, 16, 24 or 32). 8-bit samples are unsigned.
// Parent directories are created as needed.
func WriteWAV(t testing.TB, path string, sampleRate, channels, bitDepth int, data []int) {
	t.Helper()

	f := create(t, path)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
}

// WriteFloatWAV writes a 32-bit IEEE float WAV file (format tag 3) with
// interleaved samples. The header is laid out by hand.
func WriteFloatWAV(t testing.TB, path string, sampleRate, channels int, data []float32) {
	t.Helper()

	const bytesPerSample = 4
	dataSize := len(data) * bytesPerSample

	var b bytes.Buffer
	put := func(v any) {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			t.Fatalf("encode header: %v", err)
		}
	}
	b.WriteString("RIFF")
	put(uint32(36 + dataSize))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	put(uint32(16))
	put(uint16(3)) // WAVE_FORMAT_IEEE_FLOAT
	put(uint16(channels))
	put(uint32(sampleRate))
	put(uint32(sampleRate * channels * bytesPerSample))
	put(uint16(channels * bytesPerSample))
	put(uint16(bytesPerSample * 8))
	b.WriteString("data")
	put(uint32(dataSize))
	for _, v := range data {
		put(math.Float32bits(v))
	}

	f := create(t, path)
	defer f.Close()
	if _, err := f.Write(b.Bytes()); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func create(t testing.TB, path string) *os.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return f
}

// Ramp returns n mono samples counting up from start.
func Ramp(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
