package pcm

import (
	"encoding/binary"
	"io"
	"math"
)

// Writer is a writer for chunks of audio data.
type Writer interface {
	Write(Chunk) error
}

var _ Writer = WriteFunc(nil)

// WriteFunc is a function that implements the Writer interface.
type WriteFunc func(Chunk) error

// Write implements the Writer interface.
func (f WriteFunc) Write(c Chunk) error {
	return f(c)
}

// Discard is a Writer that discards all written chunks.
var Discard Writer = discard{}

type discard struct{}

func (discard) Write(Chunk) error {
	return nil
}

// ChunkWriter wraps an io.Writer to provide a pcm.Writer interface.
// All chunks are written to the underlying writer using WriteTo.
func ChunkWriter(w io.Writer) Writer {
	return &chunkWriter{w: w}
}

type chunkWriter struct {
	w io.Writer
}

func (w *chunkWriter) Write(c Chunk) error {
	_, err := c.WriteTo(w.w)
	return err
}

// Tone generates a continuous sine wave one modem frame at a time.
type Tone struct {
	format Format
	freq   float64
	amp    float64
	n      int
}

// NewTone returns a tone of freq Hz at about half full scale.
func NewTone(f Format, freq float64) *Tone {
	return &Tone{format: f, freq: freq, amp: 16000}
}

// Frame returns the next frame of the tone as little-endian int16 samples.
func (t *Tone) Frame() []byte {
	samples := t.format.FrameSamples()
	rate := float64(t.format.SampleRate())
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * t.freq * float64(t.n+i) / rate)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v*t.amp)))
	}
	t.n += samples
	return data
}
